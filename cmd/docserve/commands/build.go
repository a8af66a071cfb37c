package commands

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"git.home.luguber.info/inful/docserve/internal/build"
	ferrors "git.home.luguber.info/inful/docserve/internal/foundation/errors"
	"git.home.luguber.info/inful/docserve/internal/linkverify"
	"git.home.luguber.info/inful/docserve/internal/site"
)

// BuildCmd implements the 'build' command.
type BuildCmd struct {
	Root   string `short:"r" name:"root" help:"Content directory (overrides root_dir)"`
	Output string `short:"o" name:"output" help:"Output directory (overrides output_dir)"`
	Verify bool   `help:"Check the generated site for internal references that do not resolve"`
}

func (b *BuildCmd) Run(g *Global, root *CLI) error {
	cfg, err := loadConfig(root, b.Root, b.Output)
	if err != nil {
		return err
	}
	e, err := newEngine(cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := context.Background()
	out := g.out()
	rep, err := e.orchestrator.Clean(ctx)
	if rep != nil {
		printReport(out, rep)
	}
	if err != nil {
		return err
	}

	if !b.Verify {
		return nil
	}
	warnings, err := linkverify.New(e.orchestrator.OutputDir(), cfg.Workers).Check(ctx)
	if err != nil {
		return err
	}
	if len(warnings) == 0 {
		_, _ = fmt.Fprintln(out, "Output links verified")
		return nil
	}
	printWarnings(out, warnings)
	if cfg.StrictLinks {
		return ferrors.LinkError("generated site contains dangling references").
			WithContext("count", len(warnings)).
			Build()
	}
	return nil
}

func printReport(w io.Writer, rep *build.Report) {
	_, _ = fmt.Fprintf(w, "Build %s: %s (%s, generation %d) in %s\n",
		rep.BuildID, rep.Outcome, rep.Mode, rep.Generation, rep.Duration.Round(time.Millisecond))
	if rep.Outcome.IsSuccess() {
		_, _ = fmt.Fprintf(w, "  pages: %d, assets: %d, rendered: %d, recomposed: %d\n",
			rep.Pages, rep.Assets, len(rep.Rendered), len(rep.Recomposed))
	}
	printWarnings(w, rep.Warnings)
}

func printWarnings(w io.Writer, warnings []site.Warning) {
	if len(warnings) == 0 {
		return
	}
	_, _ = fmt.Fprintf(w, "%d warning(s):\n", len(warnings))
	var b strings.Builder
	for _, warn := range warnings {
		b.WriteString("  ")
		b.WriteString(warn.String())
		b.WriteByte('\n')
	}
	_, _ = io.WriteString(w, b.String())
}
