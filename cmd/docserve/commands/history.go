package commands

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	ferrors "git.home.luguber.info/inful/docserve/internal/foundation/errors"
	"git.home.luguber.info/inful/docserve/internal/history"
)

// HistoryCmd implements the 'history' command.
type HistoryCmd struct {
	Limit int `short:"n" help:"Number of builds to show" default:"20"`
}

func (h *HistoryCmd) Run(g *Global, root *CLI) error {
	cfg, err := loadConfig(root, "", "")
	if err != nil {
		return err
	}
	if cfg.History.Path == "" {
		return ferrors.ConfigError("build history is not enabled").
			UserAction().
			WithContext("hint", "set history.path in the configuration").
			Build()
	}
	store, err := history.Open(cfg.History.Path)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	recs, err := store.Recent(context.Background(), h.Limit)
	if err != nil {
		return err
	}
	out := g.out()
	if len(recs) == 0 {
		_, _ = fmt.Fprintln(out, "No builds recorded")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "STARTED\tGEN\tMODE\tOUTCOME\tDURATION\tPAGES\tRENDERED\tWARNINGS\tBUILD")
	for _, r := range recs {
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			r.StartedAt.Local().Format(time.DateTime), r.Generation, r.Mode, r.Outcome,
			r.Duration.Round(time.Millisecond), r.Pages, r.Rendered, len(r.Warnings), r.BuildID)
	}
	return tw.Flush()
}
