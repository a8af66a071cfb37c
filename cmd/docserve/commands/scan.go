package commands

import (
	"context"
	"fmt"
	"text/tabwriter"

	"git.home.luguber.info/inful/docserve/internal/build"
)

// ScanCmd implements the 'scan' command.
type ScanCmd struct {
	Root string `short:"r" name:"root" help:"Content directory (overrides root_dir)"`
}

func (s *ScanCmd) Run(g *Global, root *CLI) error {
	cfg, err := loadConfig(root, s.Root, "")
	if err != nil {
		return err
	}
	o, err := build.New(cfg)
	if err != nil {
		return err
	}
	inv, err := o.Scanner().Scan(context.Background())
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(g.out(), 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "Root:\t%s\n", inv.Root)
	if inv.Manifest != nil {
		_, _ = fmt.Fprintf(tw, "Manifest:\t%s\n", inv.Manifest.Path)
	} else {
		_, _ = fmt.Fprintf(tw, "Manifest:\t(none, navigation derived from directories)\n")
	}
	_, _ = fmt.Fprintf(tw, "Pages:\t%d\n", len(inv.Pages))
	for _, p := range inv.Pages {
		_, _ = fmt.Fprintf(tw, "  page\t%s\t%d bytes\n", p.Path, p.Size)
	}
	_, _ = fmt.Fprintf(tw, "Assets:\t%d\n", len(inv.Assets))
	for _, a := range inv.Assets {
		_, _ = fmt.Fprintf(tw, "  asset\t%s\t%d bytes\n", a.Path, a.Size)
	}
	return tw.Flush()
}
