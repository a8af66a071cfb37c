package commands

import (
	"context"
	"os/signal"
	"syscall"

	"git.home.luguber.info/inful/docserve/internal/devserver"
	"git.home.luguber.info/inful/docserve/internal/metrics"
)

// ServeCmd implements the 'serve' command.
type ServeCmd struct {
	Root         string `short:"r" name:"root" help:"Content directory (overrides root_dir)"`
	Output       string `short:"o" name:"output" help:"Output directory (overrides output_dir)"`
	Addr         string `short:"a" name:"addr" help:"Listen address (overrides serve_addr)"`
	NoLiveReload bool   `name:"no-live-reload" help:"Disable the reload notification channel and script injection"`
}

func (s *ServeCmd) Run(_ *Global, root *CLI) error {
	cfg, err := loadConfig(root, s.Root, s.Output)
	if err != nil {
		return err
	}
	if s.Addr != "" {
		cfg.ServeAddr = s.Addr
	}
	if s.NoLiveReload {
		off := false
		cfg.LiveReload = &off
	}

	e, err := newEngine(cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	opts := []devserver.Option{
		devserver.WithRecorder(e.recorder),
		devserver.WithMetricsHandler(metrics.HTTPHandler(e.registry)),
	}
	if e.history != nil {
		opts = append(opts, devserver.WithHistory(e.history))
	}
	srv, err := devserver.New(cfg, e.orchestrator, opts...)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return srv.Run(ctx)
}
