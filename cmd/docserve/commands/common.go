package commands

import (
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"
	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/docserve/internal/build"
	"git.home.luguber.info/inful/docserve/internal/config"
	"git.home.luguber.info/inful/docserve/internal/history"
	"git.home.luguber.info/inful/docserve/internal/logfields"
	"git.home.luguber.info/inful/docserve/internal/metrics"
	"git.home.luguber.info/inful/docserve/internal/notify"
)

// Global carries state shared by every command.
type Global struct {
	Out io.Writer
}

func (g *Global) out() io.Writer {
	if g == nil || g.Out == nil {
		return os.Stdout
	}
	return g.Out
}

// CLI definition & global flags.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"docserve.yaml"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Build   BuildCmd   `cmd:"" help:"Build the site once"`
	Serve   ServeCmd   `cmd:"" help:"Serve the site and rebuild on change"`
	Init    InitCmd    `cmd:"" help:"Write a starter configuration and content"`
	Scan    ScanCmd    `cmd:"" help:"List pages, assets and the navigation manifest without building"`
	History HistoryCmd `cmd:"" help:"Show recent builds from the build history"`
}

// AfterApply runs after flag parsing; setup logging once.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply() error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return nil
}

// loadConfig loads the configuration and applies command-line overrides.
func loadConfig(root *CLI, rootDir, outputDir string) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(root.Config)
	if err != nil {
		return nil, err
	}
	if rootDir != "" {
		cfg.RootDir = rootDir
	}
	if outputDir != "" {
		cfg.OutputDir = outputDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// engine bundles the orchestrator with the optional history, notification
// and metrics components wired into it.
type engine struct {
	orchestrator *build.Orchestrator
	registry     *prom.Registry
	recorder     *metrics.PrometheusRecorder
	history      *history.SQLiteStore
	publisher    *notify.Publisher
}

func newEngine(cfg *config.Config) (*engine, error) {
	e := &engine{registry: prom.NewRegistry()}
	e.recorder = metrics.NewPrometheusRecorder(e.registry)
	opts := []build.Option{build.WithRecorder(e.recorder)}

	if cfg.History.Path != "" {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			return nil, err
		}
		e.history = store
		opts = append(opts, build.WithSink(store))
	}

	pub, err := notify.New(cfg.Notify)
	if err != nil {
		slog.Warn("Build notifications disabled", logfields.Error(err))
	} else if pub.Enabled() {
		e.publisher = pub
		opts = append(opts, build.WithSink(pub))
	}

	o, err := build.New(cfg, opts...)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.orchestrator = o
	return e, nil
}

func (e *engine) Close() {
	if e.publisher != nil {
		if err := e.publisher.Close(); err != nil {
			slog.Warn("Failed to close NATS connection", logfields.Error(err))
		}
	}
	if e.history != nil {
		if err := e.history.Close(); err != nil {
			slog.Warn("Failed to close build history", logfields.Error(err))
		}
	}
}
