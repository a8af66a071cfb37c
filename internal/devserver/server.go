package devserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"git.home.luguber.info/inful/docserve/internal/build"
	"git.home.luguber.info/inful/docserve/internal/config"
	ferrors "git.home.luguber.info/inful/docserve/internal/foundation/errors"
	"git.home.luguber.info/inful/docserve/internal/history"
	"git.home.luguber.info/inful/docserve/internal/logfields"
	"git.home.luguber.info/inful/docserve/internal/metrics"
	"git.home.luguber.info/inful/docserve/internal/scan"
	"git.home.luguber.info/inful/docserve/internal/site"
)

const shutdownTimeout = 5 * time.Second

// Builder is the build engine the server drives. *build.Orchestrator
// implements it.
type Builder interface {
	Clean(ctx context.Context) (*build.Report, error)
	Incremental(ctx context.Context, changed []string) (*build.Report, error)
	Supersede()
	State() build.State
	Generation() site.Generation
	Snapshot() *build.SiteIndex
	LastReport() *build.Report
	Scanner() *scan.Scanner
}

// HistoryReader lists recent builds for the status endpoint.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.Record, error)
}

// Option configures a Server.
type Option func(*Server)

// WithRecorder sets the metrics recorder used for live-reload metrics.
func WithRecorder(r metrics.Recorder) Option {
	return func(s *Server) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithHistory lists recent builds on the status endpoint.
func WithHistory(h HistoryReader) Option {
	return func(s *Server) { s.history = h }
}

// WithListener serves on ln instead of listening on the configured address.
func WithListener(ln net.Listener) Option {
	return func(s *Server) { s.listener = ln }
}

// Server is the development server.
type Server struct {
	cfg        *config.Config
	builder    Builder
	recorder   metrics.Recorder
	metrics    http.Handler
	history    HistoryReader
	listener   net.Listener
	hub        *Hub
	window     time.Duration
	liveReload bool
	started    time.Time

	mu       sync.Mutex
	paths    map[string]struct{}
	kick     chan struct{} // restarts the debounce window
	ready    chan struct{} // single pending build slot
	building atomic.Int32
}

// New creates a server for builder.
func New(cfg *config.Config, builder Builder, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, ferrors.ConfigError("configuration is required").Build()
	}
	if builder == nil {
		return nil, ferrors.ValidationError("builder is required").Build()
	}
	s := &Server{
		cfg:        cfg,
		builder:    builder,
		recorder:   metrics.NoopRecorder{},
		window:     cfg.Debounce(),
		liveReload: cfg.LiveReloadEnabled(),
		started:    time.Now(),
		paths:      map[string]struct{}{},
		kick:       make(chan struct{}, 1),
		ready:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.window <= 0 {
		s.window = time.Duration(config.DefaultDebounceMS) * time.Millisecond
	}
	s.hub = NewHub(s.recorder)
	return s, nil
}

// Hub returns the live-reload hub.
func (s *Server) Hub() *Hub { return s.hub }

// Run builds the site, serves it and rebuilds on change until ctx is done.
// A failing initial build is served as the error page.
func (s *Server) Run(ctx context.Context) error {
	ln := s.listener
	if ln == nil {
		var err error
		lc := net.ListenConfig{}
		if ln, err = lc.Listen(ctx, "tcp", s.cfg.ServeAddr); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryServer, "listen").
				Fatal().
				WithContext("addr", s.cfg.ServeAddr).
				Build()
		}
	}

	if _, err := s.rebuild(ctx, true, nil); err != nil {
		slog.Error("Initial build failed", logfields.Error(err))
	}

	root := s.builder.Scanner().Root()
	watcher, err := s.newWatcher(root)
	if err != nil {
		_ = ln.Close()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); s.watch(runCtx, watcher) }()
	go func() { defer wg.Done(); s.debounce(runCtx) }()
	go func() { defer wg.Done(); s.buildLoop(runCtx) }()

	sched, err := s.startScheduler(runCtx)
	if err != nil {
		cancel()
		_ = watcher.Close()
		wg.Wait()
		_ = ln.Close()
		return err
	}

	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	slog.Info("Dev server listening",
		logfields.Addr("http://"+ln.Addr().String()),
		logfields.Path(root),
		slog.Bool("live_reload", s.liveReload))

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			runErr = ferrors.WrapError(err, ferrors.CategoryServer, "serve").Build()
		}
	}

	slog.Info("Shutting down dev server")
	s.hub.Shutdown()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP server shutdown error", logfields.Error(err))
	}
	if sched != nil {
		if err := sched.Shutdown(); err != nil {
			slog.Warn("Scheduler shutdown error", logfields.Error(err))
		}
	}
	cancel()
	_ = watcher.Close()
	wg.Wait()
	return runErr
}
