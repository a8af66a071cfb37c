package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/docserve/internal/compose"
	"git.home.luguber.info/inful/docserve/internal/config"
	ferrors "git.home.luguber.info/inful/docserve/internal/foundation/errors"
	"git.home.luguber.info/inful/docserve/internal/frontmatter"
	"git.home.luguber.info/inful/docserve/internal/git"
	"git.home.luguber.info/inful/docserve/internal/logfields"
	"git.home.luguber.info/inful/docserve/internal/markdown"
	"git.home.luguber.info/inful/docserve/internal/metrics"
	"git.home.luguber.info/inful/docserve/internal/scan"
	"git.home.luguber.info/inful/docserve/internal/site"
)

// ErrSuperseded is returned by a build that a newer request overtook before
// it wrote output. Its changed paths carry into the next build.
var ErrSuperseded = errors.New("build superseded by a newer generation")

// sinkTimeout bounds each sink's handling of one report.
const sinkTimeout = 3 * time.Second

// LastModifiedSource supplies authoritative modification times, such as the
// git history of the content root.
type LastModifiedSource interface {
	Refresh() error
	LastModified(rel string) (time.Time, bool)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithSink adds a receiver of finished build reports.
func WithSink(s Sink) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.sinks = append(o.sinks, s)
		}
	}
}

// WithCompositor overrides the page template.
func WithCompositor(c *compose.Compositor) Option {
	return func(o *Orchestrator) { o.compositor = c }
}

// WithLastModified overrides the source of page modification times.
func WithLastModified(src LastModifiedSource) Option {
	return func(o *Orchestrator) { o.lastMod = src }
}

type sourceEntry struct {
	modTime time.Time
	size    int64
	doc     *frontmatter.Document
	title   string
}

type renderEntry struct {
	hash   string
	output string
	result *markdown.Result
}

type composeEntry struct {
	key uint64
	doc []byte
}

// Orchestrator runs builds one at a time and keeps the caches that make
// incremental builds cheap.
type Orchestrator struct {
	cfg        *config.Config
	outputDir  string
	workers    int
	scanner    *scan.Scanner
	renderer   *markdown.Renderer
	compositor *compose.Compositor
	recorder   metrics.Recorder
	sinks      []Sink
	lastMod    LastModifiedSource

	// mu serializes builds and guards everything below it.
	mu          sync.Mutex
	inventory   *scan.Inventory
	sources     map[string]*sourceEntry
	renders     map[string]*renderEntry
	composed    map[string]*composeEntry
	pending     map[string]struct{}
	pendingFull bool

	requested  atomic.Uint64 // newest generation handed out
	published  atomic.Uint64
	state      atomic.Int32
	snapshot   atomic.Pointer[SiteIndex]
	lastReport atomic.Pointer[Report]
}

// New creates an orchestrator for cfg.
func New(cfg *config.Config, opts ...Option) (*Orchestrator, error) {
	if cfg == nil {
		return nil, ferrors.ConfigError("configuration is required").Build()
	}
	if err := config.CheckOutputPlacement(cfg.RootDir, cfg.OutputDir); err != nil {
		return nil, err
	}
	outputDir, err := filepath.Abs(cfg.OutputDir)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "resolve output directory").Fatal().Build()
	}
	stage, prev := stagingDirs(outputDir)
	scanner, err := scan.New(cfg.RootDir, scan.Options{
		IgnorePatterns: cfg.IgnorePatterns,
		NavFile:        cfg.NavFile,
		Exclude:        []string{outputDir, stage, prev},
	})
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		cfg:       cfg,
		outputDir: outputDir,
		workers:   cfg.Workers,
		scanner:   scanner,
		renderer:  markdown.NewRenderer(),
		recorder:  metrics.NoopRecorder{},
		sources:   map[string]*sourceEntry{},
		renders:   map[string]*renderEntry{},
		composed:  map[string]*composeEntry{},
		pending:   map[string]struct{}{},
	}
	if o.workers < 1 {
		o.workers = runtime.NumCPU()
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.compositor == nil {
		if cfg.Template != "" {
			if o.compositor, err = compose.Load(cfg.Template); err != nil {
				return nil, err
			}
		} else {
			o.compositor = compose.Default()
		}
	}
	if o.lastMod == nil && cfg.GitInfo {
		h, err := git.Open(cfg.RootDir)
		if err != nil {
			slog.Warn("Git info disabled", logfields.Error(err))
		} else {
			o.lastMod = h
		}
	}
	return o, nil
}

// Scanner returns the scanner used for builds, so watchers apply the same
// ignore policy.
func (o *Orchestrator) Scanner() *scan.Scanner { return o.scanner }

// OutputDir returns the absolute output directory.
func (o *Orchestrator) OutputDir() string { return o.outputDir }

// State returns the current build state.
func (o *Orchestrator) State() State { return State(o.state.Load()) }

// Generation returns the generation of the published snapshot.
func (o *Orchestrator) Generation() site.Generation { return site.Generation(o.published.Load()) }

// Snapshot returns the latest published site, or nil before the first
// successful build.
func (o *Orchestrator) Snapshot() *SiteIndex { return o.snapshot.Load() }

// LastReport returns the report of the most recent build attempt.
func (o *Orchestrator) LastReport() *Report { return o.lastReport.Load() }

// Supersede marks the build in flight, if any, as outdated. It is discarded
// before writing and its changed paths carry into the next build.
func (o *Orchestrator) Supersede() { o.requested.Add(1) }

func (o *Orchestrator) superseded(gen site.Generation) bool {
	return o.requested.Load() != uint64(gen)
}

// Clean rebuilds every page from scratch.
func (o *Orchestrator) Clean(ctx context.Context) (*Report, error) {
	return o.run(ctx, ModeClean, nil)
}

// Incremental rebuilds after the given filesystem paths changed. It falls
// back to a clean build when no previous build succeeded.
func (o *Orchestrator) Incremental(ctx context.Context, changed []string) (*Report, error) {
	return o.run(ctx, ModeIncremental, changed)
}

func (o *Orchestrator) run(ctx context.Context, mode Mode, changed []string) (*Report, error) {
	rep, err := o.runLocked(ctx, mode, changed)
	o.dispatch(ctx, rep)
	return rep, err
}

func (o *Orchestrator) runLocked(ctx context.Context, mode Mode, changed []string) (*Report, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	gen := site.Generation(o.requested.Add(1))
	full := mode == ModeClean || o.inventory == nil || o.pendingFull
	if full {
		mode = ModeClean
	}
	paths := make([]string, 0, len(o.pending)+len(changed))
	for p := range o.pending {
		paths = append(paths, p)
	}
	paths = append(paths, changed...)

	rep := &Report{
		BuildID:    uuid.NewString(),
		Generation: gen,
		Mode:       mode,
		StartedAt:  time.Now(),
	}
	logger := slog.With(
		logfields.BuildID(rep.BuildID),
		logfields.Generation(uint64(gen)),
		logfields.Mode(string(mode)))
	logger.Debug("Build started", logfields.Count(len(paths)))

	b := &buildRun{o: o, rep: rep, gen: gen, full: full, changed: paths, logger: logger}
	err := b.execute(ctx)
	rep.Duration = time.Since(rep.StartedAt)

	switch {
	case errors.Is(err, ErrSuperseded):
		rep.Outcome = OutcomeSuperseded
		o.carry(full, paths)
		o.state.Store(int32(StateIdle))
		logger.Info("Build superseded", logfields.Duration(rep.Duration))
	case err != nil:
		rep.Outcome = OutcomeFailed
		rep.Err = err
		rep.Error = err.Error()
		rep.ErrorDetails = errorDetails(err)
		o.carry(full, paths)
		o.state.Store(int32(StateFailed))
		logger.Warn("Build failed", logfields.Duration(rep.Duration), logfields.Error(err))
	default:
		rep.Outcome = OutcomeSuccess
		if len(rep.Warnings) > 0 {
			rep.Outcome = OutcomeWarning
		}
		o.pending = map[string]struct{}{}
		o.pendingFull = false
		o.state.Store(int32(StateIdle))
		for _, w := range rep.Warnings {
			logger.Warn("Build warning", slog.String("kind", string(w.Kind)), logfields.Page(w.Source), slog.String("detail", w.String()))
		}
		logger.Info("Build finished",
			logfields.Outcome(string(rep.Outcome)),
			logfields.Duration(rep.Duration),
			slog.Int("rendered", len(rep.Rendered)),
			slog.Int("recomposed", len(rep.Recomposed)))
	}

	o.lastReport.Store(rep)
	o.record(rep)
	return rep, err
}

// dispatch hands a finished report to every sink outside the build lock.
// Each sink gets at most sinkTimeout.
func (o *Orchestrator) dispatch(ctx context.Context, rep *Report) {
	for _, s := range o.sinks {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
		s.BuildFinished(sctx, rep)
		cancel()
	}
}

func errorDetails(err error) map[string]string {
	ce, ok := ferrors.AsClassified(err)
	if !ok || len(ce.Context()) == 0 {
		return nil
	}
	details := make(map[string]string, len(ce.Context()))
	for k, v := range ce.Context() {
		details[k] = fmt.Sprint(v)
	}
	return details
}

// carry keeps the paths of a build that did not publish for the next one.
func (o *Orchestrator) carry(full bool, paths []string) {
	if full {
		o.pendingFull = true
		return
	}
	for _, p := range paths {
		o.pending[p] = struct{}{}
	}
}

func (o *Orchestrator) record(rep *Report) {
	for _, s := range rep.Stages {
		o.recorder.ObserveStageDuration(s.Stage, s.Duration)
	}
	o.recorder.ObserveBuildDuration(string(rep.Mode), rep.Duration)
	o.recorder.IncBuildOutcome(metrics.OutcomeLabel(rep.Outcome))
	o.recorder.AddPagesRendered(len(rep.Rendered))
	o.recorder.AddPagesRecomposed(len(rep.Recomposed))
	o.recorder.AddCacheHits(metrics.CacheSource, rep.CacheHits.Source)
	o.recorder.AddCacheHits(metrics.CacheRender, rep.CacheHits.Render)
	o.recorder.AddCacheHits(metrics.CacheCompose, rep.CacheHits.Compose)
}
