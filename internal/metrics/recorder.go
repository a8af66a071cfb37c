package metrics

import "time"

// OutcomeLabel enumerates build outcomes for counters.
type OutcomeLabel string

const (
	OutcomeSuccess    OutcomeLabel = "success"
	OutcomeWarning    OutcomeLabel = "warning"
	OutcomeFailed     OutcomeLabel = "failed"
	OutcomeSuperseded OutcomeLabel = "superseded"
)

// CacheLabel names the build caches whose hits are counted.
type CacheLabel string

const (
	CacheSource  CacheLabel = "source"
	CacheRender  CacheLabel = "render"
	CacheCompose CacheLabel = "compose"
)

// Recorder defines observability hooks for builds and the dev server.
// Implementations must be safe for concurrent use.
type Recorder interface {
	ObserveStageDuration(stage string, d time.Duration)
	ObserveBuildDuration(mode string, d time.Duration)
	IncBuildOutcome(outcome OutcomeLabel)
	AddPagesRendered(n int)
	AddPagesRecomposed(n int)
	AddCacheHits(cache CacheLabel, n int)
	SetReloadClients(n int)
	IncReloadBroadcast()
}

// NoopRecorder is a Recorder that does nothing (default when metrics are not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveStageDuration(string, time.Duration) {}
func (NoopRecorder) ObserveBuildDuration(string, time.Duration) {}
func (NoopRecorder) IncBuildOutcome(OutcomeLabel)               {}
func (NoopRecorder) AddPagesRendered(int)                       {}
func (NoopRecorder) AddPagesRecomposed(int)                     {}
func (NoopRecorder) AddCacheHits(CacheLabel, int)               {}
func (NoopRecorder) SetReloadClients(int)                       {}
func (NoopRecorder) IncReloadBroadcast()                        {}
