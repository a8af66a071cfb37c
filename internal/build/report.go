package build

import (
	"context"
	"time"

	"git.home.luguber.info/inful/docserve/internal/site"
)

// Mode distinguishes full builds from incremental ones.
type Mode string

const (
	ModeClean       Mode = "clean"
	ModeIncremental Mode = "incremental"
)

// Outcome is the final status of a build.
type Outcome string

const (
	OutcomeSuccess    Outcome = "success"
	OutcomeWarning    Outcome = "warning"
	OutcomeFailed     Outcome = "failed"
	OutcomeSuperseded Outcome = "superseded"
)

// IsSuccess returns true if the build published output.
func (o Outcome) IsSuccess() bool {
	return o == OutcomeSuccess || o == OutcomeWarning
}

// StageTiming is the wall time spent in one stage.
type StageTiming struct {
	Stage    string        `json:"stage"`
	Duration time.Duration `json:"duration_ns"`
}

// CacheHits counts work reused from previous builds.
type CacheHits struct {
	Source  int `json:"source"`
	Render  int `json:"render"`
	Compose int `json:"compose"`
}

// Report describes one build attempt.
type Report struct {
	BuildID      string            `json:"build_id"`
	Generation   site.Generation   `json:"generation"`
	Mode         Mode              `json:"mode"`
	Outcome      Outcome           `json:"outcome"`
	StartedAt    time.Time         `json:"started_at"`
	Duration     time.Duration     `json:"duration_ns"`
	Stages       []StageTiming     `json:"stages"`
	Pages        int               `json:"pages"`
	Assets       int               `json:"assets"`
	Rendered     []string          `json:"rendered"`
	Recomposed   []string          `json:"recomposed"`
	CacheHits    CacheHits         `json:"cache_hits"`
	ContentHash  string            `json:"content_hash,omitempty"`
	Warnings     []site.Warning    `json:"warnings"`
	Error        string            `json:"error,omitempty"`
	ErrorDetails map[string]string `json:"error_details,omitempty"`

	Err error `json:"-"`
}

// StageDuration returns the recorded duration of stage, or zero.
func (r *Report) StageDuration(stage string) time.Duration {
	for _, s := range r.Stages {
		if s.Stage == stage {
			return s.Duration
		}
	}
	return 0
}

// Sink receives every finished report, whatever its outcome.
type Sink interface {
	BuildFinished(ctx context.Context, r *Report)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, r *Report)

// BuildFinished calls f.
func (f SinkFunc) BuildFinished(ctx context.Context, r *Report) { f(ctx, r) }
