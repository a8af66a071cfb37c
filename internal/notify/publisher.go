// Package notify publishes build-completed events to NATS so external tools
// can react to new site generations.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/docserve/internal/build"
	"git.home.luguber.info/inful/docserve/internal/config"
	ferrors "git.home.luguber.info/inful/docserve/internal/foundation/errors"
	"git.home.luguber.info/inful/docserve/internal/logfields"
	"git.home.luguber.info/inful/docserve/internal/retry"
)

const (
	connectTimeout = 5 * time.Second
	flushTimeout   = 2 * time.Second
)

var publishRetry = retry.NewPolicy(retry.ModeExponential, 50*time.Millisecond, 500*time.Millisecond, 2)

// Event is the JSON payload published for every finished build.
type Event struct {
	BuildID    string    `json:"build_id"`
	Generation uint64    `json:"generation"`
	Mode       string    `json:"mode"`
	Outcome    string    `json:"outcome"`
	Timestamp  time.Time `json:"timestamp"`
	DurationMS int64     `json:"duration_ms"`
	Pages      int       `json:"pages"`
	Rendered   []string  `json:"rendered,omitempty"`
	Warnings   int       `json:"warnings"`
	Error      string    `json:"error,omitempty"`
}

// NewEvent builds the event for r.
func NewEvent(r *build.Report) Event {
	return Event{
		BuildID:    r.BuildID,
		Generation: uint64(r.Generation),
		Mode:       string(r.Mode),
		Outcome:    string(r.Outcome),
		Timestamp:  r.StartedAt.Add(r.Duration),
		DurationMS: r.Duration.Milliseconds(),
		Pages:      r.Pages,
		Rendered:   r.Rendered,
		Warnings:   len(r.Warnings),
		Error:      r.Error,
	}
}

// Publisher sends build events on a NATS subject. A nil or unconfigured
// Publisher drops events.
type Publisher struct {
	mu      sync.Mutex
	conn    *nats.Conn
	subject string
	policy  retry.Policy
}

var _ build.Sink = (*Publisher)(nil)

// New connects to the configured NATS server. With no URL configured it
// returns a Publisher that does nothing.
func New(cfg config.NotifyConfig) (*Publisher, error) {
	if cfg.NATSURL == "" {
		return &Publisher{}, nil
	}
	subject := cfg.Subject
	if subject == "" {
		subject = config.DefaultNotifySubj
	}

	conn, err := nats.Connect(cfg.NATSURL,
		nats.Name("docserve"),
		nats.Timeout(connectTimeout),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATS disconnected", logfields.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("NATS reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryNetwork, "connect to NATS").
			WithContext("url", cfg.NATSURL).
			Build()
	}

	slog.Info("Build notifications enabled", slog.String("url", cfg.NATSURL), slog.String("subject", subject))
	return &Publisher{conn: conn, subject: subject, policy: publishRetry}, nil
}

// Enabled reports whether events are sent anywhere.
func (p *Publisher) Enabled() bool {
	if p == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil
}

// Publish sends one event, retrying transient failures with backoff.
func (p *Publisher) Publish(ctx context.Context, ev Event) error {
	if !p.Enabled() {
		return nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryInternal, "marshal build event").Build()
	}
	if err := retry.Do(ctx, p.policy, func() error { return p.send(data) }); err != nil {
		return err
	}
	slog.Debug("Published build event", logfields.BuildID(ev.BuildID), slog.String("subject", p.subject))
	return nil
}

func (p *Publisher) send(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return ferrors.NetworkError("publisher closed").Build()
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryNetwork, "publish build event").
			Retryable().
			WithContext("subject", p.subject).
			Build()
	}
	if err := p.conn.FlushTimeout(flushTimeout); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryNetwork, "flush build event").
			Retryable().
			WithContext("subject", p.subject).
			Build()
	}
	return nil
}

// BuildFinished publishes r. Failures are logged and never fail the build.
func (p *Publisher) BuildFinished(ctx context.Context, r *build.Report) {
	if err := p.Publish(ctx, NewEvent(r)); err != nil {
		slog.Warn("Failed to publish build event", logfields.BuildID(r.BuildID), logfields.Error(err))
	}
}

// Close drains and closes the connection.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Drain()
	p.conn = nil
	return err
}
