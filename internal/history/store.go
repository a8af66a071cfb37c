// Package history persists build reports so recent builds can be listed
// from the CLI and the dev server status endpoint.
package history

import (
	"context"
	"time"

	"git.home.luguber.info/inful/docserve/internal/build"
	"git.home.luguber.info/inful/docserve/internal/site"
)

// Record is one stored build.
type Record struct {
	ID         int64          `json:"id"`
	BuildID    string         `json:"build_id"`
	Generation uint64         `json:"generation"`
	Mode       string         `json:"mode"`
	Outcome    string         `json:"outcome"`
	StartedAt  time.Time      `json:"started_at"`
	Duration   time.Duration  `json:"duration_ns"`
	Pages      int            `json:"pages"`
	Rendered   int            `json:"rendered"`
	Recomposed int            `json:"recomposed"`
	Warnings   []site.Warning `json:"warnings,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// FromReport converts a build report into a storable record.
func FromReport(r *build.Report) Record {
	return Record{
		BuildID:    r.BuildID,
		Generation: uint64(r.Generation),
		Mode:       string(r.Mode),
		Outcome:    string(r.Outcome),
		StartedAt:  r.StartedAt,
		Duration:   r.Duration,
		Pages:      r.Pages,
		Rendered:   len(r.Rendered),
		Recomposed: len(r.Recomposed),
		Warnings:   r.Warnings,
		Error:      r.Error,
	}
}

// Store defines the interface for persisting and retrieving build records.
type Store interface {
	// Append adds a record to the store.
	Append(ctx context.Context, rec Record) error

	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]Record, error)

	// Close closes the store and releases resources.
	Close() error
}
