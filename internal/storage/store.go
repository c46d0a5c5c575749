// Package storage persists one access record per routed request. The
// durable log backs the bulk-operation guard's trailing-hour counts and
// the ops surface; losing a write never fails the request itself.
package storage

import (
	"context"
	"time"
)

// AccessRecord is one routed request as seen at the gateway edge.
type AccessRecord struct {
	RequestID  string    `db:"request_id"`
	Identifier string    `db:"identifier"`
	Class      string    `db:"class"`
	Service    string    `db:"service"`
	Method     string    `db:"method"`
	Path       string    `db:"path"`
	Status     int       `db:"status"`
	DurationMs int64     `db:"duration_ms"`
	BatchSize  int       `db:"batch_size"`
	CreatedAt  time.Time `db:"created_at"`
}

// AccessStore records routed requests and answers trailing-window
// counting queries for the bulk guard.
type AccessStore interface {
	Record(ctx context.Context, rec AccessRecord) error
	// CountClassSince counts records for (class, identifier) created at or
	// after the given instant.
	CountClassSince(ctx context.Context, class, identifier string, since time.Time) (int, error)
	Close() error
}
