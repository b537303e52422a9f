// Package eventstore persists the User aggregate's events in an append-only
// log and replays them back. Optimistic concurrency is enforced by a unique
// (aggregate_id, version) constraint; the store never updates or deletes
// rows.
package eventstore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/admincore/userd/internal/server/user"
)

var (
	// ErrConcurrencyConflict means another writer committed events for the
	// same aggregate since it was loaded. Callers may reload and retry; the
	// store never retries on its own.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrUnknownEventType means a stored discriminator has no registered
	// decoder. Replay fails rather than silently skipping the event.
	ErrUnknownEventType = errors.New("unknown event type")

	// ErrStorage wraps persistence failures.
	ErrStorage = errors.New("storage failure")

	// ErrProjectionFailed means the append is durable but the read model
	// was not updated. The event log stays authoritative; the projector
	// catches up on the next run.
	ErrProjectionFailed = errors.New("projection failed")
)

// Record is the persisted shape of one event.
type Record struct {
	Sequence      int64
	AggregateID   uuid.UUID
	AggregateType string
	EventType     string
	EventData     []byte
	Version       int
	OccurredOn    time.Time
}

// Store is the append-only event log for User aggregates.
type Store interface {
	// Save appends events with versions expectedVersion+1..+N.
	// expectedVersion is the aggregate's version at load time; a version
	// slot already taken yields ErrConcurrencyConflict.
	Save(ctx context.Context, aggregateID uuid.UUID, aggregateType string, events []user.Event, expectedVersion int) error

	// Events returns all events of the aggregate ordered by version.
	// An aggregate that was never created yields an empty slice.
	Events(ctx context.Context, aggregateID uuid.UUID) ([]user.Event, error)
}

// Projector is notified after a successful append so the read model can
// catch up with the log.
type Projector interface {
	CatchUp(ctx context.Context) error
}
