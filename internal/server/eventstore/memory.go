package eventstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/admincore/userd/internal/server/user"
)

// MemoryStore keeps the event log in process memory. It enforces the same
// optimistic-concurrency contract as the Postgres store and is used by
// tests and local wiring without a database.
type MemoryStore struct {
	mu        sync.Mutex
	streams   map[uuid.UUID][]user.Event
	records   []Record
	projector Projector
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{streams: make(map[uuid.UUID][]user.Event)}
}

func (s *MemoryStore) SetProjector(p Projector) {
	s.projector = p
}

func (s *MemoryStore) Save(ctx context.Context, aggregateID uuid.UUID, aggregateType string, events []user.Event, expectedVersion int) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	stream := s.streams[aggregateID]
	if len(stream) != expectedVersion {
		s.mu.Unlock()
		return fmt.Errorf("%w: aggregate %s at version %d", ErrConcurrencyConflict, aggregateID, expectedVersion)
	}

	version := expectedVersion
	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("%w: encoding event %s: %v", ErrStorage, e.Name(), err)
		}
		version++
		s.records = append(s.records, Record{
			Sequence:      int64(len(s.records) + 1),
			AggregateID:   aggregateID,
			AggregateType: aggregateType,
			EventType:     e.Name(),
			EventData:     data,
			Version:       version,
			OccurredOn:    e.OccurredOn(),
		})
	}
	s.streams[aggregateID] = append(stream, events...)
	s.mu.Unlock()

	if s.projector != nil {
		if err := s.projector.CatchUp(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrProjectionFailed, err)
		}
	}

	return nil
}

func (s *MemoryStore) Events(ctx context.Context, aggregateID uuid.UUID) ([]user.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stream := s.streams[aggregateID]
	out := make([]user.Event, len(stream))
	copy(out, stream)
	return out, nil
}

// RecordsAfter mirrors the Postgres projector feed over the in-memory log.
func (s *MemoryStore) RecordsAfter(ctx context.Context, seq int64, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Record
	for _, r := range s.records {
		if r.Sequence <= seq {
			continue
		}
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
