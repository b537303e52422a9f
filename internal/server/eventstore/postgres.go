package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/admincore/userd/internal/dbx"
	"github.com/admincore/userd/internal/logging"
	"github.com/admincore/userd/internal/server/user"
)

const pgUniqueViolation = "23505"

// PostgresStore is the durable event log. All events of one Save call are
// appended in a single transaction; the unique (aggregate_id, version)
// index is the only serialization point between concurrent writers.
type PostgresStore struct {
	db        *sql.DB
	registry  *Registry
	projector Projector
	logger    logging.Logger
}

func NewPostgresStore(db *sql.DB, registry *Registry, logger logging.Logger) *PostgresStore {
	return &PostgresStore{db: db, registry: registry, logger: logger}
}

// SetProjector wires the read-model projector triggered after each append.
// The store and the projector reference each other, so the hook is attached
// after both exist.
func (s *PostgresStore) SetProjector(p Projector) {
	s.projector = p
}

func (s *PostgresStore) Save(ctx context.Context, aggregateID uuid.UUID, aggregateType string, events []user.Event, expectedVersion int) error {
	if len(events) == 0 {
		return nil
	}

	s.logger.Debug(ctx, "appending events",
		"aggregate_id", aggregateID, "aggregate_type", aggregateType,
		"count", len(events), "expected_version", expectedVersion)

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		version := expectedVersion
		for _, e := range events {
			data, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("encoding event %s: %w", e.Name(), err)
			}

			version++
			_, err = tx.ExecContext(ctx,
				`INSERT INTO events (aggregate_id, aggregate_type, event_type, event_data, version, occurred_on)
				 VALUES ($1, $2, $3, $4, $5, $6)`,
				aggregateID, aggregateType, e.Name(), data, version, e.OccurredOn())
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("%w: aggregate %s at version %d", ErrConcurrencyConflict, aggregateID, expectedVersion)
		}
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}

	if s.projector != nil {
		// The append is already durable. A projection failure is surfaced
		// distinctly; the checkpoint makes the next catch-up re-drive it.
		if err := s.projector.CatchUp(ctx); err != nil {
			s.logger.Error(ctx, "read model projection failed after append",
				"aggregate_id", aggregateID, "error", err)
			return fmt.Errorf("%w: %v", ErrProjectionFailed, err)
		}
	}

	return nil
}

func (s *PostgresStore) Events(ctx context.Context, aggregateID uuid.UUID) ([]user.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_type, event_data, version FROM events
		 WHERE aggregate_id = $1
		 ORDER BY version ASC`,
		aggregateID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	defer rows.Close()

	var events []user.Event
	for rows.Next() {
		var (
			eventType string
			data      []byte
			version   int
		)
		if err := rows.Scan(&eventType, &data, &version); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorage, err)
		}

		// Versions are 1-based and contiguous; a gap means the log is
		// corrupted and replay would produce inconsistent state.
		if version != len(events)+1 {
			return nil, fmt.Errorf("%w: event log gap for aggregate %s at version %d", ErrStorage, aggregateID, version)
		}

		e, err := s.registry.Decode(eventType, data)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	return events, nil
}

// RecordsAfter returns up to limit records with a sequence greater than seq
// in global append order. It is the projector's feed.
func (s *PostgresStore) RecordsAfter(ctx context.Context, seq int64, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, aggregate_id, aggregate_type, event_type, event_data, version, occurred_on
		 FROM events
		 WHERE id > $1
		 ORDER BY id ASC
		 LIMIT $2`,
		seq, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Sequence, &r.AggregateID, &r.AggregateType, &r.EventType, &r.EventData, &r.Version, &r.OccurredOn); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorage, err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	return records, nil
}
