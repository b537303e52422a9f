// Package projection keeps the denormalized read model in step with the
// event log. Progress is tracked by a checkpoint stored next to the read
// model, so a projection that failed after a durable append is re-driven on
// the next catch-up.
package projection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/admincore/userd/internal/logging"
	"github.com/admincore/userd/internal/server/eventstore"
	"github.com/admincore/userd/internal/server/readmodel"
	"github.com/admincore/userd/internal/server/user"
)

// CheckpointName identifies the users projection in the checkpoint table.
const CheckpointName = "users"

const batchSize = 100

// Source feeds the projector with stored records in global append order.
type Source interface {
	RecordsAfter(ctx context.Context, seq int64, limit int) ([]eventstore.Record, error)
}

// Projector applies stored events to the read model.
type Projector struct {
	mu       sync.Mutex
	source   Source
	repo     readmodel.Repository
	registry *eventstore.Registry
	logger   logging.Logger
}

func NewProjector(source Source, repo readmodel.Repository, registry *eventstore.Registry, logger logging.Logger) *Projector {
	return &Projector{source: source, repo: repo, registry: registry, logger: logger}
}

// CatchUp applies every record past the checkpoint, advancing the checkpoint
// after each event so a mid-batch failure resumes exactly where it stopped.
func (p *Projector) CatchUp(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		seq, err := p.repo.Checkpoint(ctx, CheckpointName)
		if err != nil {
			return fmt.Errorf("reading checkpoint: %w", err)
		}

		records, err := p.source.RecordsAfter(ctx, seq, batchSize)
		if err != nil {
			return fmt.Errorf("reading event records: %w", err)
		}
		if len(records) == 0 {
			return nil
		}

		for _, rec := range records {
			if err := p.applyRecord(ctx, rec); err != nil {
				return err
			}
			if err := p.repo.SetCheckpoint(ctx, CheckpointName, rec.Sequence); err != nil {
				return fmt.Errorf("advancing checkpoint: %w", err)
			}
		}

		if len(records) < batchSize {
			return nil
		}
	}
}

// Rebuild drops the read model and replays the whole log.
func (p *Projector) Rebuild(ctx context.Context) error {
	p.mu.Lock()
	if err := p.repo.TruncateAll(ctx); err != nil {
		p.mu.Unlock()
		return fmt.Errorf("truncating read model: %w", err)
	}
	if err := p.repo.SetCheckpoint(ctx, CheckpointName, 0); err != nil {
		p.mu.Unlock()
		return fmt.Errorf("resetting checkpoint: %w", err)
	}
	p.mu.Unlock()

	p.logger.Info(ctx, "rebuilding read model from event log")
	return p.CatchUp(ctx)
}

func (p *Projector) applyRecord(ctx context.Context, rec eventstore.Record) error {
	e, err := p.registry.Decode(rec.EventType, rec.EventData)
	if err != nil {
		// fail loud: a record we cannot decode would leave the read model
		// silently stale
		return fmt.Errorf("decoding record %d (%s): %w", rec.Sequence, rec.EventType, err)
	}

	if err := p.apply(ctx, e, rec.OccurredOn); err != nil {
		if errors.Is(err, readmodel.ErrNotFound) {
			// the target row never made it into the read model; skip rather
			// than wedge the projection on one record
			p.logger.Warn(ctx, "projection target row missing, skipping event",
				"sequence", rec.Sequence, "event_type", rec.EventType, "aggregate_id", rec.AggregateID)
			return nil
		}
		return fmt.Errorf("applying record %d (%s): %w", rec.Sequence, rec.EventType, err)
	}
	return nil
}

func (p *Projector) apply(ctx context.Context, e user.Event, at time.Time) error {
	switch ev := e.(type) {
	case *user.UserCreated:
		return p.repo.UpsertUser(ctx, readmodel.UserRow{
			ID:        ev.UserID,
			Username:  ev.Username,
			Role:      string(ev.Role),
			IsActive:  true,
			CreatedAt: ev.CreatedAt,
			UpdatedAt: at,
		})
	case *user.UserRoleUpdated:
		return p.repo.SetRole(ctx, ev.UserID, string(ev.Role), at)
	case *user.UserProfileUpdated:
		return p.repo.SetProfile(ctx, ev.UserID, ev.DisplayName, at)
	case *user.AuthMethodAdded:
		return p.repo.InsertAuthMethod(ctx, readmodel.AuthMethodRow{
			UserID:     ev.UserID,
			Identifier: ev.Identifier,
			Type:       string(ev.Type),
			Secret:     ev.Secret,
			CreatedAt:  at,
			UpdatedAt:  at,
		})
	case *user.AuthMethodUpdated:
		return p.repo.UpdateAuthMethodSecret(ctx, ev.UserID, ev.Identifier, ev.NewSecret, at)
	case *user.AuthMethodRemoved:
		return p.repo.DeleteAuthMethod(ctx, ev.UserID, ev.Identifier)
	case *user.UserActivationChanged:
		return p.repo.SetActive(ctx, ev.UserID, ev.Active, at)
	case *user.UserLastLoginUpdated:
		return p.repo.SetLastLogin(ctx, ev.UserID, ev.LastLoginAt, at)
	case *user.UserDeleted:
		return p.repo.MarkDeleted(ctx, ev.UserID, at)
	default:
		return fmt.Errorf("unhandled event variant %T", e)
	}
}
