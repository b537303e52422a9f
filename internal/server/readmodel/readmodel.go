// Package readmodel holds the denormalized query-side representation of
// users. Rows are written only by the projector and read by query handlers;
// the whole model can be rebuilt from the event log at any time.
package readmodel

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// UserRow is the denormalized user projection.
type UserRow struct {
	ID          uuid.UUID
	Username    string
	DisplayName string
	Role        string
	IsActive    bool
	IsDeleted   bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastLoginAt *time.Time
}

// AuthMethodRow is a credential row, child of a UserRow.
type AuthMethodRow struct {
	UserID     uuid.UUID
	Identifier string
	Type       string
	Secret     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Repository is the full read-model surface: projection writes, queries,
// and projection bookkeeping.
//
// All write operations stamp updated_at with the event's occurrence time
// passed by the caller, never the projection wall clock.
type Repository interface {
	// Projection writes. Update operations return ErrNotFound when the
	// target row is absent; the projector decides whether to skip.
	UpsertUser(ctx context.Context, row UserRow) error
	SetRole(ctx context.Context, id uuid.UUID, role string, at time.Time) error
	SetProfile(ctx context.Context, id uuid.UUID, displayName string, at time.Time) error
	SetActive(ctx context.Context, id uuid.UUID, active bool, at time.Time) error
	SetLastLogin(ctx context.Context, id uuid.UUID, loginAt time.Time, at time.Time) error
	MarkDeleted(ctx context.Context, id uuid.UUID, at time.Time) error
	InsertAuthMethod(ctx context.Context, row AuthMethodRow) error
	UpdateAuthMethodSecret(ctx context.Context, userID uuid.UUID, identifier, secret string, at time.Time) error
	DeleteAuthMethod(ctx context.Context, userID uuid.UUID, identifier string) error

	// Queries.
	GetUser(ctx context.Context, id uuid.UUID) (*UserRow, error)
	AuthMethodsOf(ctx context.Context, userID uuid.UUID) ([]AuthMethodRow, error)
	ListUsers(ctx context.Context, page, pageSize int, includeDeleted bool) ([]UserRow, int, error)

	// Projection bookkeeping.
	Checkpoint(ctx context.Context, name string) (int64, error)
	SetCheckpoint(ctx context.Context, name string, seq int64) error
	TruncateAll(ctx context.Context) error
}
