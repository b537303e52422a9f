package eventstore

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/admincore/userd/internal/server/user"
)

func createTestUser(t *testing.T, id uuid.UUID) *user.User {
	t.Helper()
	u, err := user.Create(id, "a@example.com", user.RoleMember, "a@example.com", user.AuthMethodEmail, "hash1")
	require.NoError(t, err)
	return u
}

func TestMemoryStore_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	id := uuid.New()
	u := createTestUser(t, id)

	require.NoError(t, store.Save(ctx, id, user.AggregateType, u.UncommittedEvents(), 0))
	u.MarkCommitted()

	events, err := store.Events(ctx, id)
	require.NoError(t, err)
	require.Len(t, events, 2)

	replayed := user.New()
	require.NoError(t, replayed.LoadFromHistory(events))
	assert.Equal(t, 2, replayed.Version())
	assert.Equal(t, "a@example.com", replayed.Username())
}

func TestMemoryStore_UnknownAggregateIsEmpty(t *testing.T) {
	store := NewMemoryStore()
	events, err := store.Events(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestMemoryStore_ConcurrencyConflict(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	id := uuid.New()

	u := createTestUser(t, id)
	require.NoError(t, store.Save(ctx, id, user.AggregateType, u.UncommittedEvents(), 0))
	u.MarkCommitted()

	// two writers load at version 2 and race for the same slot
	events, err := store.Events(ctx, id)
	require.NoError(t, err)

	first := user.New()
	require.NoError(t, first.LoadFromHistory(events))
	second := user.New()
	require.NoError(t, second.LoadFromHistory(events))

	require.NoError(t, first.UpdateRole(user.RoleAdmin))
	require.NoError(t, second.UpdateRole(user.RoleManager))

	require.NoError(t, store.Save(ctx, id, user.AggregateType, first.UncommittedEvents(), 2))

	err = store.Save(ctx, id, user.AggregateType, second.UncommittedEvents(), 2)
	assert.ErrorIs(t, err, ErrConcurrencyConflict)

	// winner's events are in, loser's are not
	events, err = store.Events(ctx, id)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestMemoryStore_SaveNothingIsNoop(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), uuid.New(), user.AggregateType, nil, 5))
}

func TestMemoryStore_RecordsAfter(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	id := uuid.New()
	u := createTestUser(t, id)
	require.NoError(t, store.Save(ctx, id, user.AggregateType, u.UncommittedEvents(), 0))

	records, err := store.RecordsAfter(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, int64(1), records[0].Sequence)
	assert.Equal(t, user.EventNameUserCreated, records[0].EventType)
	assert.Equal(t, 1, records[0].Version)

	records, err = store.RecordsAfter(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, user.EventNameAuthMethodAdded, records[0].EventType)
}
