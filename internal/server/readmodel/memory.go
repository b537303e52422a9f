package readmodel

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-memory Repository used in tests and as a
// reference for the projection contract.
type MemoryRepository struct {
	mu          sync.RWMutex
	users       map[uuid.UUID]*UserRow
	authMethods map[uuid.UUID][]AuthMethodRow
	checkpoints map[string]int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:       make(map[uuid.UUID]*UserRow),
		authMethods: make(map[uuid.UUID][]AuthMethodRow),
		checkpoints: make(map[string]int64),
	}
}

func (r *MemoryRepository) UpsertUser(ctx context.Context, row UserRow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := row
	r.users[row.ID] = &copied
	return nil
}

func (r *MemoryRepository) SetRole(ctx context.Context, id uuid.UUID, role string, at time.Time) error {
	return r.update(id, func(u *UserRow) {
		u.Role = role
		u.UpdatedAt = at
	})
}

func (r *MemoryRepository) SetProfile(ctx context.Context, id uuid.UUID, displayName string, at time.Time) error {
	return r.update(id, func(u *UserRow) {
		u.DisplayName = displayName
		u.UpdatedAt = at
	})
}

func (r *MemoryRepository) SetActive(ctx context.Context, id uuid.UUID, active bool, at time.Time) error {
	return r.update(id, func(u *UserRow) {
		u.IsActive = active
		u.UpdatedAt = at
	})
}

func (r *MemoryRepository) SetLastLogin(ctx context.Context, id uuid.UUID, loginAt time.Time, at time.Time) error {
	return r.update(id, func(u *UserRow) {
		t := loginAt
		u.LastLoginAt = &t
		u.UpdatedAt = at
	})
}

func (r *MemoryRepository) MarkDeleted(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.update(id, func(u *UserRow) {
		u.IsDeleted = true
		u.UpdatedAt = at
	})
}

func (r *MemoryRepository) update(id uuid.UUID, fn func(*UserRow)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return ErrNotFound
	}
	fn(u)
	return nil
}

func (r *MemoryRepository) InsertAuthMethod(ctx context.Context, row AuthMethodRow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	methods := r.authMethods[row.UserID]
	for i, m := range methods {
		if m.Identifier == row.Identifier && m.Type == row.Type {
			methods[i] = row
			return nil
		}
	}
	r.authMethods[row.UserID] = append(methods, row)
	return nil
}

func (r *MemoryRepository) UpdateAuthMethodSecret(ctx context.Context, userID uuid.UUID, identifier, secret string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	methods := r.authMethods[userID]
	for i, m := range methods {
		if m.Identifier == identifier {
			methods[i].Secret = secret
			methods[i].UpdatedAt = at
			return nil
		}
	}
	return ErrNotFound
}

func (r *MemoryRepository) DeleteAuthMethod(ctx context.Context, userID uuid.UUID, identifier string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	methods := r.authMethods[userID]
	for i, m := range methods {
		if m.Identifier == identifier {
			r.authMethods[userID] = append(methods[:i], methods[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (r *MemoryRepository) GetUser(ctx context.Context, id uuid.UUID) (*UserRow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (r *MemoryRepository) AuthMethodsOf(ctx context.Context, userID uuid.UUID) ([]AuthMethodRow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	methods := make([]AuthMethodRow, len(r.authMethods[userID]))
	copy(methods, r.authMethods[userID])
	return methods, nil
}

func (r *MemoryRepository) ListUsers(ctx context.Context, page, pageSize int, includeDeleted bool) ([]UserRow, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var all []UserRow
	for _, u := range r.users {
		if u.IsDeleted && !includeDeleted {
			continue
		}
		all = append(all, *u)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID.String() < all[j].ID.String()
	})

	total := len(all)
	start := (page - 1) * pageSize
	if start >= total {
		return nil, total, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (r *MemoryRepository) Checkpoint(ctx context.Context, name string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.checkpoints[name], nil
}

func (r *MemoryRepository) SetCheckpoint(ctx context.Context, name string, seq int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkpoints[name] = seq
	return nil
}

func (r *MemoryRepository) TruncateAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = make(map[uuid.UUID]*UserRow)
	r.authMethods = make(map[uuid.UUID][]AuthMethodRow)
	return nil
}
