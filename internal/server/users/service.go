// Package users exposes the application-level command and query handlers for
// user administration. Commands load the aggregate from the event log, run
// one behavior, and append the raised events; queries read only from the
// denormalized read model.
package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/admincore/userd/internal/cryptox"
	"github.com/admincore/userd/internal/logging"
	"github.com/admincore/userd/internal/server/eventstore"
	"github.com/admincore/userd/internal/server/readmodel"
	"github.com/admincore/userd/internal/server/user"
)

// Service is the command/query facade over the User aggregate and its read
// model.
type Service struct {
	store  eventstore.Store
	repo   readmodel.Repository
	logger logging.Logger

	now   func() time.Time
	newID func() uuid.UUID
}

// Option customizes Service construction.
type Option func(*Service)

// WithClock replaces the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDSource replaces the user/event id generator.
func WithIDSource(newID func() uuid.UUID) Option {
	return func(s *Service) { s.newID = newID }
}

func NewService(store eventstore.Store, repo readmodel.Repository, logger logging.Logger, opts ...Option) *Service {
	s := &Service{
		store:  store,
		repo:   repo,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.New,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateUserParams carries everything needed to create a user with the
// initial authentication method.
type CreateUserParams struct {
	Username       string
	Role           string
	AuthIdentifier string
	AuthType       string
	AuthSecret     string
}

// CreateUser creates the aggregate and returns the new user's id.
func (s *Service) CreateUser(ctx context.Context, params CreateUserParams) (uuid.UUID, error) {
	role, err := user.ParseRole(params.Role)
	if err != nil {
		return uuid.Nil, err
	}
	typ, err := user.ParseAuthMethodType(params.AuthType)
	if err != nil {
		return uuid.Nil, err
	}

	secret, err := s.hashSecret(typ, params.AuthSecret)
	if err != nil {
		return uuid.Nil, err
	}

	id := s.newID()
	u, err := user.Create(id, params.Username, role, params.AuthIdentifier, typ, secret, s.aggregateOpts()...)
	if err != nil {
		return uuid.Nil, err
	}

	if err := s.commit(ctx, u); err != nil {
		return uuid.Nil, err
	}

	s.logger.Info(ctx, "user created", "user_id", id, "username", params.Username, "role", role)
	return id, nil
}

// UpdateRole changes the user's role.
func (s *Service) UpdateRole(ctx context.Context, id uuid.UUID, roleName string) error {
	role, err := user.ParseRole(roleName)
	if err != nil {
		return err
	}
	return s.mutate(ctx, id, func(u *user.User) error {
		return u.UpdateRole(role)
	})
}

// UpdateProfile replaces the user's display name.
func (s *Service) UpdateProfile(ctx context.Context, id uuid.UUID, displayName string) error {
	return s.mutate(ctx, id, func(u *user.User) error {
		return u.UpdateProfile(displayName)
	})
}

// AddAuthMethod links a new credential to the user.
func (s *Service) AddAuthMethod(ctx context.Context, id uuid.UUID, identifier, typeName, secret string) error {
	typ, err := user.ParseAuthMethodType(typeName)
	if err != nil {
		return err
	}
	hashed, err := s.hashSecret(typ, secret)
	if err != nil {
		return err
	}
	return s.mutate(ctx, id, func(u *user.User) error {
		return u.AddAuthMethod(identifier, typ, hashed)
	})
}

// UpdateAuthMethod replaces the secret of an existing credential.
func (s *Service) UpdateAuthMethod(ctx context.Context, id uuid.UUID, identifier, newSecret string) error {
	return s.mutate(ctx, id, func(u *user.User) error {
		hashed := newSecret
		for _, m := range u.AuthMethods() {
			if m.Identifier == identifier {
				var err error
				hashed, err = s.hashSecret(m.Type, newSecret)
				if err != nil {
					return err
				}
				break
			}
		}
		return u.UpdateAuthMethod(identifier, hashed)
	})
}

// RemoveAuthMethod unlinks a credential.
func (s *Service) RemoveAuthMethod(ctx context.Context, id uuid.UUID, identifier string) error {
	return s.mutate(ctx, id, func(u *user.User) error {
		return u.RemoveAuthMethod(identifier)
	})
}

// SetActivation activates or deactivates the user.
func (s *Service) SetActivation(ctx context.Context, id uuid.UUID, active bool) error {
	return s.mutate(ctx, id, func(u *user.User) error {
		if active {
			return u.Activate()
		}
		return u.Deactivate()
	})
}

// RecordLogin stamps the current time as the user's last successful login.
func (s *Service) RecordLogin(ctx context.Context, id uuid.UUID) error {
	return s.mutate(ctx, id, func(u *user.User) error {
		return u.RecordLogin()
	})
}

// DeleteUser moves the user into its terminal state.
func (s *Service) DeleteUser(ctx context.Context, id uuid.UUID) error {
	err := s.mutate(ctx, id, func(u *user.User) error {
		return u.Delete()
	})
	if err == nil {
		s.logger.Info(ctx, "user deleted", "user_id", id)
	}
	return err
}

// mutate loads the aggregate, runs one behavior, and appends whatever it
// raised with the version observed at load time.
func (s *Service) mutate(ctx context.Context, id uuid.UUID, fn func(*user.User) error) error {
	u, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := fn(u); err != nil {
		return err
	}
	return s.commit(ctx, u)
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*user.User, error) {
	events, err := s.store.Events(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: user %s", user.ErrNotFound, id)
	}

	u := user.New(s.aggregateOpts()...)
	if err := u.LoadFromHistory(events); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) commit(ctx context.Context, u *user.User) error {
	events := u.UncommittedEvents()
	expected := u.Version() - len(events)
	if err := s.store.Save(ctx, u.ID(), user.AggregateType, events, expected); err != nil {
		return err
	}
	u.MarkCommitted()
	return nil
}

func (s *Service) hashSecret(typ user.AuthMethodType, secret string) (string, error) {
	if typ != user.AuthMethodEmail {
		return secret, nil
	}
	hashed, err := cryptox.HashPassword(secret)
	if err != nil {
		return "", fmt.Errorf("%w: %v", user.ErrInvalidInput, err)
	}
	return hashed, nil
}

func (s *Service) aggregateOpts() []user.Option {
	return []user.Option{user.WithClock(s.now), user.WithIDSource(s.newID)}
}

// UserView is the query-side representation of one user.
type UserView struct {
	ID          uuid.UUID        `json:"id"`
	Username    string           `json:"username"`
	DisplayName string           `json:"display_name"`
	Role        string           `json:"role"`
	IsActive    bool             `json:"is_active"`
	IsDeleted   bool             `json:"is_deleted"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	LastLoginAt *time.Time       `json:"last_login_at,omitempty"`
	AuthMethods []AuthMethodView `json:"auth_methods"`
}

// AuthMethodView is a credential as exposed to clients. Secrets never leave
// the read model.
type AuthMethodView struct {
	Identifier string    `json:"identifier"`
	Type       string    `json:"type"`
	CreatedAt  time.Time `json:"created_at"`
}

// UserList is one page of users.
type UserList struct {
	Users    []UserView `json:"users"`
	Total    int        `json:"total"`
	Page     int        `json:"page"`
	PageSize int        `json:"page_size"`
}

// GetUser returns one user with its auth methods from the read model.
func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*UserView, error) {
	row, err := s.repo.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, readmodel.ErrNotFound) {
			return nil, fmt.Errorf("%w: user %s", user.ErrNotFound, id)
		}
		return nil, err
	}

	methods, err := s.repo.AuthMethodsOf(ctx, id)
	if err != nil {
		return nil, err
	}

	view := toUserView(*row)
	for _, m := range methods {
		view.AuthMethods = append(view.AuthMethods, AuthMethodView{
			Identifier: m.Identifier,
			Type:       m.Type,
			CreatedAt:  m.CreatedAt,
		})
	}
	return &view, nil
}

// ListUsers returns one page of users ordered by creation time, newest
// first. Deleted users are excluded unless includeDeleted is set.
func (s *Service) ListUsers(ctx context.Context, page, pageSize int, includeDeleted bool) (*UserList, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	rows, total, err := s.repo.ListUsers(ctx, page, pageSize, includeDeleted)
	if err != nil {
		return nil, err
	}

	list := &UserList{
		Users:    make([]UserView, 0, len(rows)),
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}
	for _, row := range rows {
		list.Users = append(list.Users, toUserView(row))
	}
	return list, nil
}

func toUserView(row readmodel.UserRow) UserView {
	return UserView{
		ID:          row.ID,
		Username:    row.Username,
		DisplayName: row.DisplayName,
		Role:        row.Role,
		IsActive:    row.IsActive,
		IsDeleted:   row.IsDeleted,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
		LastLoginAt: row.LastLoginAt,
	}
}
