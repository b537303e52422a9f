// Package user holds the event-sourced User aggregate: the closed event
// union, the state-transition logic, and the business invariants. The
// aggregate is transient; its state is always derived by replaying events.
package user

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AggregateType is the discriminator stored with every event record.
const AggregateType = "User"

// Role of a user within the admin console.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleMember  Role = "member"
)

// ParseRole converts an external string into a Role.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAdmin, RoleManager, RoleMember:
		return Role(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
}

// AuthMethodType is the kind of credential linked to a user.
type AuthMethodType string

const (
	AuthMethodEmail  AuthMethodType = "email"
	AuthMethodPhone  AuthMethodType = "phone"
	AuthMethodGoogle AuthMethodType = "google"
	AuthMethodApple  AuthMethodType = "apple"
)

// ParseAuthMethodType converts an external string into an AuthMethodType.
func ParseAuthMethodType(s string) (AuthMethodType, error) {
	switch AuthMethodType(s) {
	case AuthMethodEmail, AuthMethodPhone, AuthMethodGoogle, AuthMethodApple:
		return AuthMethodType(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAuthType, s)
	}
}

func (t AuthMethodType) requiresSecret() bool {
	return t == AuthMethodEmail
}

// AuthMethod is a credential attached to the aggregate. Unique by
// (Identifier, Type) within one user.
type AuthMethod struct {
	Identifier string
	Type       AuthMethodType
	Secret     string
	CreatedAt  time.Time
}

// User is the aggregate root. All fields are derived from events; Version
// always equals the number of events applied since creation.
type User struct {
	id          uuid.UUID
	username    string
	displayName string
	role        Role
	active      bool
	deleted     bool
	createdAt   time.Time
	lastLoginAt time.Time
	authMethods []AuthMethod

	version     int
	uncommitted []Event

	now   func() time.Time
	newID func() uuid.UUID
}

// Option customizes aggregate construction. Used by tests to inject a
// deterministic clock and id source.
type Option func(*User)

// WithClock replaces the timestamp source for newly raised events.
func WithClock(now func() time.Time) Option {
	return func(u *User) { u.now = now }
}

// WithIDSource replaces the event id generator.
func WithIDSource(newID func() uuid.UUID) Option {
	return func(u *User) { u.newID = newID }
}

// New returns a blank aggregate, ready for LoadFromHistory.
func New(opts ...Option) *User {
	u := &User{
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.New,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Create starts a new User aggregate. It raises UserCreated followed by
// AuthMethodAdded for the initial credential, so the returned aggregate is
// at version 2 with both events uncommitted.
func Create(id uuid.UUID, username string, role Role, authIdentifier string, authType AuthMethodType, authSecret string, opts ...Option) (*User, error) {
	if username == "" {
		return nil, ErrUsernameRequired
	}
	if authIdentifier == "" {
		return nil, ErrIdentifierRequired
	}
	if authType.requiresSecret() && authSecret == "" {
		return nil, ErrSecretRequired
	}

	u := New(opts...)

	if err := u.raise(&UserCreated{
		Meta:      u.meta(),
		UserID:    id,
		Username:  username,
		Role:      role,
		CreatedAt: u.now(),
	}); err != nil {
		return nil, err
	}

	if err := u.raise(&AuthMethodAdded{
		Meta:       u.meta(),
		UserID:     id,
		Identifier: authIdentifier,
		Type:       authType,
		Secret:     authSecret,
	}); err != nil {
		return nil, err
	}

	return u, nil
}

// UpdateRole changes the user's role.
func (u *User) UpdateRole(role Role) error {
	if u.deleted {
		return ErrUserDeleted
	}
	return u.raise(&UserRoleUpdated{Meta: u.meta(), UserID: u.id, Role: role})
}

// UpdateProfile replaces the display name.
func (u *User) UpdateProfile(displayName string) error {
	if u.deleted {
		return ErrUserDeleted
	}
	return u.raise(&UserProfileUpdated{Meta: u.meta(), UserID: u.id, DisplayName: displayName})
}

// AddAuthMethod links a new credential to the user.
func (u *User) AddAuthMethod(identifier string, typ AuthMethodType, secret string) error {
	if u.deleted {
		return ErrUserDeleted
	}
	if identifier == "" {
		return ErrIdentifierRequired
	}
	for _, m := range u.authMethods {
		if m.Identifier == identifier && m.Type == typ {
			return ErrAuthMethodExists
		}
	}
	if typ.requiresSecret() && secret == "" {
		return ErrSecretRequired
	}
	return u.raise(&AuthMethodAdded{Meta: u.meta(), UserID: u.id, Identifier: identifier, Type: typ, Secret: secret})
}

// UpdateAuthMethod replaces the secret of an existing credential.
func (u *User) UpdateAuthMethod(identifier string, newSecret string) error {
	if u.deleted {
		return ErrUserDeleted
	}
	m := u.findAuthMethod(identifier)
	if m == nil {
		return ErrAuthMethodNotFound
	}
	if m.Type.requiresSecret() && newSecret == "" {
		return ErrSecretRequired
	}
	return u.raise(&AuthMethodUpdated{Meta: u.meta(), UserID: u.id, Identifier: identifier, NewSecret: newSecret})
}

// RemoveAuthMethod unlinks a credential. The last remaining credential can
// never be removed.
func (u *User) RemoveAuthMethod(identifier string) error {
	if u.deleted {
		return ErrUserDeleted
	}
	if u.findAuthMethod(identifier) == nil {
		return ErrAuthMethodNotFound
	}
	if len(u.authMethods) <= 1 {
		return ErrLastAuthMethod
	}
	return u.raise(&AuthMethodRemoved{Meta: u.meta(), UserID: u.id, Identifier: identifier})
}

// Activate re-enables a deactivated user.
func (u *User) Activate() error {
	if u.deleted {
		return ErrUserDeleted
	}
	return u.raise(&UserActivationChanged{Meta: u.meta(), UserID: u.id, Active: true})
}

// Deactivate disables the user without destroying history.
func (u *User) Deactivate() error {
	if u.deleted {
		return ErrUserDeleted
	}
	return u.raise(&UserActivationChanged{Meta: u.meta(), UserID: u.id, Active: false})
}

// RecordLogin stamps the current time as the last successful login.
func (u *User) RecordLogin() error {
	if u.deleted {
		return ErrUserDeleted
	}
	return u.raise(&UserLastLoginUpdated{Meta: u.meta(), UserID: u.id, LastLoginAt: u.now()})
}

// Delete moves the aggregate into its terminal state.
func (u *User) Delete() error {
	if u.deleted {
		return ErrAlreadyDeleted
	}
	return u.raise(&UserDeleted{Meta: u.meta(), UserID: u.id})
}

// LoadFromHistory replays stored events in order without validation and
// without touching the uncommitted buffer. The log is trusted; an unknown
// variant fails the whole load.
func (u *User) LoadFromHistory(events []Event) error {
	for _, e := range events {
		if err := u.apply(e); err != nil {
			return err
		}
		u.version++
	}
	return nil
}

// UncommittedEvents returns the events raised since the last commit, in
// raise order.
func (u *User) UncommittedEvents() []Event {
	out := make([]Event, len(u.uncommitted))
	copy(out, u.uncommitted)
	return out
}

// MarkCommitted clears the uncommitted buffer after a successful append.
func (u *User) MarkCommitted() {
	u.uncommitted = u.uncommitted[:0]
}

func (u *User) ID() uuid.UUID          { return u.id }
func (u *User) Username() string       { return u.username }
func (u *User) DisplayName() string    { return u.displayName }
func (u *User) Role() Role             { return u.role }
func (u *User) IsActive() bool         { return u.active }
func (u *User) IsDeleted() bool        { return u.deleted }
func (u *User) CreatedAt() time.Time   { return u.createdAt }
func (u *User) LastLoginAt() time.Time { return u.lastLoginAt }
func (u *User) Version() int           { return u.version }

// AuthMethods returns a copy of the linked credentials.
func (u *User) AuthMethods() []AuthMethod {
	out := make([]AuthMethod, len(u.authMethods))
	copy(out, u.authMethods)
	return out
}

func (u *User) meta() Meta {
	return Meta{ID: u.newID(), At: u.now()}
}

func (u *User) raise(e Event) error {
	if err := u.apply(e); err != nil {
		return err
	}
	u.uncommitted = append(u.uncommitted, e)
	u.version++
	return nil
}

func (u *User) findAuthMethod(identifier string) *AuthMethod {
	for i := range u.authMethods {
		if u.authMethods[i].Identifier == identifier {
			return &u.authMethods[i]
		}
	}
	return nil
}

// apply folds one event into state. Every variant of the union must have a
// case here; hitting default means the union and this switch diverged.
func (u *User) apply(e Event) error {
	switch ev := e.(type) {
	case *UserCreated:
		u.id = ev.UserID
		u.username = ev.Username
		u.role = ev.Role
		u.active = true
		u.deleted = false
		u.createdAt = ev.CreatedAt
	case *UserRoleUpdated:
		u.role = ev.Role
	case *UserProfileUpdated:
		u.displayName = ev.DisplayName
	case *AuthMethodAdded:
		u.authMethods = append(u.authMethods, AuthMethod{
			Identifier: ev.Identifier,
			Type:       ev.Type,
			Secret:     ev.Secret,
			CreatedAt:  ev.OccurredOn(),
		})
	case *AuthMethodUpdated:
		if m := u.findAuthMethod(ev.Identifier); m != nil {
			m.Secret = ev.NewSecret
		}
	case *AuthMethodRemoved:
		for i := range u.authMethods {
			if u.authMethods[i].Identifier == ev.Identifier {
				u.authMethods = append(u.authMethods[:i], u.authMethods[i+1:]...)
				break
			}
		}
	case *UserActivationChanged:
		u.active = ev.Active
	case *UserLastLoginUpdated:
		u.lastLoginAt = ev.LastLoginAt
	case *UserDeleted:
		u.deleted = true
	default:
		return fmt.Errorf("unhandled event variant %T", e)
	}
	return nil
}
