package user

import (
	"time"

	"github.com/google/uuid"
)

// Stable, versioned event discriminators. These are what the event store
// persists; renaming a Go type must never change them.
const (
	EventNameUserCreated          = "UserCreated.v1"
	EventNameUserRoleUpdated      = "UserRoleUpdated.v1"
	EventNameUserProfileUpdated   = "UserProfileUpdated.v1"
	EventNameAuthMethodAdded      = "AuthMethodAdded.v1"
	EventNameAuthMethodUpdated    = "AuthMethodUpdated.v1"
	EventNameAuthMethodRemoved    = "AuthMethodRemoved.v1"
	EventNameUserActivationChange = "UserActivationChanged.v1"
	EventNameUserLastLoginUpdated = "UserLastLoginUpdated.v1"
	EventNameUserDeleted          = "UserDeleted.v1"
)

// Event is the closed union of facts that can happen to a User. The marker
// method keeps the union sealed to this package so the aggregate's apply
// switch stays exhaustive.
type Event interface {
	// Name returns the stable versioned discriminator of the variant.
	Name() string

	// AggregateID returns the id of the User the event belongs to.
	AggregateID() uuid.UUID

	// EventID returns the unique id of this event instance.
	EventID() uuid.UUID

	// OccurredOn returns the generation timestamp of the event.
	OccurredOn() time.Time

	isUserEvent()
}

// Meta is the header shared by all event variants.
type Meta struct {
	ID uuid.UUID `json:"event_id"`
	At time.Time `json:"occurred_on"`
}

func (m Meta) EventID() uuid.UUID    { return m.ID }
func (m Meta) OccurredOn() time.Time { return m.At }
func (m Meta) isUserEvent()          {}

// UserCreated establishes the aggregate. It is always the first event.
type UserCreated struct {
	Meta
	UserID    uuid.UUID `json:"user_id"`
	Username  string    `json:"username"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

func (e *UserCreated) Name() string           { return EventNameUserCreated }
func (e *UserCreated) AggregateID() uuid.UUID { return e.UserID }

type UserRoleUpdated struct {
	Meta
	UserID uuid.UUID `json:"user_id"`
	Role   Role      `json:"role"`
}

func (e *UserRoleUpdated) Name() string           { return EventNameUserRoleUpdated }
func (e *UserRoleUpdated) AggregateID() uuid.UUID { return e.UserID }

type UserProfileUpdated struct {
	Meta
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name"`
}

func (e *UserProfileUpdated) Name() string           { return EventNameUserProfileUpdated }
func (e *UserProfileUpdated) AggregateID() uuid.UUID { return e.UserID }

type AuthMethodAdded struct {
	Meta
	UserID     uuid.UUID      `json:"user_id"`
	Identifier string         `json:"identifier"`
	Type       AuthMethodType `json:"type"`
	Secret     string         `json:"secret,omitempty"`
}

func (e *AuthMethodAdded) Name() string           { return EventNameAuthMethodAdded }
func (e *AuthMethodAdded) AggregateID() uuid.UUID { return e.UserID }

type AuthMethodUpdated struct {
	Meta
	UserID     uuid.UUID `json:"user_id"`
	Identifier string    `json:"identifier"`
	NewSecret  string    `json:"new_secret,omitempty"`
}

func (e *AuthMethodUpdated) Name() string           { return EventNameAuthMethodUpdated }
func (e *AuthMethodUpdated) AggregateID() uuid.UUID { return e.UserID }

type AuthMethodRemoved struct {
	Meta
	UserID     uuid.UUID `json:"user_id"`
	Identifier string    `json:"identifier"`
}

func (e *AuthMethodRemoved) Name() string           { return EventNameAuthMethodRemoved }
func (e *AuthMethodRemoved) AggregateID() uuid.UUID { return e.UserID }

// UserActivationChanged covers both activation and deactivation.
type UserActivationChanged struct {
	Meta
	UserID uuid.UUID `json:"user_id"`
	Active bool      `json:"active"`
}

func (e *UserActivationChanged) Name() string           { return EventNameUserActivationChange }
func (e *UserActivationChanged) AggregateID() uuid.UUID { return e.UserID }

type UserLastLoginUpdated struct {
	Meta
	UserID      uuid.UUID `json:"user_id"`
	LastLoginAt time.Time `json:"last_login_at"`
}

func (e *UserLastLoginUpdated) Name() string           { return EventNameUserLastLoginUpdated }
func (e *UserLastLoginUpdated) AggregateID() uuid.UUID { return e.UserID }

// UserDeleted is terminal. No event may follow it.
type UserDeleted struct {
	Meta
	UserID uuid.UUID `json:"user_id"`
}

func (e *UserDeleted) Name() string           { return EventNameUserDeleted }
func (e *UserDeleted) AggregateID() uuid.UUID { return e.UserID }
