package eventstore

import (
	"encoding/json"
	"fmt"

	"github.com/admincore/userd/internal/server/user"
)

// DecodeFunc turns a stored payload into a concrete event variant.
type DecodeFunc func(data []byte) (user.Event, error)

// Registry maps stable event discriminators to decoders. Legacy
// discriminators can be aliased to current ones so old log entries keep
// resolving to the same variant after refactors.
type Registry struct {
	decoders map[string]DecodeFunc
	aliases  map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		decoders: make(map[string]DecodeFunc),
		aliases:  make(map[string]string),
	}
}

// Register binds a discriminator to a decoder.
func (r *Registry) Register(name string, fn DecodeFunc) {
	r.decoders[name] = fn
}

// Alias makes a legacy discriminator resolve to a registered one.
func (r *Registry) Alias(legacy, name string) {
	r.aliases[legacy] = name
}

// Decode resolves the discriminator (following at most one alias hop) and
// decodes the payload. Unknown names yield ErrUnknownEventType.
func (r *Registry) Decode(name string, data []byte) (user.Event, error) {
	fn, ok := r.decoders[name]
	if !ok {
		if target, aliased := r.aliases[name]; aliased {
			fn, ok = r.decoders[target]
		}
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, name)
	}
	return fn(data)
}

// NewUserRegistry returns a registry with decoders for every User event
// variant plus aliases for the discriminators the legacy system wrote
// (bare .NET class names).
func NewUserRegistry() *Registry {
	r := NewRegistry()

	r.Register(user.EventNameUserCreated, func(data []byte) (user.Event, error) {
		var e user.UserCreated
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return &e, nil
	})
	r.Register(user.EventNameUserRoleUpdated, func(data []byte) (user.Event, error) {
		var e user.UserRoleUpdated
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return &e, nil
	})
	r.Register(user.EventNameUserProfileUpdated, func(data []byte) (user.Event, error) {
		var e user.UserProfileUpdated
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return &e, nil
	})
	r.Register(user.EventNameAuthMethodAdded, func(data []byte) (user.Event, error) {
		var e user.AuthMethodAdded
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return &e, nil
	})
	r.Register(user.EventNameAuthMethodUpdated, func(data []byte) (user.Event, error) {
		var e user.AuthMethodUpdated
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return &e, nil
	})
	r.Register(user.EventNameAuthMethodRemoved, func(data []byte) (user.Event, error) {
		var e user.AuthMethodRemoved
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return &e, nil
	})
	r.Register(user.EventNameUserActivationChange, func(data []byte) (user.Event, error) {
		var e user.UserActivationChanged
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return &e, nil
	})
	r.Register(user.EventNameUserLastLoginUpdated, func(data []byte) (user.Event, error) {
		var e user.UserLastLoginUpdated
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return &e, nil
	})
	r.Register(user.EventNameUserDeleted, func(data []byte) (user.Event, error) {
		var e user.UserDeleted
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		return &e, nil
	})

	r.Alias("UserCreatedEvent", user.EventNameUserCreated)
	r.Alias("UserUpdatedEvent", user.EventNameUserRoleUpdated)
	r.Alias("UserProfileUpdatedEvent", user.EventNameUserProfileUpdated)
	r.Alias("AuthMethodAddedEvent", user.EventNameAuthMethodAdded)
	r.Alias("AuthMethodUpdatedEvent", user.EventNameAuthMethodUpdated)
	r.Alias("AuthMethodRemovedEvent", user.EventNameAuthMethodRemoved)
	r.Alias("UserDeactivatedEvent", user.EventNameUserActivationChange)
	r.Alias("UserLastLoginUpdatedEvent", user.EventNameUserLastLoginUpdated)
	r.Alias("UserDeletedEvent", user.EventNameUserDeleted)

	return r
}
