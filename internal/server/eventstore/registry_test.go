package eventstore

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/admincore/userd/internal/server/user"
)

func testMeta() user.Meta {
	return user.Meta{
		ID: uuid.New(),
		// microsecond precision: the jsonb/timestamptz boundary does not
		// keep nanoseconds
		At: time.Date(2025, 6, 1, 12, 0, 0, 123456000, time.UTC),
	}
}

func TestRegistry_RoundTripAllVariants(t *testing.T) {
	r := NewUserRegistry()
	id := uuid.New()

	events := []user.Event{
		&user.UserCreated{Meta: testMeta(), UserID: id, Username: "a@example.com", Role: user.RoleMember, CreatedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
		&user.UserRoleUpdated{Meta: testMeta(), UserID: id, Role: user.RoleAdmin},
		&user.UserProfileUpdated{Meta: testMeta(), UserID: id, DisplayName: "Alice"},
		&user.AuthMethodAdded{Meta: testMeta(), UserID: id, Identifier: "a@example.com", Type: user.AuthMethodEmail, Secret: "hash"},
		&user.AuthMethodUpdated{Meta: testMeta(), UserID: id, Identifier: "a@example.com", NewSecret: "hash2"},
		&user.AuthMethodRemoved{Meta: testMeta(), UserID: id, Identifier: "a@example.com"},
		&user.UserActivationChanged{Meta: testMeta(), UserID: id, Active: false},
		&user.UserLastLoginUpdated{Meta: testMeta(), UserID: id, LastLoginAt: time.Date(2025, 6, 2, 8, 30, 0, 0, time.UTC)},
		&user.UserDeleted{Meta: testMeta(), UserID: id},
	}

	for _, e := range events {
		t.Run(e.Name(), func(t *testing.T) {
			data, err := json.Marshal(e)
			require.NoError(t, err)

			decoded, err := r.Decode(e.Name(), data)
			require.NoError(t, err)
			assert.Equal(t, e, decoded)
		})
	}
}

func TestRegistry_LegacyAliases(t *testing.T) {
	r := NewUserRegistry()
	id := uuid.New()

	e := &user.UserActivationChanged{Meta: testMeta(), UserID: id, Active: true}
	data, err := json.Marshal(e)
	require.NoError(t, err)

	// the legacy system stored bare .NET class names
	decoded, err := r.Decode("UserDeactivatedEvent", data)
	require.NoError(t, err)
	assert.Equal(t, e, decoded)

	decoded, err = r.Decode("UserUpdatedEvent", []byte(`{"user_id":"`+id.String()+`","role":"admin"}`))
	require.NoError(t, err)
	require.IsType(t, &user.UserRoleUpdated{}, decoded)
	assert.Equal(t, user.RoleAdmin, decoded.(*user.UserRoleUpdated).Role)
}

func TestRegistry_UnknownType(t *testing.T) {
	r := NewUserRegistry()

	_, err := r.Decode("SomethingElse.v9", []byte(`{}`))
	assert.ErrorIs(t, err, ErrUnknownEventType)
}

func TestRegistry_InvalidPayload(t *testing.T) {
	r := NewUserRegistry()

	_, err := r.Decode(user.EventNameUserCreated, []byte(`not json`))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownEventType)
}
