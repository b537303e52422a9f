package user

import (
	"errors"
	"fmt"
)

// Error categories. Specific errors below wrap one of these so callers can
// classify with errors.Is without matching exact messages.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")
	ErrNotFound     = errors.New("not found")

	// ErrUserDeleted is returned by every mutating behavior once the
	// aggregate reached its terminal state.
	ErrUserDeleted = errors.New("user is deleted")

	// ErrAlreadyDeleted is returned by Delete on an already deleted user.
	ErrAlreadyDeleted = errors.New("user is already deleted")
)

var (
	ErrUsernameRequired   = fmt.Errorf("%w: username is required", ErrInvalidInput)
	ErrIdentifierRequired = fmt.Errorf("%w: auth method identifier is required", ErrInvalidInput)
	ErrSecretRequired     = fmt.Errorf("%w: secret is required for email authentication", ErrInvalidInput)
	ErrInvalidRole        = fmt.Errorf("%w: unknown role", ErrInvalidInput)
	ErrInvalidAuthType    = fmt.Errorf("%w: unknown auth method type", ErrInvalidInput)

	ErrAuthMethodExists = fmt.Errorf("%w: auth method is already linked", ErrConflict)
	ErrLastAuthMethod   = fmt.Errorf("%w: cannot remove the last authentication method", ErrConflict)

	ErrAuthMethodNotFound = fmt.Errorf("%w: auth method not found", ErrNotFound)
)
