package request

import (
	"errors"
	"fmt"
)

// Sentinel errors for the engine's precondition checks.
var (
	// ErrUnsupportedVersion is returned when an action carries a format
	// version outside the whitelisted set.
	ErrUnsupportedVersion = errors.New("action version not supported")
	// ErrRequestRequired is returned when a non-creation action is applied
	// without a current request.
	ErrRequestRequired = errors.New("request is expected")
	// ErrRequestAlreadyExists is returned when a creation action is applied
	// to an existing request.
	ErrRequestAlreadyExists = errors.New("no request is expected at the creation")
)

// ValidationError reports a malformed or precondition-violating action.
// The apply call fails atomically; the request is never partially mutated.
type ValidationError struct {
	Reason string
}

// NewValidationError returns a ValidationError with the given reason.
func NewValidationError(reason string) *ValidationError {
	return &ValidationError{Reason: reason}
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// AuthorizationError reports that the recovered signer does not hold the
// role required for the action in the request's current state.
type AuthorizationError struct {
	Action ActionName
	Role   Role
	Reason string
}

// NewAuthorizationError returns an AuthorizationError for the given action and role.
func NewAuthorizationError(action ActionName, role Role, reason string) *AuthorizationError {
	return &AuthorizationError{Action: action, Role: role, Reason: reason}
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("signer with role %q cannot apply %q: %s", e.Role, e.Action, e.Reason)
}
