package auth

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation            = errors.New("validation failed")
	ErrConflict              = errors.New("username or email already registered")
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrAccountDeactivated    = errors.New("account deactivated")
	ErrTokenInvalid          = errors.New("invalid or expired token")
	ErrUnauthenticated       = errors.New("authentication required")
	ErrDependencyUnavailable = errors.New("service temporarily unavailable")
)

// FieldError is one violated input rule.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every rule an input broke. It matches ErrValidation.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func dependency(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrDependencyUnavailable, op, err)
}
