package paste

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for missing or expired pastes.
	ErrNotFound = errors.New("paste not found")
	// ErrForbidden is returned when a delete token does not match the paste.
	ErrForbidden = errors.New("invalid delete token")
)

// UserError reports bad input. Message is safe to show to the user.
type UserError struct {
	Message string
	Err     error
}

func (e *UserError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// StoreError reports a persistence failure.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func userError(msg string, err error) error {
	return &UserError{Message: msg, Err: err}
}

func storeError(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}
