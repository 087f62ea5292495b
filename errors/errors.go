package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

var (
	ErrNameRequired        = fmt.Errorf("name required")
	ErrUsernameInUse       = fmt.Errorf("username already in use")
	ErrGroupNotFound       = fmt.Errorf("group not found")
	ErrGroupAlreadyExists  = fmt.Errorf("group already exists")
	ErrInvalidUsers        = fmt.Errorf("invalid users")
	ErrNoValidUsers        = fmt.Errorf("no valid users found")
	ErrInsufficientMembers = fmt.Errorf("a group needs at least two members")
	ErrMalformedRequest    = fmt.Errorf("malformed request")
	ErrUnknownAction       = fmt.Errorf("unknown action")
	ErrStoreUnavailable    = fmt.Errorf("history store unavailable")

	ErrOutboxFull   = fmt.Errorf("connection outbox full")
	ErrOutboxClosed = fmt.Errorf("connection outbox closed")
	ErrWorkerPanic  = fmt.Errorf("worker panic")
	ErrEmptyWords   = fmt.Errorf("no words have been found")
	ErrInvalidFrame = fmt.Errorf("invalid frame")
)

// InvalidUsersError is returned by group creation when some requested members
// are not registered. Available is the presence snapshot at the time of the check.
type InvalidUsersError struct {
	Invalid   []string
	Available []string
}

func (e *InvalidUsersError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidUsers, strings.Join(e.Invalid, ", "))
}

func (e *InvalidUsersError) Unwrap() error {
	return ErrInvalidUsers
}

// Is, As and Join forward to the standard library so callers only import this package.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

func Join(errs ...error) error { return stderrors.Join(errs...) }
