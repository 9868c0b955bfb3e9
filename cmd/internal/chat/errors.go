package chat

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Callers classify with errors.Is or the helpers below.
var (
	// ErrInvalidInput reports malformed identifiers or empty required fields.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound reports a missing conversation, user, or peer profile.
	ErrNotFound = errors.New("not found")

	// ErrForbidden reports an authenticated caller that is not a participant.
	ErrForbidden = errors.New("forbidden")

	// ErrConflict reports a uniqueness violation (duplicate participants key).
	// Find-or-create absorbs this in normal operation.
	ErrConflict = errors.New("conflict")

	// ErrStorage reports a transient storage failure (connection, transaction).
	ErrStorage = errors.New("storage failure")
)

// OpError is a typed operation error with a stable Op + Kind contract for callers/tests.
// Kind MUST be one of the sentinel kinds above. Msg may include human-readable
// context; never secrets.
type OpError struct {
	Op   string
	Kind error
	Msg  string
}

func (e OpError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

func (e OpError) Unwrap() error { return e.Kind }

func opErr(op string, kind error, msg string) error {
	return OpError{Op: op, Kind: kind, Msg: msg}
}

// storageErr wraps a driver error under ErrStorage while keeping the cause in the message.
func storageErr(op string, cause error) error {
	if cause == nil {
		return nil
	}
	return OpError{Op: op, Kind: ErrStorage, Msg: cause.Error()}
}

// IsInvalidInput reports whether err represents ErrInvalidInput.
func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }

// IsNotFound reports whether err represents ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsForbidden reports whether err represents ErrForbidden.
func IsForbidden(err error) bool { return errors.Is(err, ErrForbidden) }

// IsConflict reports whether err represents ErrConflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }
