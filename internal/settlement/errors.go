package settlement

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a missing or malformed reference or source.
	ErrValidation = errors.New("validation failed")

	// ErrAuthentication marks a webhook whose signature did not verify.
	ErrAuthentication = errors.New("authentication failed")

	// ErrNotFound marks a deposit, or the user owning it, that cannot be
	// resolved on a query path.
	ErrNotFound = errors.New("not found")

	// ErrGatewayTimeout is returned when the provider could not be reached.
	// Nothing was written; the caller tries again later.
	ErrGatewayTimeout = errors.New("gateway unavailable, try again later")
)

// PersistenceError is a storage failure inside the claim or credit phase.
type PersistenceError struct {
	Op        string
	Reference string
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("settlement %s %s: %v", e.Op, e.Reference, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func persistence(op, reference string, err error) error {
	return &PersistenceError{Op: op, Reference: reference, Err: err}
}
