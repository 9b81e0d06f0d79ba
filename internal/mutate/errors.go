package mutate

import (
	"errors"
	"fmt"

	"mybrain/internal/remote"
)

// ValidationError rejects a request before any remote call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// WriteError reports a write the remote store did not accept. Local state is
// unaffected because it is only ever advanced by snapshots.
type WriteError struct {
	Op         remote.Op
	Collection remote.Collection
	ID         string
	Err        error
}

func (e WriteError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s %s failed: %v", e.Op, e.Collection, e.Err)
	}
	return fmt.Sprintf("%s %s %s failed: %v", e.Op, e.Collection, e.ID, e.Err)
}

func (e WriteError) Unwrap() error { return e.Err }

type NotFoundError struct {
	Kind string
	ID   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

var ErrClosed = errors.New("coordinator closed")

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v ValidationError
	return errors.As(err, &v)
}
