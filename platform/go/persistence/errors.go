package persistence

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the schema version lifecycle and the generic
// record store. Every failure mode a caller needs to map to a transport
// status is distinguishable via errors.Is / errors.As; none surface as an
// opaque failure.
var (
	// ErrInvalidArgument indicates malformed caller input, such as a
	// tenant-scoped draft without a tenant id or an unknown table name.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound indicates an unknown entity, version, table, or row.
	ErrNotFound = errors.New("not found")

	// ErrInvariantViolation indicates a state transition that would break a
	// versioning rule, e.g. publishing a non-draft or archiving a non-published
	// version.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrPrerequisiteMissing indicates an operation whose preconditions do
	// not hold yet, e.g. a tenant merge without both published versions.
	ErrPrerequisiteMissing = errors.New("prerequisite missing")
)

// ConflictError reports an optimistic-lock mismatch on update. It carries
// the entity id and the expected version that was rejected so the caller
// can decide fetch-and-retry semantics.
type ConflictError struct {
	EntityID        string
	ExpectedVersion int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: entity %s was modified by another request (expected version %d)", e.EntityID, e.ExpectedVersion)
}

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var conflict *ConflictError
	return errors.As(err, &conflict)
}
