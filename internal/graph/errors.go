package graph

import "fmt"

// ValidationError reports malformed input to a mutation. It is returned
// before any state change, so a failed call leaves no partial mutation.
type ValidationError struct {
	Component string
	Op        string
	ConceptID string
	Reason    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: invalid input for concept %q: %s",
		e.Component, e.Op, e.ConceptID, e.Reason)
}

// NotFoundError reports a referenced concept id that does not exist. Like
// ValidationError, it is returned before any mutation takes place.
type NotFoundError struct {
	Component string
	Op        string
	ConceptID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: %s: concept %q not found", e.Component, e.Op, e.ConceptID)
}

// StorageError wraps an I/O failure from a persistence backend. The cause is
// propagated unmodified; retry policy belongs to the caller.
type StorageError struct {
	Op        string
	ConceptID string
	Err       error
}

func (e *StorageError) Error() string {
	if e.ConceptID == "" {
		return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage: %s: concept %q: %v", e.Op, e.ConceptID, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
