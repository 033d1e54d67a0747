package store

import "fmt"

// RelationshipError reports a dangling reference or a link that would
// introduce a cycle.
type RelationshipError struct {
	EntryID string
	RefID   string
	Message string
}

func (e *RelationshipError) Error() string {
	return fmt.Sprintf("relationship error for %s: %s (ref %s)", e.EntryID, e.Message, e.RefID)
}

// NotFoundError reports an operation on a missing id where "missing" is a
// caller mistake rather than an expected outcome. Get, Contains, and Remove
// deliberately return zero values instead of this error.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("entry %s not found", e.ID)
}
