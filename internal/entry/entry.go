// Package entry defines the ContextEntry record type: one unit of knowledge
// captured during planning or execution, with typed classification, lineage
// references, and an optional time-to-live.
package entry

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"time"
)

// Type classifies what kind of knowledge an entry holds.
type Type string

const (
	TypeFile           Type = "FILE"
	TypeCommand        Type = "COMMAND"
	TypeCommandResult  Type = "COMMAND_RESULT"
	TypeTask           Type = "TASK"
	TypeTaskResult     Type = "TASK_RESULT"
	TypeSearchResult   Type = "SEARCH_RESULT"
	TypeSummary        Type = "SUMMARY"
	TypeContextRequest Type = "CONTEXT_REQUEST"
)

// AllTypes lists every valid entry type.
var AllTypes = []Type{
	TypeFile, TypeCommand, TypeCommandResult, TypeTask,
	TypeTaskResult, TypeSearchResult, TypeSummary, TypeContextRequest,
}

// Valid reports whether t is one of the fixed entry types.
func (t Type) Valid() bool {
	switch t {
	case TypeFile, TypeCommand, TypeCommandResult, TypeTask,
		TypeTaskResult, TypeSearchResult, TypeSummary, TypeContextRequest:
		return true
	}
	return false
}

// Entry is the atomic context record. ID and CreatedAt are immutable after
// creation. Content is a pointer because "absent" and "empty" are different
// states: compression clears content entirely while the summary remains.
// A zero TTL means the entry never expires.
type Entry struct {
	ID          string
	Type        Type
	Source      string
	Content     *string
	Summary     string
	CreatedAt   time.Time
	References  []string
	Searchable  bool
	Compressed  bool
	TTL         time.Duration
	ParentID    string
	DerivedFrom []string
}

// New constructs an entry with defaults applied (searchable, uncompressed).
// ID and CreatedAt are left unset so the store assigns them on Add.
func New(t Type, source, summary string) *Entry {
	return &Entry{
		Type:       t,
		Source:     source,
		Summary:    summary,
		Searchable: true,
	}
}

// WithContent sets the full payload.
func (e *Entry) WithContent(content string) *Entry {
	e.Content = &content
	return e
}

// WithTTL sets the entry's time-to-live.
func (e *Entry) WithTTL(ttl time.Duration) *Entry {
	e.TTL = ttl
	return e
}

// WithParent sets the parent reference.
func (e *Entry) WithParent(parentID string) *Entry {
	e.ParentID = parentID
	return e
}

// WithDerivedFrom sets the derivation sources.
func (e *Entry) WithDerivedFrom(sourceIDs ...string) *Entry {
	e.DerivedFrom = sourceIDs
	return e
}

// IndexText returns the text the search index should use for this entry:
// content when present and uncompressed, otherwise the summary.
func (e *Entry) IndexText() string {
	if e.Content != nil && !e.Compressed {
		return *e.Content
	}
	return e.Summary
}

// IsExpired reports whether the entry's TTL has elapsed at the given instant.
// Entries without a TTL never expire.
func (e *Entry) IsExpired(now time.Time) bool {
	if e.TTL <= 0 {
		return false
	}
	return now.After(e.CreatedAt.Add(e.TTL))
}

// Clone returns a deep copy so store-owned state cannot be mutated through
// returned references.
func (e *Entry) Clone() *Entry {
	c := *e
	if e.Content != nil {
		content := *e.Content
		c.Content = &content
	}
	if e.References != nil {
		c.References = append([]string(nil), e.References...)
	}
	if e.DerivedFrom != nil {
		c.DerivedFrom = append([]string(nil), e.DerivedFrom...)
	}
	return &c
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError reports a malformed entry field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Message
}

var idPattern = regexp.MustCompile(`^ctx_[a-zA-Z0-9]{8}$`)

// ValidateID reports whether id matches the fixed ctx_XXXXXXXX pattern.
func ValidateID(id string) bool {
	return idPattern.MatchString(id)
}

// Validate checks entry shape. The store performs reference resolution and
// cycle checks separately; this covers everything knowable from the entry
// alone. An empty ID is permitted (the store assigns one on Add).
func (e *Entry) Validate() error {
	if e.ID != "" && !ValidateID(e.ID) {
		return &ValidationError{Field: "id", Message: fmt.Sprintf("must match ctx_ + 8 alphanumerics, got %q", e.ID)}
	}
	if !e.Type.Valid() {
		return &ValidationError{Field: "type", Message: fmt.Sprintf("unknown entry type %q", e.Type)}
	}
	if e.Source == "" {
		return &ValidationError{Field: "source", Message: "required"}
	}
	if e.Summary == "" {
		return &ValidationError{Field: "summary", Message: "required"}
	}
	if e.Compressed && e.Content != nil {
		return &ValidationError{Field: "content", Message: "must be absent on a compressed entry"}
	}
	if e.TTL < 0 {
		return &ValidationError{Field: "ttl", Message: "must not be negative"}
	}
	// TTLs persist as integer milliseconds; a finer-grained value would
	// silently change meaning on the way through a snapshot.
	if e.TTL%time.Millisecond != 0 {
		return &ValidationError{Field: "ttl", Message: "must be a whole number of milliseconds"}
	}
	return nil
}

// =============================================================================
// ID GENERATION
// =============================================================================

const idAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewID generates a fresh entry id of the form ctx_XXXXXXXX.
func NewID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms; fall back to a
		// timestamp-derived suffix rather than panic.
		now := time.Now().UnixNano()
		for i := range buf {
			buf[i] = byte(now >> (uint(i) * 8))
		}
	}
	for i, b := range buf {
		buf[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return "ctx_" + string(buf)
}
