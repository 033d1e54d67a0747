package entry

import (
	"fmt"
	"time"
)

// TimeLayout is the ISO-8601 rendering used at the persistence boundary.
// Fixed millisecond precision keeps round trips bit-stable.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Record is the plain, JSON-compatible form of an Entry used at the
// checkpoint boundary. CreatedAt is an ISO-8601 string; everything else is
// the natural JSON equivalent of the in-memory field.
type Record struct {
	ID          string   `json:"id"`
	Type        string   `json:"entry_type"`
	Source      string   `json:"source"`
	Content     *string  `json:"content,omitempty"`
	Summary     string   `json:"summary"`
	CreatedAt   string   `json:"created_at"`
	References  []string `json:"references"`
	Searchable  bool     `json:"searchable"`
	Compressed  bool     `json:"compressed"`
	TTLMillis   *int64   `json:"ttl,omitempty"`
	ParentID    string   `json:"parent_id,omitempty"`
	DerivedFrom []string `json:"derived_from"`
}

// ToRecord converts the entry to its persisted form.
func (e *Entry) ToRecord() Record {
	rec := Record{
		ID:          e.ID,
		Type:        string(e.Type),
		Source:      e.Source,
		Summary:     e.Summary,
		CreatedAt:   e.CreatedAt.UTC().Format(TimeLayout),
		References:  append([]string{}, e.References...),
		Searchable:  e.Searchable,
		Compressed:  e.Compressed,
		ParentID:    e.ParentID,
		DerivedFrom: append([]string{}, e.DerivedFrom...),
	}
	if e.Content != nil {
		content := *e.Content
		rec.Content = &content
	}
	if e.TTL > 0 {
		ms := e.TTL.Milliseconds()
		rec.TTLMillis = &ms
	}
	return rec
}

// FromRecord reconstructs an entry from its persisted form. The inverse of
// ToRecord: times come back in UTC at millisecond precision.
func FromRecord(rec Record) (*Entry, error) {
	if !ValidateID(rec.ID) {
		return nil, &ValidationError{Field: "id", Message: fmt.Sprintf("must match ctx_ + 8 alphanumerics, got %q", rec.ID)}
	}
	createdAt, err := time.Parse(TimeLayout, rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid created_at %q: %w", rec.CreatedAt, err)
	}

	e := &Entry{
		ID:          rec.ID,
		Type:        Type(rec.Type),
		Source:      rec.Source,
		Summary:     rec.Summary,
		CreatedAt:   createdAt,
		References:  append([]string{}, rec.References...),
		Searchable:  rec.Searchable,
		Compressed:  rec.Compressed,
		ParentID:    rec.ParentID,
		DerivedFrom: append([]string{}, rec.DerivedFrom...),
	}
	if rec.Content != nil {
		content := *rec.Content
		e.Content = &content
	}
	if rec.TTLMillis != nil {
		e.TTL = time.Duration(*rec.TTLMillis) * time.Millisecond
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}
