package core

import "strings"

// TitleKey is the metadata key carrying a record's human readable title.
const TitleKey = "product_name"

// Record is a normalized unit of evidence: review text plus string metadata.
// Records are created once during ingestion and treated as immutable.
type Record struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
}

// Title returns the record's title metadata (empty when absent).
func (r Record) Title() string {
	return r.Metadata[TitleKey]
}

// Clone returns a copy whose metadata map can be mutated independently.
func (r Record) Clone() Record {
	md := make(map[string]string, len(r.Metadata))
	for k, v := range r.Metadata {
		md[k] = v
	}
	return Record{ID: r.ID, Content: r.Content, Metadata: md}
}

// Validate reports whether the record satisfies the record invariants:
// non-empty content and a non-empty title.
func (r Record) Validate() error {
	if strings.TrimSpace(r.Content) == "" {
		return &MalformedInputError{Row: -1, Field: "content", Reason: "empty"}
	}
	if strings.TrimSpace(r.Title()) == "" {
		return &MalformedInputError{Row: -1, Field: TitleKey, Reason: "empty"}
	}
	return nil
}

// ScoredRecord pairs a record with the relevance score assigned by an index.
type ScoredRecord struct {
	Record Record
	Score  float64
}

// Records strips scores, preserving order.
func Records(scored []ScoredRecord) []Record {
	out := make([]Record, len(scored))
	for i, s := range scored {
		out[i] = s.Record
	}
	return out
}
