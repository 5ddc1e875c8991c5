package model

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ObjectID is the ordered key type for documents. IDs compare byte-wise,
// which is also the order chunks iterate and persist in.
type ObjectID string

// NewObjectID generates a fresh random identifier.
func NewObjectID() ObjectID {
	return ObjectID(uuid.NewString())
}

// Compare returns -1, 0 or 1 ordering two identifiers.
func (id ObjectID) Compare(other ObjectID) int {
	switch {
	case id < other:
		return -1
	case id > other:
		return 1
	default:
		return 0
	}
}

// Document is an opaque value stored in a chunk. The body is held as
// compact JSON so that the serialized form is a single line and equality
// is well defined.
type Document struct {
	ID   ObjectID        `json:"id"`
	Body json.RawMessage `json:"body"`
}

// NewDocument builds a document from an id and a JSON body, compacting the
// body so later equality checks compare canonical bytes.
func NewDocument(id ObjectID, body []byte) (Document, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, body); err != nil {
		return Document{}, fmt.Errorf("invalid document body: %w", err)
	}
	return Document{ID: id, Body: buf.Bytes()}, nil
}

// Equals reports value equality: same id, same canonical body bytes.
// Two documents are the same version iff this holds.
func (d Document) Equals(other Document) bool {
	return d.ID == other.ID && bytes.Equal(d.Body, other.Body)
}

// Size is the approximate resident cost of the document in bytes, used
// for chunk size accounting.
func (d Document) Size() int {
	return len(d.ID) + len(d.Body)
}

// MarshalLine renders the document's lossless single-line text form used
// by chunk snapshots.
func (d Document) MarshalLine() ([]byte, error) {
	return json.Marshal(d)
}

// ParseDocument reconstructs a document from its snapshot line.
func ParseDocument(line []byte) (Document, error) {
	var d Document
	if err := json.Unmarshal(line, &d); err != nil {
		return Document{}, fmt.Errorf("malformed document line: %w", err)
	}
	if d.ID == "" {
		return Document{}, fmt.Errorf("document line missing id")
	}
	return d, nil
}

// Predicate is the opaque query capability consumed by chunk scans.
type Predicate interface {
	Matches(doc Document) bool
}

// PredicateFunc adapts a plain function to the Predicate interface.
type PredicateFunc func(doc Document) bool

// Matches implements Predicate.
func (f PredicateFunc) Matches(doc Document) bool {
	return f(doc)
}
