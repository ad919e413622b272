// Package document implements the document model described in spec.md §3:
// a JSON-object document with an identity, version, and timestamps, built
// only through explicit constructors. Grounded on the teacher's core.go
// doc comment on explicit construction over reflection-based loading (see
// spec.md §9 "Runtime reflection").
package document

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kartikbazzad/docdb/internal/errors"
)

// Document is an in-memory document: decoded JSON object data plus the
// identity and bookkeeping fields the store and WAL carry alongside it.
type Document struct {
	ID        string
	Data      map[string]interface{}
	CreatedAt time.Time
	UpdatedAt time.Time
	Version   uint64
}

// New constructs a Document from an already-decoded field map, stamping
// CreatedAt and UpdatedAt with the current time and starting Version at 1.
// The caller is responsible for id uniqueness.
func New(id string, data map[string]interface{}) *Document {
	now := time.Now().UTC()
	return &Document{
		ID:        id,
		Data:      data,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
}

// FromJSON decodes raw JSON bytes into a Document. The payload must decode
// to a JSON object; id, if empty, is generated with NewID.
func FromJSON(id string, raw []byte) (*Document, error) {
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, errors.Wrap(errors.CodeValidationError, "document body must be a JSON object", errors.ErrInvalidJSON).WithDetails(map[string]interface{}{"cause": err.Error()})
	}
	if id == "" {
		id = NewID()
	}
	return New(id, data), nil
}

// MarshalJSON encodes Data with an injected "_id" field, matching the
// wire/on-disk shape spec.md §3 describes for a stored document.
func (d *Document) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(d.Data)+1)
	for k, v := range d.Data {
		out[k] = v
	}
	out["_id"] = d.ID
	return json.Marshal(out)
}

// Clone deep-copies the document via a JSON round trip, used by the query
// engine's projection stage to guarantee a stored document's subtrees are
// never mutated through a projected reference (spec.md §4.7 "Projection
// purity").
func (d *Document) Clone() (*Document, error) {
	raw, err := json.Marshal(d.Data)
	if err != nil {
		return nil, err
	}
	var cp map[string]interface{}
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, err
	}
	return &Document{
		ID:        d.ID,
		Data:      cp,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
		Version:   d.Version,
	}, nil
}

// LookupPath resolves a field_path (spec.md §3: dot-separated nested field
// access, e.g. "address.city") against a decoded document body. Each
// segment must resolve to a nested JSON object (map[string]interface{})
// except the last, which is the returned value. Shared by the index
// manager's key builder and the query engine's predicate evaluator so
// both traverse nested fields identically.
func LookupPath(data map[string]interface{}, path string) (interface{}, bool) {
	if path == "" {
		return nil, false
	}
	segments := strings.Split(path, ".")
	var cur interface{} = data
	for i, seg := range segments {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		v, ok := m[seg]
		if !ok {
			return nil, false
		}
		if i == len(segments)-1 {
			return v, true
		}
		cur = v
	}
	return nil, false
}

// NewID generates a time-ordered identifier: a UUID stamped with a
// millisecond timestamp in its first 6 bytes, matching the UUIDv7 layout,
// since the pinned google/uuid version predates its native V7 helper.
func NewID() string {
	id := uuid.New()
	ms := uint64(time.Now().UnixMilli())
	id[0] = byte(ms >> 40)
	id[1] = byte(ms >> 32)
	id[2] = byte(ms >> 24)
	id[3] = byte(ms >> 16)
	id[4] = byte(ms >> 8)
	id[5] = byte(ms)
	// Version nibble set to 7 (time-ordered), per UUIDv7 layout.
	id[6] = (id[6] & 0x0F) | 0x70
	return id.String()
}
