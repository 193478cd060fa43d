// Package identity keeps a node's root identity document consistent across
// the local cache, the name service and connected servers. Resolve picks
// the newest of the three copies; Save writes a new root back to all of
// them, debounced and throttled.
package identity

import (
	"errors"
	"fmt"
	"sort"

	json "github.com/json-iterator/go"
)

// ErrSchemaNotFound is returned when a document has no schema by that name.
var ErrSchemaNotFound = errors.New("schema not found")

// Document is the root of a node's state. A stored Document is immutable;
// changes produce a new Document and a new CID.
type Document struct {
	Schemas   map[string]json.RawMessage `json:"schemas"`
	UpdatedAt int64                      `json:"updatedAt"`
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{Schemas: make(map[string]json.RawMessage)}
}

// Clone returns a deep copy.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := &Document{UpdatedAt: d.UpdatedAt, Schemas: make(map[string]json.RawMessage, len(d.Schemas))}
	for name, blob := range d.Schemas {
		out.Schemas[name] = append(json.RawMessage(nil), blob...)
	}
	return out
}

// Schema returns the blob stored under name.
func (d *Document) Schema(name string) (json.RawMessage, error) {
	if d != nil {
		if blob, ok := d.Schemas[name]; ok {
			return blob, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrSchemaNotFound, name)
}

// SchemaNames returns schema names in sorted order.
func (d *Document) SchemaNames() []string {
	if d == nil {
		return nil
	}
	names := make([]string, 0, len(d.Schemas))
	for name := range d.Schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WithSchema returns a copy of d with name set to blob and UpdatedAt set
// to nowMs.
func (d *Document) WithSchema(name string, blob json.RawMessage, nowMs int64) *Document {
	out := d.Clone()
	if out == nil {
		out = NewDocument()
	}
	out.Schemas[name] = append(json.RawMessage(nil), blob...)
	out.UpdatedAt = nowMs
	return out
}
