package index

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/edgedb/website-search/internal/jolr/blob"
	"github.com/edgedb/website-search/internal/jolr/schema"
	apperrors "github.com/edgedb/website-search/pkg/errors"
)

// boostKey is the name the document boost is published under.
const boostKey = "_boost"

// Document is a decoded published document. Fields holds every declared
// field by name; unpublished or missing values are nil and enum codes are
// resolved to their values.
type Document struct {
	Fields map[string]any
	Boost  float64
}

// Get returns the value of a field.
func (d *Document) Get(name string) any {
	return d.Fields[name]
}

// String returns a string field, or "" when it is missing.
func (d *Document) String(name string) string {
	s, _ := d.Fields[name].(string)
	return s
}

// MarshalJSON flattens the fields and the boost into one object.
func (d *Document) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Fields)+1)
	for k, v := range d.Fields {
		out[k] = v
	}
	out[boostKey] = d.Boost
	return json.Marshal(out)
}

// UnmarshalJSON reverses MarshalJSON, so cached results round trip.
func (d *Document) UnmarshalJSON(data []byte) error {
	var in map[string]any
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	d.Boost = 1
	if b, ok := in[boostKey]; ok {
		boost, ok := toFloat(b)
		if !ok {
			return fmt.Errorf("document boost %v is not a number", b)
		}
		d.Boost = boost
		delete(in, boostKey)
	}
	d.Fields = in
	return nil
}

func decodeDocuments(fields []schema.FieldDescriptor, raw []blob.Document) ([]*Document, error) {
	docs := make([]*Document, len(raw))
	for i, rd := range raw {
		doc, err := decodeDocument(fields, rd)
		if err != nil {
			return nil, apperrors.Config(apperrors.ErrCorruptIndex, "document %d: %v", i, err)
		}
		docs[i] = doc
	}
	return docs, nil
}

func decodeDocument(fields []schema.FieldDescriptor, rd blob.Document) (*Document, error) {
	if len(rd) != len(fields)+1 {
		return nil, fmt.Errorf("has %d slots, want %d", len(rd), len(fields)+1)
	}
	boost, ok := toFloat(rd[len(fields)])
	if !ok {
		return nil, fmt.Errorf("boost %v is not a number", rd[len(fields)])
	}

	doc := &Document{Fields: make(map[string]any, len(fields)), Boost: boost}
	for i, f := range fields {
		val := rd[i]
		if f.Type == schema.TypeEnum && val != nil {
			code, ok := toFloat(val)
			if !ok || code != math.Trunc(code) || code < 0 || int(code) >= len(f.Enum) {
				return nil, fmt.Errorf("field %s: bad enum code %v", f.Name, val)
			}
			val = f.Enum[int(code)]
		}
		doc.Fields[f.Name] = val
	}
	return doc, nil
}

// toFloat accepts JSON-decoded numbers as well as the ints and floats a
// builder produces in memory.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
