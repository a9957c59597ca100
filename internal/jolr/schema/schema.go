// Package schema declares the typed columns of a search index. Fields get
// dense ids in declaration order; enum fields intern their values into
// small integer codes so published documents stay compact.
package schema

import (
	"fmt"

	apperrors "github.com/edgedb/website-search/pkg/errors"
)

// FieldType selects how a field is tokenized and stored.
type FieldType string

const (
	TypeText FieldType = "text"
	TypeEnum FieldType = "enum"
	TypeName FieldType = "name"
)

// Valid reports whether t is a supported field type.
func (t FieldType) Valid() bool {
	switch t {
	case TypeText, TypeEnum, TypeName:
		return true
	}
	return false
}

// Record is a flat content record keyed by field name. An empty value
// counts as missing.
type Record map[string]string

// CustomTokenizer replaces default tokenization for one field. Each
// returned string is indexed verbatim.
type CustomTokenizer func(value string, rec Record) []string

// FieldOptions configures a field at declaration time.
type FieldOptions struct {
	Index     bool
	Publish   bool
	Type      FieldType
	Required  bool
	Tokenizer CustomTokenizer
}

// Field is a declared column.
type Field struct {
	ID        int
	Name      string
	Index     bool
	Publish   bool
	Type      FieldType
	Required  bool
	Count     int
	Tokenizer CustomTokenizer

	enum *Enum
}

// FieldDescriptor is the serialized form of a Field.
type FieldDescriptor struct {
	ID      int       `json:"id"`
	Name    string    `json:"name"`
	Index   bool      `json:"index"`
	Publish bool      `json:"publish"`
	Type    FieldType `json:"type"`
	Count   int       `json:"count"`
	Enum    []string  `json:"enum,omitempty"`
}

// Enum returns the field's value registry, or nil for non-enum fields.
func (f *Field) Enum() *Enum {
	return f.enum
}

// Encode returns the published form of a value: its code for enum fields,
// the value itself otherwise.
func (f *Field) Encode(value string) any {
	if f.enum != nil {
		return f.enum.Code(value)
	}
	return value
}

// Descriptor snapshots the field for serialization.
func (f *Field) Descriptor() FieldDescriptor {
	d := FieldDescriptor{
		ID:      f.ID,
		Name:    f.Name,
		Index:   f.Index,
		Publish: f.Publish,
		Type:    f.Type,
		Count:   f.Count,
	}
	if f.enum != nil {
		d.Enum = f.enum.Values()
	}
	return d
}

// Registry holds the ordered field declarations of one index.
type Registry struct {
	fields []*Field
	byName map[string]*Field
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Field)}
}

// AddField declares a field and assigns it the next id. An empty type
// defaults to text.
func (r *Registry) AddField(name string, opts FieldOptions) (*Field, error) {
	if opts.Type == "" {
		opts.Type = TypeText
	}
	if !opts.Type.Valid() {
		return nil, apperrors.Config(apperrors.ErrUnsupportedFieldType,
			"cannot add field %q: unsupported type %q", name, opts.Type)
	}
	if _, exists := r.byName[name]; exists {
		return nil, apperrors.Config(apperrors.ErrDuplicateField, "field %q already declared", name)
	}
	f := &Field{
		ID:        len(r.fields),
		Name:      name,
		Index:     opts.Index,
		Publish:   opts.Publish,
		Type:      opts.Type,
		Required:  opts.Required,
		Tokenizer: opts.Tokenizer,
	}
	if f.Type == TypeEnum {
		f.enum = NewEnum()
	}
	r.fields = append(r.fields, f)
	r.byName[name] = f
	return f, nil
}

// Fields returns the fields in id order.
func (r *Registry) Fields() []*Field {
	return r.fields
}

// Lookup finds a field by name.
func (r *Registry) Lookup(name string) (*Field, bool) {
	f, ok := r.byName[name]
	return f, ok
}

func (r *Registry) Len() int {
	return len(r.fields)
}

// Descriptors snapshots all fields.
func (r *Registry) Descriptors() []FieldDescriptor {
	out := make([]FieldDescriptor, 0, len(r.fields))
	for _, f := range r.fields {
		out = append(out, f.Descriptor())
	}
	return out
}

func (d FieldDescriptor) String() string {
	return fmt.Sprintf("%s#%d(%s)", d.Name, d.ID, d.Type)
}
