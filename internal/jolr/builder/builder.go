// Package builder ingests content records into a serializable search index.
// Fields are declared first, then documents are added in a fixed order that
// defines their ids, and Build produces the blob exactly once at the end.
package builder

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode"

	"github.com/edgedb/website-search/internal/jolr/blob"
	"github.com/edgedb/website-search/internal/jolr/schema"
	"github.com/edgedb/website-search/internal/jolr/tokenizer"
	apperrors "github.com/edgedb/website-search/pkg/errors"
)

// DefaultBoost is the document boost used by AddDocument.
const DefaultBoost = 1.0

// nameLiteralWeight is the weight of the raw lowercased form of a token in
// name fields, so literal matches on names outrank stemmed ones.
const nameLiteralWeight = 2

type Builder struct {
	fields    *schema.Registry
	index     *blob.RawIndex
	documents []blob.Document
	tokenizer *tokenizer.Tokenizer
	logger    *slog.Logger
}

type Option func(*Builder)

// WithStemmer replaces the default Snowball stemmer.
func WithStemmer(s tokenizer.Stemmer) Option {
	return func(b *Builder) {
		b.tokenizer = tokenizer.New(s)
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) {
		b.logger = l
	}
}

func New(opts ...Option) *Builder {
	b := &Builder{
		fields:    schema.NewRegistry(),
		index:     blob.NewRawIndex(),
		tokenizer: tokenizer.New(tokenizer.Snowball),
		logger:    slog.Default().With("component", "index-builder"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AddField declares a field. All fields must be declared before the first
// document is added.
func (b *Builder) AddField(name string, opts schema.FieldOptions) error {
	if len(b.documents) > 0 {
		return apperrors.Config(apperrors.ErrFieldsSealed, "cannot add field %q after %d documents", name, len(b.documents))
	}
	_, err := b.fields.AddField(name, opts)
	return err
}

// AddDocument adds rec with the default boost.
func (b *Builder) AddDocument(rec schema.Record) error {
	return b.AddBoostedDocument(rec, DefaultBoost)
}

// AddBoostedDocument validates rec against the schema, indexes its indexed
// fields and stores its published ones. A rejected record leaves the
// builder unchanged.
func (b *Builder) AddBoostedDocument(rec schema.Record, boost float64) error {
	docID := len(b.documents)
	if err := b.validate(rec); err != nil {
		return fmt.Errorf("adding document %d: %w", docID, err)
	}

	fields := b.fields.Fields()
	doc := make(blob.Document, len(fields)+1)
	for _, field := range fields {
		val := rec[field.Name]
		if val != "" {
			field.Count++
		}
		if field.Index && val != "" {
			b.indexField(field, docID, val, rec)
		}
		if field.Publish && val != "" {
			doc[field.ID] = field.Encode(val)
		}
	}
	doc[len(fields)] = boost

	b.documents = append(b.documents, doc)
	return nil
}

func (b *Builder) validate(rec schema.Record) error {
	var unknown []string
	for name := range rec {
		if _, ok := b.fields.Lookup(name); !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return apperrors.Config(apperrors.ErrUnknownField, "fields %s are not declared", strings.Join(unknown, ", "))
	}
	for _, field := range b.fields.Fields() {
		if field.Required && rec[field.Name] == "" {
			return apperrors.Config(apperrors.ErrMissingRequiredField, "field %q has no value", field.Name)
		}
	}
	return nil
}

func (b *Builder) indexField(field *schema.Field, docID int, val string, rec schema.Record) {
	if field.Tokenizer != nil {
		for _, tok := range field.Tokenizer(val, rec) {
			// A space would collide with the terminal key of the serialized trie.
			if tok == "" || strings.ContainsFunc(tok, unicode.IsSpace) {
				continue
			}
			b.index.Add(tok, field.ID, docID, 1)
		}
		return
	}

	// Names and published values are short; common stopwords carry meaning there.
	keepStopwords := field.Type == schema.TypeName || field.Publish
	for _, tok := range b.tokenizer.Tokenize(val, !keepStopwords, false) {
		b.index.Add(tok.Stemmed, field.ID, docID, 1)
		if field.Type == schema.TypeName {
			b.index.Add(strings.ToLower(tok.Orig), field.ID, docID, nameLiteralWeight)
		}
	}
}

// Build serializes the index. The builder should be discarded afterwards.
func (b *Builder) Build() *blob.Blob {
	stats := b.Stats()
	b.logger.Info("index built",
		"documents", stats.Documents,
		"fields", stats.Fields,
		"terms", stats.Terms,
	)
	return &blob.Blob{
		Fields:    b.fields.Descriptors(),
		Documents: b.documents,
		Index:     b.index,
	}
}

// Stats summarizes the builder's contents.
type Stats struct {
	Documents int
	Fields    int
	Terms     int
}

func (b *Builder) Stats() Stats {
	return Stats{
		Documents: len(b.documents),
		Fields:    b.fields.Len(),
		Terms:     b.index.Terms(),
	}
}

// Field looks up a declared field.
func (b *Builder) Field(name string) (*schema.Field, bool) {
	return b.fields.Lookup(name)
}
