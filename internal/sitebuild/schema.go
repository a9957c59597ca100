// Package sitebuild holds the website-specific parts of index building: the
// shared field schema of every content domain, the operator signature
// tokenizer, path-prefix document boosts, summaries and the JSONL record
// source that feeds the builder.
package sitebuild

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/edgedb/website-search/internal/jolr/blob"
	"github.com/edgedb/website-search/internal/jolr/builder"
	"github.com/edgedb/website-search/internal/jolr/schema"
	apperrors "github.com/edgedb/website-search/pkg/errors"
)

const (
	FieldType      = "type"
	FieldTarget    = "target"
	FieldRelname   = "relname"
	FieldName      = "name"
	FieldTitle     = "title"
	FieldContent   = "content"
	FieldSummary   = "summary"
	FieldSignature = "signature"
	FieldIndex     = "index"
	FieldVersion   = "version"
)

// Fields is the site schema in declaration order.
var Fields = []struct {
	Name    string
	Options schema.FieldOptions
}{
	{FieldType, schema.FieldOptions{Publish: true, Type: schema.TypeEnum, Index: true, Required: true}},
	{FieldTarget, schema.FieldOptions{Publish: true}},
	{FieldRelname, schema.FieldOptions{Publish: true, Type: schema.TypeEnum, Required: true}},
	{FieldName, schema.FieldOptions{Publish: true, Index: true, Type: schema.TypeName}},
	{FieldTitle, schema.FieldOptions{Publish: true, Index: true, Type: schema.TypeName}},
	{FieldContent, schema.FieldOptions{Index: true}},
	{FieldSummary, schema.FieldOptions{Publish: true, Index: true}},
	{FieldSignature, schema.FieldOptions{Publish: true, Index: true, Tokenizer: OperatorSignature}},
	{FieldIndex, schema.FieldOptions{Index: true, Type: schema.TypeName}},
	{FieldVersion, schema.FieldOptions{Publish: true, Type: schema.TypeEnum}},
}

// DeclareFields adds the site schema to b.
func DeclareFields(b *builder.Builder) error {
	for _, f := range Fields {
		if err := b.AddField(f.Name, f.Options); err != nil {
			return fmt.Errorf("declaring site schema: %w", err)
		}
	}
	return nil
}

var operatorPart = regexp.MustCompile(`^[^A-Za-z0-9]+$`)

// OperatorSignature indexes the symbols of an operator signature such as
// "str ++ str -> str" so that searching for "++" finds it. Signatures of
// other record types are not indexed.
func OperatorSignature(value string, rec schema.Record) []string {
	if rec[FieldType] != "operator" {
		return nil
	}
	lhs, _, _ := strings.Cut(value, "->")
	var parts []string
	for _, part := range strings.Fields(lhs) {
		if operatorPart.MatchString(part) {
			parts = append(parts, part)
		}
	}
	return parts
}

// CheckBroken verifies that every document can be rendered as a search
// result: it needs a heading (signature, title or name) and a body
// (summary or content).
func CheckBroken(b *blob.Blob) error {
	ids := make(map[string]int, len(b.Fields))
	for _, f := range b.Fields {
		ids[f.Name] = f.ID
	}
	has := func(doc blob.Document, names ...string) bool {
		for _, name := range names {
			id, ok := ids[name]
			if !ok || id >= len(doc) {
				continue
			}
			switch v := doc[id].(type) {
			case nil:
			case string:
				if v != "" {
					return true
				}
			default:
				return true
			}
		}
		return false
	}

	broken := 0
	for _, doc := range b.Documents {
		if !has(doc, FieldSignature, FieldTitle, FieldName) || !has(doc, FieldSummary, FieldContent) {
			broken++
		}
	}
	if broken > 0 {
		return apperrors.Config(apperrors.ErrBrokenDocuments,
			"%d documents in search index are missing needed fields", broken)
	}
	return nil
}
