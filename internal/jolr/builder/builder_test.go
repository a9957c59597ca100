package builder

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgedb/website-search/internal/jolr/blob"
	"github.com/edgedb/website-search/internal/jolr/schema"
	"github.com/edgedb/website-search/internal/jolr/tokenizer"
	apperrors "github.com/edgedb/website-search/pkg/errors"
)

func newTestBuilder(t *testing.T) *Builder {
	t.Helper()
	b := New(WithStemmer(tokenizer.Identity))
	require.NoError(t, b.AddField("type", schema.FieldOptions{Index: true, Publish: true, Type: schema.TypeEnum, Required: true}))
	require.NoError(t, b.AddField("title", schema.FieldOptions{Index: true, Publish: true, Type: schema.TypeName}))
	require.NoError(t, b.AddField("content", schema.FieldOptions{Index: true}))
	require.NoError(t, b.AddField("target", schema.FieldOptions{Publish: true}))
	return b
}

func TestAddDocumentPositionalSlots(t *testing.T) {
	b := newTestBuilder(t)
	require.NoError(t, b.AddDocument(schema.Record{"type": "function", "title": "Count", "content": "count things"}))
	require.NoError(t, b.AddBoostedDocument(schema.Record{"type": "operator", "target": "op-plus"}, 2.5))
	require.NoError(t, b.AddDocument(schema.Record{"type": "function", "title": "Sum"}))

	out := b.Build()
	require.Len(t, out.Documents, 3)
	assert.Equal(t, blob.Document{0, "Count", nil, nil, 1.0}, out.Documents[0])
	assert.Equal(t, blob.Document{1, nil, nil, "op-plus", 2.5}, out.Documents[1])
	assert.Equal(t, blob.Document{0, "Sum", nil, nil, 1.0}, out.Documents[2])

	for _, doc := range out.Documents {
		assert.Len(t, doc, len(out.Fields)+1)
	}
	assert.Equal(t, []string{"function", "operator"}, out.Fields[0].Enum)
	assert.Equal(t, 3, out.Fields[0].Count)
	assert.Equal(t, 2, out.Fields[1].Count)
	assert.Equal(t, 1, out.Fields[2].Count)
	assert.Equal(t, 1, out.Fields[3].Count)
}

func TestAddDocumentIndexing(t *testing.T) {
	trimS := tokenizer.StemFunc(func(w string) string { return strings.TrimSuffix(w, "s") })
	b := New(WithStemmer(trimS))
	require.NoError(t, b.AddField("type", schema.FieldOptions{Index: true, Publish: true, Type: schema.TypeEnum}))
	require.NoError(t, b.AddField("title", schema.FieldOptions{Index: true, Publish: true, Type: schema.TypeName}))
	require.NoError(t, b.AddField("content", schema.FieldOptions{Index: true}))
	require.NoError(t, b.AddDocument(schema.Record{
		"type":    "section",
		"title":   "Query_Builders",
		"content": "the builder builds queries with the builder",
	}))
	out := b.Build()

	// Name fields also index the lowercased literal form with weight 2.
	assert.Equal(t, []blob.Posting{{Field: 1, Doc: 0, Freq: 3}}, out.Index.Postings("query"))
	assert.Equal(t, []blob.Posting{{Field: 1, Doc: 0, Freq: 2}}, out.Index.Postings("builders"))
	assert.Equal(t, []blob.Posting{{Field: 1, Doc: 0, Freq: 1}}, out.Index.Postings("query_builder"))
	assert.Equal(t, []blob.Posting{{Field: 1, Doc: 0, Freq: 2}}, out.Index.Postings("query_builders"))
	assert.Equal(t, []blob.Posting{
		{Field: 1, Doc: 0, Freq: 1},
		{Field: 2, Doc: 0, Freq: 2},
	}, out.Index.Postings("builder"))

	// Prose fields drop common stopwords.
	assert.Equal(t, []blob.Posting{{Field: 2, Doc: 0, Freq: 1}}, out.Index.Postings("build"))
	assert.Equal(t, []blob.Posting{{Field: 2, Doc: 0, Freq: 1}}, out.Index.Postings("querie"))
	assert.Nil(t, out.Index.Postings("with"))
	assert.Nil(t, out.Index.Postings("the"))

	assert.Equal(t, []blob.Posting{{Field: 0, Doc: 0, Freq: 1}}, out.Index.Postings("section"))
}

func TestCompoundIndexing(t *testing.T) {
	b := New(WithStemmer(tokenizer.Identity))
	require.NoError(t, b.AddField("content", schema.FieldOptions{Index: true}))
	require.NoError(t, b.AddDocument(schema.Record{"content": "call foo_bar now"}))
	out := b.Build()

	for _, term := range []string{"foo", "bar", "foo_bar"} {
		assert.NotEmpty(t, out.Index.Postings(term), term)
	}
}

func TestCustomTokenizer(t *testing.T) {
	b := New(WithStemmer(tokenizer.Identity))
	require.NoError(t, b.AddField("kind", schema.FieldOptions{}))
	require.NoError(t, b.AddField("signature", schema.FieldOptions{
		Index: true,
		Tokenizer: func(value string, rec schema.Record) []string {
			if rec["kind"] != "operator" {
				return nil
			}
			return append(strings.Fields(value), "")
		},
	}))
	require.NoError(t, b.AddDocument(schema.Record{"kind": "operator", "signature": "a ++ b"}))
	require.NoError(t, b.AddDocument(schema.Record{"kind": "function", "signature": "len x"}))
	out := b.Build()

	assert.Equal(t, []blob.Posting{{Field: 1, Doc: 0, Freq: 1}}, out.Index.Postings("++"))
	assert.Nil(t, out.Index.Postings("len"))
	assert.Nil(t, out.Index.Postings(""))
}

func TestCustomTokenizerSkipsWhitespace(t *testing.T) {
	b := New(WithStemmer(tokenizer.Identity))
	require.NoError(t, b.AddField("signature", schema.FieldOptions{
		Index: true,
		Tokenizer: func(value string, rec schema.Record) []string {
			return []string{"a b", "x\ty", " ", "ok"}
		},
	}))
	require.NoError(t, b.AddDocument(schema.Record{"signature": "anything"}))
	out := b.Build()

	assert.Equal(t, 1, out.Index.Terms())
	assert.NotEmpty(t, out.Index.Postings("ok"))

	data, err := json.Marshal(out)
	require.NoError(t, err)
	var decoded blob.Blob
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, []blob.Posting{{Field: 0, Doc: 0, Freq: 1}}, decoded.Index.Postings("ok"))
}

func TestAddDocumentErrors(t *testing.T) {
	b := newTestBuilder(t)

	err := b.AddDocument(schema.Record{"title": "no type"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrMissingRequiredField)

	err = b.AddDocument(schema.Record{"type": "x", "author": "me"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUnknownField)

	assert.Equal(t, 0, b.Stats().Documents)
	out := b.Build()
	for _, f := range out.Fields {
		assert.Zero(t, f.Count, "rejected documents must not touch counts")
		assert.Empty(t, f.Enum)
	}
	assert.Equal(t, 0, out.Index.Terms())
}

func TestAddFieldAfterDocuments(t *testing.T) {
	b := newTestBuilder(t)
	require.NoError(t, b.AddDocument(schema.Record{"type": "x"}))
	err := b.AddField("late", schema.FieldOptions{})
	assert.ErrorIs(t, err, apperrors.ErrFieldsSealed)

	assert.ErrorIs(t, New().AddField("n", schema.FieldOptions{Type: "int"}), apperrors.ErrUnsupportedFieldType)
}

func TestBuildSerializes(t *testing.T) {
	b := New(WithStemmer(tokenizer.Identity))
	require.NoError(t, b.AddField("title", schema.FieldOptions{Index: true, Publish: true}))
	require.NoError(t, b.AddDocument(schema.Record{"title": "alpha beta"}))
	require.NoError(t, b.AddDocument(schema.Record{"title": "alpha"}))

	data, err := json.Marshal(b.Build())
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"fields": [{"id":0,"name":"title","index":true,"publish":true,"type":"text","count":2}],
		"documents": [["alpha beta",1],["alpha",1]],
		"index": {
			"a":{"l":{"p":{"h":{"a":{" ":[0,0,1,0,1,1]}}}}},
			"b":{"e":{"t":{"a":{" ":[0,0,1]}}}}
		}
	}`, string(data))
}

func BenchmarkAddDocument(b *testing.B) {
	bld := New()
	if err := bld.AddField("title", schema.FieldOptions{Index: true, Publish: true, Type: schema.TypeName}); err != nil {
		b.Fatal(err)
	}
	if err := bld.AddField("content", schema.FieldOptions{Index: true}); err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		err := bld.AddDocument(schema.Record{
			"title":   fmt.Sprintf("Benchmark page %d", i),
			"content": "this is a benchmark document with several terms for testing the indexing performance",
		})
		if err != nil {
			b.Fatal(err)
		}
	}
}
