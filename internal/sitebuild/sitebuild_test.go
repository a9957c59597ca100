package sitebuild

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgedb/website-search/internal/jolr/blob"
	"github.com/edgedb/website-search/internal/jolr/index"
	"github.com/edgedb/website-search/internal/jolr/schema"
	apperrors "github.com/edgedb/website-search/pkg/errors"
)

func TestOperatorSignature(t *testing.T) {
	op := schema.Record{FieldType: "operator"}
	tests := []struct {
		sig  string
		rec  schema.Record
		want []string
	}{
		{"str ++ str -> str", op, []string{"++"}},
		{"anytype = anytype -> bool", op, []string{"="}},
		{"std::str ?? std::str -> std::str", op, []string{"??"}},
		{"  ->  str", op, nil},
		{"str ++ str -> str", schema.Record{FieldType: "function"}, nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, OperatorSignature(tt.sig, tt.rec), tt.sig)
	}
}

func TestSummarify(t *testing.T) {
	assert.Equal(t, "one two three", Summarify("one two three", 80))
	assert.Equal(t, "aaaa aaaa ...", Summarify("aaaa aaaa aaaa aaaa", 12))
	assert.Equal(t, "a  b", Summarify("a  b", 80))
	assert.Equal(t, "", Summarify(" \n ", 80))

	long := strings.Repeat("word ", 40)
	got := Summarify(long, DefaultSummaryLength)
	assert.True(t, strings.HasSuffix(got, " ..."))
	assert.LessOrEqual(t, len(strings.TrimSuffix(got, " ...")), DefaultSummaryLength)
}

func TestFirstParagraph(t *testing.T) {
	assert.Equal(t, "First para\nline two", FirstParagraph("\n\nFirst para\nline two\n\nSecond"))
	assert.Equal(t, "", FirstParagraph("  \n\n "))
}

func TestPlainText(t *testing.T) {
	text, err := PlainText(`<p>Hello &amp; <b>world</b></p><script>alert(1)</script><p>Second&nbsp;para<br>next</p>`)
	require.NoError(t, err)
	assert.Equal(t, "Hello & world\n\nSecond para next", text)
}

func TestBoosts(t *testing.T) {
	b := NewBoosts(map[string]float64{
		"reference":              2,
		"reference/edgeql/index": 3,
		"guides/":                0.5,
	})
	tests := map[string]float64{
		"reference/edgeql/select": 3,
		"reference/edgeql":        3,
		"reference/ddl":           2,
		"referenced/x":            1,
		"guides":                  0.5,
		"":                        1,
	}
	for relname, want := range tests {
		assert.Equal(t, want, b.For(relname), relname)
	}

	var none *Boosts
	assert.Equal(t, 1.0, none.For("anything"))
}

func TestReadRecords(t *testing.T) {
	input := `{"type":"section","relname":"guides/intro","title":"Introduction","content_html":"<p>EdgeDB is a <em>graph-relational</em> database.</p><p>More.</p>","target":null}
{"type":"function","relname":"reference/std","name":"std::len","summary":"Returns the length.","signature":""}
`
	records, err := ReadRecords(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, schema.Record{
		"type":    "section",
		"relname": "guides/intro",
		"title":   "Introduction",
		"content": "EdgeDB is a graph-relational database.\n\nMore.",
		"summary": "EdgeDB is a graph-relational database.",
	}, records[0])
	assert.Equal(t, "Returns the length.", records[1]["summary"])
	assert.NotContains(t, records[1], "signature")
}

func TestReadRecordsErrors(t *testing.T) {
	for name, input := range map[string]string{
		"not json":     `{"type":`,
		"number value": `{"type":"section","version":2}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ReadRecords(strings.NewReader(input))
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
		})
	}
}

func siteRecords() []schema.Record {
	return []schema.Record{
		{"type": "operator", "relname": "reference/std/string", "target": "op-concat", "signature": "str ++ str -> str", "summary": "Concatenate strings."},
		{"type": "operator", "relname": "reference/std/numbers", "target": "op-plus", "signature": "int64 + int64 -> int64", "summary": "Add numbers."},
		{"type": "section", "relname": "guides/quickstart", "title": "Quickstart", "content": "Install the CLI and create a project", "summary": "Install the CLI."},
		{"type": "section", "relname": "guides/tutorial", "title": "Tutorial", "content": "Build a movie database", "summary": "Build a movie database."},
	}
}

func TestBuildIndex(t *testing.T) {
	b, stats, err := BuildIndex(siteRecords(), NewBoosts(map[string]float64{"guides": 0.5}))
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Documents)
	assert.Equal(t, len(Fields), stats.Fields)
	require.Len(t, b.Documents, 4)
	assert.Equal(t, 0.5, b.Documents[2][len(Fields)])
	assert.Equal(t, 1.0, b.Documents[0][len(Fields)])

	idx, err := index.FromJSON("docs", b, index.DefaultFieldBoosts)
	require.NoError(t, err)

	res := idx.Search("++")
	require.Len(t, res.Results, 1)
	assert.Equal(t, "reference/std/string", res.Results[0].Doc.String(FieldRelname))

	res = idx.Search("quickstart")
	require.Len(t, res.Results, 1)
	assert.Equal(t, 2, res.Results[0].ID)
}

func TestBuildIndexRejects(t *testing.T) {
	records := append(siteRecords(), schema.Record{"type": "section", "relname": "x", "content": "body only"})
	_, _, err := BuildIndex(records, nil)
	assert.ErrorIs(t, err, apperrors.ErrBrokenDocuments)
	assert.Contains(t, err.Error(), "1 documents")

	_, _, err = BuildIndex([]schema.Record{{"type": "section", "relname": "x", "title": "T", "summary": "s", "author": "me"}}, nil)
	assert.ErrorIs(t, err, apperrors.ErrUnknownField)

	_, _, err = BuildIndex([]schema.Record{{"relname": "x", "title": "T", "summary": "s"}}, nil)
	assert.ErrorIs(t, err, apperrors.ErrMissingRequiredField)
}

func TestCheckBrokenTreatsEmptyAsMissing(t *testing.T) {
	b := &blob.Blob{
		Fields: []schema.FieldDescriptor{
			{ID: 0, Name: FieldTitle, Publish: true, Type: schema.TypeName},
			{ID: 1, Name: FieldSummary, Publish: true, Type: schema.TypeText},
		},
		Documents: []blob.Document{
			{"Title", "Summary", 1.0},
			{"", "Summary", 1.0},
			{"Title", nil, 1.0},
		},
	}
	err := CheckBroken(b)
	assert.ErrorIs(t, err, apperrors.ErrBrokenDocuments)
	assert.Contains(t, err.Error(), "2 documents")
}
