package index

import (
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgedb/website-search/internal/jolr/blob"
	"github.com/edgedb/website-search/internal/jolr/builder"
	"github.com/edgedb/website-search/internal/jolr/schema"
	"github.com/edgedb/website-search/internal/jolr/tokenizer"
	apperrors "github.com/edgedb/website-search/pkg/errors"
)

// buildTitles builds a one-field index whose documents have the given titles.
func buildTitles(t testing.TB, titles ...string) *blob.Blob {
	t.Helper()
	b := builder.New(builder.WithStemmer(tokenizer.Identity))
	require.NoError(t, b.AddField("title", schema.FieldOptions{Index: true, Publish: true}))
	for _, title := range titles {
		require.NoError(t, b.AddDocument(schema.Record{"title": title}))
	}
	return b.Build()
}

func compile(t testing.TB, b *blob.Blob, boosts map[string]float64) *Index {
	t.Helper()
	idx, err := FromJSON("test", b, boosts, WithStemmer(tokenizer.Identity))
	require.NoError(t, err)
	return idx
}

func resultIDs(res *SearchResult) []int {
	ids := make([]int, 0, len(res.Results))
	for _, r := range res.Results {
		ids = append(ids, r.ID)
	}
	return ids
}

func TestCompileWeights(t *testing.T) {
	idx := compile(t, buildTitles(t, "alpha beta", "alpha"), nil)

	// A term present in every document holding the field carries no weight.
	assert.Equal(t, []FieldWeight{{Field: 0, Weight: 0}}, idx.Weights("alpha", 0))
	assert.Equal(t, []FieldWeight{{Field: 0, Weight: 0}}, idx.Weights("alpha", 1))

	w := idx.Weights("beta", 0)
	require.Len(t, w, 1)
	assert.InDelta(t, math.Ln2/3, w[0].Weight, 1e-9)
	assert.Nil(t, idx.Weights("beta", 1))

	assert.Equal(t, Stats{Documents: 2, Terms: 2, Fields: 1}, idx.Stats())
}

func TestSearchScenario(t *testing.T) {
	idx := compile(t, buildTitles(t, "alpha beta", "alpha"), nil)

	tests := []struct {
		query string
		ids   []int
		score float64
	}{
		{query: "alpha ", ids: []int{}},
		{query: "alpha", ids: []int{}},
		{query: "beta ", ids: []int{0}, score: 0.2310},
		{query: "beta", ids: []int{0}, score: 0.2310},
		{query: "bet", ids: []int{0}, score: 0.2310},
		{query: "bet ", ids: []int{}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.query), func(t *testing.T) {
			res := idx.Search(tt.query)
			assert.Equal(t, tt.ids, resultIDs(res))
			if len(tt.ids) > 0 {
				assert.InDelta(t, tt.score, res.Results[0].Score, 1e-4)
				assert.Equal(t, "test", res.Results[0].IndexID)
				assert.Equal(t, "alpha beta", res.Results[0].Doc.String("title"))
			}
		})
	}
}

func TestSearchUnfinishedPenalty(t *testing.T) {
	idx := compile(t, buildTitles(t, "alpha beta", "alpha", "gamma"), nil)

	res := idx.Search("alpha bet")
	require.Equal(t, []int{0, 1}, resultIDs(res))
	assert.Equal(t, "0-1", res.Hash)

	alpha0 := math.Log(1.5) / 3
	alpha1 := math.Log(1.5) / 2
	beta0 := math.Log(3) / 3
	assert.InDelta(t, math.Sqrt(alpha0*alpha0+beta0*beta0)/2, res.Results[0].Score, 1e-9)
	assert.InDelta(t, alpha1/11, res.Results[1].Score, 1e-9)

	// Once the word is finished a document lacking it is excluded.
	res = idx.Search("alpha beta ")
	assert.Equal(t, []int{0}, resultIDs(res))
	assert.Equal(t, "0", res.Hash)
}

func TestSearchCompoundTerms(t *testing.T) {
	b := builder.New(builder.WithStemmer(tokenizer.Identity))
	require.NoError(t, b.AddField("content", schema.FieldOptions{Index: true}))
	require.NoError(t, b.AddDocument(schema.Record{"content": "call foo_bar now"}))
	require.NoError(t, b.AddDocument(schema.Record{"content": "unrelated words"}))
	idx := compile(t, b.Build(), nil)

	for _, q := range []string{"foo ", "bar ", "foo_bar ", "foo-bar"} {
		assert.Equal(t, []int{0}, resultIDs(idx.Search(q)), q)
	}
}

func TestSearchTrailingSeparator(t *testing.T) {
	idx := compile(t, buildTitles(t, "array_agg function", "array of things", "other"), nil)

	res := idx.Search("array_")
	assert.Equal(t, []string{"array", "", "array_"}, stemmedQuery(res))
	require.Equal(t, []int{0, 1}, resultIDs(res))

	// "array" is completed, the unfinished "array_" resolves to array_agg.
	array0 := math.Log(1.5) / 5
	agg0 := math.Log(3) / 5
	array1 := math.Log(1.5) / 3
	assert.InDelta(t, math.Sqrt(array0*array0+agg0*agg0)/2, res.Results[0].Score, 1e-9)
	assert.InDelta(t, array1/11, res.Results[1].Score, 1e-9)
}

func TestSearchSuggestsFromStemmedForm(t *testing.T) {
	idx := compile(t, buildTitles(t, "alpha beta", "alpha"), nil)

	_, found := idx.Suggest("Bet")
	require.False(t, found, "trie keys are lowercase")

	res := idx.Search("Bet")
	require.Equal(t, []int{0}, resultIDs(res))
	assert.InDelta(t, 0.2310, res.Results[0].Score, 1e-4)
}

func TestEndsInWord(t *testing.T) {
	assert.True(t, endsInWord("bet"))
	assert.True(t, endsInWord("bet\xff"))
	assert.False(t, endsInWord("bet "))
	assert.False(t, endsInWord("bet\u00a0"))
	assert.False(t, endsInWord(""))
}

func stemmedQuery(res *SearchResult) []string {
	out := make([]string, len(res.Query))
	for i, tok := range res.Query {
		out[i] = tok.Stemmed
	}
	return out
}

func TestSearchStableTies(t *testing.T) {
	idx := compile(t, buildTitles(t, "alpha", "beta", "alpha", "alpha"), nil)
	res := idx.Search("alpha ")
	assert.Equal(t, []int{0, 2, 3}, resultIDs(res))
	assert.Equal(t, "0-2-3", res.Hash)
	assert.Equal(t, res.Results[0].Score, res.Results[2].Score)
}

func TestSearchDocumentBoost(t *testing.T) {
	b := builder.New(builder.WithStemmer(tokenizer.Identity))
	require.NoError(t, b.AddField("title", schema.FieldOptions{Index: true, Publish: true}))
	require.NoError(t, b.AddDocument(schema.Record{"title": "alpha"}))
	require.NoError(t, b.AddBoostedDocument(schema.Record{"title": "alpha"}, 2.5))
	require.NoError(t, b.AddDocument(schema.Record{"title": "beta"}))
	idx := compile(t, b.Build(), nil)

	doc, ok := idx.Document(0)
	require.True(t, ok)
	assert.Equal(t, 1.0, doc.Boost)
	doc, ok = idx.Document(1)
	require.True(t, ok)
	assert.Equal(t, 2.5, doc.Boost)

	res := idx.Search("alpha ")
	require.Equal(t, []int{1, 0}, resultIDs(res))
	assert.InDelta(t, 2.5*res.Results[1].Score, res.Results[0].Score, 1e-9)
}

func TestFieldBoosts(t *testing.T) {
	b := buildTitles(t, "alpha beta", "alpha")
	idx := compile(t, b, map[string]float64{"title": 2})
	assert.InDelta(t, 2*math.Ln2/3, idx.Weights("beta", 0)[0].Weight, 1e-9)

	_, err := FromJSON("test", b, map[string]float64{"headline": 2})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUnknownBoostField)
}

func TestSearchEmptyQueries(t *testing.T) {
	idx := compile(t, buildTitles(t, "alpha beta", "gamma"), nil)
	for _, q := range []string{"", "   ", "the ", "the", "zzz "} {
		res := idx.Search(q)
		assert.Empty(t, res.Results, q)
		assert.Equal(t, "", res.Hash, q)
		assert.NotNil(t, res.Results)
	}
}

func TestSuggest(t *testing.T) {
	idx := compile(t, buildTitles(t, "betx", "beta", "alpha zeta"), nil)

	// beta and betx tie on weight; the smaller term wins.
	term, ok := idx.Suggest("bet")
	require.True(t, ok)
	assert.Equal(t, "beta", term)

	term, ok = idx.Suggest("betx")
	require.True(t, ok)
	assert.Equal(t, "betx", term)

	// alpha and zeta share a longer document, so beta outranks both.
	term, ok = idx.Suggest("")
	require.True(t, ok)
	assert.Equal(t, "beta", term)

	_, ok = idx.Suggest("q")
	assert.False(t, ok)
}

func TestFromJSONDecodesEnums(t *testing.T) {
	b := builder.New(builder.WithStemmer(tokenizer.Identity))
	require.NoError(t, b.AddField("type", schema.FieldOptions{Index: true, Publish: true, Type: schema.TypeEnum}))
	require.NoError(t, b.AddField("title", schema.FieldOptions{Index: true, Publish: true, Type: schema.TypeName}))
	require.NoError(t, b.AddField("content", schema.FieldOptions{Index: true}))
	require.NoError(t, b.AddDocument(schema.Record{"type": "function", "title": "count", "content": "counts rows"}))
	require.NoError(t, b.AddDocument(schema.Record{"type": "operator", "title": "plus"}))
	require.NoError(t, b.AddDocument(schema.Record{"title": "untyped"}))

	packed, err := blob.Pack(b.Build())
	require.NoError(t, err)
	env, err := blob.Unpack(packed.Compressed)
	require.NoError(t, err)

	idx, err := FromJSON(env.ID, env.Index, map[string]float64{"title": 2, "type": 0.5}, WithStemmer(tokenizer.Identity))
	require.NoError(t, err)
	assert.Equal(t, packed.ID, idx.ID())

	doc, ok := idx.Document(1)
	require.True(t, ok)
	assert.Equal(t, "operator", doc.Get("type"))
	assert.Equal(t, "plus", doc.Get("title"))
	assert.Nil(t, doc.Get("content"))

	doc, _ = idx.Document(2)
	assert.Nil(t, doc.Get("type"))

	data, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":null,"title":"untyped","content":null,"_boost":1}`, string(data))

	assert.Equal(t, []int{1}, resultIDs(idx.Search("operator ")))
}

func TestFromJSONRejectsCorruptBlobs(t *testing.T) {
	fields := []schema.FieldDescriptor{
		{ID: 0, Name: "type", Index: true, Publish: true, Type: schema.TypeEnum, Count: 1, Enum: []string{"a"}},
	}
	badPosting := blob.NewRawIndex()
	badPosting.Add("a", 0, 7, 1)

	tests := map[string]*blob.Blob{
		"short document": {Fields: fields, Documents: []blob.Document{{1.0}}},
		"bad boost":      {Fields: fields, Documents: []blob.Document{{0.0, "x"}}},
		"bad enum code":  {Fields: fields, Documents: []blob.Document{{3.0, 1.0}}},
		"field ids":      {Fields: []schema.FieldDescriptor{{ID: 4, Name: "x", Type: schema.TypeText}}},
		"posting range":  {Fields: fields, Documents: []blob.Document{{0.0, 1.0}}, Index: badPosting},
	}
	for name, b := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := FromJSON("corrupt", b, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrCorruptIndex)
		})
	}
}

func TestSearchConcurrent(t *testing.T) {
	idx := compile(t, buildTitles(t, "alpha beta", "alpha", "gamma beta"), nil)
	want := idx.Search("beta ").Hash

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				assert.Equal(t, want, idx.Search("beta ").Hash)
			}
		}()
	}
	wg.Wait()
}

func TestDocumentJSON(t *testing.T) {
	doc := &Document{Fields: map[string]any{"title": "Alpha", "type": "section", "summary": nil}, Boost: 2.5}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"Alpha","type":"section","summary":null,"_boost":2.5}`, string(data))

	var back Document
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, *doc, back)

	require.NoError(t, json.Unmarshal([]byte(`{"title":"x"}`), &back))
	assert.Equal(t, 1.0, back.Boost)
	assert.Error(t, json.Unmarshal([]byte(`{"_boost":"big"}`), &back))
}

func BenchmarkSearch(b *testing.B) {
	titles := make([]string, 0, 1000)
	for i := 0; i < 1000; i++ {
		titles = append(titles, fmt.Sprintf("document number%d about topic%d and subject%d", i, i%17, i%31))
	}
	idx := compile(b, buildTitles(b, titles...), nil)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		idx.Search("document topic3 subj")
	}
}
