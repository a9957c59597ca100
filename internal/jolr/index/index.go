// Package index compiles a serialized blob into a queryable index and runs
// ranked free-text searches over it with tolerance for the word the user is
// still typing.
package index

import (
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/edgedb/website-search/internal/jolr/blob"
	"github.com/edgedb/website-search/internal/jolr/schema"
	"github.com/edgedb/website-search/internal/jolr/tokenizer"
	"github.com/edgedb/website-search/internal/jolr/trie"
	apperrors "github.com/edgedb/website-search/pkg/errors"
)

// DefaultFieldBoosts are the query-time field boosts used by the site.
var DefaultFieldBoosts = map[string]float64{
	"index": 5,
	"name":  3,
	"title": 2,
	"type":  0.5,
}

// FieldWeight is the compiled weight of a term in one field of a document.
type FieldWeight struct {
	Field  int
	Weight float64
}

// postings maps a document id to the weights of a term in its fields.
type postings map[int][]FieldWeight

// Index is a compiled, immutable search index. Search reuses per-index
// scratch buffers and serializes concurrent callers.
type Index struct {
	id           string
	fields       []schema.FieldDescriptor
	fieldsByName map[string]schema.FieldDescriptor
	documents    []*Document
	terms        map[string]postings
	suggestions  *trie.Trie[suggestion]

	tokenizer *tokenizer.Tokenizer
	logger    *slog.Logger

	mu     sync.Mutex
	docSum []float64
	docCnt []int16
}

type Option func(*Index)

// WithStemmer sets the query stemmer. It must match the one the blob was
// built with.
func WithStemmer(s tokenizer.Stemmer) Option {
	return func(idx *Index) {
		idx.tokenizer = tokenizer.New(s)
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(idx *Index) {
		idx.logger = l
	}
}

// FromJSON decodes b and compiles it. fieldBoosts multiplies the weights of
// the named fields; every name must be a declared field.
func FromJSON(id string, b *blob.Blob, fieldBoosts map[string]float64, opts ...Option) (*Index, error) {
	idx := &Index{
		id:           id,
		fields:       b.Fields,
		fieldsByName: make(map[string]schema.FieldDescriptor, len(b.Fields)),
		tokenizer:    tokenizer.New(tokenizer.Snowball),
		logger:       slog.Default().With("component", "search-index", "index_id", id),
	}
	for _, opt := range opts {
		opt(idx)
	}

	for i, f := range b.Fields {
		if f.ID != i {
			return nil, apperrors.Config(apperrors.ErrCorruptIndex, "field %s has id %d at position %d", f.Name, f.ID, i)
		}
		idx.fieldsByName[f.Name] = f
	}

	docs, err := decodeDocuments(b.Fields, b.Documents)
	if err != nil {
		return nil, err
	}
	idx.documents = docs

	boosts := make(map[int]float64, len(fieldBoosts))
	for name, boost := range fieldBoosts {
		f, ok := idx.fieldsByName[name]
		if !ok {
			return nil, apperrors.Config(apperrors.ErrUnknownBoostField, "unknown field %q in boosts", name)
		}
		boosts[f.ID] = boost
	}

	raw := b.Index
	if raw == nil {
		raw = blob.NewRawIndex()
	}
	bestWeights, err := idx.compile(raw, boosts)
	if err != nil {
		return nil, err
	}
	idx.suggestions = buildSuggestions(bestWeights)

	idx.docSum = make([]float64, len(docs))
	idx.docCnt = make([]int16, len(docs))

	idx.logger.Debug("index compiled",
		"documents", len(docs),
		"terms", len(idx.terms),
		"fields", len(b.Fields),
	)
	return idx, nil
}

// compile turns raw frequencies into weights and returns every term's best
// weight for the suggestion trie.
func (idx *Index) compile(raw *blob.RawIndex, boosts map[int]float64) (map[string]float64, error) {
	numFields := len(idx.fields)
	numDocs := len(idx.documents)

	fieldsLens := make([]map[int]int, numFields)
	for i := range fieldsLens {
		fieldsLens[i] = make(map[int]int)
	}
	termFieldCount := make(map[string][]int, raw.Terms())
	idx.terms = make(map[string]postings, raw.Terms())

	var walkErr error
	raw.Walk(func(term string, ps []blob.Posting) {
		if walkErr != nil {
			return
		}
		counts := make([]int, numFields)
		docs := make(postings)
		for _, p := range ps {
			if p.Field < 0 || p.Field >= numFields || p.Doc < 0 || p.Doc >= numDocs || p.Freq < 0 {
				walkErr = apperrors.Config(apperrors.ErrCorruptIndex,
					"term %q: posting (%d, %d, %d) out of range", term, p.Field, p.Doc, p.Freq)
				return
			}
			fieldsLens[p.Field][p.Doc] += p.Freq
			counts[p.Field]++
			docs[p.Doc] = addFreq(docs[p.Doc], p.Field, p.Freq)
		}
		termFieldCount[term] = counts
		idx.terms[term] = docs
	})
	if walkErr != nil {
		return nil, walkErr
	}

	best := make(map[string]float64, len(idx.terms))
	for term, docs := range idx.terms {
		counts := termFieldCount[term]
		top := math.Inf(-1)
		for docID, fws := range docs {
			for i := range fws {
				f := fws[i].Field
				if counts[f] > idx.fields[f].Count {
					return nil, apperrors.Config(apperrors.ErrCorruptIndex,
						"term %q occurs in %d documents of field %s, which has %d",
						term, counts[f], idx.fields[f].Name, idx.fields[f].Count)
				}
				idf := math.Log(float64(idx.fields[f].Count) / float64(counts[f]))
				w := idf * (fws[i].Weight / float64(1+fieldsLens[f][docID]))
				if boost := boosts[f]; boost != 0 {
					w *= boost
				}
				fws[i].Weight = w
				top = math.Max(top, w)
			}
		}
		best[term] = top
	}
	return best, nil
}

// addFreq merges a raw frequency into fws, keeping fields in id order.
func addFreq(fws []FieldWeight, field, freq int) []FieldWeight {
	for i := range fws {
		if fws[i].Field == field {
			fws[i].Weight += float64(freq)
			return fws
		}
	}
	fws = append(fws, FieldWeight{Field: field, Weight: float64(freq)})
	sort.Slice(fws, func(i, j int) bool { return fws[i].Field < fws[j].Field })
	return fws
}

// ID returns the id the index was compiled under. It is stamped on every
// Result so merged results remember their origin.
func (idx *Index) ID() string {
	return idx.id
}

// Fields returns the field descriptors in id order.
func (idx *Index) Fields() []schema.FieldDescriptor {
	return idx.fields
}

// Document returns a decoded document by id.
func (idx *Index) Document(id int) (*Document, bool) {
	if id < 0 || id >= len(idx.documents) {
		return nil, false
	}
	return idx.documents[id], true
}

// Weights returns the compiled weights of term in document doc.
func (idx *Index) Weights(term string, doc int) []FieldWeight {
	return idx.terms[term][doc]
}

// Stats summarizes a compiled index.
type Stats struct {
	Documents int `json:"documents"`
	Terms     int `json:"terms"`
	Fields    int `json:"fields"`
}

func (idx *Index) Stats() Stats {
	return Stats{
		Documents: len(idx.documents),
		Terms:     len(idx.terms),
		Fields:    len(idx.fields),
	}
}
