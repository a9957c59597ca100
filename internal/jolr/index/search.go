package index

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/edgedb/website-search/internal/jolr/tokenizer"
)

// unfinishedPenalty demotes documents lacking a suggested or still-typed
// term instead of excluding them.
const unfinishedPenalty = 10

// Result is one matching document.
type Result struct {
	ID      int       `json:"id"`
	Doc     *Document `json:"doc"`
	Score   float64   `json:"score"`
	IndexID string    `json:"indexId"`
}

// SearchResult is the ranked answer to a query. Hash identifies the result
// ordering and is suitable as a cache key.
type SearchResult struct {
	Hash    string            `json:"hash"`
	Query   []tokenizer.Token `json:"query"`
	Results []Result          `json:"results"`
}

// Search ranks the documents matching query.
//
// Every completed query term must be present in a document for it to match.
// The last term, when the query does not end in whitespace, may be
// incomplete: if it is not a known term it is replaced by the best
// suggestion for it, and documents lacking it are only penalized.
func (idx *Index) Search(query string) *SearchResult {
	tokens := idx.tokenizer.Tokenize(query, false, true)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	docSum, docCnt := idx.docSum, idx.docCnt
	for i := range docSum {
		docSum[i] = 0
		docCnt[i] = 0
	}

	for i, tok := range tokens {
		unfinished := i == len(tokens)-1 && endsInWord(query)
		suggested := false

		docs, ok := idx.terms[tok.Stemmed]
		if !ok && unfinished {
			term, found := idx.Suggest(tok.Orig)
			if !found {
				term, found = idx.Suggest(tok.Stemmed)
			}
			if !found {
				continue
			}
			if docs, ok = idx.terms[term]; !ok {
				idx.logger.Warn("suggested term is not in the index", "term", term, "query", query)
				continue
			}
			suggested = true
		}
		if !ok {
			continue
		}

		for docID := range docCnt {
			if docCnt[docID] < 0 {
				continue
			}
			fws, found := docs[docID]
			if !found {
				if !suggested && !unfinished {
					docCnt[docID] = -1
				} else {
					docCnt[docID] = addCnt(docCnt[docID], unfinishedPenalty)
				}
				continue
			}
			for _, fw := range fws {
				docSum[docID] += fw.Weight * fw.Weight
				docCnt[docID] = addCnt(docCnt[docID], 1)
			}
		}
	}

	results := make([]Result, 0)
	for docID := range docCnt {
		if docCnt[docID] <= 0 || docSum[docID] == 0 {
			continue
		}
		doc := idx.documents[docID]
		results = append(results, Result{
			ID:      docID,
			Doc:     doc,
			Score:   math.Sqrt(docSum[docID]) / float64(docCnt[docID]) * doc.Boost,
			IndexID: idx.id,
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = strconv.Itoa(r.ID)
	}
	return &SearchResult{
		Hash:    strings.Join(ids, "-"),
		Query:   tokens,
		Results: results,
	}
}

// addCnt adds to a scratch counter without overflowing it.
func addCnt(cnt int16, n int16) int16 {
	if cnt > math.MaxInt16-n {
		return math.MaxInt16
	}
	return cnt + n
}

// endsInWord reports whether the user is still typing the last word.
func endsInWord(query string) bool {
	r, size := utf8.DecodeLastRuneInString(query)
	return size > 0 && !unicode.IsSpace(r)
}
