// Package multi runs one query against several indexes and merges the
// answers into a single ranking.
package multi

import (
	"sort"
	"strings"

	"github.com/edgedb/website-search/internal/jolr/index"
	"github.com/edgedb/website-search/internal/jolr/tokenizer"
)

// Response is a merged answer. Total counts every match before the limit
// is applied.
type Response struct {
	Hash    string            `json:"hash"`
	Query   []tokenizer.Token `json:"query"`
	Results []index.Result    `json:"results"`
	Total   int               `json:"total"`
}

// Search queries every index in order. Results keep their index id, are
// ordered by score with ties kept in index order, and the hash joins the
// per-index hashes with "_". The query tokens are those of the first index.
func Search(indexes []*index.Index, query string) *Response {
	resp := &Response{Results: make([]index.Result, 0)}
	hashes := make([]string, 0, len(indexes))
	for i, idx := range indexes {
		res := idx.Search(query)
		if i == 0 {
			resp.Query = res.Query
		}
		hashes = append(hashes, res.Hash)
		resp.Results = append(resp.Results, res.Results...)
	}
	sort.SliceStable(resp.Results, func(i, j int) bool {
		return resp.Results[i].Score > resp.Results[j].Score
	})
	resp.Hash = strings.Join(hashes, "_")
	resp.Total = len(resp.Results)
	return resp
}

// Truncate keeps at most limit results. A limit of zero or less keeps all.
func (r *Response) Truncate(limit int) *Response {
	if limit > 0 && len(r.Results) > limit {
		r.Results = r.Results[:limit]
	}
	return r
}
