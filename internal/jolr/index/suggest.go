package index

import (
	"github.com/edgedb/website-search/internal/jolr/trie"
)

// suggestion is the best completion reachable beneath a trie node.
type suggestion struct {
	term   string
	weight float64
	ok     bool
}

// better reports whether s beats cur. Equal weights go to the
// lexicographically smaller term.
func (s suggestion) better(cur suggestion) bool {
	if !cur.ok {
		return true
	}
	if s.weight != cur.weight {
		return s.weight > cur.weight
	}
	return s.term < cur.term
}

func buildSuggestions(weights map[string]float64) *trie.Trie[suggestion] {
	t := trie.New[suggestion]()
	for term := range weights {
		t.Insert(term)
	}
	t.PostOrder(func(key string, id trie.NodeID) {
		var best suggestion
		if t.IsTerminal(id) {
			best = suggestion{term: key, weight: weights[key], ok: true}
		}
		for _, e := range t.Children(id) {
			if child := *t.Value(e.Node); child.ok && child.better(best) {
				best = child
			}
		}
		*t.Value(id) = best
	})
	return t
}

// Suggest returns the highest weighted term starting with prefix.
func (idx *Index) Suggest(prefix string) (string, bool) {
	id, ok := idx.suggestions.Find(prefix)
	if !ok {
		return "", false
	}
	s := idx.suggestions.Value(id)
	return s.term, s.ok
}
