package blob

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/edgedb/website-search/internal/jolr/trie"
)

// terminalKey marks a terminal node in the serialized trie. No token
// contains whitespace, so it cannot collide with a character edge.
const terminalKey = " "

// Posting records how often a term occurs in one field of one document.
type Posting struct {
	Field int
	Doc   int
	Freq  int
}

// RawIndex is the inverted index as a character trie whose terminals hold
// postings. On the wire it is a nested object keyed by character with the
// postings of a terminal flattened to [field, doc, freq, ...] under " ".
type RawIndex struct {
	trie  *trie.Trie[[]Posting]
	terms int
}

func NewRawIndex() *RawIndex {
	return &RawIndex{trie: trie.New[[]Posting]()}
}

// Add accumulates weight for term in (field, doc). Documents are added in
// increasing id order, so an existing posting for doc is always at the tail.
func (r *RawIndex) Add(term string, field, doc, weight int) {
	id := r.trie.Insert(term)
	postings := r.trie.Value(id)
	if len(*postings) == 0 {
		r.terms++
	}
	for i := len(*postings) - 1; i >= 0 && (*postings)[i].Doc == doc; i-- {
		if (*postings)[i].Field == field {
			(*postings)[i].Freq += weight
			return
		}
	}
	*postings = append(*postings, Posting{Field: field, Doc: doc, Freq: weight})
}

// Postings returns the postings of term.
func (r *RawIndex) Postings(term string) []Posting {
	id, ok := r.trie.Find(term)
	if !ok || !r.trie.IsTerminal(id) {
		return nil
	}
	return *r.trie.Value(id)
}

// Walk visits every term with its postings in lexicographic order.
func (r *RawIndex) Walk(fn func(term string, postings []Posting)) {
	r.trie.Walk(func(term string, id trie.NodeID) {
		fn(term, *r.trie.Value(id))
	})
}

// Terms returns the number of distinct terms.
func (r *RawIndex) Terms() int {
	return r.terms
}

func (r *RawIndex) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if r == nil || r.trie == nil {
		buf.WriteString("{}")
		return buf.Bytes(), nil
	}
	r.encodeNode(&buf, trie.Root)
	return buf.Bytes(), nil
}

func (r *RawIndex) encodeNode(buf *bytes.Buffer, id trie.NodeID) {
	buf.WriteByte('{')
	first := true
	if r.trie.IsTerminal(id) {
		buf.WriteString(`" ":[`)
		for i, p := range *r.trie.Value(id) {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.WriteString(strconv.Itoa(p.Field))
			buf.WriteByte(',')
			buf.WriteString(strconv.Itoa(p.Doc))
			buf.WriteByte(',')
			buf.WriteString(strconv.Itoa(p.Freq))
		}
		buf.WriteByte(']')
		first = false
	}
	for _, e := range r.trie.Children(id) {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		key, _ := json.Marshal(string(e.Rune))
		buf.Write(key)
		buf.WriteByte(':')
		r.encodeNode(buf, e.Node)
	}
	buf.WriteByte('}')
}

func (r *RawIndex) UnmarshalJSON(data []byte) error {
	r.trie = trie.New[[]Posting]()
	r.terms = 0
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := r.decodeNode(dec, trie.Root); err != nil {
		return fmt.Errorf("decoding index trie: %w", err)
	}
	return nil
}

func (r *RawIndex) decodeNode(dec *json.Decoder, id trie.NodeID) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("expected object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("expected key, got %v", tok)
		}
		if key == terminalKey {
			var flat []int
			if err := dec.Decode(&flat); err != nil {
				return fmt.Errorf("decoding postings: %w", err)
			}
			if len(flat)%3 != 0 {
				return fmt.Errorf("postings length %d is not a multiple of 3", len(flat))
			}
			postings := make([]Posting, 0, len(flat)/3)
			for i := 0; i < len(flat); i += 3 {
				postings = append(postings, Posting{Field: flat[i], Doc: flat[i+1], Freq: flat[i+2]})
			}
			r.trie.SetTerminal(id)
			*r.trie.Value(id) = postings
			r.terms++
			continue
		}
		ch, size := utf8.DecodeRuneInString(key)
		if size == 0 || size != len(key) {
			return fmt.Errorf("trie key %q is not a single character", key)
		}
		if err := r.decodeNode(dec, r.trie.Extend(id, ch)); err != nil {
			return err
		}
	}
	_, err = dec.Token()
	return err
}
