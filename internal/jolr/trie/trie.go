// Package trie implements a character trie stored as an arena of nodes
// addressed by integer handles. Both the builder's inverted index and the
// query-time suggestion structure are tries of this shape with different
// payloads.
package trie

import (
	"sort"
	"unicode/utf8"
)

// NodeID addresses a node in the arena. The root is always 0.
type NodeID int32

const Root NodeID = 0

type node[V any] struct {
	children map[rune]NodeID
	terminal bool
	value    V
}

// Edge is one labelled child link.
type Edge struct {
	Rune rune
	Node NodeID
}

// Trie is an arena of nodes. Pointers returned by Value are invalidated by
// the next insertion.
type Trie[V any] struct {
	nodes []node[V]
}

func New[V any]() *Trie[V] {
	return &Trie[V]{nodes: make([]node[V], 1)}
}

// Len returns the number of nodes, root included.
func (t *Trie[V]) Len() int {
	return len(t.nodes)
}

// Extend returns the child of id labelled r, creating it when missing.
func (t *Trie[V]) Extend(id NodeID, r rune) NodeID {
	if child, ok := t.nodes[id].children[r]; ok {
		return child
	}
	child := NodeID(len(t.nodes))
	t.nodes = append(t.nodes, node[V]{})
	if t.nodes[id].children == nil {
		t.nodes[id].children = make(map[rune]NodeID, 1)
	}
	t.nodes[id].children[r] = child
	return child
}

// Insert creates the path for key, marks its last node terminal and
// returns it.
func (t *Trie[V]) Insert(key string) NodeID {
	id := Root
	for _, r := range key {
		id = t.Extend(id, r)
	}
	t.nodes[id].terminal = true
	return id
}

// Find walks key from the root. The node found need not be terminal.
func (t *Trie[V]) Find(key string) (NodeID, bool) {
	id := Root
	for _, r := range key {
		child, ok := t.nodes[id].children[r]
		if !ok {
			return 0, false
		}
		id = child
	}
	return id, true
}

// Child returns the child of id labelled r.
func (t *Trie[V]) Child(id NodeID, r rune) (NodeID, bool) {
	child, ok := t.nodes[id].children[r]
	return child, ok
}

// Children lists the edges of id ordered by rune.
func (t *Trie[V]) Children(id NodeID) []Edge {
	children := t.nodes[id].children
	if len(children) == 0 {
		return nil
	}
	edges := make([]Edge, 0, len(children))
	for r, child := range children {
		edges = append(edges, Edge{Rune: r, Node: child})
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].Rune < edges[j].Rune })
	return edges
}

func (t *Trie[V]) IsTerminal(id NodeID) bool {
	return t.nodes[id].terminal
}

func (t *Trie[V]) SetTerminal(id NodeID) {
	t.nodes[id].terminal = true
}

// Value returns a pointer to the payload of id.
func (t *Trie[V]) Value(id NodeID) *V {
	return &t.nodes[id].value
}

// Walk visits every terminal node in lexicographic rune order.
func (t *Trie[V]) Walk(fn func(key string, id NodeID)) {
	t.walk(Root, make([]byte, 0, 32), fn)
}

func (t *Trie[V]) walk(id NodeID, key []byte, fn func(string, NodeID)) {
	if t.nodes[id].terminal {
		fn(string(key), id)
	}
	for _, e := range t.Children(id) {
		t.walk(e.Node, utf8.AppendRune(key, e.Rune), fn)
	}
}

// PostOrder visits every node after all of its children, passing the key
// spelled by the path to it.
func (t *Trie[V]) PostOrder(fn func(key string, id NodeID)) {
	t.postOrder(Root, make([]byte, 0, 32), fn)
}

func (t *Trie[V]) postOrder(id NodeID, key []byte, fn func(string, NodeID)) {
	for _, e := range t.Children(id) {
		t.postOrder(e.Node, utf8.AppendRune(key, e.Rune), fn)
	}
	fn(string(key), id)
}
