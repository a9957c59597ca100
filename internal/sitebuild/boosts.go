package sitebuild

import (
	"sort"
	"strings"
)

type prefixBoost struct {
	segments []string
	boost    float64
}

// Boosts assigns document boosts by relname path prefix. The deepest
// matching prefix wins; documents under no prefix get the default boost.
type Boosts struct {
	prefixes []prefixBoost
}

// NewBoosts builds a Boosts from a prefix to boost map. A trailing "index"
// segment names its directory, so "reference/index" boosts "reference".
func NewBoosts(byPrefix map[string]float64) *Boosts {
	b := &Boosts{prefixes: make([]prefixBoost, 0, len(byPrefix))}
	for prefix, boost := range byPrefix {
		segs := splitPath(prefix)
		if n := len(segs); n > 0 && segs[n-1] == "index" {
			segs = segs[:n-1]
		}
		b.prefixes = append(b.prefixes, prefixBoost{segments: segs, boost: boost})
	}
	// Deepest first; equal depth resolves by path for a stable result.
	sort.Slice(b.prefixes, func(i, j int) bool {
		a, c := b.prefixes[i].segments, b.prefixes[j].segments
		if len(a) != len(c) {
			return len(a) > len(c)
		}
		return strings.Join(a, "/") < strings.Join(c, "/")
	})
	return b
}

// For returns the boost of the document at relname.
func (b *Boosts) For(relname string) float64 {
	if b == nil {
		return 1
	}
	segs := splitPath(relname)
	for _, p := range b.prefixes {
		if hasSegmentPrefix(segs, p.segments) {
			return p.boost
		}
	}
	return 1
}

func splitPath(p string) []string {
	var segs []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

func hasSegmentPrefix(segs, prefix []string) bool {
	if len(prefix) > len(segs) {
		return false
	}
	for i, s := range prefix {
		if segs[i] != s {
			return false
		}
	}
	return true
}
