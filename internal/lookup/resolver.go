// Package lookup resolves callsigns against a compiled dna.Artifact.
//
// Resolution tries the exact-callsign branch of the trie first and then falls
// back to a longest-prefix walk. In contest (CQ) mode, override references
// win over standard ones, and a contest-only entity borrows its country from
// the administrative (ARRL) answer for the same callsign.
package lookup

import (
	"fmt"
	"strings"

	"github.com/user00265/ctydna/internal/dna"
)

// Mode selects which entity list a lookup follows.
type Mode int

const (
	// ModeCQ follows the contest (CQ WW) entity list, including
	// contest-only entities. It is the default.
	ModeCQ Mode = iota
	// ModeARRL follows the administrative DXCC list only.
	ModeARRL
)

func (m Mode) String() string {
	switch m {
	case ModeCQ:
		return "cq"
	case ModeARRL:
		return "arrl"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode parses "cq"/"cqww" or "arrl"/"dxcc", case-insensitively. An
// empty string yields ModeCQ.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cq", "cqww":
		return ModeCQ, nil
	case "arrl", "dxcc":
		return ModeARRL, nil
	}
	return ModeCQ, fmt.Errorf("unknown lookup mode %q (want cq or arrl)", s)
}

// Resolver answers lookups from one artifact. It holds no mutable state and
// is safe for concurrent use.
type Resolver struct {
	artifact *dna.Artifact
}

// New returns a Resolver over a. A nil artifact resolves nothing.
func New(a *dna.Artifact) *Resolver {
	if a == nil {
		a = dna.New()
	}
	return &Resolver{artifact: a}
}

// Find resolves callsign in mode. The returned record is a copy owned by the
// caller. Empty or unresolvable callsigns report false.
func (r *Resolver) Find(callsign string, mode Mode) (*dna.EntityRecord, bool) {
	s := normalize(callsign)
	if s == "" {
		return nil, false
	}
	if rec, ok := r.exact(s, mode); ok {
		return rec, true
	}
	return r.prefix(searchString(s), mode)
}

// normalize trims and upper-cases callsign and drops leading exact markers,
// which are not part of any callsign.
func normalize(callsign string) string {
	return strings.TrimLeft(strings.ToUpper(strings.TrimSpace(callsign)), dna.ExactMarker)
}

// searchString picks the part of a portable callsign that carries the
// prefix. Both VE3/G3YPP and N1MM/P resolve from their first segment.
func searchString(s string) string {
	if i := strings.IndexByte(s, '/'); i >= 0 {
		return s[:i]
	}
	return s
}

// exact looks up the full-callsign branch. Unlike the prefix walk, the whole
// callsign must be consumed and end on a node carrying a reference.
func (r *Resolver) exact(s string, mode Mode) (*dna.EntityRecord, bool) {
	path := dna.ExactMarker + s
	node := r.artifact.Root
	for i := 0; i < len(path); i++ {
		if node = node.Child(path[i]); node == nil {
			return nil, false
		}
	}
	idx, ok := pick(node, mode, -1)
	if !ok {
		return nil, false
	}
	return r.finish(idx, s, mode)
}

// prefix performs the greedy longest-prefix walk.
func (r *Resolver) prefix(s string, mode Mode) (*dna.EntityRecord, bool) {
	idx, found := -1, false
	node := r.artifact.Root
	for i := 0; i < len(s); i++ {
		if node = node.Child(s[i]); node == nil {
			break
		}
		if next, ok := pick(node, mode, idx); ok {
			idx, found = next, true
		}
	}
	if !found {
		return nil, false
	}
	return r.finish(idx, s, mode)
}

// pick returns the reference node contributes in mode: the standard slot,
// replaced by the override slot in CQ mode. Without either, current is
// returned with ok=false.
func pick(node *dna.Node, mode Mode, current int) (int, bool) {
	idx, ok := current, false
	if v, has := node.Standard(); has {
		idx, ok = v, true
	}
	if mode == ModeCQ {
		if c, has := node.Override(); has {
			idx, ok = c, true
		}
	}
	return idx, ok
}

// finish copies the pool record and applies the contest-only country patch.
func (r *Resolver) finish(idx int, s string, mode Mode) (*dna.EntityRecord, bool) {
	rec, ok := r.artifact.Record(idx)
	if !ok {
		return nil, false
	}
	if mode == ModeCQ && rec.IsAlias() {
		if admin, ok := r.Find(s, ModeARRL); ok && admin.HasCountry() {
			rec.Country = admin.Country
		}
	}
	rec.Prefix = strings.TrimPrefix(rec.Prefix, dna.AliasMarker)
	return &rec, true
}
