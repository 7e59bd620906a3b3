package dna

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// ErrInvalidArtifact is returned when a decoded artifact violates its invariants.
var ErrInvalidArtifact = errors.New("invalid artifact")

// JSON keys of the terminal slots inside a trie node object. They are lower
// case, so they can never collide with an edge label.
const (
	standardKey = "v"
	overrideKey = "c"
)

// Artifact is the compiled (pool, trie) pair.
type Artifact struct {
	Pool []EntityRecord
	Root *Node
}

// New returns an empty artifact ready for the compiler to fill.
func New() *Artifact {
	return &Artifact{Root: NewNode()}
}

// Record returns a copy of the pool record at idx.
func (a *Artifact) Record(idx int) (EntityRecord, bool) {
	if idx < 0 || idx >= len(a.Pool) {
		return EntityRecord{}, false
	}
	return a.Pool[idx], true
}

// NodeCount returns the number of trie nodes including the root.
func (a *Artifact) NodeCount() int {
	count := 0
	a.Root.Walk(func(string, *Node) { count++ })
	return count
}

// TerminalCount returns the number of standard and override references.
func (a *Artifact) TerminalCount() (standard, override int) {
	a.Root.Walk(func(_ string, n *Node) {
		if _, ok := n.Standard(); ok {
			standard++
		}
		if _, ok := n.Override(); ok {
			override++
		}
	})
	return standard, override
}

// Validate checks that every terminal reference points into the pool, that
// every edge is in the trie alphabet, and that the exact-match marker only
// appears as an edge out of the root.
func (a *Artifact) Validate() error {
	if a.Root == nil {
		return fmt.Errorf("%w: missing trie root", ErrInvalidArtifact)
	}
	var err error
	a.Root.Walk(func(path string, n *Node) {
		if err != nil {
			return
		}
		for _, ref := range []int{n.standard, n.override} {
			if ref != noRef && (ref < 0 || ref >= len(a.Pool)) {
				err = fmt.Errorf("%w: node %q references pool index %d (pool size %d)", ErrInvalidArtifact, path, ref, len(a.Pool))
				return
			}
		}
		for _, c := range n.Edges() {
			if !IsTrieByte(c) {
				err = fmt.Errorf("%w: node %q has edge %q outside the callsign alphabet", ErrInvalidArtifact, path, c)
				return
			}
			if c == ExactMarker[0] && path != "" {
				err = fmt.Errorf("%w: exact-match marker below root at %q", ErrInvalidArtifact, path)
				return
			}
		}
	})
	return err
}

// artifactJSON is the serialized layout: {"pool":[...],"trie":{...}}.
type artifactJSON struct {
	Pool []EntityRecord `json:"pool"`
	Trie *Node          `json:"trie"`
}

// MarshalJSON encodes the artifact in its published layout.
func (a *Artifact) MarshalJSON() ([]byte, error) {
	pool := a.Pool
	if pool == nil {
		pool = []EntityRecord{}
	}
	return json.Marshal(artifactJSON{Pool: pool, Trie: a.Root})
}

// UnmarshalJSON decodes and validates a published artifact.
func (a *Artifact) UnmarshalJSON(data []byte) error {
	var raw artifactJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Trie == nil {
		raw.Trie = NewNode()
	}
	decoded := Artifact{Pool: raw.Pool, Root: raw.Trie}
	if err := decoded.Validate(); err != nil {
		return err
	}
	*a = decoded
	return nil
}

// MarshalJSON encodes a node as an object keyed by edge label, with the
// terminal slots under "v" (standard) and "c" (override).
func (n *Node) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	n.writeJSON(&buf)
	return buf.Bytes(), nil
}

func (n *Node) writeJSON(buf *bytes.Buffer) {
	buf.WriteByte('{')
	first := true
	field := func(key string) {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		buf.WriteString(strconv.Quote(key))
		buf.WriteByte(':')
	}
	for _, c := range n.Edges() {
		field(string(c))
		n.children[c].writeJSON(buf)
	}
	if n.standard != noRef {
		field(standardKey)
		buf.WriteString(strconv.Itoa(n.standard))
	}
	if n.override != noRef {
		field(overrideKey)
		buf.WriteString(strconv.Itoa(n.override))
	}
	buf.WriteByte('}')
}

// UnmarshalJSON decodes the object layout written by MarshalJSON.
func (n *Node) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*n = Node{standard: noRef, override: noRef}
	for key, value := range fields {
		switch key {
		case standardKey, overrideKey:
			var idx int
			if err := json.Unmarshal(value, &idx); err != nil {
				return fmt.Errorf("%w: terminal %q: %v", ErrInvalidArtifact, key, err)
			}
			if idx < 0 {
				return fmt.Errorf("%w: negative pool index %d", ErrInvalidArtifact, idx)
			}
			if key == standardKey {
				n.standard = idx
			} else {
				n.override = idx
			}
		default:
			if len(key) != 1 {
				return fmt.Errorf("%w: edge label %q is not a single character", ErrInvalidArtifact, key)
			}
			child := NewNode()
			if err := json.Unmarshal(value, child); err != nil {
				return err
			}
			if n.children == nil {
				n.children = make(map[byte]*Node)
			}
			n.children[key[0]] = child
		}
	}
	return nil
}

// Checksum returns the hex SHA-256 of the artifact's JSON encoding.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// WriteJSModule writes the artifact as an ES module exporting pool and trie,
// for web clients that resolve callsigns in the browser.
func (a *Artifact) WriteJSModule(w io.Writer) error {
	records := a.Pool
	if records == nil {
		records = []EntityRecord{}
	}
	pool, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to encode pool: %w", err)
	}
	trie, err := a.Root.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode trie: %w", err)
	}
	_, err = fmt.Fprintf(w, "// Auto-generated Amateur Radio Lookup DNA\nexport const pool = %s;\nexport const trie = %s;\n", pool, trie)
	return err
}
