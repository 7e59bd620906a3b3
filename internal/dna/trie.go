package dna

import "sort"

// noRef marks an empty terminal slot.
const noRef = -1

// Node is a trie node. A node may carry a standard reference (matched in
// every mode), an override reference (matched in contest mode only), both,
// or neither.
type Node struct {
	children map[byte]*Node
	standard int
	override int
}

// NewNode returns an empty node with both terminal slots unset.
func NewNode() *Node {
	return &Node{standard: noRef, override: noRef}
}

// Child returns the node reached through edge c, or nil.
func (n *Node) Child(c byte) *Node {
	if n == nil || n.children == nil {
		return nil
	}
	return n.children[c]
}

// Standard returns the standard pool index, if set.
func (n *Node) Standard() (int, bool) {
	return n.standard, n.standard != noRef
}

// Override returns the contest-only pool index, if set.
func (n *Node) Override() (int, bool) {
	return n.override, n.override != noRef
}

// Edges returns the node's outgoing edge labels in ascending order.
func (n *Node) Edges() []byte {
	edges := make([]byte, 0, len(n.children))
	for c := range n.children {
		edges = append(edges, c)
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i] < edges[j] })
	return edges
}

// ensureChild returns the child for c, creating it when missing.
func (n *Node) ensureChild(c byte) *Node {
	if n.children == nil {
		n.children = make(map[byte]*Node)
	}
	child, ok := n.children[c]
	if !ok {
		child = NewNode()
		n.children[c] = child
	}
	return child
}

// Insert descends along path, creating nodes as needed, and stores idx in the
// terminal node's override slot (override=true) or standard slot. A later
// insert for the same path and slot replaces the earlier index. Only the
// compiler calls Insert; a published Artifact is never modified.
func (n *Node) Insert(path string, idx int, override bool) *Node {
	node := n
	for i := 0; i < len(path); i++ {
		node = node.ensureChild(path[i])
	}
	if override {
		node.override = idx
	} else {
		node.standard = idx
	}
	return node
}

// Walk visits every node depth-first in edge order. The path passed to fn is
// the string of edge labels leading from the root to the node.
func (n *Node) Walk(fn func(path string, node *Node)) {
	var visit func(path []byte, node *Node)
	visit = func(path []byte, node *Node) {
		fn(string(path), node)
		for _, c := range node.Edges() {
			visit(append(path, c), node.children[c])
		}
	}
	visit(nil, n)
}

// IsTrieByte reports whether c belongs to the trie alphabet: upper-case
// letters, digits, '/' and the reserved exact-match marker.
func IsTrieByte(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '/', c == ExactMarker[0]:
		return true
	}
	return false
}
