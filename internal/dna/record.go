// Package dna holds the compiled lookup artifact: a pool of unique entity
// records and a character trie whose terminal nodes point into the pool.
//
// An Artifact is built once by the compiler and is read-only afterwards, so a
// single value can be shared by any number of goroutines without locking.
package dna

import "strings"

const (
	// AliasMarker prefixes the primary prefix of entities that only exist
	// under the contest (CQ) convention, e.g. "*IG9" for Sicily.
	AliasMarker = "*"
	// ExactMarker introduces a full-callsign entry, both in the master table
	// and as the root edge of the exact-match branch of the trie.
	ExactMarker = "="
	// UnknownCountry is stored when no current metadata row matches.
	UnknownCountry = "??"
)

// EntityRecord is one pool element. Records are shared across every prefix
// that maps to the same (country, cq, itu, entity) tuple.
type EntityRecord struct {
	Entity    string  `json:"entity"`
	EntityID  int     `json:"entity_id"`
	Prefix    string  `json:"prefix"`
	Country   string  `json:"country"`
	Flag      string  `json:"flag"`
	CQ        int     `json:"cq"`
	ITU       int     `json:"itu"`
	Continent string  `json:"cont"`
	Lat       float64 `json:"lat"`
	Long      float64 `json:"long"`
	UTC       int     `json:"utc"`
}

// IsAlias reports whether the record belongs to a contest-only entity.
func (r *EntityRecord) IsAlias() bool {
	return strings.HasPrefix(r.Prefix, AliasMarker)
}

// HasCountry reports whether the record carries a resolved ISO code.
func (r *EntityRecord) HasCountry() bool {
	return r.Country != "" && r.Country != UnknownCountry
}

// PoolKey is the structural deduplication key of a record.
type PoolKey struct {
	Country string
	CQ      int
	ITU     int
	Entity  string
}

// Key returns the record's deduplication key.
func (r *EntityRecord) Key() PoolKey {
	return PoolKey{Country: r.Country, CQ: r.CQ, ITU: r.ITU, Entity: r.Entity}
}
