// Package compiler turns the master prefix table (cty.dat format) into a
// dna.Artifact: a pool of unique entity records plus a prefix trie.
//
// Each block of the table is one entity:
//
//	Italy:  15:  28:  EU:   42.82:   -12.58:    -1.0:  I:
//	    I,IA,IB,IC,ID,IE,IF,II,IJ,IK,IL,IM,IN,IO,IP,IQ,IR,IS,IT,IU,IV,IW,IX,IY,IZ,
//	    =IY0GA(33)[37];
//
// The header carries the entity defaults; every prefix token may override
// the CQ and ITU zone, and a leading '=' marks a full callsign.
package compiler

import (
	"time"

	"github.com/user00265/ctydna/internal/dna"
	"github.com/user00265/ctydna/internal/logging"
	"github.com/user00265/ctydna/internal/metadata"
)

// Options carries the auxiliary tables and the reference date.
type Options struct {
	// Prefixes maps primary prefixes to ADIF codes. Nil leaves every
	// EntityID at 0.
	Prefixes metadata.PrefixMap
	// Entities supplies ISO codes and flags. Nil marks every country unknown.
	Entities *metadata.Table
	// Now is the date metadata validity is checked against; zero means time.Now().
	Now time.Time
}

// Stats summarizes one compilation.
type Stats struct {
	Blocks        int
	SkippedBlocks int
	Tokens        int
	SkippedTokens int
	PoolSize      int
	Nodes         int
	Overrides     int
}

// builder owns the artifact under construction and its dedup index.
type builder struct {
	artifact *dna.Artifact
	index    map[dna.PoolKey]int
	stats    Stats
}

// poolIndex returns the slot for rec, appending it when its key is new.
func (b *builder) poolIndex(rec dna.EntityRecord) int {
	key := rec.Key()
	if idx, ok := b.index[key]; ok {
		return idx
	}
	idx := len(b.artifact.Pool)
	b.artifact.Pool = append(b.artifact.Pool, rec)
	b.index[key] = idx
	return idx
}

// Compile parses text and builds the artifact. Malformed blocks and tokens
// are logged and skipped; Compile itself does not fail on table content.
func Compile(text string, opts Options) (*dna.Artifact, Stats) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	b := &builder{
		artifact: dna.New(),
		index:    make(map[dna.PoolKey]int),
	}

	for _, lines := range splitBlocks(text) {
		if len(lines) < 2 {
			continue
		}
		b.stats.Blocks++

		header, err := ParseHeader(lines[0])
		if err != nil {
			b.stats.SkippedBlocks++
			logging.Warn("Skipping master table block %d: %v", b.stats.Blocks, err)
			continue
		}
		base := baseRecord(header, opts, now)

		for _, token := range splitTokens(lines[1:]) {
			b.stats.Tokens++
			entry, err := ParsePrefixToken(token)
			if err != nil {
				b.stats.SkippedTokens++
				logging.Warn("Skipping prefix in %s: %v", header.Name, err)
				continue
			}
			b.add(base, entry)
		}
		logging.Debug("Compiled %s (%s): pool=%d", header.Name, header.PrimaryPrefix, len(b.artifact.Pool))
	}

	b.stats.PoolSize = len(b.artifact.Pool)
	b.stats.Nodes = b.artifact.NodeCount()
	return b.artifact, b.stats
}

// add inserts one prefix entry derived from base.
func (b *builder) add(base dna.EntityRecord, entry PrefixEntry) {
	rec := base
	if entry.HasCQ {
		rec.CQ = entry.CQ
	}
	if entry.HasITU {
		rec.ITU = entry.ITU
	}
	idx := b.poolIndex(rec)
	override := rec.IsAlias()
	if override {
		b.stats.Overrides++
	}
	b.artifact.Root.Insert(entry.Path(), idx, override)
}

// baseRecord builds the entity defaults for a block header.
func baseRecord(h Header, opts Options, now time.Time) dna.EntityRecord {
	rec := dna.EntityRecord{
		Entity:    h.Name,
		EntityID:  opts.Prefixes.Lookup(h.PrimaryPrefix),
		Prefix:    h.PrimaryPrefix,
		Country:   dna.UnknownCountry,
		CQ:        h.CQ,
		ITU:       h.ITU,
		Continent: h.Continent,
		Lat:       h.Lat,
		Long:      h.Long,
		UTC:       h.UTC,
	}
	if info := opts.Entities.Resolve(rec.EntityID, now); info.Found {
		rec.Country = info.Country
		rec.Flag = info.Flag
	}
	return rec
}
