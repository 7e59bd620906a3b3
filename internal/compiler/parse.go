package compiler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/user00265/ctydna/internal/dna"
)

// headerFields is the number of ':'-separated fields in a block header.
const headerFields = 8

var (
	cqOverride  = regexp.MustCompile(`\((\d+)\)`)
	ituOverride = regexp.MustCompile(`\[(\d+)\]`)
	// annotations covers zone overrides plus the lat/long <..>, continent
	// {..} and UTC offset ~..~ hints, none of which are modeled per prefix.
	annotations = regexp.MustCompile(`\(\d+\)|\[\d+\]|<[^>]*>|\{[^}]*\}|~[^~]*~`)
)

// Header is the first line of a master-table block.
type Header struct {
	Name          string
	CQ            int
	ITU           int
	Continent     string
	Lat           float64
	Long          float64
	UTC           int
	PrimaryPrefix string
}

// ParseHeader parses "name:cq:itu:cont:lat:long:utc:prefix:".
func ParseHeader(line string) (Header, error) {
	fields := strings.Split(line, ":")
	if len(fields) < headerFields {
		return Header{}, fmt.Errorf("header has %d fields, want %d", len(fields), headerFields)
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	h := Header{
		Name:          fields[0],
		Continent:     fields[3],
		PrimaryPrefix: fields[7],
	}
	if h.Name == "" {
		return Header{}, fmt.Errorf("header has an empty entity name")
	}
	if h.PrimaryPrefix == "" {
		return Header{}, fmt.Errorf("entity %q has an empty primary prefix", h.Name)
	}

	var err error
	if h.CQ, err = strconv.Atoi(fields[1]); err != nil {
		return Header{}, fmt.Errorf("entity %q: bad CQ zone %q: %w", h.Name, fields[1], err)
	}
	if h.ITU, err = strconv.Atoi(fields[2]); err != nil {
		return Header{}, fmt.Errorf("entity %q: bad ITU zone %q: %w", h.Name, fields[2], err)
	}
	if h.Lat, err = strconv.ParseFloat(fields[4], 64); err != nil {
		return Header{}, fmt.Errorf("entity %q: bad latitude %q: %w", h.Name, fields[4], err)
	}
	if h.Long, err = strconv.ParseFloat(fields[5], 64); err != nil {
		return Header{}, fmt.Errorf("entity %q: bad longitude %q: %w", h.Name, fields[5], err)
	}
	// Offsets are whole hours in the artifact; -5.5 becomes -5.
	utc, err := strconv.ParseFloat(fields[6], 64)
	if err != nil {
		return Header{}, fmt.Errorf("entity %q: bad UTC offset %q: %w", h.Name, fields[6], err)
	}
	h.UTC = int(utc)
	return h, nil
}

// PrefixEntry is one token of a block's prefix list after annotation
// stripping.
type PrefixEntry struct {
	Prefix string
	CQ     int
	HasCQ  bool
	ITU    int
	HasITU bool
	Exact  bool
}

// Path returns the trie path for the entry: exact entries live under the
// root's '=' edge.
func (e PrefixEntry) Path() string {
	if e.Exact {
		return dna.ExactMarker + e.Prefix
	}
	return e.Prefix
}

// ParsePrefixToken parses a token such as "=VE3XYZ(4)[9]" or "AA<41.0/-74.0>".
// It fails for empty tokens and for prefixes outside the callsign alphabet.
func ParsePrefixToken(token string) (PrefixEntry, error) {
	raw := strings.TrimSpace(token)
	var e PrefixEntry

	if m := cqOverride.FindStringSubmatch(raw); m != nil {
		zone, err := strconv.Atoi(m[1])
		if err != nil {
			return PrefixEntry{}, fmt.Errorf("token %q: bad CQ override: %w", raw, err)
		}
		e.CQ, e.HasCQ = zone, true
	}
	if m := ituOverride.FindStringSubmatch(raw); m != nil {
		zone, err := strconv.Atoi(m[1])
		if err != nil {
			return PrefixEntry{}, fmt.Errorf("token %q: bad ITU override: %w", raw, err)
		}
		e.ITU, e.HasITU = zone, true
	}

	clean := strings.ToUpper(strings.TrimSpace(annotations.ReplaceAllString(raw, "")))
	if strings.HasPrefix(clean, dna.ExactMarker) {
		e.Exact = true
		clean = clean[len(dna.ExactMarker):]
	}
	if clean == "" {
		return PrefixEntry{}, fmt.Errorf("token %q has no prefix", raw)
	}
	for i := 0; i < len(clean); i++ {
		if c := clean[i]; !dna.IsTrieByte(c) || c == dna.ExactMarker[0] {
			return PrefixEntry{}, fmt.Errorf("token %q: character %q is not valid in a callsign", raw, c)
		}
	}
	e.Prefix = clean
	return e, nil
}

// splitBlocks splits master text into blocks of trimmed, non-empty lines.
func splitBlocks(text string) [][]string {
	raw := strings.Split(text, ";")
	blocks := make([][]string, 0, len(raw))
	for _, block := range raw {
		var lines []string
		for _, line := range strings.Split(block, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				lines = append(lines, line)
			}
		}
		blocks = append(blocks, lines)
	}
	return blocks
}

// splitTokens joins a block's prefix lines and splits them on ','. Lines
// in the table end with ',' so joining without a separator keeps tokens whole.
func splitTokens(lines []string) []string {
	var tokens []string
	for _, tok := range strings.Split(strings.Join(lines, ""), ",") {
		if tok = strings.TrimSpace(tok); tok != "" {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}
