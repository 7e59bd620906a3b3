// Package metadata loads the auxiliary tables the compiler needs besides the
// master prefix file: the primary-prefix to ADIF map (cty.plist) and the
// per-entity ISO country code, flag and validity window (dxcc.json).
package metadata

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/blacktop/go-plist"
)

// NotApplicableCountry is the ISO placeholder used for entities with no
// country (e.g. international waters, disputed territories).
const NotApplicableCountry = "ZZ"

// PrefixMap maps a canonical primary prefix (as written in cty.dat, alias
// marker included) to its ADIF entity code.
type PrefixMap map[string]int

// plistEntry is one value of the cty.plist top-level dictionary.
type plistEntry struct {
	Country       string  `plist:"Country"`
	Prefix        string  `plist:"Prefix"`
	ADIF          int     `plist:"ADIF"`
	CQZone        int     `plist:"CQZone"`
	ITUZone       int     `plist:"ITUZone"`
	Continent     string  `plist:"Continent"`
	Latitude      float64 `plist:"Latitude"`
	Longitude     float64 `plist:"Longitude"`
	GMTOffset     float64 `plist:"GMTOffset"`
	ExactCallsign bool    `plist:"ExactCallsign"`
}

// LoadPrefixMap decodes a cty.plist document. Entries without an ADIF code
// (contest-only entities) are skipped.
func LoadPrefixMap(r io.ReadSeeker) (PrefixMap, error) {
	var raw map[string]plistEntry
	if err := plist.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode cty.plist: %w", err)
	}
	prefixes := make(PrefixMap, len(raw))
	for _, entry := range raw {
		if entry.ADIF == 0 || entry.Prefix == "" {
			continue
		}
		prefixes[strings.TrimSpace(entry.Prefix)] = entry.ADIF
	}
	return prefixes, nil
}

// Lookup returns the ADIF code for a primary prefix, ignoring a leading
// exact-match marker. Unknown prefixes yield 0.
func (p PrefixMap) Lookup(primaryPrefix string) int {
	return p[strings.TrimPrefix(strings.TrimSpace(primaryPrefix), "=")]
}

// Entity is one row of dxcc.json.
type Entity struct {
	EntityCode  int      `json:"entityCode"`
	Name        string   `json:"name"`
	CountryCode string   `json:"countryCode"`
	Flag        string   `json:"flag"`
	Prefix      string   `json:"prefix"`
	Continent   []string `json:"continent"`
	Deleted     bool     `json:"deleted"`
	ValidStart  string   `json:"validStart"`
	ValidEnd    string   `json:"validEnd"`
}

// Table is the entity metadata table, in file order.
type Table struct {
	Entities []Entity
}

// LoadEntities decodes a dxcc.json document ({"dxcc":[...]}).
func LoadEntities(r io.Reader) (*Table, error) {
	var doc struct {
		DXCC []Entity `json:"dxcc"`
	}
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode dxcc.json: %w", err)
	}
	return &Table{Entities: doc.DXCC}, nil
}

// Info is the resolved country information for one entity.
type Info struct {
	Country string
	Flag    string
	Found   bool
}

// Resolve returns the country code and flag for adif as of now. The first
// entity row with a matching code whose validity has not ended before now
// wins. No match, or the not-applicable code, yields Found=false with an
// empty country and flag; callers substitute their own unknown marker.
func (t *Table) Resolve(adif int, now time.Time) Info {
	if t == nil || adif == 0 {
		return Info{}
	}
	for _, e := range t.Entities {
		if e.EntityCode != adif {
			continue
		}
		if end, ok := ParseDate(e.ValidEnd); ok && end.Before(now) {
			continue
		}
		if e.CountryCode == "" || e.CountryCode == NotApplicableCountry {
			return Info{}
		}
		flag := e.Flag
		if flag == "" {
			flag = FlagFromISO(e.CountryCode)
		}
		return Info{Country: e.CountryCode, Flag: flag, Found: true}
	}
	return Info{}
}

// dateLayouts are the validity formats seen in dxcc.json revisions.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDate parses a validity timestamp. Empty or unparseable values report false.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FlagFromISO builds the regional-indicator emoji for a two-letter ISO code.
func FlagFromISO(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if utf8.RuneCountInString(code) != 2 {
		return ""
	}
	var b strings.Builder
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return ""
		}
		b.WriteRune(0x1F1E6 + (r - 'A'))
	}
	return b.String()
}
