package compiler

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/user00265/ctydna/internal/dna"
	"github.com/user00265/ctydna/internal/metadata"
)

const testland = `Testland: 1: 1: EU: 0.0: 0.0: 0.0: T1:
    T1,T2(5);
`

const italySicily = `Italy:                    15:  28:  EU:   42.82:   -12.58:    -1.0:  I:
    I,IA,IB,IC,ID,IE,IF,II,IJ,IK,IL,IM,IN,IO,IP,IQ,IR,IS,IU,IV,IW,IX,IY,IZ,
    =IY0GA(33)[37],IT9<37.5/-14.0>{EU}~-1.0~;
Sicily:                   15:  28:  EU:   37.50:   -14.00:    -1.0:  *IG9:
    IB9,ID9,IE9,IF9,II9,IJ9,IO9,IQ9,IR9,IT9,IU9,IW9,IY9;
`

var compileDate = time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)

func testOptions() Options {
	return Options{
		Prefixes: metadata.PrefixMap{"I": 248},
		Entities: &metadata.Table{Entities: []metadata.Entity{
			{EntityCode: 248, CountryCode: "IT", Flag: "🇮🇹"},
		}},
		Now: compileDate,
	}
}

func standardAt(t *testing.T, a *dna.Artifact, path string) dna.EntityRecord {
	t.Helper()
	node := a.Root
	for i := 0; i < len(path); i++ {
		if node = node.Child(path[i]); node == nil {
			t.Fatalf("missing node for %q", path[:i+1])
		}
	}
	idx, ok := node.Standard()
	if !ok {
		t.Fatalf("no standard reference at %q", path)
	}
	return a.Pool[idx]
}

func TestParseHeader(t *testing.T) {
	h, err := ParseHeader("Sov Mil Order of Malta:   15:  28:  EU:   41.90:   -12.43:    -1.0:  1A:")
	if err != nil {
		t.Fatalf("ParseHeader failed: %v", err)
	}
	want := Header{
		Name: "Sov Mil Order of Malta", CQ: 15, ITU: 28, Continent: "EU",
		Lat: 41.90, Long: -12.43, UTC: -1, PrimaryPrefix: "1A",
	}
	if h != want {
		t.Errorf("ParseHeader = %+v, want %+v", h, want)
	}

	offsets := []struct {
		line string
		want int
	}{
		{"India: 22: 41: AS: 22.50: -77.58: -5.5: VU:", -5},
		{"Nepal: 22: 42: AS: 27.70: -85.33: -5.75: 9N:", -5},
		{"Marquesas: 31: 63: OC: -9.00: 139.50: 9.5: FO:", 9},
		{"Chatham: 32: 60: OC: -43.85: 176.48: -12.75: ZL7:", -12},
	}
	for _, tt := range offsets {
		h, err := ParseHeader(tt.line)
		if err != nil {
			t.Fatalf("ParseHeader(%q) failed: %v", tt.line, err)
		}
		if h.UTC != tt.want {
			t.Errorf("ParseHeader(%q).UTC = %d, want %d", tt.line, h.UTC, tt.want)
		}
	}

	bad := []string{
		"Short: 1: 2: EU:",
		"Bad CQ: x: 1: EU: 0: 0: 0: B:",
		"Bad lat: 1: 1: EU: north: 0: 0: B:",
		"Bad UTC: 1: 1: EU: 0: 0: soon: B:",
		": 1: 1: EU: 0: 0: 0: B:",
		"No prefix: 1: 1: EU: 0: 0: 0: :",
	}
	for _, line := range bad {
		if _, err := ParseHeader(line); err == nil {
			t.Errorf("ParseHeader(%q) succeeded, want error", line)
		}
	}
}

func TestParsePrefixToken(t *testing.T) {
	tests := []struct {
		token string
		want  PrefixEntry
	}{
		{"T1", PrefixEntry{Prefix: "T1"}},
		{" t2(5) ", PrefixEntry{Prefix: "T2", CQ: 5, HasCQ: true}},
		{"=VE3XYZ(4)[9]", PrefixEntry{Prefix: "VE3XYZ", CQ: 4, HasCQ: true, ITU: 9, HasITU: true, Exact: true}},
		{"AA<41.0/-74.0>{NA}~5.0~", PrefixEntry{Prefix: "AA"}},
		{"=KG4AB/P[11]", PrefixEntry{Prefix: "KG4AB/P", ITU: 11, HasITU: true, Exact: true}},
	}
	for _, tt := range tests {
		got, err := ParsePrefixToken(tt.token)
		if err != nil {
			t.Fatalf("ParsePrefixToken(%q) failed: %v", tt.token, err)
		}
		if got != tt.want {
			t.Errorf("ParsePrefixToken(%q) = %+v, want %+v", tt.token, got, tt.want)
		}
	}
	if got := (PrefixEntry{Prefix: "VE3XYZ", Exact: true}).Path(); got != "=VE3XYZ" {
		t.Errorf("Path() = %q, want =VE3XYZ", got)
	}

	for _, token := range []string{"", "(5)", "=", "K-1", "A=B", "Ä1"} {
		if _, err := ParsePrefixToken(token); err == nil {
			t.Errorf("ParsePrefixToken(%q) succeeded, want error", token)
		}
	}
}

func TestCompile_Testland(t *testing.T) {
	a, stats := Compile(testland, Options{Now: compileDate})

	if len(a.Pool) != 2 {
		t.Fatalf("pool size = %d, want 2", len(a.Pool))
	}
	t1 := standardAt(t, a, "T1")
	if t1.Entity != "Testland" || t1.CQ != 1 {
		t.Errorf("T1 = %+v, want Testland in CQ 1", t1)
	}
	if t1.Country != dna.UnknownCountry || t1.EntityID != 0 || t1.Flag != "" {
		t.Errorf("T1 metadata = (%q, %d, %q), want unknown", t1.Country, t1.EntityID, t1.Flag)
	}
	if cq := standardAt(t, a, "T2").CQ; cq != 5 {
		t.Errorf("T2 CQ = %d, want 5", cq)
	}

	want := Stats{Blocks: 1, Tokens: 2, PoolSize: 2, Nodes: 4}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}
}

func TestCompile_TruncatesUTCOffset(t *testing.T) {
	a, _ := Compile("India: 22: 41: AS: 22.50: -77.58: -5.5: VU:\n    VU,=VU2XYZ(21);", Options{Now: compileDate})
	for _, path := range []string{"VU", "=VU2XYZ"} {
		if rec := standardAt(t, a, path); rec.UTC != -5 {
			t.Errorf("%s UTC = %d, want -5", path, rec.UTC)
		}
	}

	var js strings.Builder
	if err := a.WriteJSModule(&js); err != nil {
		t.Fatalf("WriteJSModule failed: %v", err)
	}
	if !strings.Contains(js.String(), `"utc":-5,`) {
		t.Errorf("artifact does not carry an integer offset: %s", js.String())
	}
}

func TestCompile_MetadataAndDedup(t *testing.T) {
	a, stats := Compile(italySicily, testOptions())

	italy := standardAt(t, a, "IZ")
	if italy.EntityID != 248 || italy.Country != "IT" || italy.Flag != "🇮🇹" || italy.Prefix != "I" {
		t.Errorf("IZ = %+v, want Italy with metadata", italy)
	}

	// Italy default, Italy zone-overridden exact entry, Sicily.
	if len(a.Pool) != 3 {
		t.Errorf("pool size = %d, want 3", len(a.Pool))
	}
	seen := make(map[dna.PoolKey]bool)
	for _, rec := range a.Pool {
		if seen[rec.Key()] {
			t.Errorf("duplicate pool key %+v", rec.Key())
		}
		seen[rec.Key()] = true
	}

	exact := standardAt(t, a, "=IY0GA")
	if exact.CQ != 33 || exact.ITU != 37 {
		t.Errorf("=IY0GA zones = %d/%d, want 33/37", exact.CQ, exact.ITU)
	}
	if a.Root.Child('I').Child('Y').Child('0') != nil {
		t.Error("exact entries must live under the = edge only")
	}

	// IT9 is listed in both blocks: Italy takes the standard slot and the
	// contest-only Sicily record takes the override slot.
	it9 := a.Root.Child('I').Child('T').Child('9')
	if it9 == nil {
		t.Fatal("missing IT9 node")
	}
	if std, ok := it9.Standard(); !ok || a.Pool[std].Entity != "Italy" {
		t.Errorf("IT9 standard slot = %d (%t), want Italy", std, ok)
	}
	ovr, ok := it9.Override()
	if !ok {
		t.Fatal("IT9 has no override slot")
	}
	if rec := a.Pool[ovr]; rec.Entity != "Sicily" || rec.Prefix != "*IG9" {
		t.Errorf("IT9 override = %+v, want Sicily *IG9", rec)
	}
	if _, ok := a.Root.Child('I').Child('B').Child('9').Standard(); ok {
		t.Error("alias prefixes must never fill the standard slot")
	}

	if stats.Overrides != 13 || stats.Blocks != 2 {
		t.Errorf("stats = %+v, want 13 overrides in 2 blocks", stats)
	}
	if err := a.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestCompile_SkipsMalformed(t *testing.T) {
	text := "Broken: 1: EU:\n    B1,B2;\n" + testland + "Lonely: 1: 1: EU: 0: 0: 0: L:;\n" +
		"Odd: 2: 2: EU: 0.0: 0.0: 0.0: O:\n    O1,O-2,O3;"
	a, stats := Compile(text, Options{Now: compileDate})

	// Single-line blocks are not counted.
	if stats.Blocks != 3 || stats.SkippedBlocks != 1 || stats.SkippedTokens != 1 {
		t.Errorf("stats = %+v, want 3 blocks, 1 skipped block, 1 skipped token", stats)
	}
	if a.Root.Child('B') != nil || a.Root.Child('L') != nil {
		t.Error("skipped blocks must not reach the trie")
	}
	if cq := standardAt(t, a, "T2").CQ; cq != 5 {
		t.Errorf("T2 CQ = %d, want 5", cq)
	}
	standardAt(t, a, "O3")
}

func TestCompile_Deterministic(t *testing.T) {
	first, _ := Compile(italySicily+testland, testOptions())
	second, _ := Compile(italySicily+testland, testOptions())
	if !reflect.DeepEqual(first.Pool, second.Pool) {
		t.Error("pools differ between identical compilations")
	}

	var a, b strings.Builder
	if err := first.WriteJSModule(&a); err != nil {
		t.Fatal(err)
	}
	if err := second.WriteJSModule(&b); err != nil {
		t.Fatal(err)
	}
	if a.String() != b.String() {
		t.Error("artifact encodings differ between identical compilations")
	}
}

func TestCompile_Empty(t *testing.T) {
	a, stats := Compile("", Options{})
	if len(a.Pool) != 0 || stats.Nodes != 1 {
		t.Errorf("empty compile = pool %d, nodes %d; want 0 and 1", len(a.Pool), stats.Nodes)
	}
}

func TestCompileFiles(t *testing.T) {
	dir := t.TempDir()
	p := Paths{
		CtyDat:   filepath.Join(dir, "cty.dat"),
		CtyPlist: filepath.Join(dir, "cty.plist"),
		DXCCJSON: filepath.Join(dir, "dxcc.json"),
	}

	if _, _, _, err := CompileFiles(p, compileDate); err == nil {
		t.Fatal("expected an error without a master table")
	}

	writeFile(t, p.CtyDat, italySicily)
	a, stats, in, err := CompileFiles(p, compileDate)
	if err != nil {
		t.Fatalf("missing metadata should only degrade records: %v", err)
	}
	if stats.PoolSize != 3 {
		t.Errorf("pool size = %d, want 3", stats.PoolSize)
	}
	if a.Pool[0].Country != dna.UnknownCountry {
		t.Errorf("country = %q, want %q", a.Pool[0].Country, dna.UnknownCountry)
	}
	if in.Checksum != dna.Checksum([]byte(italySicily)) {
		t.Errorf("checksum = %s, want the master file's sha256", in.Checksum)
	}

	writeFile(t, p.DXCCJSON, `{"dxcc":[{"entityCode":248,"countryCode":"IT"}]}`)
	writeFile(t, p.CtyPlist, `<?xml version="1.0" encoding="UTF-8"?>
<plist version="1.0"><dict>
<key>I</key><dict><key>Prefix</key><string>I</string><key>ADIF</key><integer>248</integer></dict>
</dict></plist>`)
	a, _, _, err = CompileFiles(p, compileDate)
	if err != nil {
		t.Fatalf("CompileFiles failed: %v", err)
	}
	if rec := a.Pool[0]; rec.EntityID != 248 || rec.Country != "IT" || rec.Flag != "🇮🇹" {
		t.Errorf("Italy = %+v, want ADIF 248 in IT with a derived flag", rec)
	}

	writeFile(t, p.DXCCJSON, `{"dxcc":`)
	if _, _, _, err := CompileFiles(p, compileDate); err == nil {
		t.Error("malformed metadata must be an error")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}
