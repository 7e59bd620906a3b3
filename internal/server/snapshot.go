package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/user00265/ctydna/internal/dna"
)

// Origins of a snapshot, reported by /stats.
const (
	OriginRedis   = "redis"
	OriginStore   = "sqlite"
	OriginCompile = "compile"
	OriginFile    = "file"
)

// Snapshot is one loaded artifact together with its pre-rendered encodings.
// It is immutable once built.
type Snapshot struct {
	Artifact *dna.Artifact
	JSON     []byte
	JS       []byte
	ETag     string
	JSETag   string
	BuiltAt  time.Time
	Origin   string
}

// NewSnapshot renders a's JSON and ES module encodings.
func NewSnapshot(a *dna.Artifact, builtAt time.Time, origin string) (*Snapshot, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("failed to encode artifact: %w", err)
	}
	return newSnapshot(a, data, builtAt, origin)
}

// SnapshotFromJSON decodes and validates an encoded artifact.
func SnapshotFromJSON(data []byte, builtAt time.Time, origin string) (*Snapshot, error) {
	var a dna.Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to decode %s artifact: %w", origin, err)
	}
	return newSnapshot(&a, data, builtAt, origin)
}

func newSnapshot(a *dna.Artifact, data []byte, builtAt time.Time, origin string) (*Snapshot, error) {
	var js bytes.Buffer
	if err := a.WriteJSModule(&js); err != nil {
		return nil, fmt.Errorf("failed to render artifact module: %w", err)
	}
	return &Snapshot{
		Artifact: a,
		JSON:     data,
		JS:       js.Bytes(),
		ETag:     `"` + dna.Checksum(data) + `"`,
		JSETag:   `"` + dna.Checksum(js.Bytes()) + `"`,
		BuiltAt:  builtAt,
		Origin:   origin,
	}, nil
}
