package compiler

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/user00265/ctydna/internal/dna"
	"github.com/user00265/ctydna/internal/logging"
	"github.com/user00265/ctydna/internal/metadata"
	"github.com/user00265/ctydna/internal/source"
)

// Paths locates the three input files on disk.
type Paths struct {
	CtyDat   string
	CtyPlist string
	DXCCJSON string
}

// Inputs is the decoded content of Paths.
type Inputs struct {
	Master   string
	Prefixes metadata.PrefixMap
	Entities *metadata.Table
	// Checksum is the sha256 of the raw master file.
	Checksum string
}

// LoadInputs reads the master table and both metadata files. The master file
// is required; a missing metadata file is logged and compilation continues
// with degraded records (entity_id 0, unknown country).
func LoadInputs(p Paths) (*Inputs, error) {
	raw, err := os.ReadFile(p.CtyDat)
	if err != nil {
		return nil, fmt.Errorf("failed to read master table %s: %w", p.CtyDat, err)
	}
	master, err := source.DecodeText(raw, "")
	if err != nil {
		return nil, fmt.Errorf("failed to decode master table %s: %w", p.CtyDat, err)
	}
	in := &Inputs{Master: master, Checksum: dna.Checksum(raw)}

	if data, ok, err := readOptional(p.CtyPlist); err != nil {
		return nil, err
	} else if ok {
		if in.Prefixes, err = metadata.LoadPrefixMap(bytes.NewReader(data)); err != nil {
			return nil, err
		}
		logging.Debug("Loaded %d prefix to ADIF mappings from %s", len(in.Prefixes), p.CtyPlist)
	}

	if data, ok, err := readOptional(p.DXCCJSON); err != nil {
		return nil, err
	} else if ok {
		if in.Entities, err = metadata.LoadEntities(bytes.NewReader(data)); err != nil {
			return nil, err
		}
		logging.Debug("Loaded %d entity metadata rows from %s", len(in.Entities.Entities), p.DXCCJSON)
	}
	return in, nil
}

// readOptional reads path, reporting ok=false when it does not exist.
func readOptional(path string) ([]byte, bool, error) {
	if path == "" {
		return nil, false, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		logging.Warn("Metadata file %s not found, continuing without it", path)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, true, nil
}

// CompileFiles loads p and compiles it as of now.
func CompileFiles(p Paths, now time.Time) (*dna.Artifact, Stats, *Inputs, error) {
	in, err := LoadInputs(p)
	if err != nil {
		return nil, Stats{}, nil, err
	}
	artifact, stats := Compile(in.Master, Options{
		Prefixes: in.Prefixes,
		Entities: in.Entities,
		Now:      now,
	})
	logging.Info("DNA built with %d unique entities (%d trie nodes, %d blocks skipped)",
		stats.PoolSize, stats.Nodes, stats.SkippedBlocks)
	return artifact, stats, in, nil
}
