package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user00265/ctydna/internal/dna"
	"github.com/user00265/ctydna/internal/logging"
	"github.com/user00265/ctydna/internal/lookup"
)

// finder is satisfied by both lookup.Resolver and lookup.Cached.
type finder interface {
	Find(callsign string, mode lookup.Mode) (*dna.EntityRecord, bool)
}

// lookupResult is one line of --json output.
type lookupResult struct {
	Callsign string            `json:"callsign"`
	Found    bool              `json:"found"`
	Record   *dna.EntityRecord `json:"record,omitempty"`
}

func (a *app) newLookupCmd() *cobra.Command {
	var modeName, artifactPath string
	var asJSON, stripMarkers bool
	cmd := &cobra.Command{
		Use:   "lookup [CALLSIGN...]",
		Short: "Resolve callsigns to DXCC entities (reads stdin when no callsigns are given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := lookup.ParseMode(modeName)
			if err != nil {
				return err
			}
			if artifactPath == "" {
				artifactPath = a.cfg.ArtifactPath
			}
			artifact, err := a.loadArtifact(artifactPath)
			if err != nil {
				return err
			}

			var f finder = lookup.New(artifact)
			if a.cfg.LookupCacheSize > 0 {
				cached, err := lookup.NewCached(lookup.New(artifact), a.cfg.LookupCacheSize)
				if err != nil {
					return err
				}
				f = cached
			}

			out := bufio.NewWriter(a.stdout)
			defer out.Flush()
			emit := func(call string) error {
				if stripMarkers {
					call = lookup.StripMarkers(call)
				}
				return writeResult(out, f, call, mode, asJSON)
			}
			if len(args) > 0 {
				for _, call := range args {
					if err := emit(call); err != nil {
						return err
					}
				}
				return nil
			}
			return eachLine(a.stdin, emit)
		},
	}
	cmd.Flags().StringVar(&modeName, "mode", "cq", "entity list to follow: cq (contest) or arrl (administrative)")
	cmd.Flags().StringVar(&artifactPath, "artifact", "", "artifact JSON to load (default ARTIFACT_PATH)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print one JSON object per callsign")
	cmd.Flags().BoolVar(&stripMarkers, "strip-markers", false, "remove skimmer markers such as \"-#\" before resolving")
	return cmd
}

// loadArtifact reads a compiled artifact, compiling the sources when the
// file does not exist yet.
func (a *app) loadArtifact(path string) (*dna.Artifact, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		logging.Warn("Artifact %s not found; compiling from %s", path, a.cfg.CtyDatPath)
		res, _, err := a.compile()
		if err != nil {
			return nil, err
		}
		return res.artifact, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact %s: %w", path, err)
	}
	var artifact dna.Artifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("failed to load artifact %s: %w", path, err)
	}
	return &artifact, nil
}

func writeResult(w io.Writer, f finder, call string, mode lookup.Mode, asJSON bool) error {
	rec, ok := f.Find(call, mode)
	call = strings.ToUpper(strings.TrimSpace(call))
	if asJSON {
		line, err := json.Marshal(lookupResult{Callsign: call, Found: ok, Record: rec})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", line)
		return err
	}
	if !ok {
		_, err := fmt.Fprintf(w, "%s\tnot found\n", call)
		return err
	}
	_, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\tcq=%d\titu=%d\t%s\n",
		call, rec.Entity, rec.Prefix, rec.Country, rec.CQ, rec.ITU, rec.Continent)
	return err
}

// eachLine calls fn for every non-empty, non-comment line of r.
func eachLine(r io.Reader, fn func(string) error) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read callsigns: %w", err)
	}
	return nil
}
