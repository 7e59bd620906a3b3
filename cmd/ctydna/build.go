package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/user00265/ctydna/internal/compiler"
	"github.com/user00265/ctydna/internal/config"
	"github.com/user00265/ctydna/internal/db"
	"github.com/user00265/ctydna/internal/dna"
	"github.com/user00265/ctydna/internal/logging"
	"github.com/user00265/ctydna/internal/redisclient"
	"github.com/user00265/ctydna/internal/source"
	"github.com/user00265/ctydna/internal/store"
)

func (a *app) newFetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Download cty.dat, cty.plist and dxcc.json into the data directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.fetch(cmd.Context())
		},
	}
}

func (a *app) fetch(ctx context.Context) error {
	downloads := source.Downloads(*a.cfg)
	if err := source.NewFetcher(*a.cfg).FetchAll(ctx, downloads); err != nil {
		return err
	}

	st, closeStore, err := a.openStore()
	if err != nil {
		logging.Warn("Download history not recorded: %v", err)
		return nil
	}
	defer closeStore()
	for _, d := range downloads {
		info, err := os.Stat(d.Path)
		if err != nil {
			continue
		}
		if err := st.RecordDownload(ctx, d.Name, d.URL, int(info.Size())); err != nil {
			logging.Warn("%v", err)
		}
	}
	return nil
}

func (a *app) newBuildCmd() *cobra.Command {
	var fetchFirst, publish, noStore bool
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Compile the master table into the JSON and JS artifacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if fetchFirst {
				if err := a.fetch(ctx); err != nil {
					return err
				}
			}
			res, err := a.build(ctx, !noStore)
			if err != nil {
				return err
			}
			// With Redis enabled every build is published, so serve never
			// prefers a stale Redis artifact over the newest build.
			if !publish && !a.cfg.Redis.Enabled {
				return nil
			}
			if err := a.publish(ctx, res.json); err != nil {
				if publish {
					return err
				}
				logging.Warn("Build not published to Redis: %v", err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&fetchFirst, "fetch", false, "download the sources before compiling")
	cmd.Flags().BoolVar(&publish, "publish", false, "fail unless the artifact is published to Redis (requires REDIS_ENABLED; enabled Redis is always published to)")
	cmd.Flags().BoolVar(&noStore, "no-store", false, "do not record the build in the SQLite history")
	return cmd
}

// buildResult is a compiled artifact with its JSON encoding.
type buildResult struct {
	artifact *dna.Artifact
	json     []byte
	stats    compiler.Stats
	builtAt  time.Time
}

// compile compiles the configured source files.
func (a *app) compile() (*buildResult, string, error) {
	builtAt := time.Now()
	artifact, stats, in, err := compiler.CompileFiles(compiler.Paths{
		CtyDat:   a.cfg.CtyDatPath,
		CtyPlist: a.cfg.CtyPlistPath,
		DXCCJSON: a.cfg.DXCCJSONPath,
	}, builtAt)
	if err != nil {
		return nil, "", err
	}
	data, err := json.Marshal(artifact)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode artifact: %w", err)
	}
	return &buildResult{artifact: artifact, json: data, stats: stats, builtAt: builtAt}, in.Checksum, nil
}

// build compiles, writes both artifact files and optionally records the build.
func (a *app) build(ctx context.Context, record bool) (*buildResult, error) {
	res, checksum, err := a.compile()
	if err != nil {
		return nil, err
	}

	if err := source.WriteFile(a.cfg.ArtifactPath, res.json); err != nil {
		return nil, err
	}
	var js bytes.Buffer
	if err := res.artifact.WriteJSModule(&js); err != nil {
		return nil, fmt.Errorf("failed to render artifact module: %w", err)
	}
	if err := source.WriteFile(a.cfg.ArtifactJSPath(), js.Bytes()); err != nil {
		return nil, err
	}
	logging.Notice("Wrote %s and %s", a.cfg.ArtifactPath, a.cfg.ArtifactJSPath())

	if !record {
		return res, nil
	}
	st, closeStore, err := a.openStore()
	if err != nil {
		return nil, err
	}
	defer closeStore()
	if fetched, err := st.GetLastUpdate(ctx, config.CtyDatFileName); err == nil && !fetched.IsZero() {
		logging.Info("Master table last fetched %s ago", time.Since(fetched).Round(time.Second))
	}
	id, err := st.SaveBuild(ctx, store.Build{
		BuiltAt:       res.builtAt,
		SourceSHA256:  checksum,
		PoolSize:      res.stats.PoolSize,
		NodeCount:     res.stats.Nodes,
		SkippedBlocks: res.stats.SkippedBlocks,
		Artifact:      res.json,
	})
	if err != nil {
		return nil, err
	}
	pruned, err := st.PruneBuilds(ctx, a.cfg.KeepBuilds)
	if err != nil {
		logging.Warn("%v", err)
	}
	logging.Info("Recorded build %d (pruned %d old builds)", id, pruned)
	return res, nil
}

// publish pushes the artifact JSON to Redis.
func (a *app) publish(ctx context.Context, data []byte) error {
	rdb, err := redisclient.NewClient(ctx, a.cfg.Redis)
	if err != nil {
		return err
	}
	if rdb == nil {
		return fmt.Errorf("cannot publish: REDIS_ENABLED is false")
	}
	defer rdb.Close()
	if err := rdb.PublishArtifact(ctx, a.cfg.Redis.ArtifactKey, data, a.cfg.Redis.ArtifactTTL); err != nil {
		return err
	}
	logging.Info("Published artifact (%d bytes) to Redis key %s", len(data), a.cfg.Redis.ArtifactKey)
	return nil
}

// openStore opens the build history in the data directory.
func (a *app) openStore() (*store.Store, func(), error) {
	client, err := db.NewSQLiteClient(a.cfg.DataDir, db.DefaultDBName)
	if err != nil {
		return nil, nil, err
	}
	st, err := store.New(client)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return st, func() {
		if err := client.Close(); err != nil {
			logging.Error("Error closing build database: %v", err)
		}
	}, nil
}
