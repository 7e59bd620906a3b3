package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/user00265/ctydna/internal/logging"
	"github.com/user00265/ctydna/internal/redisclient"
	"github.com/user00265/ctydna/internal/server"
	"github.com/user00265/ctydna/internal/store"
)

const shutdownTimeout = 10 * time.Second

func (a *app) newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the compiled artifact over HTTP (SIGHUP recompiles)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rdb, err := redisclient.NewClient(ctx, a.cfg.Redis)
	if err != nil {
		logging.Error("Redis unavailable, continuing without it: %v", err)
	}
	defer func() {
		if rdb != nil {
			rdb.Close()
		}
	}()

	st, closeStore, err := a.openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	snap, err := a.loadSnapshot(ctx, rdb, st)
	if err != nil {
		return err
	}
	srv := server.New(st)
	srv.Swap(snap)

	gin.SetMode(gin.ReleaseMode)
	router := server.NewRouter(a.cfg)
	srv.SetupRoutes(router.Group(a.cfg.BaseURL))

	listener, err := net.Listen("tcp", net.JoinHostPort("0.0.0.0", strconv.Itoa(a.cfg.WebPort)))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", a.cfg.WebPort, err)
	}
	httpSrv := &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}
	serveErr := make(chan error, 1)
	go func() {
		if err := httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	logging.Notice("Serving %d entities on %s (BaseURL: %s, origin: %s)",
		len(snap.Artifact.Pool), listener.Addr(), a.cfg.BaseURL, snap.Origin)

	return a.waitForShutdown(ctx, httpSrv, serveErr, func() {
		next, err := a.reload(ctx, rdb, st)
		if err != nil {
			logging.Error("Reload failed, keeping the current artifact: %v", err)
			return
		}
		srv.Swap(next)
		logging.Notice("Reloaded artifact: %d entities", len(next.Artifact.Pool))
	})
}

// loadSnapshot prefers the artifact shared in Redis, then the latest stored
// build, then the artifact file, and finally compiles the source files. Whatever was loaded is published
// back to Redis so other instances can skip compiling.
func (a *app) loadSnapshot(ctx context.Context, rdb *redisclient.Client, st *store.Store) (*server.Snapshot, error) {
	if rdb != nil {
		data, ok, err := rdb.FetchArtifact(ctx, a.cfg.Redis.ArtifactKey)
		switch {
		case err != nil:
			logging.Warn("%v", err)
		case ok:
			snap, err := server.SnapshotFromJSON(data, time.Now(), server.OriginRedis)
			if err == nil {
				return snap, nil
			}
			logging.Warn("Ignoring Redis artifact: %v", err)
		}
	}

	var snap *server.Snapshot
	build, err := st.LatestBuild(ctx)
	switch {
	case err == nil:
		snap, err = server.SnapshotFromJSON(build.Artifact, build.BuiltAt, server.OriginStore)
		if err != nil {
			logging.Warn("Ignoring stored build %d: %v", build.ID, err)
		}
	case errors.Is(err, store.ErrNoBuild):
		logging.Info("No stored build yet")
	default:
		logging.Warn("%v", err)
	}

	if snap == nil {
		snap = a.artifactFileSnapshot()
	}
	if snap == nil {
		if snap, err = a.reload(ctx, nil, st); err != nil {
			return nil, err
		}
	}
	a.share(ctx, rdb, snap)
	return snap, nil
}

// artifactFileSnapshot loads the artifact last written by build, or returns
// nil when there is none.
func (a *app) artifactFileSnapshot() *server.Snapshot {
	info, err := os.Stat(a.cfg.ArtifactPath)
	if err != nil {
		return nil
	}
	data, err := os.ReadFile(a.cfg.ArtifactPath)
	if err != nil {
		logging.Warn("%v", err)
		return nil
	}
	snap, err := server.SnapshotFromJSON(data, info.ModTime(), server.OriginFile)
	if err != nil {
		logging.Warn("Ignoring %s: %v", a.cfg.ArtifactPath, err)
		return nil
	}
	return snap
}

// reload compiles the source files, records the build and shares it.
func (a *app) reload(ctx context.Context, rdb *redisclient.Client, st *store.Store) (*server.Snapshot, error) {
	res, checksum, err := a.compile()
	if err != nil {
		return nil, err
	}
	if _, err := st.SaveBuild(ctx, store.Build{
		BuiltAt:       res.builtAt,
		SourceSHA256:  checksum,
		PoolSize:      res.stats.PoolSize,
		NodeCount:     res.stats.Nodes,
		SkippedBlocks: res.stats.SkippedBlocks,
		Artifact:      res.json,
	}); err != nil {
		logging.Warn("%v", err)
	} else if _, err := st.PruneBuilds(ctx, a.cfg.KeepBuilds); err != nil {
		logging.Warn("%v", err)
	}
	snap, err := server.NewSnapshot(res.artifact, res.builtAt, server.OriginCompile)
	if err != nil {
		return nil, err
	}
	a.share(ctx, rdb, snap)
	return snap, nil
}

func (a *app) share(ctx context.Context, rdb *redisclient.Client, snap *server.Snapshot) {
	if rdb == nil || snap.Origin == server.OriginRedis {
		return
	}
	if err := rdb.PublishArtifact(ctx, a.cfg.Redis.ArtifactKey, snap.JSON, a.cfg.Redis.ArtifactTTL); err != nil {
		logging.Warn("%v", err)
	}
}

// waitForShutdown blocks until a termination signal, context cancellation or
// server failure, calling reload on every SIGHUP.
func (a *app) waitForShutdown(ctx context.Context, httpSrv *http.Server, serveErr <-chan error, reload func()) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(quit)

	var runErr error
wait:
	for {
		select {
		case sig := <-quit:
			if sig == syscall.SIGHUP {
				logging.Info("Received SIGHUP. Recompiling artifact...")
				reload()
				continue
			}
			logging.Info("Received OS shutdown signal. Shutting down server...")
			break wait
		case <-ctx.Done():
			logging.Info("Context cancelled. Shutting down server...")
			break wait
		case err, ok := <-serveErr:
			if ok {
				runErr = fmt.Errorf("HTTP server failed: %w", err)
			}
			break wait
		}
	}

	logging.Debug("goroutines before shutdown: %d", runtime.NumGoroutine())
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logging.Info("Server exited gracefully.")
	return runErr
}

func (a *app) newHealthcheckCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Check the local server's /healthz endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			base := a.cfg.BaseURL
			if base == "/" {
				base = ""
			}
			url := fmt.Sprintf("http://127.0.0.1:%d%s/healthz", a.cfg.WebPort, base)
			client := &http.Client{Timeout: timeout}
			resp, err := client.Get(url)
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("health check failed: %s returned %s", url, resp.Status)
			}
			fmt.Fprintln(a.stdout, "Health check successful")
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "request timeout")
	return cmd
}
