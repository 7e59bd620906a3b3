// Package server publishes the compiled artifact over HTTP for web clients
// that run the resolver themselves.
package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/gin-gonic/gin"

	"github.com/user00265/ctydna/internal/config"
	"github.com/user00265/ctydna/internal/dna"
	"github.com/user00265/ctydna/internal/logging"
	"github.com/user00265/ctydna/internal/store"
	"github.com/user00265/ctydna/internal/version"
)

const (
	defaultBuildsLimit = 10
	maxBuildsLimit     = 100
)

// BuildLister is the part of the build store the server reads.
type BuildLister interface {
	ListBuilds(ctx context.Context, limit int) ([]store.Build, error)
}

// Server holds the currently published snapshot.
type Server struct {
	current atomic.Pointer[Snapshot]
	builds  BuildLister
}

// New creates a Server. builds may be nil when no build history is kept.
func New(builds BuildLister) *Server {
	return &Server{builds: builds}
}

// Swap publishes snap and returns the previous snapshot. In-flight requests
// keep serving the snapshot they started with.
func (s *Server) Swap(snap *Snapshot) *Snapshot {
	return s.current.Swap(snap)
}

// Current returns the published snapshot, or nil before the first Swap.
func (s *Server) Current() *Snapshot {
	return s.current.Load()
}

// NewRouter creates the gin engine with path normalization, recovery,
// request logging and the trusted proxy list from cfg.
func NewRouter(cfg *config.Config) *gin.Engine {
	router := gin.New()
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false

	// Collapse duplicate slashes and drop a trailing slash. Routing has
	// already happened when middleware runs, so a rewritten path is re-routed.
	router.Use(func(c *gin.Context) {
		path := c.Request.URL.Path
		for strings.Contains(path, "//") {
			path = strings.ReplaceAll(path, "//", "/")
		}
		if len(path) > 1 && strings.HasSuffix(path, "/") {
			path = strings.TrimSuffix(path, "/")
		}
		if path != c.Request.URL.Path {
			c.Request.URL.Path = path
			router.HandleContext(c)
			c.Abort()
			return
		}
		c.Next()
	})
	router.Use(logging.GinRecovery())
	router.Use(logging.GinLogger())

	if cfg.TrustedProxies != "" {
		proxies := strings.Split(cfg.TrustedProxies, ",")
		for i := range proxies {
			proxies[i] = strings.TrimSpace(proxies[i])
		}
		if err := router.SetTrustedProxies(proxies); err != nil {
			logging.Warn("Ignoring invalid TRUSTED_PROXIES %q: %v", cfg.TrustedProxies, err)
		} else {
			logging.Info("Trusted proxies configured: %v", proxies)
		}
	} else {
		_ = router.SetTrustedProxies(nil)
	}
	return router
}

// SetupRoutes registers the artifact endpoints on r.
func (s *Server) SetupRoutes(r *gin.RouterGroup) {
	r.GET("/healthz", func(c *gin.Context) {
		if s.Current() == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "loading"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// GET /dna.json - the compiled artifact, revalidated by ETag.
	r.GET("/dna.json", func(c *gin.Context) {
		s.serveEncoded(c, "application/json; charset=utf-8", func(snap *Snapshot) ([]byte, string) { return snap.JSON, snap.ETag })
	})

	// GET /cty_dna.js - the same artifact as an ES module.
	r.GET("/cty_dna.js", func(c *gin.Context) {
		s.serveEncoded(c, "text/javascript; charset=utf-8", func(snap *Snapshot) ([]byte, string) { return snap.JS, snap.JSETag })
	})

	// GET /entities?cont=EU - pool records, optionally filtered by continent.
	r.GET("/entities", func(c *gin.Context) {
		snap, ok := s.snapshot(c)
		if !ok {
			return
		}
		cont := strings.ToUpper(strings.TrimSpace(c.Query("cont")))
		entities := make([]dna.EntityRecord, 0, len(snap.Artifact.Pool))
		for _, rec := range snap.Artifact.Pool {
			if cont == "" || strings.ToUpper(rec.Continent) == cont {
				entities = append(entities, rec)
			}
		}
		c.JSON(http.StatusOK, entities)
	})

	// GET /stats - size and provenance of the published artifact.
	r.GET("/stats", func(c *gin.Context) {
		snap, ok := s.snapshot(c)
		if !ok {
			return
		}
		standard, override := snap.Artifact.TerminalCount()
		c.JSON(http.StatusOK, gin.H{
			"pool_size":     len(snap.Artifact.Pool),
			"node_count":    snap.Artifact.NodeCount(),
			"standard_refs": standard,
			"override_refs": override,
			"built_at":      snap.BuiltAt,
			"origin":        snap.Origin,
			"etag":          snap.ETag,
			"version":       version.ProjectVersion,
		})
	})

	// GET /builds?limit=N - recent compilations recorded in the store.
	r.GET("/builds", func(c *gin.Context) {
		if s.builds == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Build history is not enabled"})
			return
		}
		limit := defaultBuildsLimit
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			limit = min(n, maxBuildsLimit)
		}
		builds, err := s.builds.ListBuilds(c.Request.Context(), limit)
		if err != nil {
			logging.Error("Failed to list builds: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list builds"})
			return
		}
		c.JSON(http.StatusOK, builds)
	})
}

// snapshot writes a 503 when nothing is published yet.
func (s *Server) snapshot(c *gin.Context) (*Snapshot, bool) {
	snap := s.Current()
	if snap == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Artifact not loaded yet"})
		return nil, false
	}
	return snap, true
}

func (s *Server) serveEncoded(c *gin.Context, contentType string, encoding func(*Snapshot) ([]byte, string)) {
	snap, ok := s.snapshot(c)
	if !ok {
		return
	}
	body, etag := encoding(snap)
	c.Header("ETag", etag)
	c.Header("Cache-Control", "public, max-age=300")
	if c.GetHeader("If-None-Match") == etag {
		c.Status(http.StatusNotModified)
		return
	}
	c.Data(http.StatusOK, contentType, body)
}
