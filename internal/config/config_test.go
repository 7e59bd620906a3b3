package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/user00265/ctydna/internal/config"
)

var allKeys = []string{
	"LOG_LEVEL", "DATA_DIR", "CTY_DAT_PATH", "CTY_PLIST_PATH", "DXCC_JSON_PATH", "ARTIFACT_PATH",
	"CTY_DAT_URL", "CTY_PLIST_URL", "DXCC_JSON_URL", "FETCH_TIMEOUT", "FETCH_MAX_RETRIES",
	"WEBPORT", "WEBURL", "TRUSTED_PROXIES", "LOOKUP_CACHE_SIZE", "KEEP_BUILDS",
	"REDIS_ENABLED", "REDIS_HOST", "REDIS_PORT", "REDIS_USER", "REDIS_PASSWORD", "REDIS_DB",
	"REDIS_USE_TLS", "REDIS_INSECURE_SKIP_VERIFY", "REDIS_ARTIFACT_KEY", "REDIS_ARTIFACT_TTL",
}

// clearEnvs unsets every config variable for the duration of the test.
func clearEnvs(t *testing.T) {
	t.Helper()
	for _, key := range allKeys {
		key := key
		if val, present := os.LookupEnv(key); present {
			os.Unsetenv(key)
			t.Cleanup(func() { os.Setenv(key, val) })
		}
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnvs(t)
	tempDir := t.TempDir()
	t.Setenv("DATA_DIR", tempDir)

	cfg, err := config.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.WebPort != config.DefaultWebPort {
		t.Errorf("Expected WebPort to be %d, got %d", config.DefaultWebPort, cfg.WebPort)
	}
	if cfg.BaseURL != "/" {
		t.Errorf("Expected BaseURL '/', got %q", cfg.BaseURL)
	}
	if want := filepath.Join(tempDir, config.CtyDatFileName); cfg.CtyDatPath != want {
		t.Errorf("Expected CtyDatPath %s, got %s", want, cfg.CtyDatPath)
	}
	if want := filepath.Join(tempDir, config.CtyPlistFileName); cfg.CtyPlistPath != want {
		t.Errorf("Expected CtyPlistPath %s, got %s", want, cfg.CtyPlistPath)
	}
	if want := filepath.Join(tempDir, config.DXCCJSONFileName); cfg.DXCCJSONPath != want {
		t.Errorf("Expected DXCCJSONPath %s, got %s", want, cfg.DXCCJSONPath)
	}
	if want := filepath.Join(tempDir, config.ArtifactFileName); cfg.ArtifactPath != want {
		t.Errorf("Expected ArtifactPath %s, got %s", want, cfg.ArtifactPath)
	}
	if want := filepath.Join(tempDir, config.ArtifactJSFileName); cfg.ArtifactJSPath() != want {
		t.Errorf("Expected ArtifactJSPath %s, got %s", want, cfg.ArtifactJSPath())
	}
	if cfg.CtyDatURL != config.DefaultCtyDatURL {
		t.Errorf("Expected CtyDatURL %s, got %s", config.DefaultCtyDatURL, cfg.CtyDatURL)
	}
	if cfg.DXCCJSONURL != config.DefaultDXCCJSONURL {
		t.Errorf("Expected DXCCJSONURL %s, got %s", config.DefaultDXCCJSONURL, cfg.DXCCJSONURL)
	}
	if cfg.FetchTimeout != config.DefaultFetchTimeout {
		t.Errorf("Expected FetchTimeout %s, got %s", config.DefaultFetchTimeout, cfg.FetchTimeout)
	}
	if cfg.FetchMaxRetries != config.DefaultFetchRetries {
		t.Errorf("Expected FetchMaxRetries %d, got %d", config.DefaultFetchRetries, cfg.FetchMaxRetries)
	}
	if cfg.LookupCacheSize != config.DefaultLookupCache {
		t.Errorf("Expected LookupCacheSize %d, got %d", config.DefaultLookupCache, cfg.LookupCacheSize)
	}
	if cfg.Redis.Enabled {
		t.Error("Expected Redis to be disabled by default")
	}
	if cfg.Redis.ArtifactKey != config.DefaultArtifactKey {
		t.Errorf("Expected Redis.ArtifactKey %s, got %s", config.DefaultArtifactKey, cfg.Redis.ArtifactKey)
	}
	if cfg.Redis.ArtifactTTL != config.DefaultArtifactTTL {
		t.Errorf("Expected Redis.ArtifactTTL %s, got %s", config.DefaultArtifactTTL, cfg.Redis.ArtifactTTL)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	clearEnvs(t)
	tempDir := t.TempDir()
	t.Setenv("DATA_DIR", tempDir)
	t.Setenv("CTY_DAT_PATH", "/srv/cty/cty.dat")
	t.Setenv("ARTIFACT_PATH", filepath.Join(tempDir, "out", "dna.json"))
	t.Setenv("WEBPORT", "9000")
	t.Setenv("WEBURL", "dna")
	t.Setenv("FETCH_TIMEOUT", "90s")
	t.Setenv("FETCH_MAX_RETRIES", "5")
	t.Setenv("LOOKUP_CACHE_SIZE", "128")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("REDIS_HOST", "redis.local")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("REDIS_ARTIFACT_TTL", "1h")

	cfg, err := config.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.CtyDatPath != "/srv/cty/cty.dat" {
		t.Errorf("Expected CtyDatPath override, got %s", cfg.CtyDatPath)
	}
	if !strings.HasSuffix(cfg.ArtifactJSPath(), filepath.Join("out", "dna.js")) {
		t.Errorf("Expected ArtifactJSPath next to dna.json, got %s", cfg.ArtifactJSPath())
	}
	if cfg.WebPort != 9000 {
		t.Errorf("Expected WebPort 9000, got %d", cfg.WebPort)
	}
	if cfg.BaseURL != "/dna" {
		t.Errorf("Expected BaseURL '/dna', got %q", cfg.BaseURL)
	}
	if cfg.FetchTimeout != 90*time.Second {
		t.Errorf("Expected FetchTimeout 90s, got %s", cfg.FetchTimeout)
	}
	if cfg.FetchMaxRetries != 5 {
		t.Errorf("Expected FetchMaxRetries 5, got %d", cfg.FetchMaxRetries)
	}
	if cfg.LookupCacheSize != 128 {
		t.Errorf("Expected LookupCacheSize 128, got %d", cfg.LookupCacheSize)
	}
	if !cfg.Redis.Enabled || cfg.Redis.Host != "redis.local" || cfg.Redis.DB != 2 {
		t.Errorf("Unexpected Redis config: %+v", cfg.Redis)
	}
	if cfg.Redis.ArtifactTTL != time.Hour {
		t.Errorf("Expected Redis.ArtifactTTL 1h, got %s", cfg.Redis.ArtifactTTL)
	}
}

func TestLoadConfig_Clamping(t *testing.T) {
	clearEnvs(t)
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("FETCH_TIMEOUT", "1s")
	t.Setenv("FETCH_MAX_RETRIES", "0")
	t.Setenv("LOOKUP_CACHE_SIZE", "-4")
	t.Setenv("KEEP_BUILDS", "0")

	cfg, err := config.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.FetchTimeout != 5*time.Second {
		t.Errorf("Expected FetchTimeout clamped to 5s, got %s", cfg.FetchTimeout)
	}
	if cfg.FetchMaxRetries != 1 {
		t.Errorf("Expected FetchMaxRetries clamped to 1, got %d", cfg.FetchMaxRetries)
	}
	if cfg.LookupCacheSize != 0 {
		t.Errorf("Expected LookupCacheSize clamped to 0, got %d", cfg.LookupCacheSize)
	}
	if cfg.KeepBuilds != config.DefaultKeepBuilds {
		t.Errorf("Expected KeepBuilds reset to %d, got %d", config.DefaultKeepBuilds, cfg.KeepBuilds)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"redis without host", map[string]string{"REDIS_ENABLED": "true"}, "REDIS_HOST must be set"},
		{"bad port", map[string]string{"WEBPORT": "70000"}, "out of range"},
		{"bad duration", map[string]string{"FETCH_TIMEOUT": "soon"}, "failed to parse environment variables"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnvs(t)
			t.Setenv("DATA_DIR", t.TempDir())
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := config.LoadConfig()
			if err == nil {
				t.Fatalf("LoadConfig unexpectedly succeeded")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
