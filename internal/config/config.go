package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Default values and file names for the compiler inputs and outputs.
const (
	DefaultWebPort        = 8192
	DefaultDataDir        = "/data" // Inside the container
	DefaultFetchTimeout   = 60 * time.Second
	DefaultFetchRetries   = 3
	DefaultLookupCache    = 4096
	DefaultKeepBuilds     = 10
	DefaultArtifactKey    = "ctydna:artifact"
	DefaultArtifactTTL    = 24 * time.Hour
	CtyDatFileName        = "cty.dat"
	CtyPlistFileName      = "cty.plist"
	DXCCJSONFileName      = "dxcc.json"
	ArtifactFileName      = "cty_dna.json"
	ArtifactJSFileName    = "cty_dna.js"
	DefaultCtyDatURL      = "https://www.country-files.com/cty/cty.dat"
	DefaultCtyPlistURL    = "https://www.country-files.com/cty/cty.plist"
	DefaultDXCCJSONURL    = "https://raw.githubusercontent.com/k0swe/dxcc-json/main/dxcc.json"
	minFetchTimeout       = 5 * time.Second
	maxLookupCacheEntries = 1 << 20
)

// RedisConfig holds configuration for the optional Redis artifact cache.
type RedisConfig struct {
	Enabled            bool          `env:"REDIS_ENABLED" envDefault:"false"`
	Host               string        `env:"REDIS_HOST"`
	Port               string        `env:"REDIS_PORT" envDefault:"6379"`
	User               string        `env:"REDIS_USER"`
	Password           string        `env:"REDIS_PASSWORD"`
	DB                 int           `env:"REDIS_DB" envDefault:"0"`
	UseTLS             bool          `env:"REDIS_USE_TLS" envDefault:"false"`
	InsecureSkipVerify bool          `env:"REDIS_INSECURE_SKIP_VERIFY" envDefault:"false"`
	ArtifactKey        string        `env:"REDIS_ARTIFACT_KEY" envDefault:"ctydna:artifact"`
	ArtifactTTL        time.Duration `env:"REDIS_ARTIFACT_TTL" envDefault:"24h"`
}

// Config holds all application configuration.
type Config struct {
	LogLevel string `env:"LOG_LEVEL"`
	DataDir  string `env:"DATA_DIR" envDefault:"/data"` // cty sources, artifact and SQLite files

	// Compiler inputs. Empty paths resolve to DataDir/<default file name>.
	CtyDatPath   string `env:"CTY_DAT_PATH"`
	CtyPlistPath string `env:"CTY_PLIST_PATH"`
	DXCCJSONPath string `env:"DXCC_JSON_PATH"`
	ArtifactPath string `env:"ARTIFACT_PATH"`

	// Source downloads
	CtyDatURL       string        `env:"CTY_DAT_URL" envDefault:"https://www.country-files.com/cty/cty.dat"`
	CtyPlistURL     string        `env:"CTY_PLIST_URL" envDefault:"https://www.country-files.com/cty/cty.plist"`
	DXCCJSONURL     string        `env:"DXCC_JSON_URL" envDefault:"https://raw.githubusercontent.com/k0swe/dxcc-json/main/dxcc.json"`
	FetchTimeout    time.Duration `env:"FETCH_TIMEOUT" envDefault:"60s"`
	FetchMaxRetries int           `env:"FETCH_MAX_RETRIES" envDefault:"3"`

	// HTTP artifact server
	WebPort        int    `env:"WEBPORT" envDefault:"8192"`
	BaseURL        string `env:"WEBURL" envDefault:"/"`
	TrustedProxies string `env:"TRUSTED_PROXIES"`

	// Resolver
	LookupCacheSize int `env:"LOOKUP_CACHE_SIZE" envDefault:"4096"`
	KeepBuilds      int `env:"KEEP_BUILDS" envDefault:"10"`

	Redis RedisConfig
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	// Ensure DataDir exists (sources, artifact and SQLite live there)
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", cfg.DataDir, err)
	}
	return cfg, nil
}

// normalize fills derived paths and clamps out-of-range values.
func (c *Config) normalize() error {
	if c.DataDir == "" {
		return fmt.Errorf("DATA_DIR must not be empty")
	}
	if c.CtyDatPath == "" {
		c.CtyDatPath = filepath.Join(c.DataDir, CtyDatFileName)
	}
	if c.CtyPlistPath == "" {
		c.CtyPlistPath = filepath.Join(c.DataDir, CtyPlistFileName)
	}
	if c.DXCCJSONPath == "" {
		c.DXCCJSONPath = filepath.Join(c.DataDir, DXCCJSONFileName)
	}
	if c.ArtifactPath == "" {
		c.ArtifactPath = filepath.Join(c.DataDir, ArtifactFileName)
	}

	if c.FetchTimeout < minFetchTimeout {
		c.FetchTimeout = minFetchTimeout
	}
	if c.FetchMaxRetries < 1 {
		c.FetchMaxRetries = 1
	}
	if c.LookupCacheSize < 0 {
		c.LookupCacheSize = 0
	}
	if c.LookupCacheSize > maxLookupCacheEntries {
		c.LookupCacheSize = maxLookupCacheEntries
	}
	if c.KeepBuilds < 1 {
		c.KeepBuilds = DefaultKeepBuilds
	}
	if c.WebPort <= 0 || c.WebPort > 65535 {
		return fmt.Errorf("WEBPORT %d out of range", c.WebPort)
	}
	if !strings.HasPrefix(c.BaseURL, "/") {
		c.BaseURL = "/" + c.BaseURL
	}
	if c.Redis.Enabled && c.Redis.Host == "" {
		return fmt.Errorf("REDIS_HOST must be set when REDIS_ENABLED is true")
	}
	if c.Redis.ArtifactKey == "" {
		c.Redis.ArtifactKey = DefaultArtifactKey
	}
	return nil
}

// ArtifactJSPath returns the ES module path written next to the JSON artifact.
func (c *Config) ArtifactJSPath() string {
	return strings.TrimSuffix(c.ArtifactPath, filepath.Ext(c.ArtifactPath)) + ".js"
}
