// Package source downloads the compiler inputs (cty.dat, cty.plist and
// dxcc.json) into the data directory.
package source

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	backoff "github.com/cenkalti/backoff/v4"
	"golang.org/x/net/html/charset"
	"golang.org/x/sync/errgroup"

	"github.com/user00265/ctydna/internal/config"
	"github.com/user00265/ctydna/internal/logging"
	"github.com/user00265/ctydna/internal/version"
)

// DefaultCharset is assumed for master tables that are neither declared nor
// valid UTF-8. country-files.com publishes cty.dat in ISO-8859-1.
const DefaultCharset = "iso-8859-1"

const initialRetryInterval = 2 * time.Second

// HTTPDoer is a minimal interface for http clients used in tests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Download is one file to fetch.
type Download struct {
	Name string
	URL  string
	Path string
	// Text downloads are converted to UTF-8 before they are written.
	Text bool
}

// Downloads returns the three compiler inputs for cfg.
func Downloads(cfg config.Config) []Download {
	return []Download{
		{Name: config.CtyDatFileName, URL: cfg.CtyDatURL, Path: cfg.CtyDatPath, Text: true},
		{Name: config.CtyPlistFileName, URL: cfg.CtyPlistURL, Path: cfg.CtyPlistPath},
		{Name: config.DXCCJSONFileName, URL: cfg.DXCCJSONURL, Path: cfg.DXCCJSONPath},
	}
}

// Fetcher downloads source files with retries.
type Fetcher struct {
	client          HTTPDoer
	timeout         time.Duration
	maxRetries      int
	initialInterval time.Duration
}

// NewFetcher creates a Fetcher from the download settings in cfg.
func NewFetcher(cfg config.Config) *Fetcher {
	return &Fetcher{
		client:          &http.Client{Timeout: cfg.FetchTimeout},
		timeout:         cfg.FetchTimeout,
		maxRetries:      cfg.FetchMaxRetries,
		initialInterval: initialRetryInterval,
	}
}

// SetHTTPDoer replaces the HTTP client.
func (f *Fetcher) SetHTTPDoer(d HTTPDoer) {
	f.client = d
}

// SetRetryInterval sets the first backoff interval.
func (f *Fetcher) SetRetryInterval(d time.Duration) {
	f.initialInterval = d
}

// FetchAll downloads every file concurrently. Files that fail keep their
// previous content on disk; the first error is returned.
func (f *Fetcher) FetchAll(ctx context.Context, downloads []Download) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, d := range downloads {
		d := d
		g.Go(func() error {
			n, err := f.Fetch(gctx, d)
			if err != nil {
				logging.Error("Failed to download %s: %v", d.Name, err)
				return err
			}
			logging.Info("Downloaded %s (%d bytes) to %s", d.Name, n, d.Path)
			return nil
		})
	}
	return g.Wait()
}

// Fetch downloads d.URL and atomically replaces d.Path. It returns the
// number of bytes written.
func (f *Fetcher) Fetch(ctx context.Context, d Download) (int, error) {
	if d.URL == "" {
		return 0, fmt.Errorf("no URL configured for %s", d.Name)
	}

	var body []byte
	var contentType string
	attempt := 0
	op := func() error {
		attempt++
		data, ct, err := f.get(ctx, d.URL)
		if err != nil {
			logging.Warn("Download of %s failed (attempt %d/%d): %v", d.Name, attempt, f.maxRetries, err)
			return err
		}
		body, contentType = data, ct
		return nil
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = f.initialInterval
	exp.MaxElapsedTime = 0
	retries := f.maxRetries - 1
	if retries < 0 {
		retries = 0
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(retries)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return 0, fmt.Errorf("download of %s from %s failed: %w", d.Name, d.URL, err)
	}

	if d.Text {
		text, err := DecodeText(body, contentType)
		if err != nil {
			return 0, fmt.Errorf("failed to decode %s: %w", d.Name, err)
		}
		body = []byte(text)
	}
	if err := WriteFile(d.Path, body); err != nil {
		return 0, err
	}
	return len(body), nil
}

// get performs one GET and returns the (gunzipped) body and content type.
func (f *Fetcher) get(ctx context.Context, url string) ([]byte, string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
	}
	req.Header.Set("User-Agent", version.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("non-OK status: %s", resp.Status)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, "", backoff.Permanent(err)
		}
		return nil, "", err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read response body: %w", err)
	}
	if data, err = gunzip(data); err != nil {
		return nil, "", err
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// gunzip decompresses data when it starts with the gzip magic bytes.
func gunzip(data []byte) ([]byte, error) {
	if len(data) < 2 || data[0] != 0x1f || data[1] != 0x8b {
		return data, nil
	}
	gzr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer gzr.Close()
	out, err := io.ReadAll(gzr)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress gzip stream: %w", err)
	}
	return out, nil
}

// DecodeText converts data to UTF-8. The charset parameter of contentType
// wins; otherwise valid UTF-8 passes through and anything else is read as
// DefaultCharset.
func DecodeText(data []byte, contentType string) (string, error) {
	label := charsetParam(contentType)
	if label == "" {
		if utf8.Valid(data) {
			return string(data), nil
		}
		label = DefaultCharset
	}
	enc, name := charset.Lookup(label)
	if enc == nil {
		return "", fmt.Errorf("unsupported charset %q", label)
	}
	if name == "utf-8" {
		return string(data), nil
	}
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("failed to decode %s text: %w", name, err)
	}
	return string(out), nil
}

func charsetParam(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(params["charset"])
}

// WriteFile writes data to a temp file beside path and renames it over path,
// so readers see either the old or the new content.
func WriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to chmod %s: %w", tmpName, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
