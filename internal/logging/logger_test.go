package logging

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func captureOutput(t *testing.T, lvl int) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prevLevel := GetLevel()
	prevColors := useColors.Load()
	SetOutput(&buf)
	SetLevel(lvl)
	DisableColors()
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetLevel(prevLevel)
		useColors.Store(prevColors)
	})
	return &buf
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"crit", LevelCrit, false},
		{"ERR", LevelError, false},
		{" warning ", LevelWarn, false},
		{"3", LevelNotice, false},
		{"info", LevelInfo, false},
		{"d", LevelDebug, false},
		{"verbose", LevelNotice, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	buf := captureOutput(t, LevelWarn)

	Debug("debug %d", 1)
	Info("info %d", 2)
	Warn("warn %d", 3)
	Error("error %d", 4)

	out := buf.String()
	if strings.Contains(out, "debug 1") || strings.Contains(out, "info 2") {
		t.Errorf("messages below WARN were logged: %q", out)
	}
	if !strings.Contains(out, "WRN warn 3") {
		t.Errorf("missing warn line in %q", out)
	}
	if !strings.Contains(out, "ERR error 4") {
		t.Errorf("missing error line in %q", out)
	}
}

func TestGinLoggerLevels(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureOutput(t, LevelDebug)

	r := gin.New()
	r.Use(GinRecovery(), GinLogger())
	r.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/boom", func(c *gin.Context) { panic("kaboom") })

	for _, path := range []string{"/ok", "/missing", "/boom"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	}

	out := buf.String()
	if !strings.Contains(out, "DBG GET /ok - 200") {
		t.Errorf("expected debug line for /ok, got %q", out)
	}
	if !strings.Contains(out, "WRN GET /missing - 404") {
		t.Errorf("expected warn line for /missing, got %q", out)
	}
	if !strings.Contains(out, "CRT PANIC recovered on GET /boom") {
		t.Errorf("expected panic line for /boom, got %q", out)
	}
}
