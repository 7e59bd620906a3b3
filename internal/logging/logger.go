package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorWhite  = "\033[97m"
)

// Log levels
const (
	LevelCrit   = iota // 0 - Critical errors (fatal, app should stop)
	LevelError         // 1 - Errors (non-fatal but important)
	LevelWarn          // 2 - Warnings (skipped blocks, degraded sources)
	LevelNotice        // 3 - Important info (startup, build summaries, shutdown)
	LevelInfo          // 4 - General info
	LevelDebug         // 5 - Debug details
)

var (
	// Logger is the package-level logger used across the project.
	Logger = log.New(os.Stderr, "", 0)
	// TimeFormat is applied to every line, e.g. "Oct 14 13:16:37.788".
	TimeFormat = "Jan 02 15:04:05.000"

	level     atomic.Int32
	useColors atomic.Bool
)

func init() {
	level.Store(LevelNotice)
	useColors.Store(true)
}

// SetLevel sets the logger verbosity level.
func SetLevel(l int) {
	level.Store(int32(l))
}

// GetLevel returns the current verbosity level.
func GetLevel() int {
	return int(level.Load())
}

// ParseLevel maps a LOG_LEVEL value (name, abbreviation or 0-5) to a level.
func ParseLevel(v string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "crit", "critical", "c", "0":
		return LevelCrit, nil
	case "error", "err", "e", "1":
		return LevelError, nil
	case "warn", "warning", "w", "2":
		return LevelWarn, nil
	case "notice", "n", "3":
		return LevelNotice, nil
	case "info", "i", "4":
		return LevelInfo, nil
	case "debug", "d", "5":
		return LevelDebug, nil
	}
	return LevelNotice, fmt.Errorf("unrecognized log level %q; valid: crit,error,warn,notice,info,debug or 0-5", v)
}

// SetOutput sets the output destination for logs
func SetOutput(w io.Writer) {
	Logger.SetOutput(w)
}

// DisableColors disables color output
func DisableColors() {
	useColors.Store(false)
}

// formatLog formats a log message with timestamp, colored level (3-letter), and message
func formatLog(levelAbbrev, color, message string) string {
	timestamp := time.Now().Format(TimeFormat)
	if useColors.Load() {
		return fmt.Sprintf("%s %s%s%s %s", timestamp, color, levelAbbrev, colorReset, message)
	}
	return fmt.Sprintf("%s %s %s", timestamp, levelAbbrev, message)
}

func logAt(l int, abbrev, color, format string, v ...interface{}) {
	if GetLevel() < l {
		return
	}
	Logger.Print(formatLog(abbrev, color, fmt.Sprintf(format, v...)))
}

// Crit logs critical errors (application should stop)
func Crit(format string, v ...interface{}) {
	logAt(LevelCrit, "CRT", colorRed, format, v...)
}

// Error logs error-level messages (non-fatal but important)
func Error(format string, v ...interface{}) {
	logAt(LevelError, "ERR", colorRed, format, v...)
}

// Warn logs warning-level messages
func Warn(format string, v ...interface{}) {
	logAt(LevelWarn, "WRN", colorYellow, format, v...)
}

// Notice logs important informational messages (startup, config, shutdown)
func Notice(format string, v ...interface{}) {
	logAt(LevelNotice, "NOT", colorCyan, format, v...)
}

// Info logs general informational messages
func Info(format string, v ...interface{}) {
	logAt(LevelInfo, "INF", colorWhite, format, v...)
}

// Debug logs very verbose diagnostic messages
func Debug(format string, v ...interface{}) {
	logAt(LevelDebug, "DBG", colorGray, format, v...)
}
