package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	defaultLogger *slog.Logger
	level         = new(slog.LevelVar)
	mu            sync.Mutex
)

// Init initializes the default logger with a JSON handler writing to os.Stdout.
// Calling Init more than once is a no-op; use Configure to change the handler.
func Init() {
	mu.Lock()
	defer mu.Unlock()
	if defaultLogger != nil {
		return
	}
	level.Set(slog.LevelInfo)
	install(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// Configure replaces the default handler. format is "json" or "text";
// levelName is one of debug, info, warn, error (unknown values fall back to info).
func Configure(levelName, format string, w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	mu.Lock()
	defer mu.Unlock()

	level.Set(ParseLevel(levelName))
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "text") {
		install(slog.NewTextHandler(w, opts))
		return
	}
	install(slog.NewJSONHandler(w, opts))
}

func install(h slog.Handler) {
	defaultLogger = slog.New(h)
	slog.SetDefault(defaultLogger)
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Get returns the initialized default logger.
func Get() *slog.Logger {
	Init()
	mu.Lock()
	defer mu.Unlock()
	return defaultLogger
}

// Info logs an informational message using the default logger.
func Info(msg string, args ...any) {
	Get().Info(msg, args...)
}

// Warn logs a warning message using the default logger.
func Warn(msg string, args ...any) {
	Get().Warn(msg, args...)
}

// Error logs an error message using the default logger.
func Error(msg string, err error, args ...any) {
	if err != nil {
		args = append(args, "error", err.Error())
	}
	Get().Error(msg, args...)
}

// Debug logs a debug message using the default logger.
func Debug(msg string, args ...any) {
	Get().Debug(msg, args...)
}
