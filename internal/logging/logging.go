package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

var logger atomic.Pointer[slog.Logger]

func init() {
	logger.Store(New(os.Stderr, "info", "text"))
}

// New builds a slog logger. format "json" selects the JSON handler, anything
// else the tint text handler (coloured only when w is a terminal).
func New(w io.Writer, level, format string) *slog.Logger {
	lvl := ParseLevel(level)
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
	}

	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd())
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      lvl,
		TimeFormat: time.RFC3339,
		NoColor:    noColor,
	}))
}

// Setup replaces the process logger and makes it the slog default.
func Setup(level, format string) {
	SetLogger(New(os.Stderr, level, format))
}

// SetLogger installs l as the package logger.
func SetLogger(l *slog.Logger) {
	logger.Store(l)
	slog.SetDefault(l)
}

// Logger returns the current package logger.
func Logger() *slog.Logger {
	return logger.Load()
}

// ParseLevel maps debug/info/warn/error to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

func Debug(msg string, args ...any) { Logger().Debug(msg, args...) }
func Info(msg string, args ...any)  { Logger().Info(msg, args...) }
func Warn(msg string, args ...any)  { Logger().Warn(msg, args...) }
func Error(msg string, args ...any) { Logger().Error(msg, args...) }

// DebugWithComponent logs with a "component" attribute.
func DebugWithComponent(component, msg string, args ...any) {
	Logger().With("component", component).Debug(msg, args...)
}

// InfoWithComponent logs with a "component" attribute.
func InfoWithComponent(component, msg string, args ...any) {
	Logger().With("component", component).Info(msg, args...)
}

// WarnWithComponent logs with a "component" attribute.
func WarnWithComponent(component, msg string, args ...any) {
	Logger().With("component", component).Warn(msg, args...)
}

// ErrorWithComponent logs with a "component" attribute.
func ErrorWithComponent(component, msg string, args ...any) {
	Logger().With("component", component).Error(msg, args...)
}

// Logf logs a printf-style message at info level.
func Logf(format string, v ...any) {
	Logger().Info(fmt.Sprintf(format, v...))
}

// LogfWithUser prefixes the message with the acting username when known.
func LogfWithUser(username string, format string, v ...any) {
	if username != "" {
		Logger().Info(fmt.Sprintf(format, v...), "user", username)
		return
	}
	Logf(format, v...)
}
