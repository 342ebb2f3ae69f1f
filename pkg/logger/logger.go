// Package logger wraps slog with per-node attribution.
package logger

import (
	"log/slog"
	"os"
)

var Log = slog.New(slog.NewTextHandler(os.Stdout, nil))

// Init replaces the default logger with one tagged by node name.
func Init(node string, level slog.Level) {
	Log = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})).With("node", node)
}

func Debug(msg string, args ...any) {
	Log.Debug(msg, args...)
}

func Info(msg string, args ...any) {
	Log.Info(msg, args...)
}

func Warn(msg string, args ...any) {
	Log.Warn(msg, args...)
}

func Error(msg string, args ...any) {
	Log.Error(msg, args...)
}
