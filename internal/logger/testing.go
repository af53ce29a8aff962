package logger

import (
	"io"
	"log/slog"
)

// NewTestLogger logs JSON at debug level to w under the module "test".
func NewTestLogger(w io.Writer) Logger {
	return newModuleLogger("test", newJSONHandler(w, slog.LevelDebug, nil), slog.LevelDebug)
}

// NewDiscardLogger drops everything.
func NewDiscardLogger() Logger {
	return newModuleLogger("", slog.DiscardHandler, slog.LevelError+1)
}
