package pls

import (
	"log/slog"

	"github.com/gogpu/pls/internal/logging"
)

// SetLogger configures the logger for pls and all its sub-packages.
// By default pls produces no log output. Pass nil to restore silence.
//
// SetLogger is safe for concurrent use.
//
// Log levels used by pls:
//   - [slog.LevelDebug]: per-flush plans, ring resizes, deferred destruction
//   - [slog.LevelInfo]: backend and device selection
//   - [slog.LevelWarn]: dropped flushes, stripped batches
//
// Example:
//
//	pls.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	logging.Set(l)
}

// Logger returns the current logger used by pls.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return logging.L()
}
