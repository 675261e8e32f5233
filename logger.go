package broker

import (
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/broker/backend"
	"github.com/gogpu/broker/internal/logging"
)

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from the actor.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(logging.Nop())
}

// SetLogger configures the logger for the broker and the backend package.
// By default the broker produces no log output.
//
// SetLogger is safe for concurrent use. Pass nil to restore the silent
// default.
//
// Log levels used by the broker:
//   - [slog.LevelDebug]: every request and backend call
//   - [slog.LevelInfo]: lifecycle (actor start, adapter selected, teardown complete)
//   - [slog.LevelWarn]: dropped replies, backend errors during teardown
//   - [slog.LevelError]: recovered backend panics
//
// Example:
//
//	broker.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	l = logging.OrNop(l)
	loggerPtr.Store(l)
	backend.SetLogger(l)
}

// Logger returns the current logger used by the broker.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}
