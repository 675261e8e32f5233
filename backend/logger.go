package backend

import (
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/broker/internal/logging"
)

var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(logging.Nop())
}

// SetLogger configures the logger for the backend package.
// Pass nil to disable logging. The broker propagates its own logger here.
func SetLogger(l *slog.Logger) {
	loggerPtr.Store(logging.OrNop(l))
}

func slogger() *slog.Logger {
	return loggerPtr.Load()
}
