package broker

import (
	"log/slog"

	"github.com/gogpu/broker/backend"
)

// Option configures a Broker during creation.
//
// Example:
//
//	// Backend from configuration
//	b, err := broker.New(cfg)
//
//	// Injected backend (tests, custom HALs)
//	b, err := broker.New(cfg, broker.WithBackend(myBackend))
type Option func(*options)

// options holds optional configuration for Broker creation.
type options struct {
	backend backend.Backend
	logger  *slog.Logger
}

// WithBackend sets the backend instance, overriding Config.Backend.
// The broker takes ownership and releases it on shutdown.
func WithBackend(b backend.Backend) Option {
	return func(o *options) {
		o.backend = b
	}
}

// WithLogger installs l as the package logger (see SetLogger) when the
// broker is created.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}
