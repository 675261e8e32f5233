package broker

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Config is the broker configuration, usually loaded from a TOML file:
//
//	enabled = true
//	backend = "noop"
//	thread_name = "gpu"
//	log_level = "debug"
//	memory_budget_mb = 256
type Config struct {
	// Enabled gates the broker. New returns ErrDisabled when false.
	Enabled bool `toml:"enabled"`

	// Backend is the registered backend name. Empty selects the best
	// available backend.
	Backend string `toml:"backend"`

	// ThreadName labels the actor in logs.
	ThreadName string `toml:"thread_name"`

	// LogLevel is the minimum level for loggers built from this config:
	// "debug", "info", "warn" or "error". Empty means "info".
	LogLevel string `toml:"log_level"`

	// MemoryBudgetMB caps the total size of live buffers. Zero means
	// unlimited. Only backends that track memory honor it.
	MemoryBudgetMB int `toml:"memory_budget_mb"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		ThreadName: "gpu",
	}
}

// ParseConfig decodes TOML from r on top of DefaultConfig. Unknown keys are
// rejected.
func ParseConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	dec := toml.NewDecoder(r).DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("broker: parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads and parses the TOML file at path.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("broker: load config: %w", err)
	}
	return ParseConfig(bytes.NewReader(data))
}

// Validate checks field values that decoding alone cannot.
func (c Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.MemoryBudgetMB < 0 {
		return fmt.Errorf("broker: negative memory_budget_mb %d", c.MemoryBudgetMB)
	}
	return nil
}

// Level returns LogLevel as a slog level. An empty LogLevel yields Info.
func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("broker: invalid log_level %q: %w", c.LogLevel, err)
	}
	return l, nil
}

// Marshal encodes c as TOML.
func (c Config) Marshal() ([]byte, error) {
	return toml.Marshal(c)
}
