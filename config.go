package ripple

import (
	"log/slog"
	"time"
)

// Defaults for the configuration knobs.
const (
	DefaultMaxReaders        = 5
	DefaultReadTimeout       = 5 * time.Second
	DefaultBusyRetries       = 3
	DefaultBusyBackoff       = 10 * time.Millisecond
	DefaultBusyTimeout       = 2 * time.Second
	DefaultStmtCacheCapacity = 64
)

// Config carries every tuning knob the facade recognizes.
type Config struct {
	// MaxReaders bounds the reader pool. Readers are opened lazily up to
	// this many.
	MaxReaders int

	// ReadTimeout bounds how long Read waits for a free reader before
	// failing with a pool-exhausted error. Zero waits indefinitely.
	ReadTimeout time.Duration

	// BusyRetries is how many times a busy/locked BEGIN or COMMIT is
	// retried before the write fails with a write-conflict error.
	BusyRetries int

	// BusyBackoff is the base delay between busy retries; attempt n waits
	// n times this.
	BusyBackoff time.Duration

	// BusyTimeout is the engine-level lock wait applied per statement.
	BusyTimeout time.Duration

	// StmtCacheCapacity bounds each connection's prepared-statement cache.
	StmtCacheCapacity int

	// ForeignKeys enables foreign key enforcement on every connection.
	ForeignKeys bool

	// Logger receives lifecycle and failure logs. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxReaders:        DefaultMaxReaders,
		ReadTimeout:       DefaultReadTimeout,
		BusyRetries:       DefaultBusyRetries,
		BusyBackoff:       DefaultBusyBackoff,
		BusyTimeout:       DefaultBusyTimeout,
		StmtCacheCapacity: DefaultStmtCacheCapacity,
		ForeignKeys:       true,
	}
}

// Option configures Open.
type Option func(*Config)

// WithMaxReaders sets the reader pool bound.
func WithMaxReaders(n int) Option {
	return func(c *Config) { c.MaxReaders = n }
}

// WithReadTimeout sets the reader acquisition timeout.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Config) { c.ReadTimeout = d }
}

// WithBusyRetry sets the writer's busy retry count and base backoff.
func WithBusyRetry(retries int, backoff time.Duration) Option {
	return func(c *Config) {
		c.BusyRetries = retries
		c.BusyBackoff = backoff
	}
}

// WithBusyTimeout sets the engine-level per-statement lock wait.
func WithBusyTimeout(d time.Duration) Option {
	return func(c *Config) { c.BusyTimeout = d }
}

// WithStmtCacheCapacity bounds the per-connection statement cache.
func WithStmtCacheCapacity(n int) Option {
	return func(c *Config) { c.StmtCacheCapacity = n }
}

// WithForeignKeys toggles foreign key enforcement.
func WithForeignKeys(on bool) Option {
	return func(c *Config) { c.ForeignKeys = on }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}
