package flush

import (
	"log/slog"
	"time"
)

// Default sizing parameters.
const (
	DefaultRingCapacity    = 64 << 10
	DefaultBindingPoolSize = 8
	DefaultTrimInterval    = 5 * time.Second
)

const (
	ringCapacityAlign = 256
	minRingCapacity   = ringCapacityAlign

	// Rings grow and trim to 125% of demand.
	growNumerator   = 5
	growDenominator = 4
)

// Option configures a Pipeline.
//
// Example:
//
//	p := flush.New(backend, ledger,
//		flush.WithRingDepth(2),
//		flush.WithRingCapacity(flush.TessSpans, 1<<20),
//	)
type Option func(*config)

type config struct {
	capacities      [NumBufferKinds]int
	ringDepth       int
	pooledRings     bool
	ringPoolSize    int
	bindingPoolSize int
	trimInterval    time.Duration
	now             func() time.Time
	logger          *slog.Logger
}

func defaultConfig() config {
	c := config{
		ringDepth:       3,
		ringPoolSize:    4,
		bindingPoolSize: DefaultBindingPoolSize,
		trimInterval:    DefaultTrimInterval,
		now:             time.Now,
	}
	for i := range c.capacities {
		c.capacities[i] = DefaultRingCapacity
	}
	return c
}

// WithRingCapacity sets the initial capacity in bytes of one ring.
func WithRingCapacity(kind BufferKind, bytes int) Option {
	return func(c *config) {
		if int(kind) < NumBufferKinds && bytes >= 0 {
			c.capacities[kind] = bytes
		}
	}
}

// WithRingDepth sets the number of rotating slots per ring.
func WithRingDepth(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.ringDepth = n
		}
	}
}

// WithPooledRings makes every ring take one slot per frame from a pool
// holding at most maxCount slots, instead of rotating a fixed set.
func WithPooledRings(maxCount int) Option {
	return func(c *config) {
		c.pooledRings = true
		if maxCount > 0 {
			c.ringPoolSize = maxCount
		}
	}
}

// WithBindingPoolSize bounds the pool of recycled binding tables.
func WithBindingPoolSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.bindingPoolSize = n
		}
	}
}

// WithTrimInterval sets how often PostFlush shrinks oversized rings.
// Zero disables trimming.
func WithTrimInterval(d time.Duration) Option {
	return func(c *config) {
		if d >= 0 {
			c.trimInterval = d
		}
	}
}

// WithClock replaces time.Now for trim scheduling.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the pipeline logger. Without it the package logger is
// used.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}
