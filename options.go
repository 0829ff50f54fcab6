package pls

import (
	"github.com/gogpu/pls/flush"
)

// DefaultMaxFramesInFlight is the number of frames the CPU may run ahead
// of the GPU.
const DefaultMaxFramesInFlight = 2

// Option configures a Context during creation.
//
// Example:
//
//	// Best registered backend, three frames in flight
//	ctx, err := pls.NewContext(pls.WithMaxFramesInFlight(3))
//
//	// Explicit backend (dependency injection)
//	ctx, err := pls.NewContext(pls.WithBackend(b))
type Option func(*config)

type config struct {
	backend     flush.Backend
	backendName string
	maxInFlight int
	ringDepth   int
	flushOpts   []flush.Option
}

func defaultConfig() config {
	return config{maxInFlight: DefaultMaxFramesInFlight}
}

// WithBackend uses b instead of opening one from the registry. The
// Context takes ownership and closes b on Close.
func WithBackend(b flush.Backend) Option {
	return func(c *config) {
		c.backend = b
	}
}

// WithBackendName opens the named registered backend. Without it the
// best registered backend that opens is used.
func WithBackendName(name string) Option {
	return func(c *config) {
		c.backendName = name
	}
}

// WithMaxFramesInFlight bounds how many frames may be submitted but not
// yet retired. BeginFrame blocks once the bound is reached.
func WithMaxFramesInFlight(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxInFlight = n
		}
	}
}

// WithRingDepth sets the number of rotating slots per upload ring. The
// default is one more than the frames in flight.
func WithRingDepth(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.ringDepth = n
		}
	}
}

// WithPooledRings makes the upload rings take their slots from pools of
// at most maxCount slots.
func WithPooledRings(maxCount int) Option {
	return func(c *config) {
		c.flushOpts = append(c.flushOpts, flush.WithPooledRings(maxCount))
	}
}

// WithRingCapacity sets the initial capacity in bytes of one ring.
func WithRingCapacity(kind flush.BufferKind, bytes int) Option {
	return func(c *config) {
		c.flushOpts = append(c.flushOpts, flush.WithRingCapacity(kind, bytes))
	}
}

// WithFlushOptions passes options through to the flush pipeline.
func WithFlushOptions(opts ...flush.Option) Option {
	return func(c *config) {
		c.flushOpts = append(c.flushOpts, opts...)
	}
}
