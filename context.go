package pls

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/pls/backend"
	"github.com/gogpu/pls/flush"
	"github.com/gogpu/pls/metrics"
	"github.com/gogpu/pls/resource"
	"github.com/gogpu/pls/upload"
)

var (
	// ErrClosed is returned by a closed Context.
	ErrClosed = errors.New("pls: context closed")

	// ErrFrameInProgress is returned by BeginFrame when the previous frame
	// has not ended.
	ErrFrameInProgress = errors.New("pls: frame already in progress")

	// ErrNoFrame is returned by frame operations outside BeginFrame and
	// EndFrame.
	ErrNoFrame = errors.New("pls: no frame in progress")
)

// Context owns a backend, the ledger that defers destruction of its
// resources, and the flush pipeline running over both.
type Context struct {
	// mu serializes the render goroutine with Snapshot callers. It is
	// released while BeginFrame and Close wait on the GPU.
	mu sync.Mutex

	backend  flush.Backend
	fsync    flush.FrameSync // nil for backends that cannot report progress
	ledger   *resource.Ledger
	pipeline *flush.Pipeline
	cfg      config

	frame   uint64
	retired uint64
	inFrame bool
	closed  bool
}

var _ metrics.Source = (*Context)(nil)

// NewContext creates a Context. The backend comes from WithBackend, from
// the registry entry named by WithBackendName, or else from the best
// registered backend that opens.
func NewContext(opts ...Option) (*Context, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	b := cfg.backend
	if b == nil {
		var err error
		if cfg.backendName != "" {
			b, err = backend.Open(cfg.backendName)
		} else {
			b, err = backend.OpenDefault()
		}
		if err != nil {
			return nil, fmt.Errorf("pls: %w", err)
		}
	}

	depth := cfg.ringDepth
	if depth == 0 {
		depth = cfg.maxInFlight + 1
	}
	ledger := resource.NewLedger()
	flushOpts := append([]flush.Option{flush.WithRingDepth(depth)}, cfg.flushOpts...)

	c := &Context{
		backend:  b,
		ledger:   ledger,
		pipeline: flush.New(b, ledger, flushOpts...),
		cfg:      cfg,
	}
	if fs, ok := b.(flush.FrameSync); ok {
		c.fsync = fs
	}
	Logger().Info("pls: context created",
		"backend", b.Name(),
		"framesInFlight", cfg.maxInFlight,
		"ringDepth", depth,
		"frameSync", c.fsync != nil)
	return c, nil
}

// Backend returns the backend the context renders with.
func (c *Context) Backend() flush.Backend { return c.backend }

// Pipeline returns the flush pipeline. Calls on it must come from the
// goroutine driving the context.
func (c *Context) Pipeline() *flush.Pipeline { return c.pipeline }

// Ledger returns the ledger of the context's resources.
func (c *Context) Ledger() *resource.Ledger { return c.ledger }

// Frame returns the current frame, or the last one if no frame is in
// progress. It is zero before the first BeginFrame.
func (c *Context) Frame() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frame
}

// RetiredFrame returns the newest frame whose GPU work has finished.
func (c *Context) RetiredFrame() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retired
}

// BeginFrame starts the next frame. When the maximum number of frames is
// already in flight it blocks until the oldest one retires or ctx is done.
func (c *Context) BeginFrame(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.inFrame {
		c.mu.Unlock()
		return ErrFrameInProgress
	}
	next := c.frame + 1
	c.pollLocked()

	if limit := uint64(c.cfg.maxInFlight); c.fsync != nil && next-c.retired > limit {
		wait := next - limit
		c.mu.Unlock()
		err := c.fsync.WaitFrame(ctx, wait)
		c.mu.Lock()
		if err != nil {
			c.mu.Unlock()
			return fmt.Errorf("pls: wait for frame %d: %w", wait, err)
		}
		c.retired = max(c.retired, wait)
		c.pollLocked()
	}
	defer c.mu.Unlock()

	c.frame = next
	if err := c.pipeline.PrepareToFlush(next, c.retired); err != nil {
		// The frame number is spent; close it so the next BeginFrame
		// starts clean.
		c.endFrameLocked()
		return fmt.Errorf("pls: begin frame %d: %w", next, err)
	}
	c.inFrame = true
	return nil
}

// pollLocked refreshes the retired frame. Backends without frame sync
// finish their work synchronously.
func (c *Context) pollLocked() {
	if c.fsync == nil {
		c.retired = c.frame
		return
	}
	c.retired = max(c.retired, min(c.fsync.CompletedFrame(), c.frame))
}

// Ring returns the upload ring of kind.
func (c *Context) Ring(kind flush.BufferKind) *upload.Ring {
	return c.pipeline.Ring(kind)
}

// Reserve makes sure the ring of kind can take bytes in this frame.
func (c *Context) Reserve(kind flush.BufferKind, bytes int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkFrame(); err != nil {
		return err
	}
	c.pipeline.Reserve(kind, bytes)
	return nil
}

// Upload writes size bytes into the ring of kind through fill, which
// returns how many bytes it wrote. fill must not call back into c.
//
// Each ring takes one upload per frame. A further upload to the same ring
// returns an error wrapping upload.ErrRingExhausted unless a rotating ring
// has a slot whose frame has retired.
func (c *Context) Upload(kind flush.BufferKind, size int, fill func([]byte) int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkFrame(); err != nil {
		return err
	}
	return c.pipeline.Upload(kind, size, fill)
}

// Flush executes one logical flush of the current frame. A dropped flush
// returns an error wrapping flush.ErrFlushDropped; the frame can go on.
func (c *Context) Flush(desc *flush.Descriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkFrame(); err != nil {
		return err
	}
	return c.pipeline.Flush(desc)
}

// EndFrame ends the current frame and tells the backend its submissions
// are complete.
func (c *Context) EndFrame() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkFrame(); err != nil {
		return err
	}
	c.endFrameLocked()
	return nil
}

func (c *Context) endFrameLocked() {
	c.pipeline.PostFlush()
	if c.fsync != nil {
		c.fsync.EndFrame(c.frame)
	}
	c.inFrame = false
}

func (c *Context) checkFrame() error {
	switch {
	case c.closed:
		return ErrClosed
	case !c.inFrame:
		return ErrNoFrame
	}
	return nil
}

// Close ends a frame left open, waits for the GPU to finish every frame,
// then destroys all resources and closes the backend. If ctx is done
// before the GPU finishes, Close returns the context error and the
// Context stays open.
func (c *Context) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.inFrame {
		c.endFrameLocked()
	}
	if c.fsync != nil && c.frame > 0 {
		frame := c.frame
		c.mu.Unlock()
		if err := c.fsync.WaitFrame(ctx, frame); err != nil {
			return fmt.Errorf("pls: wait for frame %d: %w", frame, err)
		}
		c.mu.Lock()
		c.retired = max(c.retired, frame)
	}
	defer c.mu.Unlock()

	c.pipeline.Release()
	c.ledger.Shutdown()
	c.ledger.Close()
	c.closed = true
	err := c.backend.Close()
	Logger().Info("pls: context closed", "backend", c.backend.Name(), "frames", c.frame)
	if err != nil {
		return fmt.Errorf("pls: close backend: %w", err)
	}
	return nil
}

// Snapshot implements metrics.Source. It is safe to call from any
// goroutine.
func (c *Context) Snapshot() metrics.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := metrics.Snapshot{
		Backend:  c.backend.Name(),
		Frame:    c.frame,
		Retired:  c.retired,
		Ledger:   c.ledger.Stats(),
		Bindings: c.pipeline.BindingPool().Stats(),
		Flush:    c.pipeline.Stats(),
	}
	for k := range s.Rings {
		s.Rings[k] = c.pipeline.Ring(flush.BufferKind(k)).Stats()
	}
	if r, ok := c.backend.(flush.DeviceReporter); ok {
		st := r.DeviceStats()
		s.Device = &st
	}
	return s
}
