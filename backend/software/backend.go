package software

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/gogpu/pls/backend"
	"github.com/gogpu/pls/flush"
	"github.com/gogpu/pls/upload"
)

func init() {
	backend.Register(backend.BackendSoftware, func() (flush.Backend, error) {
		return New(), nil
	})
}

// ErrClosed is returned by a closed backend.
var ErrClosed = errors.New("software: backend closed")

// DefaultCapabilities is what the software backend reports unless
// WithCapabilities overrides it. All interlock modes run, since nothing
// executes out of order on the CPU.
var DefaultCapabilities = flush.Capabilities{
	RasterOrdering:        true,
	ClockwiseAtomic:       true,
	CoalescedResolve:      true,
	ImageBindingsPerTable: flush.DefaultImageBindingsPerTable,
	MaxBindingTables:      4,
}

// Option configures a Backend.
type Option func(*config)

type config struct {
	strategy     upload.Strategy
	caps         flush.Capabilities
	maxSlotBytes int
}

// WithStrategy selects direct mapping (the default) or shadow staging for
// ring slots.
func WithStrategy(s upload.Strategy) Option {
	return func(c *config) {
		c.strategy = s
	}
}

// WithCapabilities overrides the reported capabilities.
func WithCapabilities(caps flush.Capabilities) Option {
	return func(c *config) {
		c.caps = caps
	}
}

// WithSlotLimit makes slot allocations larger than n bytes fail.
func WithSlotLimit(n int) Option {
	return func(c *config) {
		c.maxSlotBytes = n
	}
}

// Backend implements flush.Backend and flush.FrameSync on the CPU.
type Backend struct {
	cfg config

	grad      *image.RGBA
	tess      *image.RGBA
	offscreen *image.RGBA

	log            []Command
	slotsAllocated int
	tablesCreated  int
	submits        uint64
	completed      uint64
	closed         bool
}

// New creates a software backend.
func New(opts ...Option) *Backend {
	cfg := config{strategy: upload.Direct, caps: DefaultCapabilities}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Backend{cfg: cfg}
}

var (
	_ flush.Backend        = (*Backend)(nil)
	_ flush.FrameSync      = (*Backend)(nil)
	_ flush.DeviceReporter = (*Backend)(nil)
)

// Name implements flush.Backend.
func (b *Backend) Name() string { return backend.BackendSoftware }

// Capabilities implements flush.Backend.
func (b *Backend) Capabilities() flush.Capabilities { return b.cfg.caps }

// Allocator implements flush.Backend. Every ring uses the same strategy.
func (b *Backend) Allocator(flush.BufferKind) upload.Allocator {
	return allocator{b: b}
}

// NewBindingTable implements flush.Backend.
func (b *Backend) NewBindingTable(capacity int) (flush.BindingTable, error) {
	if b.closed {
		return nil, ErrClosed
	}
	b.tablesCreated++
	return &bindingTable{slots: make([]flush.ImageTexture, capacity)}, nil
}

// BeginFlush implements flush.Backend. The gradient and tessellation
// images grow to the heights desc asks for; the offscreen image follows
// the target's bounds.
func (b *Backend) BeginFlush(desc *flush.Descriptor, res *flush.FrameResources) (flush.Encoder, error) {
	if b.closed {
		return nil, ErrClosed
	}
	rampRows := (int(desc.SimpleRamps.Count) + flush.GradTextureWidthInSimpleRamps - 1) / flush.GradTextureWidthInSimpleRamps
	b.grad = grow(b.grad, flush.GradTextureWidth, max(int(desc.GradTextureHeight), rampRows))
	b.tess = grow(b.tess, flush.TessTextureWidth, int(desc.TessTextureHeight))

	var target *image.RGBA
	if t, ok := desc.Target.(*Target); ok {
		target = t.img
		if !t.readWrite && (b.offscreen == nil || b.offscreen.Rect != target.Rect) {
			b.offscreen = image.NewRGBA(target.Rect)
		}
	}

	e := &encoder{b: b, res: res, target: target}
	e.rec(Command{Op: OpBeginFlush})
	return e, nil
}

// Close implements flush.Backend.
func (b *Backend) Close() error {
	if b.closed {
		return ErrClosed
	}
	b.closed = true
	b.grad, b.tess, b.offscreen = nil, nil, nil
	return nil
}

// EndFrame implements flush.FrameSync. Work is done when submitted, so
// the frame completes immediately.
func (b *Backend) EndFrame(frame uint64) {
	b.completed = max(b.completed, frame)
}

// CompletedFrame implements flush.FrameSync.
func (b *Backend) CompletedFrame() uint64 { return b.completed }

// WaitFrame implements flush.FrameSync.
func (b *Backend) WaitFrame(ctx context.Context, frame uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if frame > b.completed {
		return fmt.Errorf("software: frame %d has not ended (completed %d)", frame, b.completed)
	}
	return nil
}

// Commands returns a copy of the command log.
func (b *Backend) Commands() []Command {
	return append([]Command(nil), b.log...)
}

// ResetCommands empties the command log.
func (b *Backend) ResetCommands() { b.log = b.log[:0] }

// Submits returns the number of finished flushes.
func (b *Backend) Submits() uint64 { return b.submits }

// SlotsAllocated returns the number of ring slots created.
func (b *Backend) SlotsAllocated() int { return b.slotsAllocated }

// TablesCreated returns the number of binding tables created.
func (b *Backend) TablesCreated() int { return b.tablesCreated }

// DeviceStats implements flush.DeviceReporter. Software work completes
// synchronously, so nothing is ever pending.
func (b *Backend) DeviceStats() flush.DeviceStats {
	return flush.DeviceStats{
		Submits:        b.submits,
		SlotsAllocated: b.slotsAllocated,
		TablesCreated:  b.tablesCreated,
	}
}

// GradientTexture returns the gradient image, or nil before the first flush.
func (b *Backend) GradientTexture() *image.RGBA { return b.grad }

// TessellationTexture returns the tessellation image.
func (b *Backend) TessellationTexture() *image.RGBA { return b.tess }

// Offscreen returns the offscreen color image.
func (b *Backend) Offscreen() *image.RGBA { return b.offscreen }

// grow returns img if it has at least height rows, or a taller image with
// the old rows copied.
func grow(img *image.RGBA, width, height int) *image.RGBA {
	height = max(height, 1)
	if img != nil && img.Rect.Dy() >= height {
		return img
	}
	next := image.NewRGBA(image.Rect(0, 0, width, height))
	if img != nil {
		copy(next.Pix, img.Pix)
	}
	return next
}
