package wgpu

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/pls/backend"
	"github.com/gogpu/pls/flush"
	"github.com/gogpu/pls/internal/cache"
	"github.com/gogpu/pls/internal/logging"
	"github.com/gogpu/pls/resource"
	"github.com/gogpu/pls/upload"
	"github.com/gogpu/wgpu/hal"
)

func init() {
	backend.Register(backend.BackendWGPU, func() (flush.Backend, error) {
		return Open()
	})
}

// Errors returned by the wgpu backend.
var (
	// ErrClosed is returned by a closed backend.
	ErrClosed = errors.New("wgpu: backend closed")

	// ErrNoDevice is returned when no HAL device can be opened.
	ErrNoDevice = errors.New("wgpu: no device")

	// ErrForeignTarget is returned when a flush target was not created by
	// NewTarget.
	ErrForeignTarget = errors.New("wgpu: target is not a *wgpu.Target")

	// ErrFrameNotEnded is returned by WaitFrame for a frame that was never
	// passed to EndFrame.
	ErrFrameNotEnded = errors.New("wgpu: frame has not ended")
)

// DefaultCapabilities are reported unless WithCapabilities overrides them.
// WebGPU exposes neither raster ordering nor fragment-shader atomics on
// color attachments, so only the atomics mode is planned.
var DefaultCapabilities = flush.Capabilities{
	ImageBindingsPerTable: flush.DefaultImageBindingsPerTable,
}

const (
	// DefaultPipelineCacheSize bounds the number of live render pipelines.
	DefaultPipelineCacheSize = 64

	// DefaultPollInterval is how often WaitFrame polls the queue.
	DefaultPollInterval = time.Millisecond
)

// Option configures a Backend.
type Option func(*config)

type config struct {
	strategy     upload.Strategy
	caps         flush.Capabilities
	cacheSize    int
	pollInterval time.Duration
	halBackend   gputypes.Backend
	logger       *slog.Logger
}

func defaultConfig() config {
	return config{
		strategy:     upload.Shadow,
		caps:         DefaultCapabilities,
		cacheSize:    DefaultPipelineCacheSize,
		pollInterval: DefaultPollInterval,
		halBackend:   gputypes.BackendVulkan,
	}
}

// WithStrategy selects shadow staging (the default, through
// Queue.WriteBuffer) or direct mapping of MapWrite buffers.
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

// WithPipelineCacheSize bounds the pipeline cache. Zero means unbounded.
func WithPipelineCacheSize(n int) Option {
	return func(c *config) {
		c.cacheSize = n
	}
}

// WithPollInterval sets how often WaitFrame polls for completion.
func WithPollInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithHALBackend selects the HAL backend Open uses. The default is Vulkan.
func WithHALBackend(variant gputypes.Backend) Option {
	return func(c *config) {
		c.halBackend = variant
	}
}

// WithLogger sets the backend's logger. By default the package logger
// configured through pls.SetLogger is used.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// Stats are backend counters.
type Stats struct {
	Submits        uint64
	SlotsAllocated int
	TablesCreated  int
	TextureGrowths int
	PendingDestroy int
	Pipelines      cache.Stats
}

// Backend implements flush.Backend and flush.FrameSync over a HAL device.
// Replaced textures, evicted pipelines, per-flush bind groups and command
// buffers are tracked by the backend's own ledger, which advances with the
// frames passed to BeginFlush and EndFrame and retires them as the queue
// completes.
type Backend struct {
	cfg    config
	device hal.Device
	queue  hal.Queue
	owned  hal.Instance

	ledger    *resource.Ledger
	layouts   *layouts
	shaders   *shaderModules
	pipelines *pipelineCache
	dummy     hal.Buffer

	grad      textureSlot
	tess      textureSlot
	offscreen textureSlot
	targets   []*Target

	mu         sync.Mutex
	marks      []frameMark
	lastSubmit uint64
	lastEnded  uint64
	completed  uint64
	submits    uint64

	slotsAllocated int
	tablesCreated  int
	closed         bool
}

// frameMark is the last submission index of an ended frame.
type frameMark struct {
	frame      uint64
	submission uint64
}

var (
	_ flush.Backend        = (*Backend)(nil)
	_ flush.FrameSync      = (*Backend)(nil)
	_ flush.DeviceReporter = (*Backend)(nil)
)

// New creates a backend on an open device. The caller keeps ownership of
// device and queue.
func New(device hal.Device, queue hal.Queue, opts ...Option) (*Backend, error) {
	if device == nil || queue == nil {
		return nil, fmt.Errorf("%w: nil device or queue", ErrNoDevice)
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	b := &Backend{
		cfg:     cfg,
		device:  device,
		queue:   queue,
		shaders: &shaderModules{device: device},
	}
	b.ledger = resource.NewLedger(resource.WithLogger(cfg.logger))
	b.grad = textureSlot{
		label: "pls_gradient",
		usage: gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
	}
	b.tess = textureSlot{
		label: "pls_tessellation",
		usage: gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageTextureBinding,
	}
	b.offscreen = textureSlot{
		label: "pls_offscreen",
		usage: gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopySrc | gputypes.TextureUsageCopyDst,
	}

	l, err := createLayouts(device)
	if err != nil {
		return nil, err
	}
	b.layouts = l
	b.pipelines = newPipelineCache(device, l, b.shaders, cfg.cacheSize)

	b.dummy, err = device.CreateBuffer(&hal.BufferDescriptor{
		Label: "pls_dummy",
		Size:  uniformBlockSize,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageStorage |
			gputypes.BufferUsageVertex | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		l.destroy(device)
		return nil, fmt.Errorf("wgpu: create dummy buffer: %w", err)
	}
	return b, nil
}

// Name implements flush.Backend.
func (b *Backend) Name() string { return backend.BackendWGPU }

// Capabilities implements flush.Backend.
func (b *Backend) Capabilities() flush.Capabilities { return b.cfg.caps }

// Device returns the HAL device.
func (b *Backend) Device() hal.Device { return b.device }

// Queue returns the HAL queue.
func (b *Backend) Queue() hal.Queue { return b.queue }

// Allocator implements flush.Backend. Buffer usage follows the ring kind.
func (b *Backend) Allocator(kind flush.BufferKind) upload.Allocator {
	return allocator{b: b, kind: kind}
}

// NewBindingTable implements flush.Backend.
func (b *Backend) NewBindingTable(capacity int) (flush.BindingTable, error) {
	if b.closed {
		return nil, ErrClosed
	}
	b.tablesCreated++
	return &bindingTable{b: b, slots: make([]imageSlot, capacity)}, nil
}

// BeginFlush implements flush.Backend. It retires finished work, grows the
// gradient, tessellation and offscreen textures to what desc needs and
// opens a command encoder.
func (b *Backend) BeginFlush(desc *flush.Descriptor, res *flush.FrameResources) (flush.Encoder, error) {
	if b.closed {
		return nil, ErrClosed
	}
	target, ok := desc.Target.(*Target)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrForeignTarget, desc.Target)
	}
	b.advance(res.Frame)

	rampRows := (desc.SimpleRamps.Count + flush.GradTextureWidthInSimpleRamps - 1) / flush.GradTextureWidthInSimpleRamps
	if err := b.grad.ensure(b.ledger, b.device, flush.GradTextureWidth, max(desc.GradTextureHeight, rampRows), gputypes.TextureFormatRGBA8Unorm); err != nil {
		return nil, err
	}
	if err := b.tess.ensure(b.ledger, b.device, flush.TessTextureWidth, desc.TessTextureHeight, gputypes.TextureFormatRGBA32Uint); err != nil {
		return nil, err
	}
	if !target.readWrite {
		w, h := uint32(target.size.X), uint32(target.size.Y)
		if err := b.offscreen.ensure(b.ledger, b.device, w, h, target.format); err != nil {
			return nil, err
		}
	}

	enc, err := b.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "pls_flush"})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create command encoder: %w", err)
	}
	if err := enc.BeginEncoding("pls_flush"); err != nil {
		enc.Destroy()
		return nil, fmt.Errorf("wgpu: begin encoding: %w", err)
	}

	e := &encoder{b: b, desc: desc, res: res, target: target, enc: enc}
	if e.buffers, err = e.bufferGroup(); err != nil {
		e.Discard()
		return nil, err
	}
	return e, nil
}

// Close implements flush.Backend. It waits for the device to go idle and
// destroys everything the backend created. Ring slots and binding tables
// belong to the pipeline and must be released first.
func (b *Backend) Close() error {
	if b.closed {
		return ErrClosed
	}
	b.closed = true
	err := b.device.WaitIdle()

	for _, t := range b.targets {
		t.Release()
	}
	b.targets = nil
	b.pipelines.purge()
	b.grad.release()
	b.tess.release()
	b.offscreen.release()
	b.ledger.Shutdown()
	b.ledger.Close()

	b.shaders.destroy()
	b.layouts.destroy(b.device)
	b.device.DestroyBuffer(b.dummy)
	if b.owned != nil {
		b.device.Destroy()
		b.owned.Destroy()
	}
	if err != nil {
		return fmt.Errorf("wgpu: wait idle: %w", err)
	}
	return nil
}

// EndFrame implements flush.FrameSync. It also reclaims the device objects
// of frames the queue has finished, so a frame without flushes still
// drains the ledger.
func (b *Backend) EndFrame(frame uint64) {
	b.mu.Lock()
	b.marks = append(b.marks, frameMark{frame: frame, submission: b.lastSubmit})
	b.lastEnded = max(b.lastEnded, frame)
	b.mu.Unlock()

	if !b.closed {
		b.advance(frame)
	}
}

// advance moves the ledger to frame with the newest completed frame as
// its safe frame. Older frames are ignored.
func (b *Backend) advance(frame uint64) {
	if frame < b.ledger.CurrentFrame() {
		return
	}
	b.ledger.AdvanceFrame(frame, min(b.CompletedFrame(), frame))
}

// CompletedFrame implements flush.FrameSync.
func (b *Backend) CompletedFrame() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pollLocked()
	return b.completed
}

// WaitFrame implements flush.FrameSync. It polls the queue until frame's
// last submission completes.
func (b *Backend) WaitFrame(ctx context.Context, frame uint64) error {
	ticker := time.NewTicker(b.cfg.pollInterval)
	defer ticker.Stop()
	for {
		b.mu.Lock()
		b.pollLocked()
		done, ended := b.completed >= frame, b.lastEnded >= frame
		b.mu.Unlock()

		if done {
			return nil
		}
		if !ended {
			return fmt.Errorf("%w: frame %d", ErrFrameNotEnded, frame)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stats returns a snapshot of the backend counters.
func (b *Backend) Stats() Stats {
	b.mu.Lock()
	submits := b.submits
	b.mu.Unlock()
	return Stats{
		Submits:        submits,
		SlotsAllocated: b.slotsAllocated,
		TablesCreated:  b.tablesCreated,
		TextureGrowths: b.grad.grows + b.tess.grows + b.offscreen.grows,
		PendingDestroy: b.ledger.Pending(),
		Pipelines:      b.pipelines.stats(),
	}
}

// DeviceStats implements flush.DeviceReporter.
func (b *Backend) DeviceStats() flush.DeviceStats {
	st := b.Stats()
	return flush.DeviceStats{
		Submits:           st.Submits,
		SlotsAllocated:    st.SlotsAllocated,
		TablesCreated:     st.TablesCreated,
		TextureGrowths:    st.TextureGrowths,
		PendingDestroy:    st.PendingDestroy,
		Pipelines:         st.Pipelines.Len,
		PipelineHits:      st.Pipelines.Hits,
		PipelineMisses:    st.Pipelines.Misses,
		PipelineEvictions: st.Pipelines.Evictions,
	}
}

// Ledger returns the ledger tracking the backend's own resources.
func (b *Backend) Ledger() *resource.Ledger { return b.ledger }

func (b *Backend) pollLocked() {
	done := b.queue.PollCompleted()
	n := 0
	for n < len(b.marks) && b.marks[n].submission <= done {
		b.completed = max(b.completed, b.marks[n].frame)
		n++
	}
	b.marks = append(b.marks[:0], b.marks[n:]...)
}

func (b *Backend) noteSubmit(index uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastSubmit = max(b.lastSubmit, index)
	b.submits++
}

func (b *Backend) logger() *slog.Logger {
	if b.cfg.logger != nil {
		return b.cfg.logger
	}
	return logging.L()
}
