package flush

import (
	"context"
	"image"
	"image/color"

	"github.com/gogpu/pls/upload"
)

// Capabilities describe what a backend's device supports.
type Capabilities struct {
	// RasterOrdering: same-pixel fragments execute in submission order.
	RasterOrdering bool
	// ClockwiseAtomic: the restricted clockwise atomic mode is available.
	ClockwiseAtomic bool
	// CoalescedResolve: the atomic resolve can write the real target while
	// the draws render offscreen.
	CoalescedResolve bool
	// AtomicInitializeAsDraw: atomic planes must be initialized by a draw
	// rather than a clear.
	AtomicInitializeAsDraw bool

	// ImageBindingsPerTable is the number of image slots in one binding
	// table.
	ImageBindingsPerTable int
	// MaxBindingTables limits binding tables per flush. Zero means no limit.
	MaxBindingTables int
}

// Backend is implemented once per native graphics API. The pipeline never
// looks behind it.
type Backend interface {
	Name() string
	Capabilities() Capabilities

	// Allocator returns the slot allocator for a ring kind.
	Allocator(kind BufferKind) upload.Allocator

	// NewBindingTable creates a table with capacity image slots.
	NewBindingTable(capacity int) (BindingTable, error)

	// BeginFlush starts recording one logical flush. Textures that are too
	// small for desc are replaced here.
	BeginFlush(desc *Descriptor, res *FrameResources) (Encoder, error)

	Close() error
}

// FrameSync is implemented by backends that can report GPU progress.
// Hosts use it to pick the safe frame passed to PrepareToFlush.
type FrameSync interface {
	// EndFrame marks the end of frame's submissions.
	EndFrame(frame uint64)
	// CompletedFrame returns the newest frame whose work has finished.
	CompletedFrame() uint64
	// WaitFrame blocks until frame has finished or ctx is done.
	WaitFrame(ctx context.Context, frame uint64) error
}

// DeviceStats are counters a backend keeps about its own device objects.
type DeviceStats struct {
	Submits        uint64
	SlotsAllocated int
	TablesCreated  int
	TextureGrowths int
	PendingDestroy int

	Pipelines         int
	PipelineHits      uint64
	PipelineMisses    uint64
	PipelineEvictions uint64
}

// DeviceReporter is implemented by backends that report DeviceStats.
type DeviceReporter interface {
	DeviceStats() DeviceStats
}

// BindingTable is a set of image bindings used by the draws of one flush.
type BindingTable interface {
	Set(slot int, tex ImageTexture)
	Reset()
	Destroy()
}

// FrameResources are the ring slots submitted during the current frame.
// A nil slot means the ring received nothing this frame.
type FrameResources struct {
	Frame   uint64
	Buffers [NumBufferKinds]upload.Slot
	Bytes   [NumBufferKinds]int
}

// DrawPass configures the draw-list render pass.
type DrawPass struct {
	Target     Target
	Interlock  InterlockMode
	LoadAction LoadAction
	ClearColor color.RGBA

	CoverageClearValue uint32
	Bounds             image.Rectangle

	// Offscreen: draws render into the offscreen texture.
	Offscreen bool
	Misc      MiscFlags

	// CoveragePrefix is the clockwiseAtomic coverage prefix of this flush.
	CoveragePrefix      uint32
	ClearCoverageBuffer bool

	Wireframe bool
}

// Encoder records one logical flush. Calls arrive in phase order; Finish
// submits the recorded work and Discard abandons it.
type Encoder interface {
	UploadSimpleRamps(ramps Range)
	RenderGradientSpans(spans Range, height uint32)
	RenderTessellation(spans Range, height uint32)

	// BlitTargetToOffscreen copies the target's bounds into the offscreen
	// texture before drawing.
	BlitTargetToOffscreen(bounds image.Rectangle)

	BeginDrawPass(pass *DrawPass)
	Barrier(flags BarrierFlags)
	BindImages(table BindingTable)
	// Draw draws a batch. imageSlot is the batch image's slot in the bound
	// table, or -1.
	Draw(batch *DrawBatch, imageSlot int)
	EndDrawPass()

	// CopyOffscreenToTarget copies bounds of the offscreen texture back to
	// the target.
	CopyOffscreenToTarget(bounds image.Rectangle)

	Finish() error
	Discard()
}
