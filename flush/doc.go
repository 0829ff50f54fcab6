// Package flush implements the per-frame rendering protocol of the
// rasterizer core.
//
// A host drives one Pipeline per render context:
//
//	p.PrepareToFlush(frame, safeFrame) // once per frame
//	... write gradient spans, tessellation spans, paths, paints into p.Ring(kind)
//	p.Flush(desc)                      // one or more logical flushes
//	p.PostFlush()                      // once per frame
//
// Each Flush runs three ordered phases: color ramps are rendered into the
// gradient texture, curve instances are tessellated into the tessellation
// texture, and finally the draw list is executed against the render target.
//
// The InterlockMode decides how overlapping antialiased coverage inside one
// draw list stays consistent. RasterOrdering trusts the hardware to order
// same-pixel fragments. Atomics accumulates coverage with atomic operations
// into auxiliary planes and composites them with exactly one resolve draw.
// ClockwiseAtomic is a restricted atomic mode that only needs a barrier
// between borrowed-coverage prepasses and the main draws.
//
// Targets that cannot be bound as read/write images are rendered through a
// same-sized offscreen texture that is copied back over the updated bounds.
//
// Running out of per-flush capacity (image bindings, ring space) drops the
// flush with a logged warning and ErrFlushDropped; the frame continues.
package flush
