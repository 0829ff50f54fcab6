// Package resource manages the lifetime of GPU-visible objects whose native
// backing may still be read by in-flight command buffers.
//
// A Ledger tracks two frame counters: the frame currently being recorded and
// the newest frame whose GPU work the host has proven retired. Objects
// released while frames are in flight are parked in a FIFO "purgatory"
// tagged with the frame of their release, and are destroyed only once the
// safe frame catches up:
//
//	ledger := resource.NewLedger()
//	buf := resource.Manage(ledger, nativeBuffer)
//	...
//	buf.Release()                 // refcount 0: parked, not destroyed
//	ledger.AdvanceFrame(next, safe) // destroys everything released at or before safe
//
// Pool recycles resources instead of destroying them, for objects that are
// expensive to create but cheap to reuse once the GPU is done with them.
//
// Nothing in this package is safe for concurrent use. All calls must come
// from the goroutine that owns the render context's command stream.
package resource
