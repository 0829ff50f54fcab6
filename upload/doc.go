// Package upload implements multi-buffered CPU→GPU staging rings for data
// that changes every frame.
//
// A Ring is one logical buffer backed by several physical slots. The CPU
// writes the next slot while the GPU may still read earlier ones; a slot is
// reused only after the frame that last submitted it has retired according
// to the owning resource.Ledger.
//
// Backends choose between two strategies:
//
//   - Direct: slots are CPU-visible memory, Map returns bytes inside the slot.
//   - Shadow: slots cannot be mapped; Map returns a CPU shadow and
//     UnmapAndSubmit issues an update scoped to the bytes actually written.
//
// Typical per-frame use:
//
//	data, err := ring.Map(n)
//	if err != nil { ... }
//	written := encode(data)
//	err = ring.UnmapAndSubmit(written)
//	slot := ring.Submitted() // bind this for the flush
package upload
