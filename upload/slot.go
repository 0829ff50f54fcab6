package upload

import "errors"

// Strategy selects how CPU writes reach a slot.
type Strategy uint8

const (
	// Direct maps slot memory straight into the CPU address space.
	Direct Strategy = iota
	// Shadow writes into a CPU shadow and updates the slot on unmap.
	Shadow
)

// String returns the strategy name.
func (s Strategy) String() string {
	switch s {
	case Direct:
		return "direct"
	case Shadow:
		return "shadow"
	default:
		return "unknown"
	}
}

// Slot is one physical backing of a ring.
type Slot interface {
	Destroy()
}

// MappableSlot is a slot whose memory the CPU can write directly.
type MappableSlot interface {
	Slot
	// Map returns a writable view of the first size bytes.
	Map(size int) ([]byte, error)
	// Unmap ends CPU access; written is the number of bytes filled.
	Unmap(written int) error
}

// UpdatableSlot is a slot updated by an explicit copy command.
type UpdatableSlot interface {
	Slot
	// Update copies data to the start of the slot.
	Update(data []byte) error
}

// Allocator creates slots for one backend.
type Allocator interface {
	// Strategy reports which slot interface NewSlot results implement.
	Strategy() Strategy
	// NewSlot allocates a slot of the given capacity in bytes.
	NewSlot(label string, capacity int) (Slot, error)
}

// Errors returned by ring operations.
var (
	// ErrRingExhausted is returned when every slot may still be read by the GPU.
	ErrRingExhausted = errors.New("upload: ring exhausted")

	// ErrCapacityExceeded is returned when a write does not fit the ring.
	ErrCapacityExceeded = errors.New("upload: capacity exceeded")

	// ErrStrategyMismatch is returned when a slot lacks the interface its
	// allocator's strategy requires.
	ErrStrategyMismatch = errors.New("upload: slot does not match strategy")
)
