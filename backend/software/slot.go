package software

import (
	"fmt"

	"github.com/gogpu/pls/upload"
)

// Slot is a ring backing held in CPU memory. It can be mapped directly or
// updated from a shadow, whichever the allocator's strategy asks for.
type Slot struct {
	label     string
	data      []byte
	mapped    bool
	destroyed bool
	updates   int
}

// Bytes returns the slot contents.
func (s *Slot) Bytes() []byte { return s.data }

// Updates returns how many shadow updates the slot received.
func (s *Slot) Updates() int { return s.updates }

// Destroyed reports whether the ledger has destroyed the slot.
func (s *Slot) Destroyed() bool { return s.destroyed }

// Map implements upload.MappableSlot.
func (s *Slot) Map(size int) ([]byte, error) {
	if s.destroyed {
		return nil, fmt.Errorf("software: map destroyed slot %s", s.label)
	}
	if size > len(s.data) {
		return nil, fmt.Errorf("software: map %d bytes of %d-byte slot %s", size, len(s.data), s.label)
	}
	s.mapped = true
	return s.data[:size:size], nil
}

// Unmap implements upload.MappableSlot.
func (s *Slot) Unmap(int) error {
	s.mapped = false
	return nil
}

// Update implements upload.UpdatableSlot.
func (s *Slot) Update(data []byte) error {
	if s.destroyed {
		return fmt.Errorf("software: update destroyed slot %s", s.label)
	}
	if len(data) > len(s.data) {
		return fmt.Errorf("software: update %d bytes of %d-byte slot %s", len(data), len(s.data), s.label)
	}
	copy(s.data, data)
	s.updates++
	return nil
}

// Destroy implements resource.Destroyer.
func (s *Slot) Destroy() {
	s.destroyed = true
	s.data = nil
}

type allocator struct {
	b *Backend
}

func (a allocator) Strategy() upload.Strategy { return a.b.cfg.strategy }

func (a allocator) NewSlot(label string, capacity int) (upload.Slot, error) {
	if a.b.cfg.maxSlotBytes > 0 && capacity > a.b.cfg.maxSlotBytes {
		return nil, fmt.Errorf("software: %s slot of %d bytes exceeds limit %d", label, capacity, a.b.cfg.maxSlotBytes)
	}
	a.b.slotsAllocated++
	return &Slot{label: label, data: make([]byte, capacity)}, nil
}
