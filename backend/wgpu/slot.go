package wgpu

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/pls/flush"
	"github.com/gogpu/pls/upload"
	"github.com/gogpu/wgpu/hal"
)

// errSlotMapped is returned when a slot is mapped twice.
var errSlotMapped = errors.New("wgpu: slot already mapped")

// bufferSlot is a ring backing: one hal.Buffer.
type bufferSlot struct {
	device hal.Device
	queue  hal.Queue
	buffer hal.Buffer
	size   int
	mapped bool
}

// Map implements upload.MappableSlot.
func (s *bufferSlot) Map(size int) ([]byte, error) {
	if s.mapped {
		return nil, errSlotMapped
	}
	if size > s.size {
		return nil, fmt.Errorf("%w: map %d of %d bytes", upload.ErrCapacityExceeded, size, s.size)
	}
	if size == 0 {
		s.mapped = true
		return nil, nil
	}
	m, err := s.device.MapBuffer(s.buffer, 0, uint64(size))
	if err != nil {
		return nil, fmt.Errorf("wgpu: map buffer: %w", err)
	}
	s.mapped = true
	return unsafe.Slice((*byte)(m.Ptr), size), nil
}

// Unmap implements upload.MappableSlot.
func (s *bufferSlot) Unmap(int) error {
	if !s.mapped {
		return nil
	}
	s.mapped = false
	if err := s.device.UnmapBuffer(s.buffer); err != nil {
		return fmt.Errorf("wgpu: unmap buffer: %w", err)
	}
	return nil
}

// Update implements upload.UpdatableSlot.
func (s *bufferSlot) Update(data []byte) error {
	if len(data) > s.size {
		return fmt.Errorf("%w: update %d of %d bytes", upload.ErrCapacityExceeded, len(data), s.size)
	}
	if err := s.queue.WriteBuffer(s.buffer, 0, data); err != nil {
		return fmt.Errorf("wgpu: write buffer: %w", err)
	}
	return nil
}

// Destroy implements upload.Slot.
func (s *bufferSlot) Destroy() {
	if s.buffer != nil {
		s.device.DestroyBuffer(s.buffer)
		s.buffer = nil
	}
}

// allocator creates the buffers of one ring kind.
type allocator struct {
	b    *Backend
	kind flush.BufferKind
}

// Strategy implements upload.Allocator.
func (a allocator) Strategy() upload.Strategy { return a.b.cfg.strategy }

// NewSlot implements upload.Allocator. Sizes are rounded up to a multiple
// of 256 so uniform bindings at any flush offset stay in range.
func (a allocator) NewSlot(label string, capacity int) (upload.Slot, error) {
	if a.b.closed {
		return nil, ErrClosed
	}
	size := alignUp(max(capacity, 1), bufferAlign)
	usage := kindUsage(a.kind)
	if a.b.cfg.strategy == upload.Direct {
		usage |= gputypes.BufferUsageMapWrite
	} else {
		usage |= gputypes.BufferUsageCopyDst
	}
	buf, err := a.b.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "pls_" + label,
		Size:  uint64(size),
		Usage: usage,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create %s buffer: %w", label, err)
	}
	a.b.slotsAllocated++
	return &bufferSlot{device: a.b.device, queue: a.b.queue, buffer: buf, size: size}, nil
}

// kindUsage returns how the shaders consume a ring of kind.
func kindUsage(kind flush.BufferKind) gputypes.BufferUsage {
	switch kind {
	case flush.FlushUniforms, flush.ImageDrawUniforms:
		return gputypes.BufferUsageUniform
	case flush.TriangleVertices:
		return gputypes.BufferUsageVertex
	case flush.SimpleRamps:
		return gputypes.BufferUsageCopySrc
	default:
		return gputypes.BufferUsageStorage
	}
}

const bufferAlign = 256

func alignUp(n, align int) int {
	return (n + align - 1) / align * align
}

// slotBuffer returns the hal buffer behind a ring slot, or nil.
func slotBuffer(s upload.Slot) hal.Buffer {
	if bs, ok := s.(*bufferSlot); ok {
		return bs.buffer
	}
	return nil
}
