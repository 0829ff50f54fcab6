package upload

import (
	"fmt"

	"github.com/gogpu/pls/resource"
)

// DefaultDepth is the number of slots in a rotating ring, matching the
// number of frames typically in flight.
const DefaultDepth = 3

// RingStats counts ring traffic.
type RingStats struct {
	Capacity       int
	Maps           uint64
	Submits        uint64
	Exhausted      uint64
	Allocations    uint64
	BytesSubmitted uint64
	LastWritten    int
}

// ringSlot is a rotating slot and the frame that last submitted it.
type ringSlot struct {
	res       *resource.Resource[Slot]
	lastFrame uint64
	used      bool
}

type ringConfig struct {
	depth    int
	pooled   bool
	poolSize int
}

// RingOption configures a Ring.
type RingOption func(*ringConfig)

// WithDepth sets the number of rotating slots. Values below 1 are ignored.
func WithDepth(n int) RingOption {
	return func(c *ringConfig) {
		if n >= 1 {
			c.depth = n
		}
	}
}

// WithPool switches the ring to pooled backings: one slot is acquired per
// frame by BeginFrame and recycled by EndFrame through a resource.Pool
// bounded at maxCount entries.
func WithPool(maxCount int) RingOption {
	return func(c *ringConfig) {
		c.pooled = true
		c.poolSize = maxCount
	}
}

// Ring is a multi-buffered upload buffer.
//
// Ring is not safe for concurrent use.
type Ring struct {
	label    string
	alloc    Allocator
	ledger   *resource.Ledger
	capacity int
	cfg      ringConfig

	// Rotating mode.
	slots []ringSlot
	next  int

	// Pooled mode.
	pool      *resource.Pool[Slot]
	frameSlot *resource.Resource[Slot]

	shadow []byte

	mapped     *resource.Resource[Slot]
	mappedIdx  int
	mappedSize int

	submitted   *resource.Resource[Slot]
	submitFrame uint64
	written     int

	stats    RingStats
	released bool
}

// NewRing creates a ring of capacity bytes. Slots are allocated lazily.
func NewRing(l *resource.Ledger, alloc Allocator, label string, capacity int, opts ...RingOption) *Ring {
	if l == nil || alloc == nil {
		panic("upload: NewRing requires a ledger and an allocator")
	}
	cfg := ringConfig{depth: DefaultDepth, poolSize: DefaultDepth}
	for _, opt := range opts {
		opt(&cfg)
	}
	r := &Ring{
		label:    label,
		alloc:    alloc,
		ledger:   l,
		capacity: max(capacity, 0),
		cfg:      cfg,
	}
	r.reset()
	return r
}

// Label returns the ring's debug name.
func (r *Ring) Label() string { return r.label }

// Capacity returns the logical size in bytes.
func (r *Ring) Capacity() int { return r.capacity }

// Depth returns the number of rotating slots, or 0 for a pooled ring.
func (r *Ring) Depth() int { return len(r.slots) }

// Strategy returns the allocator's strategy.
func (r *Ring) Strategy() Strategy { return r.alloc.Strategy() }

// Pooled reports whether the ring draws its backings from a pool.
func (r *Ring) Pooled() bool { return r.cfg.pooled }

// Mapped reports whether a slot is currently open for writing.
func (r *Ring) Mapped() bool { return r.mapped != nil }

// BytesWritten returns the byte count of the last submission.
func (r *Ring) BytesWritten() int { return r.written }

// SubmittedFrame returns the frame of the last submission. Callers compare
// it to the ledger's current frame to tell fresh data from stale.
func (r *Ring) SubmittedFrame() (uint64, bool) {
	return r.submitFrame, r.submitted != nil
}

// Submitted returns the slot the GPU should read for the current frame,
// or nil if nothing has been submitted.
func (r *Ring) Submitted() Slot {
	if r.submitted == nil {
		return nil
	}
	return r.submitted.Native()
}

// Stats returns a snapshot of ring counters.
func (r *Ring) Stats() RingStats {
	s := r.stats
	s.Capacity = r.capacity
	s.LastWritten = r.written
	return s
}

// BeginFrame acquires the frame's backing for a pooled ring. It is a no-op
// for rotating rings.
func (r *Ring) BeginFrame() error {
	r.checkLive()
	if !r.cfg.pooled || r.frameSlot != nil || r.capacity == 0 {
		return nil
	}
	res, err := r.pool.AcquireOrCreate(r.newSlot)
	if err != nil {
		return err
	}
	r.frameSlot = res
	return nil
}

// EndFrame recycles a pooled ring's backing. The submitted slot stays
// readable by the GPU until its frame retires; the pool guarantees that.
func (r *Ring) EndFrame() {
	r.checkLive()
	if r.mapped != nil {
		panic(fmt.Sprintf("upload: ring %q still mapped at end of frame", r.label))
	}
	if !r.cfg.pooled || r.frameSlot == nil {
		return
	}
	r.pool.Recycle(r.frameSlot)
	r.frameSlot = nil
	r.submitted = nil
	r.written = 0
}

// Map opens size bytes of the next slot for writing.
//
// It returns ErrCapacityExceeded if size is larger than the ring and
// ErrRingExhausted if the next slot may still be read by the GPU. A pooled
// ring holds one slot per frame, so it can be submitted once per frame.
// Mapping a ring that is already mapped panics.
func (r *Ring) Map(size int) ([]byte, error) {
	r.checkLive()
	if r.mapped != nil {
		panic(fmt.Sprintf("upload: ring %q mapped twice", r.label))
	}
	if size < 0 {
		panic(fmt.Sprintf("upload: negative map size %d", size))
	}
	if size > r.capacity {
		return nil, fmt.Errorf("%w: %s needs %d bytes, capacity %d", ErrCapacityExceeded, r.label, size, r.capacity)
	}

	res, idx, err := r.nextBacking()
	if err != nil {
		return nil, err
	}

	var data []byte
	switch r.alloc.Strategy() {
	case Direct:
		ms, ok := res.Native().(MappableSlot)
		if !ok {
			return nil, fmt.Errorf("%w: %s slot is %T", ErrStrategyMismatch, r.label, res.Native())
		}
		data, err = ms.Map(size)
		if err != nil {
			return nil, fmt.Errorf("upload: map %s: %w", r.label, err)
		}
	default:
		if _, ok := res.Native().(UpdatableSlot); !ok {
			return nil, fmt.Errorf("%w: %s slot is %T", ErrStrategyMismatch, r.label, res.Native())
		}
		if len(r.shadow) < r.capacity {
			r.shadow = make([]byte, r.capacity)
		}
		data = r.shadow[:size:size]
	}

	r.mapped = res
	r.mappedIdx = idx
	r.mappedSize = size
	r.stats.Maps++
	return data, nil
}

// UnmapAndSubmit closes the mapped slot after written bytes were filled.
// Shadow rings copy exactly [0, written) to the slot.
func (r *Ring) UnmapAndSubmit(written int) error {
	r.checkLive()
	if r.mapped == nil {
		panic(fmt.Sprintf("upload: ring %q unmapped without map", r.label))
	}
	if written < 0 || written > r.mappedSize {
		panic(fmt.Sprintf("upload: ring %q wrote %d of %d mapped bytes", r.label, written, r.mappedSize))
	}
	res, idx := r.mapped, r.mappedIdx
	r.mapped = nil
	r.mappedSize = 0

	var err error
	switch r.alloc.Strategy() {
	case Direct:
		err = res.Native().(MappableSlot).Unmap(written)
	default:
		if written > 0 {
			err = res.Native().(UpdatableSlot).Update(r.shadow[:written])
		}
	}
	if err != nil {
		return fmt.Errorf("upload: submit %s: %w", r.label, err)
	}

	if !r.cfg.pooled {
		s := &r.slots[idx]
		s.used = true
		s.lastFrame = r.ledger.CurrentFrame()
		r.next = (idx + 1) % len(r.slots)
	}
	r.submitted = res
	r.submitFrame = r.ledger.CurrentFrame()
	r.written = written
	r.stats.Submits++
	r.stats.BytesSubmitted += uint64(written)
	return nil
}

// Resize changes the logical capacity. Existing slots are handed to the
// ledger and new ones are allocated on demand. Resizing a mapped ring
// panics.
func (r *Ring) Resize(capacity int) {
	r.checkLive()
	if r.mapped != nil {
		panic(fmt.Sprintf("upload: ring %q resized while mapped", r.label))
	}
	capacity = max(capacity, 0)
	if capacity == r.capacity {
		return
	}
	r.releaseSlots()
	r.capacity = capacity
	r.shadow = nil
	r.reset()
}

// Release hands every slot to the ledger. The ring must not be used after.
func (r *Ring) Release() {
	r.checkLive()
	if r.mapped != nil {
		panic(fmt.Sprintf("upload: ring %q released while mapped", r.label))
	}
	r.releaseSlots()
	r.released = true
}

func (r *Ring) reset() {
	r.submitted = nil
	r.written = 0
	r.next = 0
	if r.cfg.pooled {
		r.slots = nil
		r.pool = resource.NewPool[Slot](r.ledger, r.cfg.poolSize)
		return
	}
	r.slots = make([]ringSlot, r.cfg.depth)
}

// nextBacking returns the slot to write and, for rotating rings, its index.
func (r *Ring) nextBacking() (*resource.Resource[Slot], int, error) {
	if r.cfg.pooled {
		if r.frameSlot == nil {
			if err := r.BeginFrame(); err != nil {
				return nil, 0, err
			}
			if r.frameSlot == nil {
				return nil, 0, fmt.Errorf("%w: %s has zero capacity", ErrCapacityExceeded, r.label)
			}
		}
		if r.submitted == r.frameSlot && r.submitFrame > r.ledger.SafeFrame() {
			r.stats.Exhausted++
			return nil, 0, fmt.Errorf("%w: %s pooled slot already submitted in frame %d, safe frame %d",
				ErrRingExhausted, r.label, r.submitFrame, r.ledger.SafeFrame())
		}
		return r.frameSlot, -1, nil
	}

	idx := r.next
	s := &r.slots[idx]
	if s.used && s.lastFrame > r.ledger.SafeFrame() {
		r.stats.Exhausted++
		return nil, 0, fmt.Errorf("%w: %s slot %d last used in frame %d, safe frame %d",
			ErrRingExhausted, r.label, idx, s.lastFrame, r.ledger.SafeFrame())
	}
	if s.res == nil {
		obj, err := r.newSlot()
		if err != nil {
			return nil, 0, err
		}
		s.res = resource.Manage(r.ledger, obj)
	}
	return s.res, idx, nil
}

func (r *Ring) newSlot() (Slot, error) {
	slot, err := r.alloc.NewSlot(r.label, r.capacity)
	if err != nil {
		return nil, fmt.Errorf("upload: allocate %s slot: %w", r.label, err)
	}
	r.stats.Allocations++
	return slot, nil
}

func (r *Ring) releaseSlots() {
	for i := range r.slots {
		if r.slots[i].res != nil {
			r.slots[i].res.Release()
		}
		r.slots[i] = ringSlot{}
	}
	if r.frameSlot != nil {
		r.frameSlot.Release()
		r.frameSlot = nil
	}
	if r.pool != nil {
		r.pool.Release()
		r.pool = nil
	}
	r.submitted = nil
}

func (r *Ring) checkLive() {
	if r.released {
		panic(fmt.Sprintf("upload: use of released ring %q", r.label))
	}
}
