package resource

import "fmt"

// pooled is a recycled resource tagged with the frame it was returned in.
type pooled[T Destroyer] struct {
	res       *Resource[T]
	lastFrame uint64
}

// PoolStats counts pool traffic.
type PoolStats struct {
	Size    int
	Hits    uint64 // Acquire returned a recycled resource
	Misses  uint64 // nothing safe to hand out
	Trimmed uint64 // safe excess destroyed during Acquire
}

// Pool recycles resources instead of destroying them. Entries are handed
// out oldest first, and only once the GPU can no longer be reading them.
//
// Pool is not safe for concurrent use.
type Pool[T Destroyer] struct {
	ledger   *Ledger
	maxCount int
	entries  []pooled[T]
	stats    PoolStats
	released bool
}

// NewPool creates a pool that keeps at most maxCount safe entries.
func NewPool[T Destroyer](l *Ledger, maxCount int) *Pool[T] {
	if l == nil {
		panic("resource: NewPool with nil ledger")
	}
	if maxCount < 1 {
		maxCount = 1
	}
	return &Pool[T]{ledger: l, maxCount: maxCount}
}

// MaxCount returns the pool bound.
func (p *Pool[T]) MaxCount() int { return p.maxCount }

// Len returns the number of pooled entries.
func (p *Pool[T]) Len() int { return len(p.entries) }

// Stats returns a snapshot of pool counters.
func (p *Pool[T]) Stats() PoolStats {
	s := p.stats
	s.Size = len(p.entries)
	return s
}

// Acquire returns the oldest pooled resource if the GPU is done with it.
// It returns false when nothing is safe yet; the caller allocates fresh.
//
// Acquire also destroys safe entries in excess of MaxCount, keeping room
// for the resource the caller will recycle.
func (p *Pool[T]) Acquire() (*Resource[T], bool) {
	p.checkLive()
	safe := p.ledger.SafeFrame()

	var res *Resource[T]
	if len(p.entries) > 0 && p.entries[0].lastFrame <= safe {
		res = p.pop()
		res.pooled = false
		p.stats.Hits++
	} else {
		p.stats.Misses++
	}

	for len(p.entries) >= p.maxCount && p.entries[0].lastFrame <= safe {
		p.pop().destroyNow()
		p.stats.Trimmed++
	}
	return res, res != nil
}

// AcquireOrCreate returns a recycled resource, or manages a new object
// produced by create.
func (p *Pool[T]) AcquireOrCreate(create func() (T, error)) (*Resource[T], error) {
	if res, ok := p.Acquire(); ok {
		return res, nil
	}
	obj, err := create()
	if err != nil {
		return nil, err
	}
	return Manage(p.ledger, obj), nil
}

// Recycle returns res to the pool, which becomes its sole owner. It panics
// unless the caller held the only reference.
func (p *Pool[T]) Recycle(res *Resource[T]) {
	p.checkLive()
	if res.ledger != p.ledger {
		panic("resource: recycled into a pool of another ledger")
	}
	if res.pooled {
		panic("resource: resource recycled twice")
	}
	if res.refs != 1 {
		panic(fmt.Sprintf("resource: recycle requires refcount 1, got %d", res.refs))
	}
	if p.ledger.IsShutdown() {
		res.Release()
		return
	}
	res.pooled = true
	p.entries = append(p.entries, pooled[T]{res: res, lastFrame: p.ledger.CurrentFrame()})
}

// Release hands every pooled entry to the ledger and retires the pool.
func (p *Pool[T]) Release() {
	p.checkLive()
	for _, e := range p.entries {
		e.res.pooled = false
		e.res.Release()
	}
	clear(p.entries)
	p.entries = nil
	p.released = true
}

func (p *Pool[T]) pop() *Resource[T] {
	res := p.entries[0].res
	p.entries[0] = pooled[T]{}
	p.entries = p.entries[1:]
	return res
}

func (p *Pool[T]) checkLive() {
	if p.released {
		panic("resource: use of released pool")
	}
}
