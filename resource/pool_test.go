package resource

import (
	"errors"
	"testing"
)

func TestPoolScenarioTrim(t *testing.T) {
	var destroyed []int
	l := NewLedger()
	p := NewPool[*fakeObject](l, 2)

	for f := uint64(1); f <= 3; f++ {
		l.AdvanceFrame(f, 0)
		p.Recycle(Manage(l, newFake(int(f), &destroyed)))
	}
	if p.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", p.Len())
	}

	l.AdvanceFrame(4, 3)
	got, ok := p.Acquire()
	if !ok {
		t.Fatal("Acquire() found nothing with every entry safe")
	}
	if got.Native().id != 1 {
		t.Errorf("Acquire() = frame-%d resource, want frame-1", got.Native().id)
	}
	if p.Len() != 1 {
		t.Fatalf("Len() = %d after trim, want 1", p.Len())
	}
	if len(destroyed) != 1 || destroyed[0] != 2 {
		t.Errorf("trimmed %v, want [2]", destroyed)
	}
	if p.Len() > p.MaxCount() {
		t.Errorf("pool size %d exceeds bound %d", p.Len(), p.MaxCount())
	}

	last, ok := p.Acquire()
	if !ok || last.Native().id != 3 {
		t.Fatal("remaining entry should be the frame-3 resource")
	}
	if s := p.Stats(); s.Hits != 2 || s.Trimmed != 1 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestPoolAcquireNotSafe(t *testing.T) {
	var destroyed []int
	l := NewLedger()
	l.AdvanceFrame(5, 2)
	p := NewPool[*fakeObject](l, 4)
	p.Recycle(Manage(l, newFake(1, &destroyed)))

	if _, ok := p.Acquire(); ok {
		t.Fatal("Acquire() returned a resource the GPU may still read")
	}
	l.AdvanceFrame(6, 5)
	if _, ok := p.Acquire(); !ok {
		t.Fatal("Acquire() found nothing once the frame retired")
	}
	if s := p.Stats(); s.Misses != 1 || s.Hits != 1 {
		t.Errorf("Stats() = %+v, want 1 miss 1 hit", s)
	}
}

func TestPoolExclusivity(t *testing.T) {
	var destroyed []int
	l := NewLedger()
	p := NewPool[*fakeObject](l, 4)

	r := Manage(l, newFake(1, &destroyed))
	r.Ref()
	expectPanic(t, "refcount 1", func() { p.Recycle(r) })
	r.Release()

	p.Recycle(r)
	expectPanic(t, "recycled twice", func() { p.Recycle(r) })
	expectPanic(t, "pooled resource", r.Release)

	l.AdvanceFrame(1, 0)
	a, ok := p.Acquire()
	if !ok || a != r {
		t.Fatal("Acquire() did not return the recycled resource")
	}
	if _, ok := p.Acquire(); ok {
		t.Fatal("resource handed out twice before being recycled")
	}

	other := NewLedger()
	expectPanic(t, "another ledger", func() { p.Recycle(Manage(other, newFake(9, &destroyed))) })
}

func TestPoolBound(t *testing.T) {
	var destroyed []int
	l := NewLedger()
	const maxCount = 3
	p := NewPool[*fakeObject](l, maxCount)

	// Several frames advance without matching Acquire calls.
	for f := uint64(1); f <= 10; f++ {
		l.AdvanceFrame(f, 0)
		p.Recycle(Manage(l, newFake(int(f), &destroyed)))
	}
	l.AdvanceFrame(11, 10)
	if _, ok := p.Acquire(); !ok {
		t.Fatal("Acquire() failed with all entries safe")
	}
	if p.Len() > maxCount {
		t.Fatalf("Len() = %d, exceeds maxCount %d", p.Len(), maxCount)
	}
}

func TestPoolAcquireOrCreate(t *testing.T) {
	var destroyed []int
	l := NewLedger()
	p := NewPool[*fakeObject](l, 2)

	created := 0
	create := func() (*fakeObject, error) {
		created++
		return newFake(100+created, &destroyed), nil
	}
	r, err := p.AcquireOrCreate(create)
	if err != nil || created != 1 || r.RefCount() != 1 {
		t.Fatalf("AcquireOrCreate() = %v, created=%d", err, created)
	}
	p.Recycle(r)
	l.AdvanceFrame(1, 0)

	again, err := p.AcquireOrCreate(create)
	if err != nil || again != r || created != 1 {
		t.Fatalf("expected recycled resource, created=%d err=%v", created, err)
	}

	wantErr := errors.New("out of memory")
	p.Recycle(again)
	l.AdvanceFrame(2, 0) // entry from frame 1 not yet safe
	_, err = p.AcquireOrCreate(func() (*fakeObject, error) { return nil, wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("AcquireOrCreate() error = %v, want %v", err, wantErr)
	}
}

func TestPoolRelease(t *testing.T) {
	var destroyed []int
	l := NewLedger()
	l.AdvanceFrame(1, 0)
	p := NewPool[*fakeObject](l, 4)
	p.Recycle(Manage(l, newFake(1, &destroyed)))
	p.Recycle(Manage(l, newFake(2, &destroyed)))

	p.Release()
	if l.Pending() != 2 {
		t.Fatalf("Pending() = %d, want pooled entries parked in purgatory", l.Pending())
	}
	expectPanic(t, "released pool", func() { p.Acquire() })

	l.Shutdown()
	if len(destroyed) != 2 {
		t.Fatalf("destroyed %d, want 2", len(destroyed))
	}
	l.Close()
}

func TestPoolRecycleAfterShutdown(t *testing.T) {
	var destroyed []int
	l := NewLedger()
	p := NewPool[*fakeObject](l, 2)
	r := Manage(l, newFake(1, &destroyed))
	l.Shutdown()

	p.Recycle(r)
	if p.Len() != 0 || len(destroyed) != 1 {
		t.Fatalf("recycle after shutdown: len=%d destroyed=%v", p.Len(), destroyed)
	}
}
