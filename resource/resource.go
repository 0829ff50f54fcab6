package resource

import "fmt"

// Resource is a reference-counted handle to a native object bound to one
// Ledger. Dropping the last reference never destroys the object directly;
// ownership moves to the ledger, which frees it once the GPU is done.
//
// Resource is not safe for concurrent use.
type Resource[T Destroyer] struct {
	obj    T
	ledger *Ledger
	refs   int
	pooled bool
}

// Manage wraps obj in a Resource with a reference count of one.
func Manage[T Destroyer](l *Ledger, obj T) *Resource[T] {
	if l == nil {
		panic("resource: Manage with nil ledger")
	}
	return &Resource[T]{obj: obj, ledger: l, refs: 1}
}

// Native returns the wrapped object. It panics once the resource is dead.
func (r *Resource[T]) Native() T {
	if r.refs <= 0 {
		panic("resource: use of released resource")
	}
	return r.obj
}

// Ledger returns the ledger that owns this resource.
func (r *Resource[T]) Ledger() *Ledger { return r.ledger }

// RefCount returns the current number of references.
func (r *Resource[T]) RefCount() int { return r.refs }

// Ref adds a reference and returns r.
func (r *Resource[T]) Ref() *Resource[T] {
	if r.refs <= 0 {
		panic("resource: Ref on released resource")
	}
	r.refs++
	return r
}

// Release drops a reference. At zero the object is handed to the ledger.
func (r *Resource[T]) Release() {
	if r.refs <= 0 {
		panic(fmt.Sprintf("resource: release of dead resource (refs=%d)", r.refs))
	}
	if r.pooled {
		panic("resource: release of a pooled resource")
	}
	r.refs--
	if r.refs == 0 {
		r.ledger.retire(r.obj)
	}
}

// destroyNow frees a resource known to be unused by the GPU.
func (r *Resource[T]) destroyNow() {
	r.refs = 0
	r.pooled = false
	r.ledger.destroy(r.obj)
}
