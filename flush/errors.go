package flush

import "errors"

var (
	// ErrFlushDropped is returned when a flush was skipped because it did
	// not fit the frame's capacity. The frame may continue.
	ErrFlushDropped = errors.New("flush: flush dropped")

	// ErrUnsupportedInterlock is returned for an interlock mode the backend
	// cannot run.
	ErrUnsupportedInterlock = errors.New("flush: unsupported interlock mode")

	// ErrTooManyBindings is the cause of a drop when the images of a flush
	// need more binding tables than allowed.
	ErrTooManyBindings = errors.New("flush: too many image bindings")

	// ErrRangeOverflow is the cause of a drop when a descriptor range reads
	// past the bytes written to its ring this frame.
	ErrRangeOverflow = errors.New("flush: range exceeds ring data")

	// ErrMissingUniforms is the cause of a drop when the flush uniforms
	// were not uploaded this frame.
	ErrMissingUniforms = errors.New("flush: flush uniforms not uploaded")

	// ErrNoTarget is returned for a descriptor without a target.
	ErrNoTarget = errors.New("flush: descriptor has no target")
)
