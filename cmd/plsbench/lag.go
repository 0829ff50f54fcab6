package main

import (
	"context"
	"fmt"

	"github.com/gogpu/pls/flush"
)

// laggedBackend makes frames complete lag frames after they end. A wait
// on a frame that has ended but not completed counts as a stall and
// completes it, as if the CPU had blocked on the GPU.
type laggedBackend struct {
	flush.Backend
	inner flush.FrameSync // nil when the wrapped backend cannot report progress
	lag   uint64

	ended  uint64
	forced uint64
	stalls int
}

func newLaggedBackend(b flush.Backend, lag int) *laggedBackend {
	l := &laggedBackend{Backend: b, lag: uint64(lag)}
	if fs, ok := b.(flush.FrameSync); ok {
		l.inner = fs
	}
	return l
}

var (
	_ flush.FrameSync      = (*laggedBackend)(nil)
	_ flush.DeviceReporter = (*laggedBackend)(nil)
)

func (l *laggedBackend) EndFrame(frame uint64) {
	l.ended = max(l.ended, frame)
	if l.inner != nil {
		l.inner.EndFrame(frame)
	}
}

func (l *laggedBackend) CompletedFrame() uint64 {
	var done uint64
	if l.ended > l.lag {
		done = l.ended - l.lag
	}
	done = max(done, l.forced)
	if l.inner != nil {
		done = min(done, l.inner.CompletedFrame())
	}
	return done
}

func (l *laggedBackend) WaitFrame(ctx context.Context, frame uint64) error {
	if frame > l.ended {
		return fmt.Errorf("plsbench: frame %d has not ended (ended %d)", frame, l.ended)
	}
	if l.inner != nil {
		if err := l.inner.WaitFrame(ctx, frame); err != nil {
			return err
		}
	}
	if frame > l.CompletedFrame() {
		l.stalls++
		l.forced = frame
	}
	return nil
}

func (l *laggedBackend) DeviceStats() flush.DeviceStats {
	if r, ok := l.Backend.(flush.DeviceReporter); ok {
		return r.DeviceStats()
	}
	return flush.DeviceStats{}
}

// Stalls returns how many waits found their frame incomplete.
func (l *laggedBackend) Stalls() int { return l.stalls }
