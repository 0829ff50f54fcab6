package resource

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/gogpu/pls/internal/logging"
)

// ShutdownFrame is the reserved frame number both counters are driven to by
// Shutdown. Once reached, released objects are destroyed immediately.
const ShutdownFrame uint64 = math.MaxUint64

// Destroyer is a native object the ledger can physically free.
type Destroyer interface {
	Destroy()
}

// zombie is a released object that may still be in use by the GPU.
type zombie struct {
	obj       Destroyer
	lastFrame uint64
}

// LedgerStats is a snapshot of ledger bookkeeping.
type LedgerStats struct {
	Current   uint64
	Safe      uint64
	Pending   int
	Deferred  uint64 // objects that went through purgatory
	Destroyed uint64 // objects physically destroyed
}

// Ledger owns the frame-lifetime bookkeeping of one render context.
//
// Ledger is not safe for concurrent use.
type Ledger struct {
	currentFrame uint64
	safeFrame    uint64

	// purgatory is ordered by non-decreasing lastFrame; head indexes the
	// oldest live entry so prefix pops are O(1) each.
	purgatory []zombie
	head      int

	deferred  uint64
	destroyed uint64

	log *slog.Logger
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithLogger sets the logger used for drain diagnostics.
func WithLogger(l *slog.Logger) LedgerOption {
	return func(led *Ledger) {
		if l != nil {
			led.log = l
		}
	}
}

// WithStartFrame starts both counters at frame instead of zero.
func WithStartFrame(frame uint64) LedgerOption {
	return func(led *Ledger) {
		led.currentFrame = frame
		led.safeFrame = frame
	}
}

// NewLedger creates a ledger at frame zero with an empty purgatory.
func NewLedger(opts ...LedgerOption) *Ledger {
	l := &Ledger{}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CurrentFrame returns the frame currently being recorded.
func (l *Ledger) CurrentFrame() uint64 { return l.currentFrame }

// SafeFrame returns the newest frame whose GPU work is known to be retired.
func (l *Ledger) SafeFrame() uint64 { return l.safeFrame }

// IsShutdown reports whether Shutdown has been called.
func (l *Ledger) IsShutdown() bool {
	return l.currentFrame == ShutdownFrame && l.safeFrame == ShutdownFrame
}

// Pending returns the number of objects waiting in purgatory.
func (l *Ledger) Pending() int { return len(l.purgatory) - l.head }

// OldestPending returns the release frame of the oldest parked object.
func (l *Ledger) OldestPending() (uint64, bool) {
	if l.Pending() == 0 {
		return 0, false
	}
	return l.purgatory[l.head].lastFrame, true
}

// Stats returns a snapshot of the ledger counters.
func (l *Ledger) Stats() LedgerStats {
	return LedgerStats{
		Current:   l.currentFrame,
		Safe:      l.safeFrame,
		Pending:   l.Pending(),
		Deferred:  l.deferred,
		Destroyed: l.destroyed,
	}
}

// AdvanceFrame moves to nextFrame and records safeFrame as retired, then
// destroys every parked object released at or before safeFrame.
//
// It panics if either counter would go backward or safeFrame > nextFrame.
func (l *Ledger) AdvanceFrame(nextFrame, safeFrame uint64) {
	if nextFrame < l.currentFrame {
		panic(fmt.Sprintf("resource: frame went backward (%d < %d)", nextFrame, l.currentFrame))
	}
	if safeFrame < l.safeFrame {
		panic(fmt.Sprintf("resource: safe frame went backward (%d < %d)", safeFrame, l.safeFrame))
	}
	if safeFrame > nextFrame {
		panic(fmt.Sprintf("resource: safe frame %d ahead of frame %d", safeFrame, nextFrame))
	}
	l.currentFrame = nextFrame
	l.safeFrame = safeFrame

	n := 0
	for l.head < len(l.purgatory) && l.purgatory[l.head].lastFrame <= safeFrame {
		z := l.purgatory[l.head]
		l.purgatory[l.head] = zombie{}
		l.head++
		l.destroy(z.obj)
		n++
	}
	l.compact()

	if n > 0 {
		l.logger().Debug("resource: purgatory drained",
			"frame", nextFrame, "safe", safeFrame, "destroyed", n, "pending", l.Pending())
	}
}

// Shutdown drives both counters to ShutdownFrame, destroying everything in
// purgatory. The host must have waited for all GPU work beforehand.
func (l *Ledger) Shutdown() {
	l.AdvanceFrame(ShutdownFrame, ShutdownFrame)
}

// Close asserts that the ledger is quiescent. It panics if Shutdown has not
// been called or purgatory is not empty.
func (l *Ledger) Close() {
	if !l.IsShutdown() {
		panic(fmt.Sprintf("resource: ledger closed at frame %d/%d without shutdown",
			l.currentFrame, l.safeFrame))
	}
	if p := l.Pending(); p != 0 {
		panic(fmt.Sprintf("resource: ledger closed with %d objects in purgatory", p))
	}
}

// retire takes ownership of an object whose last reference was dropped.
func (l *Ledger) retire(obj Destroyer) {
	if l.IsShutdown() {
		l.destroy(obj)
		return
	}
	l.purgatory = append(l.purgatory, zombie{obj: obj, lastFrame: l.currentFrame})
	l.deferred++
}

func (l *Ledger) logger() *slog.Logger {
	if l.log != nil {
		return l.log
	}
	return logging.L()
}

func (l *Ledger) destroy(obj Destroyer) {
	obj.Destroy()
	l.destroyed++
}

// compact reclaims the popped prefix once it dominates the backing array.
func (l *Ledger) compact() {
	if l.head == len(l.purgatory) {
		l.purgatory = l.purgatory[:0]
		l.head = 0
		return
	}
	if l.head > 32 && l.head*2 > len(l.purgatory) {
		n := copy(l.purgatory, l.purgatory[l.head:])
		clear(l.purgatory[n:])
		l.purgatory = l.purgatory[:n]
		l.head = 0
	}
}
