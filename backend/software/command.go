package software

import (
	"fmt"
	"image"

	"github.com/gogpu/pls/flush"
)

// Op identifies a recorded encoder call.
type Op uint8

const (
	OpBeginFlush Op = iota
	OpSimpleRamps
	OpGradientSpans
	OpTessellation
	OpBlitToOffscreen
	OpBeginDrawPass
	OpBarrier
	OpBindImages
	OpDraw
	OpEndDrawPass
	OpCopyToTarget
	OpSubmit
)

var opNames = [...]string{
	OpBeginFlush:      "beginFlush",
	OpSimpleRamps:     "simpleRamps",
	OpGradientSpans:   "gradientSpans",
	OpTessellation:    "tessellation",
	OpBlitToOffscreen: "blitToOffscreen",
	OpBeginDrawPass:   "beginDrawPass",
	OpBarrier:         "barrier",
	OpBindImages:      "bindImages",
	OpDraw:            "draw",
	OpEndDrawPass:     "endDrawPass",
	OpCopyToTarget:    "copyToTarget",
	OpSubmit:          "submit",
}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("Op(%d)", o)
}

// Command is one entry of the command log. Only the fields relevant to
// Op are set.
type Command struct {
	Op    Op
	Frame uint64

	Range    flush.Range
	Bounds   image.Rectangle
	Barriers flush.BarrierFlags
	Batch    flush.DrawBatch
	Slot     int
	Pass     flush.DrawPass
}

func (c Command) String() string {
	switch c.Op {
	case OpDraw:
		return fmt.Sprintf("%s(%s x%d)", c.Op, c.Batch.Type, c.Batch.ElementCount)
	case OpBarrier:
		return fmt.Sprintf("%s(%#x)", c.Op, uint8(c.Barriers))
	case OpBeginDrawPass:
		return fmt.Sprintf("%s(%s, %s)", c.Op, c.Pass.Interlock, c.Pass.LoadAction)
	default:
		return c.Op.String()
	}
}
