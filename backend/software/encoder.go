package software

import (
	"encoding/binary"
	"image"
	"image/color"
	"math"

	xdraw "golang.org/x/image/draw"

	"github.com/gogpu/pls/flush"
)

type encoder struct {
	b      *Backend
	res    *flush.FrameResources
	target *image.RGBA

	pass    flush.DrawPass
	dst     *image.RGBA
	pending []Command
}

func (e *encoder) rec(c Command) {
	c.Frame = e.res.Frame
	e.pending = append(e.pending, c)
}

// ringBytes returns the bytes of the ring of kind submitted this frame.
func (e *encoder) ringBytes(kind flush.BufferKind) []byte {
	s, ok := e.res.Buffers[kind].(*Slot)
	if !ok || s == nil {
		return nil
	}
	return s.data[:e.res.Bytes[kind]]
}

func (e *encoder) UploadSimpleRamps(r flush.Range) {
	e.rec(Command{Op: OpSimpleRamps, Range: r})
	data := e.ringBytes(flush.SimpleRamps)
	size := flush.SimpleRamps.ElementSize()
	for i := range r.Count {
		off := int(r.First+i) * size
		if off+size > len(data) {
			return
		}
		x, y := flush.SimpleRampTexel(i)
		for t := range 2 {
			c := flush.UnpackColor(binary.LittleEndian.Uint32(data[off+4*t:]))
			e.b.grad.SetRGBA(x+t, y, c)
		}
	}
}

func (e *encoder) RenderGradientSpans(r flush.Range, height uint32) {
	e.rec(Command{Op: OpGradientSpans, Range: r})
	data := e.ringBytes(flush.GradientSpans)
	size := flush.GradientSpans.ElementSize()
	for i := range r.Count {
		off := int(r.First+i) * size
		if off+size > len(data) {
			return
		}
		span := flush.ReadGradientSpan(data[off : off+size])
		if span.Y >= height {
			continue
		}
		renderSpan(e.b.grad, span)
	}
}

// renderSpan fills the texels whose centers fall inside the span with the
// linear interpolation of its two colors.
func renderSpan(dst *image.RGBA, s flush.GradientSpan) {
	w := float64(dst.Rect.Dx())
	x0 := float64(s.X0) / math.MaxUint16 * w
	x1 := float64(s.X1) / math.MaxUint16 * w
	if x1 <= x0 {
		return
	}
	first := max(int(math.Ceil(x0-0.5)), 0)
	last := min(int(math.Ceil(x1-0.5)), dst.Rect.Dx())
	for x := first; x < last; x++ {
		t := (float64(x) + 0.5 - x0) / (x1 - x0)
		dst.SetRGBA(x, int(s.Y), lerp(s.Color0, s.Color1, t))
	}
}

func lerp(a, b color.RGBA, t float64) color.RGBA {
	t = min(max(t, 0), 1)
	mix := func(x, y uint8) uint8 {
		return uint8(math.Round(float64(x) + (float64(y)-float64(x))*t))
	}
	return color.RGBA{R: mix(a.R, b.R), G: mix(a.G, b.G), B: mix(a.B, b.B), A: mix(a.A, b.A)}
}

func (e *encoder) RenderTessellation(r flush.Range, _ uint32) {
	e.rec(Command{Op: OpTessellation, Range: r})
}

func (e *encoder) BlitTargetToOffscreen(bounds image.Rectangle) {
	e.rec(Command{Op: OpBlitToOffscreen, Bounds: bounds})
	if e.target != nil && e.b.offscreen != nil {
		xdraw.Copy(e.b.offscreen, bounds.Min, e.target, bounds, xdraw.Src, nil)
	}
}

func (e *encoder) BeginDrawPass(pass *flush.DrawPass) {
	e.pass = *pass
	e.rec(Command{Op: OpBeginDrawPass, Pass: *pass, Bounds: pass.Bounds})
	e.dst = e.target
	if pass.Offscreen {
		e.dst = e.b.offscreen
	}
	if pass.LoadAction == flush.LoadClear {
		fill(e.dst, pass.Bounds, pass.ClearColor)
	}
}

func (e *encoder) Barrier(flags flush.BarrierFlags) {
	e.rec(Command{Op: OpBarrier, Barriers: flags})
}

func (e *encoder) BindImages(flush.BindingTable) {
	e.rec(Command{Op: OpBindImages})
}

// Draw records the batch. A resolve that starts from full coverage writes
// the clear color it stands in for.
func (e *encoder) Draw(batch *flush.DrawBatch, slot int) {
	e.rec(Command{Op: OpDraw, Batch: *batch, Slot: slot})
	if batch.Type != flush.AtomicResolve || e.pass.CoverageClearValue != flush.FixedCoverageOne {
		return
	}
	dst := e.dst
	if batch.Misc&flush.MiscCoalescedResolveAndTransfer != 0 {
		dst = e.target
	}
	fill(dst, e.pass.Bounds, e.pass.ClearColor)
}

func (e *encoder) EndDrawPass() {
	e.rec(Command{Op: OpEndDrawPass})
	e.dst = nil
}

func (e *encoder) CopyOffscreenToTarget(bounds image.Rectangle) {
	e.rec(Command{Op: OpCopyToTarget, Bounds: bounds})
	if e.target != nil && e.b.offscreen != nil {
		xdraw.Copy(e.target, bounds.Min, e.b.offscreen, bounds, xdraw.Src, nil)
	}
}

func (e *encoder) Finish() error {
	if e.b.closed {
		return ErrClosed
	}
	e.rec(Command{Op: OpSubmit})
	e.b.log = append(e.b.log, e.pending...)
	e.b.submits++
	e.pending = nil
	return nil
}

func (e *encoder) Discard() {
	e.pending = nil
}

func fill(dst *image.RGBA, r image.Rectangle, c color.RGBA) {
	if dst == nil {
		return
	}
	xdraw.Draw(dst, r, image.NewUniform(c), image.Point{}, xdraw.Src)
}
