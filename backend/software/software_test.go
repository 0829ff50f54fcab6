package software

import (
	"context"
	"errors"
	"image"
	"image/color"
	"slices"
	"testing"

	"github.com/gogpu/pls/backend"
	"github.com/gogpu/pls/flush"
	"github.com/gogpu/pls/resource"
	"github.com/gogpu/pls/upload"
)

var (
	red   = color.RGBA{R: 0xff, A: 0xff}
	green = color.RGBA{G: 0xff, A: 0xff}
	blue  = color.RGBA{B: 0xff, A: 0xff}
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	fill(img, img.Rect, c)
	return img
}

func beginFrame(t *testing.T, p *flush.Pipeline, frame uint64) {
	t.Helper()
	if err := p.PrepareToFlush(frame, frame-1); err != nil {
		t.Fatalf("PrepareToFlush: %v", err)
	}
	upload256 := func(b []byte) int { return len(b) }
	if err := p.Upload(flush.FlushUniforms, 256, upload256); err != nil {
		t.Fatalf("upload uniforms: %v", err)
	}
}

func ops(cmds []Command) []Op {
	out := make([]Op, len(cmds))
	for i, c := range cmds {
		out[i] = c.Op
	}
	return out
}

func TestRegistered(t *testing.T) {
	if !backend.IsRegistered(backend.BackendSoftware) {
		t.Fatal("software backend not registered")
	}
	b, err := backend.Open(backend.BackendSoftware)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if b.Name() != "software" {
		t.Errorf("Name() = %q", b.Name())
	}
}

func TestClearFoldedIntoResolve(t *testing.T) {
	b := New()
	p := flush.New(b, resource.NewLedger())
	img := solid(16, 16, blue)

	beginFrame(t, p, 1)
	err := p.Flush(&flush.Descriptor{
		Target:       NewTarget(img, true),
		Interlock:    flush.Atomics,
		LoadAction:   flush.LoadClear,
		ClearColor:   red,
		UpdateBounds: image.Rect(0, 0, 8, 8),
	})
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	p.PostFlush()

	cmds := b.Commands()
	want := []Op{OpBeginFlush, OpBeginDrawPass, OpBarrier, OpDraw, OpEndDrawPass, OpSubmit}
	if got := ops(cmds); !slices.Equal(got, want) {
		t.Fatalf("ops = %v, want %v", got, want)
	}
	if cmds[1].Pass.LoadAction != flush.LoadDontCare {
		t.Errorf("load = %s, want dontCare", cmds[1].Pass.LoadAction)
	}
	if got := img.RGBAAt(3, 3); got != red {
		t.Errorf("inside bounds = %v, want red from resolve", got)
	}
	if got := img.RGBAAt(12, 12); got != blue {
		t.Errorf("outside bounds = %v, want untouched", got)
	}
}

func TestOffscreenClearAndCopy(t *testing.T) {
	b := New()
	p := flush.New(b, resource.NewLedger())
	img := solid(16, 16, blue)
	tgt := NewTarget(img, false)

	beginFrame(t, p, 1)
	desc := &flush.Descriptor{
		Target:       tgt,
		Interlock:    flush.RasterOrdering,
		LoadAction:   flush.LoadClear,
		ClearColor:   green,
		UpdateBounds: image.Rect(0, 0, 8, 8),
	}
	if err := p.Flush(desc); err != nil {
		t.Fatalf("first flush: %v", err)
	}
	// The second flush preserves: the target is blitted in first.
	desc.UpdateBounds = image.Rect(4, 4, 12, 12)
	if err := p.Flush(desc); err != nil {
		t.Fatalf("second flush: %v", err)
	}
	p.PostFlush()

	want := []Op{
		OpBeginFlush, OpBeginDrawPass, OpEndDrawPass, OpCopyToTarget, OpSubmit,
		OpBeginFlush, OpBlitToOffscreen, OpBeginDrawPass, OpEndDrawPass, OpCopyToTarget, OpSubmit,
	}
	if got := ops(b.Commands()); !slices.Equal(got, want) {
		t.Fatalf("ops = %v\nwant %v", got, want)
	}
	if got := img.RGBAAt(2, 2); got != green {
		t.Errorf("first bounds = %v, want green", got)
	}
	if got := img.RGBAAt(6, 6); got != green {
		t.Errorf("overlap = %v, want green preserved", got)
	}
	if got := img.RGBAAt(10, 10); got != blue {
		t.Errorf("second bounds = %v, want blue preserved by blit", got)
	}
	if got := img.RGBAAt(14, 14); got != blue {
		t.Errorf("outside = %v, want blue", got)
	}
	if b.Offscreen() == nil || b.Offscreen().Rect != img.Rect {
		t.Errorf("offscreen not sized to target")
	}
}

func TestGradientTexture(t *testing.T) {
	b := New()
	p := flush.New(b, resource.NewLedger())
	beginFrame(t, p, 1)

	err := p.Upload(flush.SimpleRamps, 2*8, func(buf []byte) int {
		flush.PutSimpleRamp(buf[0:], red, green)
		flush.PutSimpleRamp(buf[8:], blue, red)
		return len(buf)
	})
	if err != nil {
		t.Fatal(err)
	}
	err = p.Upload(flush.GradientSpans, 16, func(buf []byte) int {
		flush.GradientSpan{X0: 0, X1: 0xffff, Y: 1, Color0: red, Color1: red}.Put(buf)
		return len(buf)
	})
	if err != nil {
		t.Fatal(err)
	}

	err = p.Flush(&flush.Descriptor{
		Target:            NewTarget(image.NewRGBA(image.Rect(0, 0, 4, 4)), true),
		Interlock:         flush.RasterOrdering,
		UpdateBounds:      image.Rect(0, 0, 4, 4),
		SimpleRamps:       flush.Range{Count: 2},
		GradSpans:         flush.Range{Count: 1},
		GradTextureHeight: 2,
	})
	if err != nil {
		t.Fatal(err)
	}
	p.PostFlush()

	grad := b.GradientTexture()
	if grad.Rect.Dx() != flush.GradTextureWidth || grad.Rect.Dy() != 2 {
		t.Fatalf("gradient texture %v", grad.Rect)
	}
	checks := []struct {
		x, y int
		want color.RGBA
	}{
		{0, 0, red},
		{1, 0, green},
		{2, 0, blue},
		{3, 0, red},
		{0, 1, red},
		{flush.GradTextureWidth - 1, 1, red},
	}
	for _, c := range checks {
		if got := grad.RGBAAt(c.x, c.y); got != c.want {
			t.Errorf("texel (%d,%d) = %v, want %v", c.x, c.y, got, c.want)
		}
	}
}

func TestRenderSpanInterpolates(t *testing.T) {
	dst := image.NewRGBA(image.Rect(0, 0, 4, 1))
	renderSpan(dst, flush.GradientSpan{
		X0:     0,
		X1:     0xffff,
		Color0: color.RGBA{A: 0xff},
		Color1: color.RGBA{R: 0xff, A: 0xff},
	})
	prev := -1
	for x := range 4 {
		r := int(dst.RGBAAt(x, 0).R)
		if r <= prev {
			t.Fatalf("red not increasing at x=%d: %d after %d", x, r, prev)
		}
		prev = r
	}
}

func TestShadowStrategy(t *testing.T) {
	b := New(WithStrategy(upload.Shadow))
	p := flush.New(b, resource.NewLedger())
	beginFrame(t, p, 1)

	slot, ok := p.Ring(flush.FlushUniforms).Submitted().(*Slot)
	if !ok {
		t.Fatalf("submitted slot is %T", p.Ring(flush.FlushUniforms).Submitted())
	}
	if slot.Updates() != 1 {
		t.Errorf("updates = %d, want 1", slot.Updates())
	}
	p.PostFlush()
}

func TestSlotLimit(t *testing.T) {
	b := New(WithSlotLimit(1 << 20))
	l := resource.NewLedger()
	p := flush.New(b, l)
	if err := p.PrepareToFlush(1, 0); err != nil {
		t.Fatal(err)
	}
	err := p.Upload(flush.TessSpans, 2<<20, func(buf []byte) int { return len(buf) })
	if err == nil {
		t.Fatal("expected allocation failure")
	}
	p.PostFlush()
}

func TestFrameSync(t *testing.T) {
	b := New()
	ctx := context.Background()
	if err := b.WaitFrame(ctx, 1); err == nil {
		t.Error("WaitFrame before EndFrame succeeded")
	}
	b.EndFrame(1)
	if b.CompletedFrame() != 1 {
		t.Errorf("CompletedFrame = %d", b.CompletedFrame())
	}
	if err := b.WaitFrame(ctx, 1); err != nil {
		t.Errorf("WaitFrame: %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := b.WaitFrame(cancelled, 1); !errors.Is(err, context.Canceled) {
		t.Errorf("WaitFrame on cancelled ctx = %v", err)
	}
}

func TestClose(t *testing.T) {
	b := New()
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	if err := b.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("second Close = %v", err)
	}
	if _, err := b.BeginFlush(&flush.Descriptor{}, &flush.FrameResources{}); !errors.Is(err, ErrClosed) {
		t.Errorf("BeginFlush after Close = %v", err)
	}
}

func TestCommandString(t *testing.T) {
	tests := []struct {
		cmd  Command
		want string
	}{
		{Command{Op: OpSubmit}, "submit"},
		{Command{Op: OpDraw, Batch: flush.DrawBatch{Type: flush.ImageRect, ElementCount: 2}}, "draw(imageRect x2)"},
		{Command{Op: OpBarrier, Barriers: flush.BarrierAtomic}, "barrier(0x4)"},
		{Command{Op: OpBeginDrawPass, Pass: flush.DrawPass{Interlock: flush.Atomics}}, "beginDrawPass(atomics, clear)"},
	}
	for _, tt := range tests {
		if got := tt.cmd.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
