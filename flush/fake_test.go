package flush

import (
	"errors"
	"image"
	"strings"
	"testing"

	"github.com/gogpu/pls/resource"
	"github.com/gogpu/pls/upload"
)

type memSlot struct {
	data      []byte
	destroyed bool
}

func (s *memSlot) Destroy() {
	s.destroyed = true
}

func (s *memSlot) Map(size int) ([]byte, error) {
	return s.data[:size], nil
}

func (s *memSlot) Unmap(int) error {
	return nil
}

type memAllocator struct{}

func (memAllocator) Strategy() upload.Strategy {
	return upload.Direct
}

func (memAllocator) NewSlot(_ string, capacity int) (upload.Slot, error) {
	return &memSlot{data: make([]byte, capacity)}, nil
}

type fakeTable struct {
	images    map[int]ImageTexture
	destroyed bool
}

func (t *fakeTable) Set(slot int, tex ImageTexture) {
	t.images[slot] = tex
}

func (t *fakeTable) Reset() {
	clear(t.images)
}

func (t *fakeTable) Destroy() {
	t.destroyed = true
}

type fakeImage struct{ id int }

func (*fakeImage) ImageSize() image.Point {
	return image.Pt(4, 4)
}

type fakeTarget struct {
	rect image.Rectangle
	rw   bool
}

func (t *fakeTarget) Bounds() image.Rectangle {
	return t.rect
}

func (t *fakeTarget) ReadWrite() bool {
	return t.rw
}

// fakeBackend records every encoder call of the last flush.
type fakeBackend struct {
	caps     Capabilities
	beginErr error
	finished int

	tables   []*fakeTable
	res      *FrameResources
	pass     *DrawPass
	log      []string
	barriers []BarrierFlags
	draws    []DrawBatch
	slots    []int
	bound    []BindingTable
}

func (b *fakeBackend) Name() string {
	return "fake"
}

func (b *fakeBackend) Capabilities() Capabilities {
	return b.caps
}

func (b *fakeBackend) Allocator(BufferKind) upload.Allocator {
	return memAllocator{}
}

func (b *fakeBackend) NewBindingTable(int) (BindingTable, error) {
	t := &fakeTable{images: make(map[int]ImageTexture)}
	b.tables = append(b.tables, t)
	return t, nil
}

func (b *fakeBackend) BeginFlush(_ *Descriptor, res *FrameResources) (Encoder, error) {
	if b.beginErr != nil {
		return nil, b.beginErr
	}
	b.res = res
	b.pass = nil
	b.log = nil
	b.barriers = nil
	b.draws = nil
	b.slots = nil
	b.bound = nil
	return &fakeEncoder{b: b}, nil
}

func (b *fakeBackend) Close() error {
	return nil
}

func (b *fakeBackend) trace() string {
	return strings.Join(b.log, " ")
}

type fakeEncoder struct {
	b *fakeBackend
}

func (e *fakeEncoder) rec(s string) {
	e.b.log = append(e.b.log, s)
}

func (e *fakeEncoder) UploadSimpleRamps(Range) {
	e.rec("ramps")
}

func (e *fakeEncoder) RenderGradientSpans(Range, uint32) {
	e.rec("grad")
}

func (e *fakeEncoder) RenderTessellation(Range, uint32) {
	e.rec("tess")
}

func (e *fakeEncoder) BlitTargetToOffscreen(image.Rectangle) {
	e.rec("blit")
}

func (e *fakeEncoder) BeginDrawPass(pass *DrawPass) {
	e.b.pass = pass
	e.rec("begin")
}

func (e *fakeEncoder) Barrier(flags BarrierFlags) {
	e.b.barriers = append(e.b.barriers, flags)
	e.rec("barrier")
}

func (e *fakeEncoder) BindImages(table BindingTable) {
	e.b.bound = append(e.b.bound, table)
	e.rec("bind")
}

func (e *fakeEncoder) Draw(batch *DrawBatch, slot int) {
	e.b.draws = append(e.b.draws, *batch)
	e.b.slots = append(e.b.slots, slot)
	e.rec(batch.Type.String())
}

func (e *fakeEncoder) EndDrawPass() {
	e.rec("end")
}

func (e *fakeEncoder) CopyOffscreenToTarget(image.Rectangle) {
	e.rec("copy")
}

func (e *fakeEncoder) Finish() error {
	e.b.finished++
	return nil
}

func (e *fakeEncoder) Discard() {}

var errBeginFailed = errors.New("begin failed")

func newTestPipeline(t *testing.T, caps Capabilities, opts ...Option) (*Pipeline, *fakeBackend) {
	t.Helper()
	b := &fakeBackend{caps: caps}
	return New(b, resource.NewLedger(), opts...), b
}

// startFrame begins a frame and uploads the flush uniforms.
func startFrame(t *testing.T, p *Pipeline, frame, safe uint64) {
	t.Helper()
	if err := p.PrepareToFlush(frame, safe); err != nil {
		t.Fatalf("PrepareToFlush(%d, %d): %v", frame, safe, err)
	}
	fill(t, p, FlushUniforms, FlushUniforms.ElementSize())
}

func fill(t *testing.T, p *Pipeline, kind BufferKind, n int) {
	t.Helper()
	err := p.Upload(kind, n, func(b []byte) int {
		for i := range b {
			b[i] = byte(i)
		}
		return len(b)
	})
	if err != nil {
		t.Fatalf("Upload(%s, %d): %v", kind, n, err)
	}
}

func target(rw bool) *fakeTarget {
	return &fakeTarget{rect: image.Rect(0, 0, 64, 64), rw: rw}
}

func expectPanic(t *testing.T, substr string, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		if r == nil {
			t.Fatalf("expected panic containing %q", substr)
		}
		msg, _ := r.(string)
		if !strings.Contains(msg, substr) {
			t.Fatalf("panic %q does not contain %q", msg, substr)
		}
	}()
	fn()
}
