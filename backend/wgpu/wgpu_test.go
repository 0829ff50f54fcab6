package wgpu

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/pls/backend"
	"github.com/gogpu/pls/flush"
	"github.com/gogpu/pls/resource"
	"github.com/gogpu/pls/upload"
	"github.com/gogpu/wgpu/hal"
	_ "github.com/gogpu/wgpu/hal/noop"
)

// openNoop opens a device on the HAL noop backend.
func openNoop(t *testing.T) (hal.Device, hal.Queue) {
	t.Helper()
	api, ok := hal.GetBackend(gputypes.BackendEmpty)
	if !ok {
		t.Fatal("noop HAL backend not registered")
	}
	instance, err := api.CreateInstance(&hal.InstanceDescriptor{})
	if err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	t.Cleanup(instance.Destroy)
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		t.Fatal("no noop adapter")
	}
	open, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return open.Device, open.Queue
}

func newTestBackend(t *testing.T, opts ...Option) *Backend {
	t.Helper()
	b, err := Open(append(opts, WithHALBackend(gputypes.BackendEmpty))...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return b
}

func newTestTarget(t *testing.T, b *Backend, w, h int, readWrite bool) *Target {
	t.Helper()
	tex, err := newTexture(b.Device(), "test_target", uint32(w), uint32(h),
		gputypes.TextureFormatRGBA8Unorm, gputypes.TextureUsageRenderAttachment)
	if err != nil {
		t.Fatal(err)
	}
	return NewTarget(tex.tex, tex.view, tex.format, w, h, readWrite)
}

type otherTarget struct{}

func (otherTarget) Bounds() image.Rectangle {
	return image.Rect(0, 0, 1, 1)
}

func (otherTarget) ReadWrite() bool {
	return true
}

type otherImage struct{}

func (otherImage) ImageSize() image.Point {
	return image.Pt(1, 1)
}

// stalledQueue never reports a submission as complete.
type stalledQueue struct {
	hal.Queue
}

func (stalledQueue) PollCompleted() uint64 {
	return 0
}

// gatedQueue reports no completions until opened.
type gatedQueue struct {
	hal.Queue
	open bool
}

func (q *gatedQueue) PollCompleted() uint64 {
	if !q.open {
		return 0
	}
	return q.Queue.PollCompleted()
}

func TestRegistered(t *testing.T) {
	if !backend.IsRegistered(backend.BackendWGPU) {
		t.Fatal("wgpu backend not registered")
	}
}

func TestOpenNoop(t *testing.T) {
	b := newTestBackend(t)
	if b.Name() != backend.BackendWGPU {
		t.Errorf("Name() = %q", b.Name())
	}
	caps := b.Capabilities()
	if caps.RasterOrdering || caps.CoalescedResolve {
		t.Errorf("caps = %+v, want atomics only", caps)
	}
	if caps.ImageBindingsPerTable != flush.DefaultImageBindingsPerTable {
		t.Errorf("ImageBindingsPerTable = %d", caps.ImageBindingsPerTable)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := b.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("second Close = %v, want ErrClosed", err)
	}
	if _, err := b.Allocator(flush.PathData).NewSlot("paths", 64); !errors.Is(err, ErrClosed) {
		t.Errorf("NewSlot after Close = %v", err)
	}
}

func TestOpenUnknownHALBackend(t *testing.T) {
	_, err := Open(WithHALBackend(gputypes.Backend(250)))
	if !errors.Is(err, ErrNoDevice) {
		t.Fatalf("Open = %v, want ErrNoDevice", err)
	}
}

func TestNewNilDevice(t *testing.T) {
	if _, err := New(nil, nil); !errors.Is(err, ErrNoDevice) {
		t.Fatalf("New(nil) = %v", err)
	}
}

// plainProvider is a DeviceProvider without HAL accessors.
type plainProvider struct {
	device hal.Device
	queue  hal.Queue
}

func (p *plainProvider) Device() gpucontext.Device {
	return p.device
}

func (p *plainProvider) Queue() gpucontext.Queue {
	return p.queue
}

func (p *plainProvider) SurfaceFormat() gputypes.TextureFormat {
	return gputypes.TextureFormatBGRA8Unorm
}

func (p *plainProvider) Adapter() gpucontext.Adapter {
	return nil
}

func (p *plainProvider) AdapterInfo() gpucontext.AdapterInfo {
	return gpucontext.AdapterInfo{Name: "noop", Type: gpucontext.AdapterTypeUnknown}
}

type testProvider struct {
	plainProvider
}

func (p *testProvider) HalDevice() any {
	return p.device
}

func (p *testProvider) HalQueue() any {
	return p.queue
}

func TestNewFromProvider(t *testing.T) {
	device, queue := openNoop(t)
	b, err := NewFromProvider(&testProvider{plainProvider{device: device, queue: queue}})
	if err != nil {
		t.Fatalf("NewFromProvider: %v", err)
	}
	if b.Device() != device || b.Queue() != queue {
		t.Error("backend does not use the provider's device")
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}

	_, err = NewFromProvider(&plainProvider{device: device, queue: queue})
	if !errors.Is(err, ErrNoDevice) {
		t.Errorf("provider without HAL accessors = %v", err)
	}
}

func TestSlotRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		strategy upload.Strategy
	}{
		{"direct", upload.Direct},
		{"shadow", upload.Shadow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBackend(t, WithStrategy(tt.strategy))
			defer b.Close()

			a := b.Allocator(flush.PathData)
			if a.Strategy() != tt.strategy {
				t.Fatalf("Strategy() = %s", a.Strategy())
			}
			slot, err := a.NewSlot("paths", 10)
			if err != nil {
				t.Fatal(err)
			}
			defer slot.Destroy()
			s := slot.(*bufferSlot)
			if s.size != bufferAlign {
				t.Errorf("size = %d, want %d", s.size, bufferAlign)
			}

			want := []byte{1, 2, 3, 4}
			if tt.strategy == upload.Direct {
				buf, err := s.Map(len(want))
				if err != nil {
					t.Fatal(err)
				}
				copy(buf, want)
				if _, err := s.Map(1); !errors.Is(err, errSlotMapped) {
					t.Errorf("second Map = %v", err)
				}
				if err := s.Unmap(len(want)); err != nil {
					t.Fatal(err)
				}
			} else if err := s.Update(want); err != nil {
				t.Fatal(err)
			}

			got, err := s.Map(len(want))
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, want) {
				t.Errorf("buffer = %v, want %v", got, want)
			}
			if err := s.Unmap(0); err != nil {
				t.Fatal(err)
			}
			if _, err := s.Map(bufferAlign + 1); !errors.Is(err, upload.ErrCapacityExceeded) {
				t.Errorf("oversized Map = %v", err)
			}
			if err := s.Update(make([]byte, bufferAlign+1)); !errors.Is(err, upload.ErrCapacityExceeded) {
				t.Errorf("oversized Update = %v", err)
			}
		})
	}
}

func TestKindUsage(t *testing.T) {
	tests := []struct {
		kind flush.BufferKind
		want gputypes.BufferUsage
	}{
		{flush.FlushUniforms, gputypes.BufferUsageUniform},
		{flush.ImageDrawUniforms, gputypes.BufferUsageUniform},
		{flush.TriangleVertices, gputypes.BufferUsageVertex},
		{flush.SimpleRamps, gputypes.BufferUsageCopySrc},
		{flush.TessSpans, gputypes.BufferUsageStorage},
		{flush.PathData, gputypes.BufferUsageStorage},
	}
	for _, tt := range tests {
		if got := kindUsage(tt.kind); got != tt.want {
			t.Errorf("kindUsage(%s) = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestRampCopyRegions(t *testing.T) {
	regions := rampCopyRegions(flush.Range{First: 10, Count: 300}, nil)
	if len(regions) != 2 {
		t.Fatalf("regions = %d, want 2", len(regions))
	}
	rows := regions[0]
	if rows.BufferLayout.Offset != 80 || rows.Size.Width != flush.GradTextureWidth || rows.Size.Height != 1 {
		t.Errorf("row region = %+v", rows)
	}
	rest := regions[1]
	if rest.BufferLayout.Offset != (10+256)*8 {
		t.Errorf("remainder offset = %d", rest.BufferLayout.Offset)
	}
	if rest.TextureBase.Origin.Y != 1 || rest.Size.Width != 88 || rest.Size.Height != 1 {
		t.Errorf("remainder region = %+v", rest)
	}

	if got := rampCopyRegions(flush.Range{Count: 3}, nil); len(got) != 1 || got[0].Size.Width != 6 {
		t.Errorf("partial row = %+v", got)
	}
	if got := rampCopyRegions(flush.Range{Count: 512}, nil); len(got) != 1 || got[0].Size.Height != 2 {
		t.Errorf("whole rows = %+v", got)
	}
}

func TestDrawCounts(t *testing.T) {
	tests := []struct {
		batch flush.DrawBatch
		want  [4]uint32 // vertices, instances, first vertex, first instance
	}{
		{flush.DrawBatch{Type: flush.MidpointFanPatches, ElementCount: 3, BaseElement: 5}, [4]uint32{48, 3, 0, 5}},
		{flush.DrawBatch{Type: flush.OuterCurvePatches, ElementCount: 2}, [4]uint32{102, 2, 0, 0}},
		{flush.DrawBatch{Type: flush.InteriorTriangulation, ElementCount: 9, BaseElement: 3}, [4]uint32{9, 1, 3, 0}},
		{flush.DrawBatch{Type: flush.ImageMesh, ElementCount: 6}, [4]uint32{6, 1, 0, 0}},
		{flush.DrawBatch{Type: flush.ImageRect, ElementCount: 1}, [4]uint32{6, 1, 0, 0}},
		{flush.DrawBatch{Type: flush.AtomicResolve, ElementCount: 1}, [4]uint32{6, 1, 0, 0}},
	}
	for _, tt := range tests {
		var got [4]uint32
		got[0], got[1], got[2], got[3] = drawCounts(&tt.batch)
		if got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.batch.Type, got, tt.want)
		}
	}
}

func TestDrawEntryPoints(t *testing.T) {
	tests := []struct {
		t      flush.DrawType
		vs, fs string
	}{
		{flush.MidpointFanPatches, "vs_patch", "fs_path"},
		{flush.InteriorTriangulation, "vs_triangles", "fs_path"},
		{flush.ImageRect, "vs_image_rect", "fs_image"},
		{flush.ImageMesh, "vs_image_mesh", "fs_image"},
		{flush.AtomicInitialize, "vs_fullscreen", "fs_initialize"},
		{flush.AtomicResolve, "vs_fullscreen", "fs_resolve"},
		{flush.StencilClipReset, "vs_fullscreen", "fs_clip_reset"},
	}
	for _, tt := range tests {
		vs, fs := drawEntryPoints(tt.t)
		if vs != tt.vs || fs != tt.fs {
			t.Errorf("%s: got %s/%s, want %s/%s", tt.t, vs, fs, tt.vs, tt.fs)
		}
	}
}

func TestCompileShaders(t *testing.T) {
	for id := range numShaders {
		words, err := compileSPIRV(id)
		if err != nil {
			t.Fatalf("%s: %v", shaderSources[id].label, err)
		}
		if len(words) == 0 || words[0] != 0x07230203 {
			t.Errorf("%s: missing SPIR-V magic", shaderSources[id].label)
		}
	}
}

func TestPipelineCacheEvictsThroughLedger(t *testing.T) {
	b := newTestBackend(t, WithPipelineCacheSize(1))
	defer b.Close()

	format := gputypes.TextureFormatRGBA8Unorm
	if _, err := b.pipelines.get(b.ledger, pipelineKey{kind: kindGradient, format: format}); err != nil {
		t.Fatal(err)
	}
	if _, err := b.pipelines.get(b.ledger, pipelineKey{kind: kindGradient, format: format}); err != nil {
		t.Fatal(err)
	}
	if _, err := b.pipelines.get(b.ledger, pipelineKey{kind: kindTessellation, format: gputypes.TextureFormatRGBA32Uint}); err != nil {
		t.Fatal(err)
	}
	st := b.Stats().Pipelines
	if st.Len != 1 || st.Hits != 1 || st.Misses != 2 || st.Evictions != 1 {
		t.Errorf("pipeline stats = %+v", st)
	}
	if b.Stats().PendingDestroy != 1 {
		t.Errorf("pending = %d, want evicted pipeline in purgatory", b.Stats().PendingDestroy)
	}
}

func TestTextureGrowthRetiresOldTextures(t *testing.T) {
	b := newTestBackend(t)
	defer b.Close()
	target := newTestTarget(t, b, 8, 8, true)

	begin := func(frame uint64, tessHeight uint32) {
		t.Helper()
		enc, err := b.BeginFlush(&flush.Descriptor{Target: target, TessTextureHeight: tessHeight},
			&flush.FrameResources{Frame: frame})
		if err != nil {
			t.Fatalf("BeginFlush: %v", err)
		}
		enc.Discard()
	}

	begin(1, 4)
	if got := b.Stats().TextureGrowths; got != 2 {
		t.Fatalf("growths = %d, want gradient and tessellation", got)
	}
	begin(1, 8)
	st := b.Stats()
	if st.TextureGrowths != 3 {
		t.Errorf("growths = %d, want 3", st.TextureGrowths)
	}
	if h := b.tess.get().height; h != 8 {
		t.Errorf("tessellation height = %d, want 8", h)
	}
	// Two discarded buffer groups and the replaced tessellation texture.
	if st.PendingDestroy != 3 {
		t.Errorf("pending = %d, want 3", st.PendingDestroy)
	}

	b.EndFrame(1)
	begin(2, 8)
	st = b.Stats()
	if st.TextureGrowths != 3 {
		t.Errorf("growths = %d, want no regrowth", st.TextureGrowths)
	}
	if st.PendingDestroy != 1 {
		t.Errorf("pending = %d, want only frame 2's group", st.PendingDestroy)
	}
}

func TestBeginFlushForeignTarget(t *testing.T) {
	b := newTestBackend(t)
	defer b.Close()
	_, err := b.BeginFlush(&flush.Descriptor{Target: otherTarget{}}, &flush.FrameResources{Frame: 1})
	if !errors.Is(err, ErrForeignTarget) {
		t.Fatalf("BeginFlush = %v, want ErrForeignTarget", err)
	}
}

func TestBindingTableForeignImage(t *testing.T) {
	b := newTestBackend(t)
	defer b.Close()

	table, err := b.NewBindingTable(4)
	if err != nil {
		t.Fatal(err)
	}
	bt := table.(*bindingTable)
	view := testImageView(t, b)
	bt.Set(0, NewImage(view, 2, 2))
	if bt.err != nil || bt.group(0) == nil {
		t.Fatalf("Set: err=%v group=%v", bt.err, bt.group(0))
	}
	bt.Set(1, otherImage{})
	if !errors.Is(bt.err, ErrForeignImage) {
		t.Errorf("err = %v, want ErrForeignImage", bt.err)
	}
	bt.Reset()
	if bt.err != nil {
		t.Errorf("Reset kept err %v", bt.err)
	}
	if bt.group(-1) != nil || bt.group(4) != nil {
		t.Error("out-of-range slot has a group")
	}
	table.Destroy()
	if bt.group(0) != nil {
		t.Error("Destroy kept group")
	}
	if b.Stats().TablesCreated != 1 {
		t.Errorf("tables = %d", b.Stats().TablesCreated)
	}
}

// testImageView returns the view of a fresh 1x1 texture.
func testImageView(t *testing.T, b *Backend) hal.TextureView {
	t.Helper()
	tex, err := newTexture(b.Device(), "test_image", 1, 1, gputypes.TextureFormatRGBA8Unorm, gputypes.TextureUsageTextureBinding)
	if err != nil {
		t.Fatal(err)
	}
	return tex.view
}

func TestFrameSync(t *testing.T) {
	b := newTestBackend(t)
	defer b.Close()
	ctx := context.Background()

	if err := b.WaitFrame(ctx, 1); !errors.Is(err, ErrFrameNotEnded) {
		t.Errorf("WaitFrame before EndFrame = %v", err)
	}
	b.EndFrame(1)
	if got := b.CompletedFrame(); got != 1 {
		t.Errorf("CompletedFrame = %d, want 1", got)
	}
	if err := b.WaitFrame(ctx, 1); err != nil {
		t.Errorf("WaitFrame: %v", err)
	}
}

func TestWaitFrameHonorsContext(t *testing.T) {
	device, queue := openNoop(t)
	b, err := New(device, stalledQueue{queue}, WithPollInterval(time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	target := newTestTarget(t, b, 4, 4, true)
	enc, err := b.BeginFlush(&flush.Descriptor{Target: target}, &flush.FrameResources{Frame: 1})
	if err != nil {
		t.Fatal(err)
	}
	if err := enc.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if err := enc.Finish(); err == nil {
		t.Error("second Finish succeeded")
	}
	b.EndFrame(1)

	if got := b.CompletedFrame(); got != 0 {
		t.Fatalf("CompletedFrame = %d, want 0 while the queue is stalled", got)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if err := b.WaitFrame(ctx, 1); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitFrame = %v, want deadline exceeded", err)
	}
	if b.Stats().Submits != 1 {
		t.Errorf("submits = %d", b.Stats().Submits)
	}
}

func TestEndFrameDrainsLedgerWithoutFlush(t *testing.T) {
	device, queue := openNoop(t)
	q := &gatedQueue{Queue: queue}
	b, err := New(device, q)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	target := newTestTarget(t, b, 4, 4, true)
	enc, err := b.BeginFlush(&flush.Descriptor{Target: target}, &flush.FrameResources{Frame: 1})
	if err != nil {
		t.Fatal(err)
	}
	if err := enc.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	b.EndFrame(1)
	if b.Stats().PendingDestroy == 0 {
		t.Fatal("frame 1 objects reclaimed while the queue is stalled")
	}

	q.open = true
	b.EndFrame(2)
	if got := b.CompletedFrame(); got != 2 {
		t.Errorf("CompletedFrame = %d, want 2", got)
	}
	if got := b.Stats().PendingDestroy; got != 0 {
		t.Errorf("pending after a frame without flushes = %d, want 0", got)
	}
}

func uploadBytes(t *testing.T, p *flush.Pipeline, kind flush.BufferKind, n int) {
	t.Helper()
	if err := p.Upload(kind, n, func(buf []byte) int { return len(buf) }); err != nil {
		t.Fatalf("upload %s: %v", kind, err)
	}
}

func TestFlushThroughPipeline(t *testing.T) {
	b := newTestBackend(t)
	p := flush.New(b, resource.NewLedger())
	target := newTestTarget(t, b, 32, 32, false)

	if err := p.PrepareToFlush(1, 0); err != nil {
		t.Fatal(err)
	}
	uploadBytes(t, p, flush.FlushUniforms, flush.FlushUniforms.ElementSize())
	uploadBytes(t, p, flush.SimpleRamps, 2*flush.SimpleRamps.ElementSize())
	uploadBytes(t, p, flush.GradientSpans, flush.GradientSpans.ElementSize())
	uploadBytes(t, p, flush.TessSpans, 2*flush.TessSpans.ElementSize())
	uploadBytes(t, p, flush.PathData, flush.PathData.ElementSize())
	uploadBytes(t, p, flush.TriangleVertices, 3*flush.TriangleVertices.ElementSize())

	err := p.Flush(&flush.Descriptor{
		Target:            target,
		Interlock:         flush.Atomics,
		LoadAction:        flush.LoadClear,
		ClearColor:        color.RGBA{R: 0xff, A: 0xff},
		UpdateBounds:      image.Rect(0, 0, 16, 16),
		Paths:             flush.Range{Count: 1},
		SimpleRamps:       flush.Range{Count: 2},
		GradSpans:         flush.Range{Count: 1},
		TessSpans:         flush.Range{Count: 2},
		TriangleVertices:  flush.Range{Count: 3},
		GradTextureHeight: 2,
		TessTextureHeight: 1,
		DrawList: []flush.DrawBatch{
			{Type: flush.MidpointFanPatches, ElementCount: 2, Group: 1},
			{Type: flush.InteriorTriangulation, ElementCount: 3, Group: 2},
			{Type: flush.AtomicResolve, ElementCount: 1},
		},
	})
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	p.PostFlush()
	b.EndFrame(1)

	st := b.Stats()
	if st.Submits != 1 {
		t.Errorf("submits = %d, want 1", st.Submits)
	}
	if st.SlotsAllocated == 0 {
		t.Error("no ring slots allocated")
	}
	if st.Pipelines.Len == 0 {
		t.Error("no pipelines created")
	}
	if b.offscreen.get() == nil {
		t.Error("offscreen texture not created for a non read/write target")
	}
	if err := b.WaitFrame(context.Background(), 1); err != nil {
		t.Errorf("WaitFrame: %v", err)
	}

	p.Release()
	p.Ledger().Shutdown()
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestFlushMissingImageUniforms(t *testing.T) {
	b := newTestBackend(t)
	defer b.Close()
	target := newTestTarget(t, b, 8, 8, true)
	img := NewImage(testImageView(t, b), 1, 1)

	enc, err := b.BeginFlush(&flush.Descriptor{Target: target}, &flush.FrameResources{Frame: 1})
	if err != nil {
		t.Fatal(err)
	}
	table, err := b.NewBindingTable(1)
	if err != nil {
		t.Fatal(err)
	}
	defer table.Destroy()
	table.Set(0, img)

	enc.BeginDrawPass(&flush.DrawPass{Target: target, Bounds: image.Rect(0, 0, 8, 8)})
	enc.BindImages(table)
	enc.Draw(&flush.DrawBatch{Type: flush.ImageRect, ElementCount: 1, Image: img}, 0)
	enc.EndDrawPass()
	if err := enc.Finish(); !errors.Is(err, errMissingBuffer) {
		t.Fatalf("Finish = %v, want errMissingBuffer", err)
	}
	if b.Stats().Submits != 0 {
		t.Error("failed flush was submitted")
	}
}

func TestCreateTarget(t *testing.T) {
	b := newTestBackend(t)
	target, err := b.CreateTarget(16, 8, false)
	if err != nil {
		t.Fatalf("CreateTarget: %v", err)
	}
	if got := target.Bounds(); got != image.Rect(0, 0, 16, 8) {
		t.Errorf("Bounds() = %v", got)
	}
	if target.Format() != gputypes.TextureFormatRGBA8Unorm {
		t.Errorf("Format() = %v", target.Format())
	}

	pending := b.Ledger().Pending()
	target.Release()
	target.Release()
	if got := b.Ledger().Pending(); got != pending+1 {
		t.Errorf("pending after Release = %d, want %d", got, pending+1)
	}

	if _, err := b.CreateTarget(4, 4, true); err != nil {
		t.Fatal(err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := b.CreateTarget(4, 4, true); !errors.Is(err, ErrClosed) {
		t.Errorf("CreateTarget after Close = %v", err)
	}
}
