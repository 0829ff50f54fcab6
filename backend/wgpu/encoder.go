package wgpu

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/pls/flush"
	"github.com/gogpu/pls/resource"
	"github.com/gogpu/wgpu/hal"
)

// errMissingBuffer is recorded when a pass needs a ring that received
// nothing this frame.
var errMissingBuffer = errors.New("wgpu: ring has no submitted buffer")

// encoder records one logical flush into a HAL command encoder. The first
// failure is kept and returned by Finish; later calls are ignored.
type encoder struct {
	b      *Backend
	desc   *flush.Descriptor
	res    *flush.FrameResources
	target *Target
	enc    hal.CommandEncoder
	pass   hal.RenderPassEncoder

	draw       flush.DrawPass
	attachment hal.TextureView
	format     gputypes.TextureFormat
	table      *bindingTable

	buffers       hal.BindGroup
	textures      hal.BindGroup
	imageUniforms hal.BindGroup
	groups        []*resource.Resource[*bindGroup]

	err  error
	done bool
}

func (e *encoder) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

func (e *encoder) ok() bool { return e.err == nil && !e.done }

// UploadSimpleRamps implements flush.Encoder. Ramps are copied from the
// ring straight into the top rows of the gradient texture.
func (e *encoder) UploadSimpleRamps(ramps flush.Range) {
	if ramps.Empty() || !e.ok() {
		return
	}
	src := slotBuffer(e.res.Buffers[flush.SimpleRamps])
	if src == nil {
		e.fail(fmt.Errorf("%w: %s", errMissingBuffer, flush.SimpleRamps))
		return
	}
	grad := e.b.grad.get()
	e.enc.CopyBufferToTexture(src, grad.tex, rampCopyRegions(ramps, grad.tex))
}

// rampCopyRegions covers ramps with one region of whole texture rows and
// one region for the remainder.
func rampCopyRegions(ramps flush.Range, dst hal.Texture) []hal.BufferTextureCopy {
	const rowBytes = flush.GradTextureWidth * 4
	rampBytes := uint64(flush.SimpleRamps.ElementSize())
	full := ramps.Count / flush.GradTextureWidthInSimpleRamps
	rest := ramps.Count % flush.GradTextureWidthInSimpleRamps

	var regions []hal.BufferTextureCopy
	if full > 0 {
		regions = append(regions, hal.BufferTextureCopy{
			BufferLayout: hal.ImageDataLayout{Offset: uint64(ramps.First) * rampBytes, BytesPerRow: rowBytes},
			TextureBase:  hal.ImageCopyTexture{Texture: dst, Aspect: gputypes.TextureAspectAll},
			Size:         hal.Extent3D{Width: flush.GradTextureWidth, Height: full, DepthOrArrayLayers: 1},
		})
	}
	if rest > 0 {
		first := ramps.First + full*flush.GradTextureWidthInSimpleRamps
		regions = append(regions, hal.BufferTextureCopy{
			BufferLayout: hal.ImageDataLayout{Offset: uint64(first) * rampBytes, BytesPerRow: rowBytes},
			TextureBase:  hal.ImageCopyTexture{Texture: dst, Origin: hal.Origin3D{Y: full}, Aspect: gputypes.TextureAspectAll},
			Size:         hal.Extent3D{Width: rest * 2, Height: 1, DepthOrArrayLayers: 1},
		})
	}
	return regions
}

// RenderGradientSpans implements flush.Encoder.
func (e *encoder) RenderGradientSpans(spans flush.Range, _ uint32) {
	e.spanPass("pls_gradient_spans", kindGradient, e.b.grad.get(), gputypes.LoadOpLoad, spans)
}

// RenderTessellation implements flush.Encoder.
func (e *encoder) RenderTessellation(spans flush.Range, _ uint32) {
	e.spanPass("pls_tessellation", kindTessellation, e.b.tess.get(), gputypes.LoadOpClear, spans)
}

// spanPass draws one instanced quad per span into dst.
func (e *encoder) spanPass(label string, kind pipelineKind, dst *texture, load gputypes.LoadOp, spans flush.Range) {
	if spans.Empty() || !e.ok() {
		return
	}
	p, err := e.b.pipelines.get(e.b.ledger, pipelineKey{kind: kind, format: dst.format})
	if err != nil {
		e.fail(err)
		return
	}
	pass := e.enc.BeginRenderPass(&hal.RenderPassDescriptor{
		Label: label,
		ColorAttachments: []hal.RenderPassColorAttachment{{
			View:    dst.view,
			LoadOp:  load,
			StoreOp: gputypes.StoreOpStore,
		}},
	})
	pass.SetPipeline(p)
	pass.SetBindGroup(groupBuffers, e.buffers, nil)
	pass.Draw(quadVertices, spans.Count, 0, spans.First)
	pass.End()
}

// BlitTargetToOffscreen implements flush.Encoder.
func (e *encoder) BlitTargetToOffscreen(bounds image.Rectangle) {
	if !e.ok() {
		return
	}
	off := e.b.offscreen.get()
	e.copyTexture(e.target.tex, off.tex, bounds)
}

// CopyOffscreenToTarget implements flush.Encoder.
func (e *encoder) CopyOffscreenToTarget(bounds image.Rectangle) {
	if !e.ok() {
		return
	}
	off := e.b.offscreen.get()
	e.copyTexture(off.tex, e.target.tex, bounds)
}

func (e *encoder) copyTexture(src, dst hal.Texture, bounds image.Rectangle) {
	if bounds.Empty() {
		return
	}
	origin := hal.Origin3D{X: uint32(bounds.Min.X), Y: uint32(bounds.Min.Y)}
	e.enc.CopyTextureToTexture(src, dst, []hal.TextureCopy{{
		SrcBase: hal.ImageCopyTexture{Texture: src, Origin: origin, Aspect: gputypes.TextureAspectAll},
		DstBase: hal.ImageCopyTexture{Texture: dst, Origin: origin, Aspect: gputypes.TextureAspectAll},
		Size:    hal.Extent3D{Width: uint32(bounds.Dx()), Height: uint32(bounds.Dy()), DepthOrArrayLayers: 1},
	}})
}

// BeginDrawPass implements flush.Encoder. Clear and don't-care both clear
// the attachment; WebGPU has no undefined load.
func (e *encoder) BeginDrawPass(pass *flush.DrawPass) {
	if !e.ok() {
		return
	}
	e.draw = *pass
	e.attachment, e.format = e.target.view, e.target.format
	if pass.Offscreen {
		off := e.b.offscreen.get()
		e.attachment, e.format = off.view, off.format
	}
	var err error
	if e.textures, err = e.textureGroup(); err != nil {
		e.fail(err)
		return
	}

	load, clear := gputypes.LoadOpLoad, gputypes.Color{}
	switch pass.LoadAction {
	case flush.LoadClear:
		load, clear = gputypes.LoadOpClear, toColor(pass.ClearColor)
	case flush.LoadDontCare:
		load = gputypes.LoadOpClear
	}
	e.openDrawPass(load, clear)
}

func (e *encoder) openDrawPass(load gputypes.LoadOp, clear gputypes.Color) {
	e.pass = e.enc.BeginRenderPass(&hal.RenderPassDescriptor{
		Label: "pls_draw",
		ColorAttachments: []hal.RenderPassColorAttachment{{
			View:       e.attachment,
			LoadOp:     load,
			StoreOp:    gputypes.StoreOpStore,
			ClearValue: clear,
		}},
	})
	r := e.draw.Bounds
	e.pass.SetScissorRect(uint32(r.Min.X), uint32(r.Min.Y), uint32(r.Dx()), uint32(r.Dy()))
	e.pass.SetBindGroup(groupBuffers, e.buffers, nil)
	e.pass.SetBindGroup(groupTextures, e.textures, nil)
}

// Barrier implements flush.Encoder. The pass is split so that every write
// before the barrier is visible to the draws after it.
func (e *encoder) Barrier(flush.BarrierFlags) {
	if e.pass == nil || !e.ok() {
		return
	}
	e.pass.End()
	e.openDrawPass(gputypes.LoadOpLoad, gputypes.Color{})
}

// BindImages implements flush.Encoder.
func (e *encoder) BindImages(table flush.BindingTable) {
	if !e.ok() {
		return
	}
	t, ok := table.(*bindingTable)
	if !ok {
		e.fail(fmt.Errorf("wgpu: binding table %T not created by this backend", table))
		return
	}
	if t.err != nil {
		e.fail(t.err)
		return
	}
	e.table = t
}

// Draw implements flush.Encoder.
func (e *encoder) Draw(batch *flush.DrawBatch, imageSlot int) {
	if e.pass == nil || !e.ok() {
		return
	}
	key := pipelineKey{
		kind:          kindDraw,
		draw:          batch.Type,
		interlock:     e.draw.Interlock,
		format:        e.format,
		fixedFunction: (e.draw.Misc|batch.Misc)&flush.MiscFixedFunctionColorOutput != 0,
		wireframe:     e.draw.Wireframe,
	}
	p, err := e.b.pipelines.get(e.b.ledger, key)
	if err != nil {
		e.fail(err)
		return
	}
	e.pass.SetPipeline(p)

	if batch.Type.IsImage() {
		if err := e.bindImage(batch, imageSlot); err != nil {
			e.fail(err)
			return
		}
	}
	if batch.Type == flush.InteriorTriangulation || batch.Type == flush.ImageMesh {
		vb := slotBuffer(e.res.Buffers[flush.TriangleVertices])
		if vb == nil {
			e.fail(fmt.Errorf("%w: %s", errMissingBuffer, flush.TriangleVertices))
			return
		}
		e.pass.SetVertexBuffer(0, vb, 0)
	}

	vertices, instances, firstVertex, firstInstance := drawCounts(batch)
	if vertices == 0 || instances == 0 {
		return
	}
	e.pass.Draw(vertices, instances, firstVertex, firstInstance)
}

func (e *encoder) bindImage(batch *flush.DrawBatch, slot int) error {
	if e.imageUniforms == nil {
		g, err := e.imageUniformGroup()
		if err != nil {
			return err
		}
		e.imageUniforms = g
	}
	if e.table == nil {
		return fmt.Errorf("wgpu: image draw without a bound table")
	}
	group := e.table.group(slot)
	if group == nil {
		return fmt.Errorf("wgpu: image slot %d is not bound", slot)
	}
	e.pass.SetBindGroup(groupImageUniforms, e.imageUniforms, []uint32{batch.ImageDrawOffset})
	e.pass.SetBindGroup(groupImage, group, nil)
	return nil
}

// EndDrawPass implements flush.Encoder.
func (e *encoder) EndDrawPass() {
	if e.pass != nil {
		e.pass.End()
		e.pass = nil
	}
}

// Finish implements flush.Encoder. The command buffer and the flush's bind
// groups are handed to the ledger and freed once the frame retires.
func (e *encoder) Finish() error {
	if e.done {
		return fmt.Errorf("wgpu: flush already finished")
	}
	if e.err != nil {
		err := e.err
		e.Discard()
		return err
	}
	e.EndDrawPass()
	cmd, err := e.enc.EndEncoding()
	if err != nil {
		e.Discard()
		return fmt.Errorf("wgpu: end encoding: %w", err)
	}
	e.done = true
	index, err := e.b.queue.Submit([]hal.CommandBuffer{cmd})
	resource.Manage(e.b.ledger, &commandBuffer{device: e.b.device, cmd: cmd, enc: e.enc}).Release()
	e.releaseGroups()
	if err != nil {
		return fmt.Errorf("wgpu: submit: %w", err)
	}
	e.b.noteSubmit(index)
	return nil
}

// Discard implements flush.Encoder.
func (e *encoder) Discard() {
	if e.done {
		return
	}
	e.done = true
	if e.pass != nil {
		e.pass.End()
		e.pass = nil
	}
	e.enc.DiscardEncoding()
	e.enc.Destroy()
	e.releaseGroups()
}

func (e *encoder) releaseGroups() {
	for _, g := range e.groups {
		g.Release()
	}
	e.groups = nil
}

// newGroup creates a bind group that lives until the flush retires.
func (e *encoder) newGroup(label string, layout hal.BindGroupLayout, entries []gputypes.BindGroupEntry) (hal.BindGroup, error) {
	g, err := e.b.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   label,
		Layout:  layout,
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create %s bind group: %w", label, err)
	}
	e.groups = append(e.groups, resource.Manage(e.b.ledger, &bindGroup{device: e.b.device, group: g}))
	return g, nil
}

// bufferGroup binds the frame's ring slots. Rings that received nothing
// are bound to a placeholder.
func (e *encoder) bufferGroup() (hal.BindGroup, error) {
	entries := make([]gputypes.BindGroupEntry, len(bufferBindings))
	for i, kind := range bufferBindings {
		binding := gputypes.BufferBinding{Buffer: e.b.dummy.NativeHandle()}
		if buf := slotBuffer(e.res.Buffers[kind]); buf != nil {
			binding.Buffer = buf.NativeHandle()
			if kind == flush.FlushUniforms {
				binding.Offset = uint64(e.desc.FlushUniformOffset)
				binding.Size = uniformBlockSize
			}
		}
		entries[i] = gputypes.BindGroupEntry{Binding: uint32(i), Resource: binding}
	}
	return e.newGroup("pls_buffers", e.b.layouts.buffers, entries)
}

func (e *encoder) textureGroup() (hal.BindGroup, error) {
	return e.newGroup("pls_textures", e.b.layouts.textures, []gputypes.BindGroupEntry{
		{Binding: 0, Resource: gputypes.TextureViewBinding{TextureView: e.b.grad.get().view.NativeHandle()}},
		{Binding: 1, Resource: gputypes.TextureViewBinding{TextureView: e.b.tess.get().view.NativeHandle()}},
	})
}

func (e *encoder) imageUniformGroup() (hal.BindGroup, error) {
	buf := slotBuffer(e.res.Buffers[flush.ImageDrawUniforms])
	if buf == nil {
		return nil, fmt.Errorf("%w: %s", errMissingBuffer, flush.ImageDrawUniforms)
	}
	return e.newGroup("pls_image_uniforms", e.b.layouts.imageUniforms, []gputypes.BindGroupEntry{{
		Binding:  0,
		Resource: gputypes.BufferBinding{Buffer: buf.NativeHandle(), Size: uniformBlockSize},
	}})
}

// commandBuffer frees a submitted command buffer and its encoder.
type commandBuffer struct {
	device hal.Device
	cmd    hal.CommandBuffer
	enc    hal.CommandEncoder
}

// Destroy implements resource.Destroyer.
func (c *commandBuffer) Destroy() {
	if c.cmd != nil {
		c.device.FreeCommandBuffer(c.cmd)
		c.cmd = nil
	}
	if c.enc != nil {
		c.enc.Destroy()
		c.enc = nil
	}
}

func toColor(c color.RGBA) gputypes.Color {
	return gputypes.Color{
		R: float64(c.R) / 0xff,
		G: float64(c.G) / 0xff,
		B: float64(c.B) / 0xff,
		A: float64(c.A) / 0xff,
	}
}
