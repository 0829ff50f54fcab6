package wgpu

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/pls/flush"
	"github.com/gogpu/pls/resource"
	"github.com/gogpu/wgpu/hal"
)

// ErrForeignImage is returned when a batch image was not created by this
// package.
var ErrForeignImage = errors.New("wgpu: image is not a *wgpu.Image")

// Bind group indices of the draw pipeline layout.
const (
	groupBuffers = iota
	groupTextures
	groupImageUniforms
	groupImage
)

// Bindings of the buffers group. The span passes use a subset.
const (
	bindingFlushUniforms = iota
	bindingPaths
	bindingPaints
	bindingPaintAux
	bindingContours
	bindingGradSpans
	bindingTessSpans
)

// bufferBindings maps buffer-group bindings to ring kinds.
var bufferBindings = [...]flush.BufferKind{
	bindingFlushUniforms: flush.FlushUniforms,
	bindingPaths:         flush.PathData,
	bindingPaints:        flush.PaintData,
	bindingPaintAux:      flush.PaintAuxData,
	bindingContours:      flush.ContourData,
	bindingGradSpans:     flush.GradientSpans,
	bindingTessSpans:     flush.TessSpans,
}

// uniformBlockSize is the size of one flush or image-draw uniform block.
const uniformBlockSize = 256

// layouts are the bind group and pipeline layouts shared by all pipelines.
type layouts struct {
	buffers       hal.BindGroupLayout
	textures      hal.BindGroupLayout
	imageUniforms hal.BindGroupLayout
	image         hal.BindGroupLayout

	span hal.PipelineLayout
	draw hal.PipelineLayout
}

func createLayouts(device hal.Device) (*layouts, error) {
	l := &layouts{}
	var err error

	entries := make([]gputypes.BindGroupLayoutEntry, len(bufferBindings))
	for i, kind := range bufferBindings {
		bt := gputypes.BufferBindingTypeReadOnlyStorage
		if kind == flush.FlushUniforms {
			bt = gputypes.BufferBindingTypeUniform
		}
		entries[i] = gputypes.BindGroupLayoutEntry{
			Binding:    uint32(i),
			Visibility: gputypes.ShaderStagesVertexFragment,
			Buffer:     &gputypes.BufferBindingLayout{Type: bt},
		}
	}
	if l.buffers, err = device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   "pls_buffers_layout",
		Entries: entries,
	}); err != nil {
		return nil, fmt.Errorf("wgpu: create buffers layout: %w", err)
	}

	if l.textures, err = device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "pls_textures_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			textureEntry(0, gputypes.TextureSampleTypeFloat),
			textureEntry(1, gputypes.TextureSampleTypeUint),
		},
	}); err != nil {
		l.destroy(device)
		return nil, fmt.Errorf("wgpu: create textures layout: %w", err)
	}

	if l.imageUniforms, err = device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "pls_image_uniforms_layout",
		Entries: []gputypes.BindGroupLayoutEntry{{
			Binding:    0,
			Visibility: gputypes.ShaderStagesVertexFragment,
			Buffer: &gputypes.BufferBindingLayout{
				Type:             gputypes.BufferBindingTypeUniform,
				HasDynamicOffset: true,
				MinBindingSize:   uniformBlockSize,
			},
		}},
	}); err != nil {
		l.destroy(device)
		return nil, fmt.Errorf("wgpu: create image uniforms layout: %w", err)
	}

	if l.image, err = device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   "pls_image_layout",
		Entries: []gputypes.BindGroupLayoutEntry{textureEntry(0, gputypes.TextureSampleTypeFloat)},
	}); err != nil {
		l.destroy(device)
		return nil, fmt.Errorf("wgpu: create image layout: %w", err)
	}

	if l.span, err = device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "pls_span_pipeline_layout",
		BindGroupLayouts: []hal.BindGroupLayout{l.buffers},
	}); err != nil {
		l.destroy(device)
		return nil, fmt.Errorf("wgpu: create span pipeline layout: %w", err)
	}

	if l.draw, err = device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "pls_draw_pipeline_layout",
		BindGroupLayouts: []hal.BindGroupLayout{l.buffers, l.textures, l.imageUniforms, l.image},
	}); err != nil {
		l.destroy(device)
		return nil, fmt.Errorf("wgpu: create draw pipeline layout: %w", err)
	}
	return l, nil
}

func textureEntry(binding uint32, sample gputypes.TextureSampleType) gputypes.BindGroupLayoutEntry {
	return gputypes.BindGroupLayoutEntry{
		Binding:    binding,
		Visibility: gputypes.ShaderStagesVertexFragment,
		Texture: &gputypes.TextureBindingLayout{
			SampleType:    sample,
			ViewDimension: gputypes.TextureViewDimension2D,
		},
	}
}

func (l *layouts) destroy(device hal.Device) {
	if l.draw != nil {
		device.DestroyPipelineLayout(l.draw)
	}
	if l.span != nil {
		device.DestroyPipelineLayout(l.span)
	}
	for _, g := range []hal.BindGroupLayout{l.image, l.imageUniforms, l.textures, l.buffers} {
		if g != nil {
			device.DestroyBindGroupLayout(g)
		}
	}
	*l = layouts{}
}

// bindGroup is a per-flush bind group handed to the ledger after submit.
type bindGroup struct {
	device hal.Device
	group  hal.BindGroup
}

// Destroy implements resource.Destroyer.
func (g *bindGroup) Destroy() {
	if g.group != nil {
		g.device.DestroyBindGroup(g.group)
		g.group = nil
	}
}

// bindingTable holds one bind group per image slot. Groups survive Reset
// and are rebuilt only when a slot receives a different view.
type bindingTable struct {
	b     *Backend
	slots []imageSlot
	err   error
}

type imageSlot struct {
	view  hal.TextureView
	group hal.BindGroup
}

// Set implements flush.BindingTable. Failures are reported when the table
// is bound.
func (t *bindingTable) Set(slot int, tex flush.ImageTexture) {
	img, ok := tex.(*Image)
	if !ok {
		t.err = fmt.Errorf("%w: got %T", ErrForeignImage, tex)
		return
	}
	s := &t.slots[slot]
	if s.group != nil && s.view == img.view {
		return
	}
	if s.group != nil {
		t.retire(s.group)
		s.group, s.view = nil, nil
	}
	g, err := t.b.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  "pls_image",
		Layout: t.b.layouts.image,
		Entries: []gputypes.BindGroupEntry{{
			Binding:  0,
			Resource: gputypes.TextureViewBinding{TextureView: img.view.NativeHandle()},
		}},
	})
	if err != nil {
		t.err = fmt.Errorf("wgpu: create image bind group: %w", err)
		return
	}
	s.view, s.group = img.view, g
}

// Reset implements flush.BindingTable.
func (t *bindingTable) Reset() { t.err = nil }

// Destroy implements flush.BindingTable.
func (t *bindingTable) Destroy() {
	for i := range t.slots {
		if g := t.slots[i].group; g != nil {
			t.retire(g)
		}
		t.slots[i] = imageSlot{}
	}
}

// retire hands a replaced group to the ledger; an earlier flush may still
// reference it.
func (t *bindingTable) retire(g hal.BindGroup) {
	resource.Manage(t.b.ledger, &bindGroup{device: t.b.device, group: g}).Release()
}

func (t *bindingTable) group(slot int) hal.BindGroup {
	if slot < 0 || slot >= len(t.slots) {
		return nil
	}
	return t.slots[slot].group
}
