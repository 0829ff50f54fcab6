package wgpu

import (
	"fmt"
	"image"
	"slices"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/pls/resource"
	"github.com/gogpu/wgpu/hal"
)

// texture is a device texture with its default view.
type texture struct {
	device hal.Device
	tex    hal.Texture
	view   hal.TextureView
	width  uint32
	height uint32
	format gputypes.TextureFormat
}

// Destroy implements resource.Destroyer.
func (t *texture) Destroy() {
	if t.view != nil {
		t.device.DestroyTextureView(t.view)
		t.view = nil
	}
	if t.tex != nil {
		t.device.DestroyTexture(t.tex)
		t.tex = nil
	}
}

func newTexture(device hal.Device, label string, width, height uint32, format gputypes.TextureFormat, usage gputypes.TextureUsage) (*texture, error) {
	tex, err := device.CreateTexture(&hal.TextureDescriptor{
		Label:         label,
		Size:          hal.Extent3D{Width: width, Height: height, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        format,
		Usage:         usage,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create %s texture: %w", label, err)
	}
	view, err := device.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label:           label + "_view",
		Format:          format,
		Dimension:       gputypes.TextureViewDimension2D,
		Aspect:          gputypes.TextureAspectAll,
		MipLevelCount:   1,
		ArrayLayerCount: 1,
	})
	if err != nil {
		device.DestroyTexture(tex)
		return nil, fmt.Errorf("wgpu: create %s view: %w", label, err)
	}
	return &texture{device: device, tex: tex, view: view, width: width, height: height, format: format}, nil
}

// textureSlot owns one growable texture. Replaced textures are released
// to the ledger and destroyed once the frames that used them retire.
type textureSlot struct {
	label string
	usage gputypes.TextureUsage
	res   *resource.Resource[*texture]
	grows int
}

// ensure makes the texture at least width x height, recreating it when it
// is smaller or has a different format.
func (s *textureSlot) ensure(l *resource.Ledger, device hal.Device, width, height uint32, format gputypes.TextureFormat) error {
	width, height = max(width, 1), max(height, 1)
	if s.res != nil {
		cur := s.res.Native()
		if cur.width >= width && cur.height >= height && cur.format == format {
			return nil
		}
		if cur.format == format {
			width, height = max(width, cur.width), max(height, cur.height)
		}
	}
	t, err := newTexture(device, s.label, width, height, format, s.usage)
	if err != nil {
		return err
	}
	s.release()
	s.res = resource.Manage(l, t)
	s.grows++
	return nil
}

func (s *textureSlot) get() *texture {
	if s.res == nil {
		return nil
	}
	return s.res.Native()
}

func (s *textureSlot) release() {
	if s.res != nil {
		s.res.Release()
		s.res = nil
	}
}

// Target is a render target texture owned by the host.
type Target struct {
	tex       hal.Texture
	view      hal.TextureView
	format    gputypes.TextureFormat
	size      image.Point
	readWrite bool

	owned *resource.Resource[*texture] // set by CreateTarget
}

// NewTarget wraps a host texture. The texture needs RenderAttachment,
// CopySrc and CopyDst usage when the pipeline may render offscreen.
func NewTarget(tex hal.Texture, view hal.TextureView, format gputypes.TextureFormat, width, height int, readWrite bool) *Target {
	return &Target{tex: tex, view: view, format: format, size: image.Pt(width, height), readWrite: readWrite}
}

// CreateTarget creates an RGBA8 target texture owned by the backend.
// Targets that are not released are destroyed by Close.
func (b *Backend) CreateTarget(width, height int, readWrite bool) (*Target, error) {
	if b.closed {
		return nil, ErrClosed
	}
	usage := gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopySrc | gputypes.TextureUsageCopyDst
	if readWrite {
		usage |= gputypes.TextureUsageStorageBinding
	}
	tex, err := newTexture(b.device, "pls_target", uint32(width), uint32(height), gputypes.TextureFormatRGBA8Unorm, usage)
	if err != nil {
		return nil, err
	}
	t := NewTarget(tex.tex, tex.view, tex.format, width, height, readWrite)
	t.owned = resource.Manage(b.ledger, tex)
	b.targets = slices.DeleteFunc(b.targets, func(t *Target) bool { return t.owned == nil })
	b.targets = append(b.targets, t)
	return t, nil
}

// Release hands a target made by CreateTarget to the backend's ledger,
// which destroys it once the frames using it retire. It does nothing for
// host textures.
func (t *Target) Release() {
	if t.owned != nil {
		t.owned.Release()
		t.owned = nil
	}
}

// Bounds implements flush.Target.
func (t *Target) Bounds() image.Rectangle { return image.Rectangle{Max: t.size} }

// ReadWrite implements flush.Target.
func (t *Target) ReadWrite() bool { return t.readWrite }

// Format returns the target's texture format.
func (t *Target) Format() gputypes.TextureFormat { return t.format }

// Image is a sampled image texture referenced by image draws.
type Image struct {
	view hal.TextureView
	size image.Point
}

// NewImage wraps a host texture view of width x height texels.
func NewImage(view hal.TextureView, width, height int) *Image {
	return &Image{view: view, size: image.Pt(width, height)}
}

// ImageSize implements flush.ImageTexture.
func (img *Image) ImageSize() image.Point { return img.size }
