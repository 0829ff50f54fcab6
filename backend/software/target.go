package software

import (
	"image"

	"github.com/gogpu/pls/flush"
)

// Target is a render target backed by a caller-owned image.
type Target struct {
	img       *image.RGBA
	readWrite bool
}

// NewTarget wraps img. A target that is not readWrite makes the pipeline
// render offscreen and copy the result back, like a swapchain image that
// cannot be bound as a storage image.
func NewTarget(img *image.RGBA, readWrite bool) *Target {
	return &Target{img: img, readWrite: readWrite}
}

// Bounds implements flush.Target.
func (t *Target) Bounds() image.Rectangle { return t.img.Bounds() }

// ReadWrite implements flush.Target.
func (t *Target) ReadWrite() bool { return t.readWrite }

// Image returns the wrapped image.
func (t *Target) Image() *image.RGBA { return t.img }

// Texture is an image draws can sample.
type Texture struct {
	img *image.RGBA
}

// NewTexture wraps img as an image texture.
func NewTexture(img *image.RGBA) *Texture {
	return &Texture{img: img}
}

// ImageSize implements flush.ImageTexture.
func (t *Texture) ImageSize() image.Point { return t.img.Bounds().Size() }

type bindingTable struct {
	slots []flush.ImageTexture
}

func (t *bindingTable) Set(slot int, tex flush.ImageTexture) {
	t.slots[slot] = tex
}

func (t *bindingTable) Reset() {
	clear(t.slots)
}

func (t *bindingTable) Destroy() {
	t.slots = nil
}
