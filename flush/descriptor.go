package flush

import (
	"image"
	"image/color"
)

// Range selects Count elements starting at First in one of the frame's
// upload rings.
type Range struct {
	First uint32
	Count uint32
}

// Empty reports whether the range selects nothing.
func (r Range) Empty() bool { return r.Count == 0 }

// end returns the byte offset one past the range for elements of size.
func (r Range) end(size int) int {
	return (int(r.First) + int(r.Count)) * size
}

// ImageTexture is an image a draw batch samples from.
type ImageTexture interface {
	ImageSize() image.Point
}

// Target is the render target of a flush.
type Target interface {
	// Bounds returns the pixel extent of the target.
	Bounds() image.Rectangle
	// ReadWrite reports whether the target can be bound as a read/write
	// image while also being a color attachment.
	ReadWrite() bool
}

// DrawBatch is one entry of the ordered draw list.
type DrawBatch struct {
	Type         DrawType
	ElementCount uint32
	BaseElement  uint32

	Features ShaderFeatures
	Misc     MiscFlags

	// Group identifies an overlap group. In atomics mode consecutive
	// batches of different groups are separated by a barrier.
	Group int
	// Prepass marks a borrowed-coverage prepass in clockwiseAtomic mode.
	Prepass bool

	Image           ImageTexture
	ImageDrawOffset uint32 // byte offset into the image-draw uniform ring

	// Barriers is set by the planner.
	Barriers BarrierFlags
}

// Descriptor describes one logical flush.
type Descriptor struct {
	Target     Target
	Interlock  InterlockMode
	LoadAction LoadAction
	ClearColor color.RGBA

	// CoverageClearValue initializes the coverage plane. Zero selects the
	// mode's default.
	CoverageClearValue uint32

	// UpdateBounds is the region of the target this flush may change. An
	// empty rectangle skips the flush.
	UpdateBounds image.Rectangle

	Wireframe bool

	FlushUniformOffset uint32

	Paths            Range
	Paints           Range
	PaintAux         Range
	Contours         Range
	GradSpans        Range
	SimpleRamps      Range
	TessSpans        Range
	TriangleVertices Range

	GradTextureHeight uint32
	TessTextureHeight uint32

	CombinedFeatures ShaderFeatures
	DrawList         []DrawBatch
}

type bufferRange struct {
	kind BufferKind
	r    Range
}

// ranges pairs every ring-backed range of d with its ring.
func (d *Descriptor) ranges() []bufferRange {
	return []bufferRange{
		{PathData, d.Paths},
		{PaintData, d.Paints},
		{PaintAuxData, d.PaintAux},
		{ContourData, d.Contours},
		{GradientSpans, d.GradSpans},
		{SimpleRamps, d.SimpleRamps},
		{TessSpans, d.TessSpans},
		{TriangleVertices, d.TriangleVertices},
	}
}
