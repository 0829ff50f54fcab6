package flush

import "fmt"

// InterlockMode is the strategy used to keep overlapping coverage writes
// within one draw list consistent.
type InterlockMode uint8

const (
	// RasterOrdering relies on hardware ordering of same-pixel fragments.
	RasterOrdering InterlockMode = iota
	// Atomics accumulates coverage atomically and resolves it once.
	Atomics
	// ClockwiseAtomic is a restricted atomic mode without a resolve draw.
	ClockwiseAtomic
)

// String returns the mode name.
func (m InterlockMode) String() string {
	switch m {
	case RasterOrdering:
		return "rasterOrdering"
	case Atomics:
		return "atomics"
	case ClockwiseAtomic:
		return "clockwiseAtomic"
	default:
		return fmt.Sprintf("InterlockMode(%d)", m)
	}
}

// LoadAction is what happens to the target's color at the start of a flush.
type LoadAction uint8

const (
	LoadClear LoadAction = iota
	LoadPreserveRenderTarget
	LoadDontCare
)

// String returns the action name.
func (a LoadAction) String() string {
	switch a {
	case LoadClear:
		return "clear"
	case LoadPreserveRenderTarget:
		return "preserveRenderTarget"
	case LoadDontCare:
		return "dontCare"
	default:
		return fmt.Sprintf("LoadAction(%d)", a)
	}
}

// DrawType identifies the kind of geometry a DrawBatch draws.
type DrawType uint8

const (
	MidpointFanPatches DrawType = iota
	OuterCurvePatches
	InteriorTriangulation
	ImageRect
	ImageMesh
	AtomicInitialize
	AtomicResolve
	StencilClipReset
)

var drawTypeNames = [...]string{
	MidpointFanPatches:    "midpointFanPatches",
	OuterCurvePatches:     "outerCurvePatches",
	InteriorTriangulation: "interiorTriangulation",
	ImageRect:             "imageRect",
	ImageMesh:             "imageMesh",
	AtomicInitialize:      "atomicInitialize",
	AtomicResolve:         "atomicResolve",
	StencilClipReset:      "stencilClipReset",
}

// String returns the draw type name.
func (t DrawType) String() string {
	if int(t) < len(drawTypeNames) {
		return drawTypeNames[t]
	}
	return fmt.Sprintf("DrawType(%d)", t)
}

// IsPatch reports whether the draw type reads the tessellation texture.
func (t DrawType) IsPatch() bool {
	return t == MidpointFanPatches || t == OuterCurvePatches
}

// IsImage reports whether the draw type samples an image texture.
func (t DrawType) IsImage() bool {
	return t == ImageRect || t == ImageMesh
}

// ShaderFeatures is the set of optional shader paths a draw needs.
type ShaderFeatures uint32

const (
	FeatureClipping ShaderFeatures = 1 << iota
	FeatureClipRect
	FeatureAdvancedBlend
	FeatureEvenOdd
	FeatureNestedClipping
	FeatureHSLBlendModes

	// FeatureNone is the empty feature set.
	FeatureNone ShaderFeatures = 0
)

// MiscFlags are pipeline variations chosen by the flush planner.
type MiscFlags uint32

const (
	// MiscFixedFunctionColorOutput: color is written by fixed-function
	// blending instead of read/write access to the target.
	MiscFixedFunctionColorOutput MiscFlags = 1 << iota
	// MiscCoalescedResolveAndTransfer: the atomic resolve writes straight
	// into the real target instead of the offscreen copy.
	MiscCoalescedResolveAndTransfer
	// MiscBorrowedCoveragePrepass marks a clockwiseAtomic prepass.
	MiscBorrowedCoveragePrepass
)

// BarrierFlags describe the synchronization required before a batch.
type BarrierFlags uint8

const (
	BarrierNone BarrierFlags = 0

	// BarrierAtomicPostInit orders the first draws after the atomic planes
	// were initialized.
	BarrierAtomicPostInit BarrierFlags = 1 << iota
	// BarrierAtomic separates overlapping draw groups in atomics mode.
	BarrierAtomic
	// BarrierAtomicPreResolve orders the resolve after every accumulation.
	BarrierAtomicPreResolve
	// BarrierClockwiseCoverage separates borrowed-coverage prepasses from
	// the main draws in clockwiseAtomic mode.
	BarrierClockwiseCoverage
)

// BufferKind enumerates the per-frame upload rings.
type BufferKind uint8

const (
	FlushUniforms BufferKind = iota
	ImageDrawUniforms
	PathData
	PaintData
	PaintAuxData
	ContourData
	SimpleRamps
	GradientSpans
	TessSpans
	TriangleVertices

	NumBufferKinds = int(TriangleVertices) + 1
)

var bufferKindNames = [NumBufferKinds]string{
	FlushUniforms:     "flushUniforms",
	ImageDrawUniforms: "imageDrawUniforms",
	PathData:          "paths",
	PaintData:         "paints",
	PaintAuxData:      "paintAux",
	ContourData:       "contours",
	SimpleRamps:       "simpleRamps",
	GradientSpans:     "gradSpans",
	TessSpans:         "tessSpans",
	TriangleVertices:  "triangleVertices",
}

// String returns the ring label of the kind.
func (k BufferKind) String() string {
	if int(k) < NumBufferKinds {
		return bufferKindNames[k]
	}
	return fmt.Sprintf("BufferKind(%d)", k)
}

// Element sizes in bytes, one per BufferKind.
var elementSizes = [NumBufferKinds]int{
	FlushUniforms:     256,
	ImageDrawUniforms: 256,
	PathData:          32,
	PaintData:         8,
	PaintAuxData:      64,
	ContourData:       16,
	SimpleRamps:       8, // two RGBA8 texels
	GradientSpans:     16,
	TessSpans:         64,
	TriangleVertices:  12,
}

// ElementSize returns the size of one element of the kind.
func (k BufferKind) ElementSize() int { return elementSizes[k] }

// Texture dimensions shared with the shaders.
const (
	GradTextureWidth              = 512
	GradTextureWidthInSimpleRamps = GradTextureWidth / 2
	TessTextureWidth              = 2048
)

// Coverage values in the fixed-point encoding used by the atomic planes.
// Zero coverage sits at a bias so negative winding stays representable.
const (
	FixedCoveragePrecision uint32 = 1 << 12
	FixedCoverageZero      uint32 = 1 << 15
	FixedCoverageOne              = FixedCoverageZero + FixedCoveragePrecision
)

// clockwiseCoverageBits is the number of low bits of a coverage-buffer
// value holding coverage; the rest holds the per-flush prefix.
const clockwiseCoverageBits = 16
