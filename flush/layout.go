package flush

import (
	"encoding/binary"
	"image/color"
)

// GradientSpan is one horizontal color ramp segment rendered into the
// gradient texture. X0 and X1 are normalized texel coordinates in the
// fixed-point range 0..65535.
type GradientSpan struct {
	X0, X1 uint16
	Y      uint32
	Color0 color.RGBA
	Color1 color.RGBA
}

// Put encodes s into b, which must hold GradientSpans.ElementSize() bytes.
func (s GradientSpan) Put(b []byte) {
	_ = b[15]
	binary.LittleEndian.PutUint32(b[0:], uint32(s.X1)<<16|uint32(s.X0))
	binary.LittleEndian.PutUint32(b[4:], s.Y)
	binary.LittleEndian.PutUint32(b[8:], PackColor(s.Color0))
	binary.LittleEndian.PutUint32(b[12:], PackColor(s.Color1))
}

// ReadGradientSpan decodes a span written by Put.
func ReadGradientSpan(b []byte) GradientSpan {
	_ = b[15]
	h := binary.LittleEndian.Uint32(b[0:])
	return GradientSpan{
		X0:     uint16(h),
		X1:     uint16(h >> 16),
		Y:      binary.LittleEndian.Uint32(b[4:]),
		Color0: UnpackColor(binary.LittleEndian.Uint32(b[8:])),
		Color1: UnpackColor(binary.LittleEndian.Uint32(b[12:])),
	}
}

// PutSimpleRamp encodes a two-stop ramp as two RGBA8 texels.
func PutSimpleRamp(b []byte, c0, c1 color.RGBA) {
	_ = b[7]
	binary.LittleEndian.PutUint32(b[0:], PackColor(c0))
	binary.LittleEndian.PutUint32(b[4:], PackColor(c1))
}

// SimpleRampTexel returns the gradient texture position of the first
// texel of simple ramp i. Simple ramps fill rows from the top.
func SimpleRampTexel(i uint32) (x, y int) {
	return int(i%GradTextureWidthInSimpleRamps) * 2, int(i / GradTextureWidthInSimpleRamps)
}

// PackColor packs c as RGBA8 bytes in memory order.
func PackColor(c color.RGBA) uint32 {
	return uint32(c.R) | uint32(c.G)<<8 | uint32(c.B)<<16 | uint32(c.A)<<24
}

// UnpackColor is the inverse of PackColor.
func UnpackColor(v uint32) color.RGBA {
	return color.RGBA{R: uint8(v), G: uint8(v >> 8), B: uint8(v >> 16), A: uint8(v >> 24)}
}
