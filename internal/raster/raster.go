package raster

import (
	"fmt"
	"image"
)

// Format is the pixel layout of an Image buffer.
type Format int

const (
	RGB24 Format = iota // 3 bytes per pixel, R G B
	Gray8               // 1 byte per pixel, 0 = black
	Mono1               // 1 bit per pixel, MSB first, 1 = black
)

func (f Format) String() string {
	switch f {
	case RGB24:
		return "rgb24"
	case Gray8:
		return "gray8"
	case Mono1:
		return "mono1"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// Image is a page-sized pixel buffer with top-to-bottom scanlines.
type Image struct {
	Pix    []byte
	Width  int
	Height int
	Stride int
	Format Format
}

// MinStride returns the tightest row size for a buffer of the given format.
func MinStride(f Format, width int) int {
	switch f {
	case RGB24:
		return width * 3
	case Mono1:
		return (width + 7) / 8
	default:
		return width
	}
}

// New allocates a zeroed image. Gray8 and RGB24 buffers start black;
// callers that need white should fill them.
func New(f Format, width, height int) *Image {
	stride := MinStride(f, width)
	return &Image{
		Pix:    make([]byte, stride*height),
		Width:  width,
		Height: height,
		Stride: stride,
		Format: f,
	}
}

// Bounds returns the full image rectangle.
func (m *Image) Bounds() image.Rectangle {
	return image.Rect(0, 0, m.Width, m.Height)
}

// Validate checks that the buffer is large enough for the declared geometry.
func (m *Image) Validate() error {
	if m == nil {
		return fmt.Errorf("nil image")
	}
	if m.Width <= 0 || m.Height <= 0 {
		return fmt.Errorf("invalid image size %dx%d", m.Width, m.Height)
	}
	if m.Stride < MinStride(m.Format, m.Width) {
		return fmt.Errorf("stride %d too small for %s width %d", m.Stride, m.Format, m.Width)
	}
	if len(m.Pix) < m.Stride*(m.Height-1)+MinStride(m.Format, m.Width) {
		return fmt.Errorf("buffer of %d bytes too small for %dx%d %s", len(m.Pix), m.Width, m.Height, m.Format)
	}
	return nil
}

// Row returns the bytes of scanline y.
func (m *Image) Row(y int) []byte {
	off := y * m.Stride
	return m.Pix[off : off+MinStride(m.Format, m.Width)]
}

// Bytes returns the number of payload bytes (without stride padding).
func (m *Image) Bytes() int {
	return MinStride(m.Format, m.Width) * m.Height
}

// Gray converts an RGB24 image to Gray8 using integer luma weights.
// Gray8 images are returned unchanged.
func (m *Image) Gray() *Image {
	if m.Format == Gray8 {
		return m
	}
	out := New(Gray8, m.Width, m.Height)
	for y := 0; y < m.Height; y++ {
		src := m.Row(y)
		dst := out.Row(y)
		for x := 0; x < m.Width; x++ {
			r, g, b := int(src[3*x]), int(src[3*x+1]), int(src[3*x+2])
			dst[x] = byte((r*299 + g*587 + b*114 + 500) / 1000)
		}
	}
	return out
}

// Crop copies the pixels inside r into a new tightly packed image.
// r must lie within the image bounds.
func (m *Image) Crop(r image.Rectangle) *Image {
	r = r.Intersect(m.Bounds())
	if m.Format == Mono1 {
		out := New(Mono1, r.Dx(), r.Dy())
		for y := 0; y < r.Dy(); y++ {
			src := m.Row(r.Min.Y + y)
			dst := out.Row(y)
			for x := 0; x < r.Dx(); x++ {
				sx := r.Min.X + x
				if src[sx>>3]&(0x80>>uint(sx&7)) != 0 {
					dst[x>>3] |= 0x80 >> uint(x&7)
				}
			}
		}
		return out
	}
	bpp := 1
	if m.Format == RGB24 {
		bpp = 3
	}
	out := New(m.Format, r.Dx(), r.Dy())
	for y := 0; y < r.Dy(); y++ {
		src := m.Pix[(r.Min.Y+y)*m.Stride+r.Min.X*bpp:]
		copy(out.Row(y), src[:r.Dx()*bpp])
	}
	return out
}

// Threshold converts a Gray8 image into a Mono1 bilevel image; pixels darker
// than level become black.
func (m *Image) Threshold(level byte) *Image {
	g := m.Gray()
	out := New(Mono1, g.Width, g.Height)
	for y := 0; y < g.Height; y++ {
		src := g.Row(y)
		dst := out.Row(y)
		for x, v := range src {
			if v < level {
				dst[x>>3] |= 0x80 >> uint(x&7)
			}
		}
	}
	return out
}

// ResampleNearest scales an RGB24 or Gray8 image to w×h with nearest-neighbour
// mapping. Source coordinates are clamped to the source bounds.
func (m *Image) ResampleNearest(w, h int) *Image {
	if w == m.Width && h == m.Height {
		return m
	}
	bpp := 1
	if m.Format == RGB24 {
		bpp = 3
	}
	out := New(m.Format, w, h)
	for y := 0; y < h; y++ {
		sy := y * m.Height / h
		if sy >= m.Height {
			sy = m.Height - 1
		}
		src := m.Row(sy)
		dst := out.Row(y)
		for x := 0; x < w; x++ {
			sx := x * m.Width / w
			if sx >= m.Width {
				sx = m.Width - 1
			}
			copy(dst[x*bpp:x*bpp+bpp], src[sx*bpp:sx*bpp+bpp])
		}
	}
	return out
}

// Planes splits the image into planar int32 components, one per channel,
// each of length Width*Height.
func (m *Image) Planes() [][]int32 {
	n := 1
	if m.Format == RGB24 {
		n = 3
	}
	planes := make([][]int32, n)
	for c := range planes {
		planes[c] = make([]int32, m.Width*m.Height)
	}
	for y := 0; y < m.Height; y++ {
		row := m.Row(y)
		base := y * m.Width
		for x := 0; x < m.Width; x++ {
			for c := 0; c < n; c++ {
				planes[c][base+x] = int32(row[x*n+c])
			}
		}
	}
	return planes
}
