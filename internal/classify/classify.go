package classify

import (
	"image"

	"github.com/rs/zerolog/log"

	"github.com/local/djvupdf/internal/raster"
)

// Tuning holds the empirically chosen constants of the page heuristics.
type Tuning struct {
	// Pixels are sampled every max(1, dim/SampleDivisor) along each axis.
	SampleDivisor int

	// Maximum per-channel delta for a pixel to count as gray.
	GrayTolerance int

	// Blackness (255 - gray) thresholds, in 0..255.
	NonWhiteLevel   int // strictly above: pixel is not white
	SolidDarkLevel  int // at or above: pixel is solidly dark
	StrictDarkLevel int // at or above: counted by the tile check

	// Minimum solid-dark share among non-white samples for a bitonal page.
	SolidRatio float64

	// Photo rejection: the page is split into a TileGrid×TileGrid grid;
	// tiles with at least TileMinSamples samples may not exceed the
	// TileMaxDark strict-dark share.
	TileGrid       int
	TileMinSamples int
	TileMaxDark    float64

	// Content box detection and padding.
	ContentThreshold int
	CropMargin       int

	// Gray level below which a pixel becomes black in the bilevel image.
	BilevelThreshold int
}

// DefaultTuning returns the values the heuristics were calibrated with.
func DefaultTuning() Tuning {
	return Tuning{
		SampleDivisor:    512,
		GrayTolerance:    2,
		NonWhiteLevel:    16,
		SolidDarkLevel:   32,
		StrictDarkLevel:  128,
		SolidRatio:       0.75,
		TileGrid:         16,
		TileMinSamples:   64,
		TileMaxDark:      0.80,
		ContentThreshold: 245,
		CropMargin:       4,
		BilevelThreshold: 128,
	}
}

// Kind is the outcome of page classification.
type Kind int

const (
	Color Kind = iota
	Grayscale
	Bitonal
)

func (k Kind) String() string {
	switch k {
	case Grayscale:
		return "gray"
	case Bitonal:
		return "bitonal"
	default:
		return "color"
	}
}

// Classifier runs the page heuristics with a fixed tuning.
type Classifier struct {
	t Tuning
}

// New creates a classifier; zero or negative fields in t fall back to the
// defaults.
func New(t Tuning) *Classifier {
	d := DefaultTuning()
	if t.SampleDivisor <= 0 {
		t.SampleDivisor = d.SampleDivisor
	}
	if t.GrayTolerance <= 0 {
		t.GrayTolerance = d.GrayTolerance
	}
	if t.NonWhiteLevel <= 0 {
		t.NonWhiteLevel = d.NonWhiteLevel
	}
	if t.SolidDarkLevel <= 0 {
		t.SolidDarkLevel = d.SolidDarkLevel
	}
	if t.StrictDarkLevel <= 0 {
		t.StrictDarkLevel = d.StrictDarkLevel
	}
	if t.SolidRatio <= 0 {
		t.SolidRatio = d.SolidRatio
	}
	if t.TileGrid <= 0 {
		t.TileGrid = d.TileGrid
	}
	if t.TileMinSamples <= 0 {
		t.TileMinSamples = d.TileMinSamples
	}
	if t.TileMaxDark <= 0 {
		t.TileMaxDark = d.TileMaxDark
	}
	if t.ContentThreshold <= 0 {
		t.ContentThreshold = d.ContentThreshold
	}
	if t.CropMargin <= 0 {
		t.CropMargin = d.CropMargin
	}
	if t.BilevelThreshold <= 0 {
		t.BilevelThreshold = d.BilevelThreshold
	}
	return &Classifier{t: t}
}

// Tuning returns the effective tuning.
func (c *Classifier) Tuning() Tuning { return c.t }

func (c *Classifier) stride(dim int) int {
	s := dim / c.t.SampleDivisor
	if s < 1 {
		s = 1
	}
	return s
}

// IsGrayscale reports whether every sampled pixel has R, G and B within the
// gray tolerance of each other.
func (c *Classifier) IsGrayscale(img *raster.Image) bool {
	if img.Format != raster.RGB24 {
		return true
	}
	sx, sy := c.stride(img.Width), c.stride(img.Height)
	tol := c.t.GrayTolerance
	for y := 0; y < img.Height; y += sy {
		row := img.Row(y)
		for x := 0; x < img.Width; x += sx {
			r, g, b := int(row[3*x]), int(row[3*x+1]), int(row[3*x+2])
			if absDiff(r, g) > tol || absDiff(g, b) > tol || absDiff(r, b) > tol {
				return false
			}
		}
	}
	return true
}

// IsBitonal reports whether a gray page can be thresholded to 1 bit without
// visible loss. Embedded photographs are rejected by the per-tile check even
// when the global dark ratio looks like text.
func (c *Classifier) IsBitonal(gray *raster.Image) bool {
	g := gray.Gray()
	sx, sy := c.stride(g.Width), c.stride(g.Height)

	grid := c.t.TileGrid
	tileSamples := make([]int, grid*grid)
	tileDark := make([]int, grid*grid)

	var nonWhite, solid int
	for y := 0; y < g.Height; y += sy {
		row := g.Row(y)
		ty := y * grid / g.Height
		for x := 0; x < g.Width; x += sx {
			black := 255 - int(row[x])
			t := ty*grid + x*grid/g.Width
			tileSamples[t]++
			if black <= c.t.NonWhiteLevel {
				continue
			}
			nonWhite++
			if black >= c.t.SolidDarkLevel {
				solid++
			}
			if black >= c.t.StrictDarkLevel {
				tileDark[t]++
			}
		}
	}

	if nonWhite == 0 {
		return true
	}
	ratio := float64(solid) / float64(nonWhite)
	if ratio < c.t.SolidRatio {
		log.Debug().Float64("solid_ratio", ratio).Int("non_white", nonWhite).Msg("page rejected as bitonal: soft tones")
		return false
	}
	for t, n := range tileSamples {
		if n < c.t.TileMinSamples {
			continue
		}
		if float64(tileDark[t])/float64(n) > c.t.TileMaxDark {
			log.Debug().Int("tile", t).Int("samples", n).Int("dark", tileDark[t]).Msg("page rejected as bitonal: dense dark tile")
			return false
		}
	}
	return true
}

// Classify combines the grayscale and bitonal tests.
func (c *Classifier) Classify(img *raster.Image) Kind {
	if !c.IsGrayscale(img) {
		return Color
	}
	if c.IsBitonal(img) {
		return Bitonal
	}
	return Grayscale
}

// FindContentRect scans every pixel for the tightest box containing a pixel
// with any channel below threshold. found is false for blank pages.
func FindContentRect(img *raster.Image, threshold int) (r image.Rectangle, found bool) {
	bpp := 1
	if img.Format == raster.RGB24 {
		bpp = 3
	}
	minX, minY := img.Width, img.Height
	maxX, maxY := -1, -1
	thr := byte(threshold)
	if threshold > 255 {
		thr = 255
	}
	for y := 0; y < img.Height; y++ {
		row := img.Row(y)
		rowMin, rowMax := -1, -1
		for x := 0; x < img.Width; x++ {
			p := row[x*bpp : x*bpp+bpp]
			dark := false
			for _, v := range p {
				if v < thr {
					dark = true
					break
				}
			}
			if !dark {
				continue
			}
			if rowMin < 0 {
				rowMin = x
			}
			rowMax = x
		}
		if rowMin < 0 {
			continue
		}
		if rowMin < minX {
			minX = rowMin
		}
		if rowMax > maxX {
			maxX = rowMax
		}
		if y < minY {
			minY = y
		}
		maxY = y
	}
	if maxX < 0 {
		return image.Rectangle{}, false
	}
	return image.Rect(minX, minY, maxX+1, maxY+1), true
}

// Pad grows r by margin on every side and clamps it to bounds.
func Pad(r image.Rectangle, margin int, bounds image.Rectangle) image.Rectangle {
	return image.Rect(r.Min.X-margin, r.Min.Y-margin, r.Max.X+margin, r.Max.Y+margin).Intersect(bounds)
}

// ContentRect finds and pads the content box with the classifier tuning.
func (c *Classifier) ContentRect(img *raster.Image) (image.Rectangle, bool) {
	r, ok := FindContentRect(img, c.t.ContentThreshold)
	if !ok {
		return image.Rectangle{}, false
	}
	return Pad(r, c.t.CropMargin, img.Bounds()), true
}

func absDiff(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}
