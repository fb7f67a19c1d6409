package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/local/djvupdf/internal/djvu"
	"github.com/local/djvupdf/internal/raster"
)

// Pipeline renders source pages into RGB24 rasters sized for encoding.
type Pipeline struct {
	MaxDPI       int // render resolution cap
	MaxDimension int // cap on the larger rendered side, in pixels
}

// Default returns the pipeline with the standard caps.
func Default() Pipeline {
	return Pipeline{MaxDPI: 300, MaxDimension: 4000}
}

// Result is a rendered page plus its size in PDF points.
type Result struct {
	Image      *raster.Image
	PageWidth  float64
	PageHeight float64
	// Scale maps native pixels to rendered pixels.
	Scale float64
}

// ErrInvalidPage is returned for pages with unusable geometry.
var ErrInvalidPage = errors.New("render: invalid page geometry")

// TargetSize computes the render size for a page: native size scaled to
// min(MaxDPI, dpi), then shrunk uniformly so that neither side exceeds
// MaxDimension. Both sides are at least 1.
func (p Pipeline) TargetSize(info djvu.PageInfo) (image.Point, float64) {
	dpi := info.DPI
	if p.MaxDPI > 0 && dpi > p.MaxDPI {
		dpi = p.MaxDPI
	}
	scale := float64(dpi) / float64(info.DPI)
	w := int(math.Round(float64(info.Width) * scale))
	h := int(math.Round(float64(info.Height) * scale))

	if longest := max(w, h); p.MaxDimension > 0 && longest > p.MaxDimension {
		f := float64(p.MaxDimension) / float64(longest)
		scale *= f
		w = int(math.Round(float64(w) * f))
		h = int(math.Round(float64(h) * f))
	}
	return image.Pt(max(w, 1), max(h, 1)), scale
}

// PageSize returns the page size in points. It depends only on the native
// geometry, never on the render resolution.
func PageSize(info djvu.PageInfo) (float64, float64) {
	return float64(info.Width) * 72 / float64(info.DPI), float64(info.Height) * 72 / float64(info.DPI)
}

func modes(t djvu.PageType) []djvu.RenderMode {
	if t == djvu.PageUnknown {
		return djvu.FallbackModes
	}
	return []djvu.RenderMode{djvu.ModeColor}
}

// renderAt tries each allowed mode in order and returns the first success.
func renderAt(ctx context.Context, doc djvu.Document, index int, info djvu.PageInfo, size image.Point) (*raster.Image, error) {
	var lastErr error
	for _, m := range modes(info.Type) {
		img, err := doc.Render(ctx, index, m, size, raster.RGB24)
		if err == nil {
			if verr := img.Validate(); verr != nil {
				lastErr = verr
				continue
			}
			if m != djvu.ModeColor {
				log.Debug().Int("page", index).Str("mode", m.String()).Msg("page rendered with fallback mode")
			}
			return img, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = djvu.ErrRenderFailed
	}
	return nil, lastErr
}

// Render decodes page index and produces an RGB24 raster at the target size.
// When rendering at the target size fails, the page is rendered at its native
// size and resampled.
func (p Pipeline) Render(ctx context.Context, doc djvu.Document, index int) (*Result, error) {
	info, err := doc.PageInfo(ctx, index)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", index, err)
	}
	if err := info.Validate(); err != nil {
		return nil, fmt.Errorf("%w: page %d: %v", ErrInvalidPage, index, err)
	}

	size, scale := p.TargetSize(info)
	pw, ph := PageSize(info)
	res := &Result{PageWidth: pw, PageHeight: ph, Scale: scale}

	img, err := renderAt(ctx, doc, index, info, size)
	if err == nil {
		res.Image = img
		return res, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	log.Warn().Err(err).
		Int("page", index).
		Int("width", size.X).
		Int("height", size.Y).
		Msg("render at target size failed, retrying at native size")

	native, nerr := renderAt(ctx, doc, index, info, image.Pt(info.Width, info.Height))
	if nerr != nil {
		return nil, fmt.Errorf("page %d: %w", index, errors.Join(err, nerr))
	}
	res.Image = native.ResampleNearest(size.X, size.Y)
	return res, nil
}
