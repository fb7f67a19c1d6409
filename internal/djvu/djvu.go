// Package djvu defines the decode service the converter renders pages from.
// The native implementation lives in the ddjvu subpackage.
package djvu

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/local/djvupdf/internal/raster"
)

// PageType is the decoder's hint about the page content.
type PageType int

const (
	PageUnknown PageType = iota
	PageBitonal
	PagePhoto
	PageCompound
)

func (t PageType) String() string {
	switch t {
	case PageBitonal:
		return "bitonal"
	case PagePhoto:
		return "photo"
	case PageCompound:
		return "compound"
	default:
		return "unknown"
	}
}

// RenderMode selects which layers of a page are composited.
type RenderMode int

const (
	ModeColor      RenderMode = iota // full composite
	ModeBlack                        // foreground mask only, black
	ModeColorOnly                    // foreground layer in its colors
	ModeMaskOnly                     // raw mask
	ModeBackground                   // background layer only
	ModeForeground                   // foreground layer only
)

func (m RenderMode) String() string {
	switch m {
	case ModeColor:
		return "color"
	case ModeBlack:
		return "black"
	case ModeColorOnly:
		return "color-only"
	case ModeMaskOnly:
		return "mask-only"
	case ModeBackground:
		return "background"
	case ModeForeground:
		return "foreground"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// FallbackModes is the order in which modes are tried for pages whose type
// the decoder cannot tell.
var FallbackModes = []RenderMode{ModeColor, ModeBlack, ModeColorOnly, ModeForeground, ModeBackground}

// PageInfo describes a decoded page at its native resolution.
type PageInfo struct {
	Width  int
	Height int
	DPI    int
	Type   PageType
}

// Validate rejects geometry the converter cannot size a page from.
func (p PageInfo) Validate() error {
	if p.Width <= 0 || p.Height <= 0 {
		return fmt.Errorf("invalid page size %dx%d", p.Width, p.Height)
	}
	if p.DPI <= 0 {
		return fmt.Errorf("invalid page resolution %d dpi", p.DPI)
	}
	return nil
}

// ErrRenderFailed is returned by Render when the decoder produced no pixels
// for the requested mode.
var ErrRenderFailed = errors.New("djvu: render failed")

// Document is an open source document. It is used by a single goroutine;
// implementations need not be safe for concurrent use.
type Document interface {
	PageCount() int
	// PageInfo blocks until page index is decoded.
	PageInfo(ctx context.Context, index int) (PageInfo, error)
	// Render scales the whole page into size and returns a buffer in format
	// with top-to-bottom scanlines.
	Render(ctx context.Context, index int, mode RenderMode, size image.Point, format raster.Format) (*raster.Image, error)
	Close() error
}

// Decoder opens documents by path. Open blocks until the document
// structure is decoded or has failed.
type Decoder interface {
	Open(ctx context.Context, path string) (Document, error)
}
