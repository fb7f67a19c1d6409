//go:build cgo

// Package ddjvu implements djvu.Decoder on top of DjVuLibre's ddjvuapi.
package ddjvu

/*
#cgo pkg-config: ddjvuapi
#include <stdlib.h>
#include <libdjvu/ddjvuapi.h>

static const char *djvupdf_message_error(ddjvu_message_t *m) {
	if (m != NULL && m->m_any.tag == DDJVU_ERROR) {
		return m->m_error.message;
	}
	return NULL;
}

// The decoding_status accessors are macros in ddjvuapi.h.
static ddjvu_status_t djvupdf_document_status(ddjvu_document_t *doc) {
	return ddjvu_document_decoding_status(doc);
}

static ddjvu_status_t djvupdf_page_status(ddjvu_page_t *page) {
	return ddjvu_page_decoding_status(page);
}
*/
import "C"

import (
	"context"
	"fmt"
	"image"
	"unsafe"

	"github.com/rs/zerolog/log"

	"github.com/local/djvupdf/internal/djvu"
	"github.com/local/djvupdf/internal/raster"
)

// Decoder opens documents with a private ddjvu context per document so that
// message queues of concurrent conversions never mix.
type Decoder struct{}

// New returns a DjVuLibre-backed decoder.
func New() *Decoder { return &Decoder{} }

// Available reports whether the native library is linked in.
func Available() bool { return true }

// Open creates the document and blocks until its structure is decoded.
func (Decoder) Open(ctx context.Context, path string) (djvu.Document, error) {
	name := C.CString("djvupdf")
	defer C.free(unsafe.Pointer(name))
	dctx := C.ddjvu_context_create(name)
	if dctx == nil {
		return nil, fmt.Errorf("ddjvu: cannot create context")
	}

	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))
	doc := C.ddjvu_document_create_by_filename_utf8(dctx, cpath, C.TRUE)
	if doc == nil {
		C.ddjvu_context_release(dctx)
		return nil, fmt.Errorf("ddjvu: cannot open %s", path)
	}

	d := &document{ctx: dctx, doc: doc, current: -1}
	if err := d.waitDocument(ctx); err != nil {
		d.Close()
		return nil, err
	}
	d.pages = int(C.ddjvu_document_get_pagenum(doc))
	log.Debug().Str("file", path).Int("pages", d.pages).Msg("djvu document decoded")
	return d, nil
}

type document struct {
	ctx     *C.ddjvu_context_t
	doc     *C.ddjvu_document_t
	pages   int
	page    *C.ddjvu_page_t
	current int
	lastErr string
}

func (d *document) PageCount() int { return d.pages }

// drain pops every pending message, remembering the last error text.
func (d *document) drain() {
	for {
		m := C.ddjvu_message_peek(d.ctx)
		if m == nil {
			return
		}
		if s := C.djvupdf_message_error(m); s != nil {
			d.lastErr = C.GoString(s)
		}
		C.ddjvu_message_pop(d.ctx)
	}
}

func (d *document) failure(what string) error {
	if d.lastErr != "" {
		return fmt.Errorf("ddjvu: %s: %s", what, d.lastErr)
	}
	return fmt.Errorf("ddjvu: %s failed", what)
}

func (d *document) waitDocument(ctx context.Context) error {
	for {
		st := C.djvupdf_document_status(d.doc)
		if st >= C.DDJVU_JOB_OK {
			d.drain()
			if st != C.DDJVU_JOB_OK {
				return d.failure("document decoding")
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		C.ddjvu_message_wait(d.ctx)
		d.drain()
	}
}

// decodePage makes index the current page, decoding it if needed.
func (d *document) decodePage(ctx context.Context, index int) error {
	if index < 0 || index >= d.pages {
		return fmt.Errorf("ddjvu: page %d out of range (%d pages)", index, d.pages)
	}
	if d.page != nil && d.current == index {
		return nil
	}
	if d.page != nil {
		C.ddjvu_page_release(d.page)
		d.page = nil
		d.current = -1
	}
	page := C.ddjvu_page_create_by_pageno(d.doc, C.int(index))
	if page == nil {
		return d.failure(fmt.Sprintf("page %d create", index))
	}
	for {
		st := C.djvupdf_page_status(page)
		if st >= C.DDJVU_JOB_OK {
			d.drain()
			if st != C.DDJVU_JOB_OK {
				C.ddjvu_page_release(page)
				return d.failure(fmt.Sprintf("page %d decoding", index))
			}
			break
		}
		if err := ctx.Err(); err != nil {
			C.ddjvu_page_release(page)
			return err
		}
		C.ddjvu_message_wait(d.ctx)
		d.drain()
	}
	d.page = page
	d.current = index
	return nil
}

func (d *document) PageInfo(ctx context.Context, index int) (djvu.PageInfo, error) {
	if err := d.decodePage(ctx, index); err != nil {
		return djvu.PageInfo{}, err
	}
	info := djvu.PageInfo{
		Width:  int(C.ddjvu_page_get_width(d.page)),
		Height: int(C.ddjvu_page_get_height(d.page)),
		DPI:    int(C.ddjvu_page_get_resolution(d.page)),
	}
	switch C.ddjvu_page_get_type(d.page) {
	case C.DDJVU_PAGETYPE_BITONAL:
		info.Type = djvu.PageBitonal
	case C.DDJVU_PAGETYPE_PHOTO:
		info.Type = djvu.PagePhoto
	case C.DDJVU_PAGETYPE_COMPOUND:
		info.Type = djvu.PageCompound
	default:
		info.Type = djvu.PageUnknown
	}
	return info, nil
}

func renderMode(m djvu.RenderMode) C.ddjvu_render_mode_t {
	switch m {
	case djvu.ModeBlack:
		return C.DDJVU_RENDER_BLACK
	case djvu.ModeColorOnly:
		return C.DDJVU_RENDER_COLORONLY
	case djvu.ModeMaskOnly:
		return C.DDJVU_RENDER_MASKONLY
	case djvu.ModeBackground:
		return C.DDJVU_RENDER_BACKGROUND
	case djvu.ModeForeground:
		return C.DDJVU_RENDER_FOREGROUND
	default:
		return C.DDJVU_RENDER_COLOR
	}
}

func pixelStyle(f raster.Format) C.ddjvu_format_style_t {
	switch f {
	case raster.Gray8:
		return C.DDJVU_FORMAT_GREY8
	case raster.Mono1:
		return C.DDJVU_FORMAT_MSBTOLSB
	default:
		return C.DDJVU_FORMAT_RGB24
	}
}

func (d *document) Render(ctx context.Context, index int, mode djvu.RenderMode, size image.Point, format raster.Format) (*raster.Image, error) {
	if size.X <= 0 || size.Y <= 0 {
		return nil, fmt.Errorf("ddjvu: invalid render size %v", size)
	}
	if err := d.decodePage(ctx, index); err != nil {
		return nil, err
	}

	pf := C.ddjvu_format_create(pixelStyle(format), 0, nil)
	if pf == nil {
		return nil, fmt.Errorf("ddjvu: cannot create pixel format")
	}
	defer C.ddjvu_format_release(pf)
	C.ddjvu_format_set_row_order(pf, 1)
	C.ddjvu_format_set_y_direction(pf, 1)

	img := raster.New(format, size.X, size.Y)
	rect := C.ddjvu_rect_t{x: 0, y: 0, w: C.uint(size.X), h: C.uint(size.Y)}
	ok := C.ddjvu_page_render(d.page, renderMode(mode), &rect, &rect, pf,
		C.ulong(img.Stride), (*C.char)(unsafe.Pointer(&img.Pix[0])))
	d.drain()
	if ok == 0 {
		return nil, fmt.Errorf("%w: page %d mode %s at %dx%d", djvu.ErrRenderFailed, index, mode, size.X, size.Y)
	}
	return img, nil
}

func (d *document) Close() error {
	if d.page != nil {
		C.ddjvu_page_release(d.page)
		d.page = nil
	}
	if d.doc != nil {
		C.ddjvu_document_release(d.doc)
		d.doc = nil
	}
	if d.ctx != nil {
		C.ddjvu_context_release(d.ctx)
		d.ctx = nil
	}
	return nil
}
