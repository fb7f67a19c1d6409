//go:build cgo

// Package jbig2enc implements jbig2.Compressor with jbig2enc and Leptonica.
package jbig2enc

/*
#cgo CXXFLAGS: -std=c++11 -O2
#cgo LDFLAGS: -ljbig2enc -llept -lstdc++
#include <stdlib.h>
#include "jb2shim.h"
*/
import "C"

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/local/djvupdf/internal/jbig2"
	"github.com/local/djvupdf/internal/raster"
)

// Compressor is the native symbol-mode encoder.
type Compressor struct{}

// New returns the native compressor.
func New() *Compressor { return &Compressor{} }

// Available reports whether the native library is linked in.
func Available() bool { return true }

func (Compressor) NewContext(p jbig2.Params) (jbig2.Context, error) {
	s := C.jb2_init(C.float(p.Threshold), C.float(p.Weight), C.int(p.XRes), C.int(p.YRes))
	if s == nil {
		return nil, errors.New("jbig2enc: context allocation failed")
	}
	return &context{s: s}, nil
}

type context struct {
	s     *C.jb2_session
	pages int
}

func (c *context) AddPage(img *raster.Image) error {
	if c.s == nil {
		return errors.New("jbig2enc: context closed")
	}
	if img.Format != raster.Mono1 {
		return fmt.Errorf("jbig2enc: unsupported format %s", img.Format)
	}
	if err := img.Validate(); err != nil {
		return err
	}
	rc := C.jb2_add_page(c.s, (*C.uint8_t)(unsafe.Pointer(&img.Pix[0])),
		C.int(img.Width), C.int(img.Height), C.int(img.Stride))
	if rc != 0 {
		return fmt.Errorf("jbig2enc: cannot allocate %dx%d page", img.Width, img.Height)
	}
	c.pages++
	return nil
}

// take copies a malloc'd native buffer into Go memory and frees it.
func take(p *C.uint8_t, n C.int) []byte {
	if p == nil {
		return nil
	}
	defer C.jb2_free(unsafe.Pointer(p))
	return C.GoBytes(unsafe.Pointer(p), n)
}

func (c *context) Finalize() ([]byte, error) {
	if c.s == nil {
		return nil, errors.New("jbig2enc: context closed")
	}
	var n C.int
	out := take(C.jb2_pages_complete(c.s, &n), n)
	if len(out) == 0 {
		return nil, errors.New("jbig2enc: symbol dictionary generation failed")
	}
	return out, nil
}

func (c *context) ProducePage(i int) ([]byte, error) {
	if c.s == nil {
		return nil, errors.New("jbig2enc: context closed")
	}
	if i < 0 || i >= c.pages {
		return nil, fmt.Errorf("jbig2enc: page %d out of range (%d pages)", i, c.pages)
	}
	var n C.int
	out := take(C.jb2_produce_page(c.s, C.int(i), &n), n)
	if len(out) == 0 {
		return nil, fmt.Errorf("jbig2enc: page %d produced no data", i)
	}
	return out, nil
}

func (c *context) Close() {
	if c.s != nil {
		C.jb2_destroy(c.s)
		c.s = nil
	}
}
