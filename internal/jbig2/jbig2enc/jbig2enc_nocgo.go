//go:build !cgo

package jbig2enc

import (
	"errors"

	"github.com/local/djvupdf/internal/jbig2"
)

// ErrUnavailable is returned when the binary was built without cgo.
var ErrUnavailable = errors.New("jbig2enc: built without cgo, encoder unavailable")

type Compressor struct{}

func New() *Compressor { return &Compressor{} }

// Available reports whether the native library is linked in.
func Available() bool { return false }

func (Compressor) NewContext(p jbig2.Params) (jbig2.Context, error) {
	return nil, ErrUnavailable
}
