//go:build !cgo

package openjpeg

import (
	"errors"

	"github.com/local/djvupdf/internal/jp2"
)

// ErrUnavailable is returned when the binary was built without cgo.
var ErrUnavailable = errors.New("openjpeg: built without cgo, encoder unavailable")

type Compressor struct{}

func New() *Compressor { return &Compressor{} }

// Available reports whether the native library is linked in.
func Available() bool { return false }

func (Compressor) Init() error { return ErrUnavailable }

func (Compressor) Compress(c *jp2.Components, p jp2.Params, bufSize int) ([]byte, error) {
	return nil, ErrUnavailable
}
