//go:build !cgo

package ddjvu

import (
	"context"
	"errors"

	"github.com/local/djvupdf/internal/djvu"
)

// ErrUnavailable is returned when the binary was built without cgo.
var ErrUnavailable = errors.New("ddjvu: built without cgo, DjVuLibre unavailable")

// Decoder is a placeholder that always fails to open documents.
type Decoder struct{}

// New returns the placeholder decoder.
func New() *Decoder { return &Decoder{} }

// Available reports whether the native library is linked in.
func Available() bool { return false }

func (Decoder) Open(ctx context.Context, path string) (djvu.Document, error) {
	return nil, ErrUnavailable
}
