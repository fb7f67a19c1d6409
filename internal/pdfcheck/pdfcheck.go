// Package pdfcheck verifies a freshly written PDF before it replaces the
// destination file.
package pdfcheck

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog/log"
)

// ErrPageCount is returned when the written PDF does not have the expected
// number of pages.
var ErrPageCount = errors.New("page count mismatch")

// Doc abstracts a PDF document opened for a render probe.
type Doc interface {
	NumPage() int
	Probe(i int) error
	Close() error
}

// Opener abstracts opening a PDF path into a Doc.
type Opener interface {
	Open(path string) (Doc, error)
}

// defaultOpener is provided in doc_open_fitz.go using go-fitz.
var defaultOpener Opener

func setDefaultOpener(o Opener) { defaultOpener = o }

// Options selects the checks. The structural page count always runs.
type Options struct {
	// Probe renders the first page through MuPDF.
	Probe bool
}

// Verifier checks written PDFs.
type Verifier struct {
	opts   Options
	count  func(path string) (int, error)
	opener Opener
}

// New returns a verifier backed by pdfcpu and, when probing, go-fitz.
func New(opts Options) *Verifier {
	return &Verifier{opts: opts, count: api.PageCountFile, opener: defaultOpener}
}

// Verify checks that the PDF at path parses and has want pages.
func (v *Verifier) Verify(ctx context.Context, path string, want int) error {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return err
	}
	n, err := v.count(path)
	if err != nil {
		return fmt.Errorf("pdf page count failed: %w", err)
	}
	if n != want {
		return fmt.Errorf("%w: have %d, want %d", ErrPageCount, n, want)
	}
	if v.opts.Probe {
		if err := v.probe(path, want); err != nil {
			return err
		}
	}
	log.Debug().
		Str("file", filepath.Base(path)).
		Int("pages", n).
		Bool("probe", v.opts.Probe).
		Dur("duration", time.Since(start)).
		Msg("pdf verified")
	return nil
}

func (v *Verifier) probe(path string, want int) error {
	if v.opener == nil {
		return errors.New("no pdf opener configured")
	}
	doc, err := v.opener.Open(path)
	if err != nil {
		return fmt.Errorf("open pdf for probe: %w", err)
	}
	defer doc.Close()
	if n := doc.NumPage(); n != want {
		return fmt.Errorf("%w: renderer sees %d, want %d", ErrPageCount, n, want)
	}
	if err := doc.Probe(0); err != nil {
		return fmt.Errorf("render probe page 1: %w", err)
	}
	return nil
}
