// Package jbig2 groups bilevel pages into batches that share one symbol
// dictionary and drives an external JBIG2 compressor over each batch.
package jbig2

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/local/djvupdf/internal/metrics"
	"github.com/local/djvupdf/internal/raster"
)

// DefaultBatchSize is the number of pages that share a globals stream.
const DefaultBatchSize = 20

// Params configures a compressor context. Threshold and Weight are the
// symbol matching tuning of the classifier inside the compressor.
type Params struct {
	Threshold float64
	Weight    float64
	XRes      int
	YRes      int
}

// DefaultParams returns the fixed symbol matching tuning.
func DefaultParams() Params {
	return Params{Threshold: 0.85, Weight: 0.5}
}

// Compressor creates per-batch contexts.
type Compressor interface {
	NewContext(p Params) (Context, error)
}

// Context is one symbol-mode compression session. Pages are added in order,
// Finalize builds the shared dictionary, then ProducePage is called once per
// added page. Close releases native state and must be called on every path.
type Context interface {
	AddPage(img *raster.Image) error
	Finalize() ([]byte, error)
	ProducePage(i int) ([]byte, error)
	Close()
}

// EncodedPage is the JBIG2 page stream for one document page.
type EncodedPage struct {
	Index int
	Data  []byte
}

// Batch is the output of one flush.
type Batch struct {
	Globals []byte
	Pages   []EncodedPage
}

type entry struct {
	index int
	img   *raster.Image
}

// Batcher accumulates bilevel pages of a single document.
// It is used by one goroutine.
type Batcher struct {
	comp    Compressor
	params  Params
	limit   int
	pending []entry
}

// NewBatcher returns a batcher flushing every size pages; size <= 0 uses
// DefaultBatchSize.
func NewBatcher(comp Compressor, params Params, size int) *Batcher {
	if size <= 0 {
		size = DefaultBatchSize
	}
	return &Batcher{comp: comp, params: params, limit: size}
}

// Len returns the number of pages waiting for the next flush.
func (b *Batcher) Len() int { return len(b.pending) }

// Add queues a Mono1 page. When the batch becomes full it is flushed and the
// encoded batch is returned; otherwise the returned batch is nil.
func (b *Batcher) Add(pageIndex int, img *raster.Image) (*Batch, error) {
	if img == nil || img.Format != raster.Mono1 {
		return nil, fmt.Errorf("jbig2: page %d is not a bilevel image", pageIndex)
	}
	if err := img.Validate(); err != nil {
		return nil, fmt.Errorf("jbig2: page %d: %w", pageIndex, err)
	}
	b.pending = append(b.pending, entry{index: pageIndex, img: img})
	if len(b.pending) < b.limit {
		return nil, nil
	}
	return b.Flush()
}

// Flush encodes the pending pages. It returns nil when nothing is pending.
// On failure the pending pages are discarded and no partial output is
// returned.
func (b *Batcher) Flush() (*Batch, error) {
	if len(b.pending) == 0 {
		return nil, nil
	}
	pending := b.pending
	b.pending = nil

	batch, err := encode(b.comp, b.params, pending)
	if err != nil {
		return nil, err
	}
	metrics.ObserveJBIG2Batch(len(batch.Pages))
	log.Debug().
		Int("pages", len(batch.Pages)).
		Int("first_page", pending[0].index).
		Int("globals_size", len(batch.Globals)).
		Msg("jbig2 batch encoded")
	return batch, nil
}

func encode(comp Compressor, params Params, pages []entry) (*Batch, error) {
	ctx, err := comp.NewContext(params)
	if err != nil {
		return nil, fmt.Errorf("jbig2: init: %w", err)
	}
	defer ctx.Close()

	for _, e := range pages {
		if err := ctx.AddPage(e.img); err != nil {
			return nil, fmt.Errorf("jbig2: add page %d: %w", e.index, err)
		}
	}
	globals, err := ctx.Finalize()
	if err != nil {
		return nil, fmt.Errorf("jbig2: finalize: %w", err)
	}
	if len(globals) == 0 {
		return nil, errors.New("jbig2: empty globals")
	}

	out := &Batch{Globals: globals, Pages: make([]EncodedPage, 0, len(pages))}
	for i, e := range pages {
		data, err := ctx.ProducePage(i)
		if err != nil {
			return nil, fmt.Errorf("jbig2: produce page %d: %w", e.index, err)
		}
		if len(data) == 0 {
			return nil, fmt.Errorf("jbig2: produce page %d: empty output", e.index)
		}
		out.Pages = append(out.Pages, EncodedPage{Index: e.index, Data: data})
	}
	return out, nil
}
