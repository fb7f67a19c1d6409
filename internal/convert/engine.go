// Package convert turns one DjVu document into one PDF: pages are rendered
// and classified in order, bitonal pages go to JBIG2 batches, the rest to
// the shared JPEG2000 pool, and the PDF is written once every encode has
// finished.
package convert

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/local/djvupdf/internal/classify"
	"github.com/local/djvupdf/internal/djvu"
	"github.com/local/djvupdf/internal/jbig2"
	"github.com/local/djvupdf/internal/jp2"
	"github.com/local/djvupdf/internal/metrics"
	"github.com/local/djvupdf/internal/pdfout"
	"github.com/local/djvupdf/internal/render"
)

// Page routes, also used as metric labels.
const (
	RouteBlank   = "blank"
	RouteJBIG2   = "jbig2"
	RouteJP2Gray = "jp2_gray"
	RouteJP2RGB  = "jp2_rgb"
)

// errEncodeStopped ends the page loop once the JPEG2000 group stopped
// accepting work; the group reports the cause.
var errEncodeStopped = errors.New("jpeg2000 encoding stopped")

// ProgressFunc is called with the number of finished pages. It runs on the
// converting goroutine.
type ProgressFunc func(done, total int)

// Options wires the engine to its collaborators. Zero values of the tuning
// fields select the defaults.
type Options struct {
	Decoder     djvu.Decoder
	Render      render.Pipeline
	Classifier  *classify.Classifier
	JBIG2       jbig2.Compressor
	JBIG2Params jbig2.Params
	BatchSize   int
	Pool        *jp2.Pool
}

// Engine converts documents. It is safe for concurrent use; concurrent
// conversions share only the JPEG2000 pool.
type Engine struct {
	decoder     djvu.Decoder
	render      render.Pipeline
	classifier  *classify.Classifier
	jbig2       jbig2.Compressor
	jbig2Params jbig2.Params
	batchSize   int
	pool        *jp2.Pool
}

// New creates an engine. Decoder, JBIG2 and Pool are required.
func New(o Options) *Engine {
	if o.Render.MaxDPI == 0 && o.Render.MaxDimension == 0 {
		o.Render = render.Default()
	}
	if o.Classifier == nil {
		o.Classifier = classify.New(classify.DefaultTuning())
	}
	if o.JBIG2Params == (jbig2.Params{}) {
		o.JBIG2Params = jbig2.DefaultParams()
	}
	return &Engine{
		decoder:     o.Decoder,
		render:      o.Render,
		classifier:  o.Classifier,
		jbig2:       o.JBIG2,
		jbig2Params: o.JBIG2Params,
		batchSize:   o.BatchSize,
		pool:        o.Pool,
	}
}

// Stats summarizes a finished conversion.
type Stats struct {
	Pages    int
	Blank    int
	JBIG2    int
	JP2Gray  int
	JP2Color int
	Batches  int
	Bytes    int64
	Duration time.Duration
}

// job is the state of one document conversion.
type job struct {
	e       *Engine
	log     zerolog.Logger
	out     *pdfout.Document
	batcher *jbig2.Batcher
	group   *jp2.Group
	stats   Stats
}

// Convert converts the document at src and writes the PDF to w. Nothing is
// written to w unless every page was encoded.
func (e *Engine) Convert(ctx context.Context, src string, w io.Writer, progress ProgressFunc) (*Stats, error) {
	start := time.Now()
	logger := log.With().Str("file", filepath.Base(src)).Logger()

	doc, err := e.decoder.Open(ctx, src)
	if err != nil {
		return nil, DecodeError(fmt.Sprintf("open %s", filepath.Base(src)), err)
	}
	defer doc.Close()

	total := doc.PageCount()
	if total <= 0 {
		return nil, DecodeError(fmt.Sprintf("%s has no pages", filepath.Base(src)), nil)
	}
	logger.Info().Int("pages", total).Msg("conversion started")
	if progress != nil {
		progress(0, total)
	}

	gctx, cancel := context.WithCancel(ctx)
	defer cancel()

	j := &job{
		e:       e,
		log:     logger,
		out:     &pdfout.Document{Pages: make([]pdfout.Page, total)},
		batcher: jbig2.NewBatcher(e.jbig2, e.jbig2Params, e.batchSize),
		group:   e.pool.Group(gctx),
	}
	j.stats.Pages = total

	abort := func(err error) (*Stats, error) {
		cancel()
		_ = j.group.Wait()
		logger.Error().Err(err).Msg("conversion failed")
		return nil, err
	}

	for i := 0; i < total; i++ {
		if j.group.Err() != nil {
			break
		}
		if err := j.page(ctx, doc, i); err != nil {
			if errors.Is(err, errEncodeStopped) {
				break
			}
			return abort(err)
		}
		if progress != nil {
			progress(i+1, total)
		}
	}
	if err := ctx.Err(); err != nil {
		return abort(DecodeError("conversion cancelled", err))
	}
	if j.group.Err() != nil {
		return abort(CodecError("jpeg2000 encode", j.group.Wait()))
	}

	batch, err := j.batcher.Flush()
	if err != nil {
		return abort(CodecError("jbig2 batch", err))
	}
	j.attach(batch)

	// Fence: every page payload is final once Wait returns.
	if err := j.group.Wait(); err != nil {
		return nil, CodecError("jpeg2000 encode", err)
	}

	if err := j.out.Validate(); err != nil {
		return nil, SerializationError("pdf", err)
	}
	n, err := j.out.WriteTo(w)
	if err != nil {
		return nil, IOError("write pdf", err)
	}

	j.stats.Bytes = n
	j.stats.Duration = time.Since(start)
	metrics.ObserveConversion(j.stats.Duration)
	logger.Info().
		Int("pages", total).
		Int("jbig2", j.stats.JBIG2).
		Int("jp2_gray", j.stats.JP2Gray).
		Int("jp2_rgb", j.stats.JP2Color).
		Int("blank", j.stats.Blank).
		Int64("bytes", n).
		Dur("duration", j.stats.Duration).
		Msg("conversion finished")
	return &j.stats, nil
}

// page renders, classifies and routes page i.
func (j *job) page(ctx context.Context, doc djvu.Document, i int) error {
	res, err := j.e.render.Render(ctx, doc, i)
	if err != nil {
		return DecodeError(fmt.Sprintf("page %d", i+1), err)
	}
	out := &j.out.Pages[i]
	out.Width, out.Height = res.PageWidth, res.PageHeight

	img := res.Image
	kind := j.e.classifier.Classify(img)
	rect, ok := j.e.classifier.ContentRect(img)
	if !ok {
		j.route(i, RouteBlank)
		return nil
	}
	place := Place(rect, img.Width, img.Height, res.PageWidth, res.PageHeight)
	crop := img.Crop(rect)

	switch kind {
	case classify.Bitonal:
		bilevel := crop.Threshold(byte(j.e.classifier.Tuning().BilevelThreshold))
		out.Image = &pdfout.JBIG2Image{Width: crop.Width, Height: crop.Height, Place: place}
		batch, err := j.batcher.Add(i, bilevel)
		if err != nil {
			out.Image = nil
			return CodecError("jbig2 batch", err)
		}
		j.attach(batch)
		j.route(i, RouteJBIG2)
	case classify.Grayscale:
		gray := crop.Gray()
		im := &pdfout.JP2Image{Gray: true, Width: gray.Width, Height: gray.Height, Place: place}
		out.Image = im
		if err := j.group.Submit(i, gray, &im.Data); err != nil {
			out.Image = nil
			return errEncodeStopped
		}
		j.route(i, RouteJP2Gray)
	default:
		im := &pdfout.JP2Image{Width: crop.Width, Height: crop.Height, Place: place}
		out.Image = im
		if err := j.group.Submit(i, crop, &im.Data); err != nil {
			out.Image = nil
			return errEncodeStopped
		}
		j.route(i, RouteJP2RGB)
	}
	return nil
}

// attach stores a flushed batch: its globals become the next document
// globals buffer and each page payload goes to its page image.
func (j *job) attach(b *jbig2.Batch) {
	if b == nil {
		return
	}
	gi := len(j.out.Globals)
	j.out.Globals = append(j.out.Globals, b.Globals)
	for _, p := range b.Pages {
		im := j.out.Pages[p.Index].Image.(*pdfout.JBIG2Image)
		im.Globals = gi
		im.Data = p.Data
	}
	j.stats.Batches++
}

func (j *job) route(i int, route string) {
	switch route {
	case RouteBlank:
		j.stats.Blank++
	case RouteJBIG2:
		j.stats.JBIG2++
	case RouteJP2Gray:
		j.stats.JP2Gray++
	case RouteJP2RGB:
		j.stats.JP2Color++
	}
	metrics.IncPage(route)
	j.log.Debug().Int("page", i+1).Str("route", route).Msg("page routed")
}

// Place maps a crop rectangle of a w×h render onto a page of pw×ph points.
// PDF space has its origin at the bottom-left, so the crop's bottom edge
// becomes y. The result always lies inside the page.
func Place(r image.Rectangle, w, h int, pw, ph float64) pdfout.Placement {
	sx := pw / float64(w)
	sy := ph / float64(h)
	p := pdfout.Placement{
		X: float64(r.Min.X) * sx,
		Y: ph - float64(r.Max.Y)*sy,
		W: float64(r.Dx()) * sx,
		H: float64(r.Dy()) * sy,
	}
	if p.Y < 0 {
		p.Y = 0
	}
	if p.X+p.W > pw {
		p.W = pw - p.X
	}
	if p.Y+p.H > ph {
		p.H = ph - p.Y
	}
	return p
}
