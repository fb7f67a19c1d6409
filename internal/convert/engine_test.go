package convert

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"image"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/djvupdf/internal/djvu"
	"github.com/local/djvupdf/internal/jbig2"
	"github.com/local/djvupdf/internal/jp2"
	"github.com/local/djvupdf/internal/raster"
)

// drawFunc paints onto a white RGB24 render; coordinates are in render pixels.
type drawFunc func(img *raster.Image)

type fakePage struct {
	info djvu.PageInfo
	draw drawFunc
}

type fakeDecoder struct {
	docs    map[string][]fakePage
	openErr error
	closed  atomic.Int32
	renders atomic.Int32
}

func (d *fakeDecoder) Open(ctx context.Context, path string) (djvu.Document, error) {
	if d.openErr != nil {
		return nil, d.openErr
	}
	pages, ok := d.docs[path]
	if !ok {
		return nil, errors.New("no such document")
	}
	return &fakeDocument{dec: d, pages: pages}, nil
}

type fakeDocument struct {
	dec   *fakeDecoder
	pages []fakePage
}

func (d *fakeDocument) PageCount() int { return len(d.pages) }

func (d *fakeDocument) PageInfo(ctx context.Context, i int) (djvu.PageInfo, error) {
	return d.pages[i].info, nil
}

func (d *fakeDocument) Render(ctx context.Context, i int, mode djvu.RenderMode, size image.Point, format raster.Format) (*raster.Image, error) {
	d.dec.renders.Add(1)
	img := raster.New(raster.RGB24, size.X, size.Y)
	for k := range img.Pix {
		img.Pix[k] = 255
	}
	if d.pages[i].draw != nil {
		d.pages[i].draw(img)
	}
	return img, nil
}

func (d *fakeDocument) Close() error {
	d.dec.closed.Add(1)
	return nil
}

func fill(img *raster.Image, r image.Rectangle, c [3]byte) {
	r = r.Intersect(img.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := img.Row(y)
		for x := r.Min.X; x < r.Max.X; x++ {
			copy(row[3*x:3*x+3], c[:])
		}
	}
}

func textDraw(img *raster.Image) {
	for y := 20; y+2 < img.Height-20; y += 10 {
		fill(img, image.Rect(20, y, img.Width-20, y+2), [3]byte{0, 0, 0})
	}
}

func photoDraw(img *raster.Image) {
	fill(img, image.Rect(30, 40, img.Width-30, img.Height-40), [3]byte{60, 60, 60})
}

func colorDraw(img *raster.Image) {
	fill(img, image.Rect(10, 10, 90, 60), [3]byte{200, 30, 30})
}

var letter = djvu.PageInfo{Width: 200, Height: 300, DPI: 100, Type: djvu.PageCompound}

// jbig2Fake derives all output from the page contents so that conversions
// are reproducible.
type jbig2Fake struct {
	failAdd atomic.Bool
	closed  atomic.Int32
}

func (f *jbig2Fake) NewContext(p jbig2.Params) (jbig2.Context, error) {
	return &jbig2FakeCtx{f: f, h: sha256.New()}, nil
}

type jbig2FakeCtx struct {
	f     *jbig2Fake
	h     hash.Hash
	pages [][]byte
}

func (c *jbig2FakeCtx) AddPage(img *raster.Image) error {
	if c.f.failAdd.Load() {
		return errors.New("injected jbig2 failure")
	}
	c.h.Write(img.Pix)
	c.pages = append(c.pages, append([]byte(nil), img.Pix...))
	return nil
}

func (c *jbig2FakeCtx) Finalize() ([]byte, error) {
	return []byte(fmt.Sprintf("G%x", c.h.Sum(nil)[:4])), nil
}

func (c *jbig2FakeCtx) ProducePage(i int) ([]byte, error) {
	sum := sha256.Sum256(c.pages[i])
	return []byte(fmt.Sprintf("P%x", sum[:4])), nil
}

func (c *jbig2FakeCtx) Close() { c.f.closed.Add(1) }

type jp2Fake struct {
	fail atomic.Bool
}

func (f *jp2Fake) Init() error { return nil }

func (f *jp2Fake) Compress(c *jp2.Components, p jp2.Params, bufSize int) ([]byte, error) {
	if f.fail.Load() {
		return nil, errors.New("injected jp2 failure")
	}
	h := sha256.New()
	for _, pl := range c.Planes {
		for _, v := range pl {
			h.Write([]byte{byte(v)})
		}
	}
	return []byte(fmt.Sprintf("J%d-%x", len(c.Planes), h.Sum(nil)[:4])), nil
}

type harness struct {
	dec *fakeDecoder
	jb  *jbig2Fake
	jp  *jp2Fake
	eng *Engine
}

func newHarness(docs map[string][]fakePage) *harness {
	h := &harness{dec: &fakeDecoder{docs: docs}, jb: &jbig2Fake{}, jp: &jp2Fake{}}
	h.eng = New(Options{
		Decoder: h.dec,
		JBIG2:   h.jb,
		Pool:    jp2.NewPool(jp2.NewEncoder(h.jp, jp2.DefaultParams()), 2),
	})
	return h
}

func (h *harness) convert(t *testing.T, src string) ([]byte, *Stats) {
	t.Helper()
	var buf bytes.Buffer
	st, err := h.eng.Convert(context.Background(), src, &buf, nil)
	require.NoError(t, err)
	return buf.Bytes(), st
}

func TestConvert_CodecSelection(t *testing.T) {
	h := newHarness(map[string][]fakePage{
		"mixed.djvu": {
			{info: letter, draw: textDraw},
			{info: letter, draw: photoDraw},
			{info: letter, draw: colorDraw},
			{info: letter},
		},
	})
	out, st := h.convert(t, "mixed.djvu")
	s := string(out)

	assert.Equal(t, 1, st.JBIG2)
	assert.Equal(t, 1, st.JP2Gray)
	assert.Equal(t, 1, st.JP2Color)
	assert.Equal(t, 1, st.Blank)
	assert.Equal(t, 1, st.Batches)

	assert.Equal(t, 1, strings.Count(s, "/Filter /JBIG2Decode"))
	assert.Equal(t, 2, strings.Count(s, "/Filter /JPXDecode"))
	assert.Contains(t, s, "/ColorSpace /DeviceGray /BitsPerComponent 1 /Filter /JBIG2Decode")
	assert.Contains(t, s, "/ColorSpace /DeviceGray /BitsPerComponent 8 /Filter /JPXDecode")
	assert.Contains(t, s, "/ColorSpace /DeviceRGB /BitsPerComponent 8 /Filter /JPXDecode")
	assert.Equal(t, 3, strings.Count(s, "/XObject << /Im"))
	assert.Equal(t, int32(1), h.dec.closed.Load())
}

var mediaBoxRe = regexp.MustCompile(`/MediaBox \[0 0 ([\d.]+) ([\d.]+)\]`)
var cmRe = regexp.MustCompile(`q ([\d.]+) 0 0 ([\d.]+) ([\d.]+) ([\d.]+) cm /Im Do Q`)

func TestConvert_MediaBoxAndPlacement(t *testing.T) {
	hi := djvu.PageInfo{Width: 1200, Height: 1800, DPI: 600}
	h := newHarness(map[string][]fakePage{
		"a.djvu": {
			{info: hi, draw: colorDraw},
			{info: hi, draw: func(img *raster.Image) {
				// content touching the bottom-right corner
				fill(img, image.Rect(img.Width-5, img.Height-5, img.Width, img.Height), [3]byte{0, 0, 0})
			}},
		},
	})
	out, _ := h.convert(t, "a.djvu")

	boxes := mediaBoxRe.FindAllStringSubmatch(string(out), -1)
	require.Len(t, boxes, 2)
	for _, b := range boxes {
		assert.Equal(t, "144", b[1])
		assert.Equal(t, "216", b[2])
	}

	cms := cmRe.FindAllStringSubmatch(string(out), -1)
	require.Len(t, cms, 2)
	for _, m := range cms {
		w, _ := strconv.ParseFloat(m[1], 64)
		hh, _ := strconv.ParseFloat(m[2], 64)
		x, _ := strconv.ParseFloat(m[3], 64)
		y, _ := strconv.ParseFloat(m[4], 64)
		assert.GreaterOrEqual(t, x, 0.0)
		assert.GreaterOrEqual(t, y, 0.0)
		assert.LessOrEqual(t, x+w, 144.0+1e-9)
		assert.LessOrEqual(t, y+hh, 216.0+1e-9)
	}
}

func TestPlace(t *testing.T) {
	p := Place(image.Rect(0, 0, 100, 200), 100, 200, 72, 144)
	assert.InDelta(t, 0, p.X, 1e-9)
	assert.InDelta(t, 0, p.Y, 1e-9)
	assert.InDelta(t, 72, p.W, 1e-9)
	assert.InDelta(t, 144, p.H, 1e-9)

	// top-left crop maps to the top of the page
	p = Place(image.Rect(10, 0, 20, 50), 100, 200, 72, 144)
	assert.InDelta(t, 7.2, p.X, 1e-9)
	assert.InDelta(t, 108, p.Y, 1e-9)
	assert.InDelta(t, 7.2, p.W, 1e-9)
	assert.InDelta(t, 36, p.H, 1e-9)

	for _, r := range []image.Rectangle{
		image.Rect(0, 0, 3, 3), image.Rect(996, 1410, 997, 1414), image.Rect(1, 1, 997, 1414),
	} {
		p := Place(r, 997, 1414, 612.1, 791.3)
		assert.GreaterOrEqual(t, p.X, 0.0)
		assert.GreaterOrEqual(t, p.Y, 0.0)
		assert.LessOrEqual(t, p.X+p.W, 612.1+1e-9)
		assert.LessOrEqual(t, p.Y+p.H, 791.3+1e-9)
	}
}

func TestConvert_JBIG2BatchBoundaries(t *testing.T) {
	pages := make([]fakePage, 41)
	for i := range pages {
		pages[i] = fakePage{info: letter, draw: textDraw}
	}
	h := newHarness(map[string][]fakePage{"book.djvu": pages})
	out, st := h.convert(t, "book.djvu")
	s := string(out)

	assert.Equal(t, 3, st.Batches)
	assert.Equal(t, 41, st.JBIG2)
	// globals are objects 3, 4 and 5
	assert.Equal(t, 20, strings.Count(s, "/JBIG2Globals 3 0 R"))
	assert.Equal(t, 20, strings.Count(s, "/JBIG2Globals 4 0 R"))
	assert.Equal(t, 1, strings.Count(s, "/JBIG2Globals 5 0 R"))
	assert.Equal(t, int32(3), h.jb.closed.Load())
}

func TestConvert_ConcurrentMatchesSequential(t *testing.T) {
	docs := map[string][]fakePage{}
	draws := []drawFunc{textDraw, photoDraw, colorDraw, nil}
	for d := 0; d < 4; d++ {
		var pages []fakePage
		for p := 0; p < 6; p++ {
			draw := draws[(d+p)%len(draws)]
			pages = append(pages, fakePage{info: letter, draw: draw})
		}
		docs[fmt.Sprintf("doc%d.djvu", d)] = pages
	}
	h := newHarness(docs)

	sequential := map[string][]byte{}
	for name := range docs {
		out, _ := h.convert(t, name)
		sequential[name] = out
	}

	var mu sync.Mutex
	concurrent := map[string][]byte{}
	var wg sync.WaitGroup
	for name := range docs {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			var buf bytes.Buffer
			_, err := h.eng.Convert(context.Background(), name, &buf, nil)
			assert.NoError(t, err)
			mu.Lock()
			concurrent[name] = buf.Bytes()
			mu.Unlock()
		}(name)
	}
	wg.Wait()

	for name, want := range sequential {
		assert.True(t, bytes.Equal(want, concurrent[name]), "%s differs", name)
	}
}

func TestConvert_Progress(t *testing.T) {
	h := newHarness(map[string][]fakePage{
		"p.djvu": {{info: letter, draw: textDraw}, {info: letter}, {info: letter, draw: colorDraw}},
	})
	var calls [][2]int
	_, err := h.eng.Convert(context.Background(), "p.djvu", &bytes.Buffer{}, func(done, total int) {
		calls = append(calls, [2]int{done, total})
	})
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{0, 3}, {1, 3}, {2, 3}, {3, 3}}, calls)
}

func TestConvert_JBIG2FailureIsCodecError(t *testing.T) {
	h := newHarness(map[string][]fakePage{
		"f.djvu": {{info: letter, draw: colorDraw}, {info: letter, draw: textDraw}},
	})
	h.jb.failAdd.Store(true)

	var buf bytes.Buffer
	_, err := h.eng.Convert(context.Background(), "f.djvu", &buf, nil)
	require.Error(t, err)
	assert.Equal(t, KindCodec, KindOf(err))
	assert.Zero(t, buf.Len(), "no partial output")
	assert.Equal(t, int32(1), h.jb.closed.Load())
	assert.Equal(t, int32(1), h.dec.closed.Load())
}

func TestConvert_JP2FailureStopsRendering(t *testing.T) {
	pages := make([]fakePage, 50)
	for i := range pages {
		pages[i] = fakePage{info: letter, draw: photoDraw}
	}
	h := newHarness(map[string][]fakePage{"long.djvu": pages})
	h.jp.fail.Store(true)

	var buf bytes.Buffer
	_, err := h.eng.Convert(context.Background(), "long.djvu", &buf, nil)
	require.Error(t, err)
	assert.Equal(t, KindCodec, KindOf(err))
	assert.Contains(t, err.Error(), "injected jp2 failure")
	assert.Less(t, h.dec.renders.Load(), int32(10), "pages after the failure are not rendered")
	assert.Zero(t, buf.Len())
}

func TestConvert_JP2FailureIsCodecError(t *testing.T) {
	h := newHarness(map[string][]fakePage{
		"f.djvu": {{info: letter, draw: photoDraw}},
	})
	h.jp.fail.Store(true)

	var buf bytes.Buffer
	_, err := h.eng.Convert(context.Background(), "f.djvu", &buf, nil)
	require.Error(t, err)
	assert.Equal(t, KindCodec, KindOf(err))
	assert.Zero(t, buf.Len())
}

func TestConvert_DecodeErrors(t *testing.T) {
	h := newHarness(map[string][]fakePage{
		"bad.djvu":   {{info: djvu.PageInfo{Width: 10, Height: 10}}},
		"empty.djvu": {},
	})

	_, err := h.eng.Convert(context.Background(), "missing.djvu", &bytes.Buffer{}, nil)
	assert.Equal(t, KindDecode, KindOf(err))

	_, err = h.eng.Convert(context.Background(), "bad.djvu", &bytes.Buffer{}, nil)
	assert.Equal(t, KindDecode, KindOf(err))

	_, err = h.eng.Convert(context.Background(), "empty.djvu", &bytes.Buffer{}, nil)
	assert.Equal(t, KindDecode, KindOf(err))
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) { return 0, errors.New("disk full") }

func TestConvert_WriteFailureIsIOError(t *testing.T) {
	h := newHarness(map[string][]fakePage{"w.djvu": {{info: letter, draw: textDraw}}})
	_, err := h.eng.Convert(context.Background(), "w.djvu", failingWriter{}, nil)
	assert.Equal(t, KindIO, KindOf(err))
}

func TestErrorFormatting(t *testing.T) {
	err := CodecError("jbig2 batch", errors.New("boom"))
	assert.Equal(t, "codec error: jbig2 batch: boom", err.Error())
	assert.Equal(t, "io error: rename", IOError("rename", nil).Error())

	wrapped := fmt.Errorf("job: %w", err)
	assert.Equal(t, KindCodec, KindOf(wrapped))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}
