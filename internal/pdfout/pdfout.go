// Package pdfout serializes converted pages into a PDF 1.7 file with a
// classic cross-reference table. Output is a pure function of the Document:
// equal documents produce identical bytes.
package pdfout

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

var (
	// ErrUnresolvedGlobals is returned when a JBIG2 image names a globals
	// buffer the document does not carry.
	ErrUnresolvedGlobals = errors.New("pdfout: unresolved JBIG2 globals")
	// ErrEmptyPayload is returned for an image without encoded data.
	ErrEmptyPayload = errors.New("pdfout: image has empty payload")
)

// Placement is the image rectangle on the page, in points, with the origin
// at the bottom-left corner.
type Placement struct {
	X, Y, W, H float64
}

// Image is a page image. It is either *JP2Image or *JBIG2Image; a nil Image
// is a page without content.
type Image interface {
	placement() Placement
	payload() []byte
}

// JP2Image is a JPEG2000 codestream in a JP2 container.
type JP2Image struct {
	Gray   bool
	Width  int
	Height int
	Place  Placement
	Data   []byte
}

func (m *JP2Image) placement() Placement { return m.Place }
func (m *JP2Image) payload() []byte      { return m.Data }

// JBIG2Image is an embedded-profile JBIG2 page stream that refers to the
// document globals buffer at index Globals.
type JBIG2Image struct {
	Width   int
	Height  int
	Place   Placement
	Globals int
	Data    []byte
}

func (m *JBIG2Image) placement() Placement { return m.Place }
func (m *JBIG2Image) payload() []byte      { return m.Data }

// Page is one output page; Width and Height are in points.
type Page struct {
	Width  float64
	Height float64
	Image  Image
}

// Document is a fully encoded document ready for serialization.
type Document struct {
	Pages   []Page
	Globals [][]byte
}

// Validate checks that every image can be written.
func (d *Document) Validate() error {
	for i, g := range d.Globals {
		if len(g) == 0 {
			return fmt.Errorf("%w: globals buffer %d is empty", ErrUnresolvedGlobals, i)
		}
	}
	for i, p := range d.Pages {
		if !(p.Width > 0) || !(p.Height > 0) || math.IsInf(p.Width, 0) || math.IsInf(p.Height, 0) {
			return fmt.Errorf("pdfout: page %d has invalid size %gx%g", i, p.Width, p.Height)
		}
		if p.Image == nil {
			continue
		}
		if len(p.Image.payload()) == 0 {
			return fmt.Errorf("%w: page %d", ErrEmptyPayload, i)
		}
		if jb, ok := p.Image.(*JBIG2Image); ok {
			if jb.Globals < 0 || jb.Globals >= len(d.Globals) {
				return fmt.Errorf("%w: page %d refers to globals %d of %d", ErrUnresolvedGlobals, i, jb.Globals, len(d.Globals))
			}
		}
	}
	return nil
}

// numbering assigns object numbers before anything is written.
type numbering struct {
	globals []int
	image   []int // 0 when the page has no image
	content []int
	page    []int
	count   int // highest object number
}

const (
	catalogObj = 1
	pagesObj   = 2
)

func number(d *Document) numbering {
	n := numbering{
		globals: make([]int, len(d.Globals)),
		image:   make([]int, len(d.Pages)),
		content: make([]int, len(d.Pages)),
		page:    make([]int, len(d.Pages)),
	}
	next := pagesObj + 1
	for i := range d.Globals {
		n.globals[i] = next
		next++
	}
	for i, p := range d.Pages {
		if p.Image != nil {
			n.image[i] = next
			next++
		}
		n.content[i] = next
		next++
		n.page[i] = next
		next++
	}
	n.count = next - 1
	return n
}

type posWriter struct {
	w   *bufio.Writer
	pos int64
	err error
}

func (w *posWriter) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	n, err := w.w.Write(p)
	w.pos += int64(n)
	w.err = err
	return n, err
}

func (w *posWriter) printf(format string, args ...any) {
	fmt.Fprintf(w, format, args...)
}

// WriteTo serializes the document. Nothing is written when validation
// fails.
func (d *Document) WriteTo(out io.Writer) (int64, error) {
	if err := d.Validate(); err != nil {
		return 0, err
	}
	num := number(d)
	offsets := make([]int64, num.count+1)
	w := &posWriter{w: bufio.NewWriterSize(out, 64<<10)}

	w.printf("%%PDF-1.7\n%%\xe2\xe3\xcf\xd3\n")

	begin := func(obj int) {
		offsets[obj] = w.pos
		w.printf("%d 0 obj\n", obj)
	}
	stream := func(obj int, dict string, data []byte) {
		begin(obj)
		if dict != "" {
			dict += " "
		}
		w.printf("<< %s/Length %d >>\nstream\n", dict, len(data))
		w.Write(data)
		w.printf("\nendstream\nendobj\n")
	}

	begin(catalogObj)
	w.printf("<< /Type /Catalog /Pages %d 0 R >>\nendobj\n", pagesObj)

	kids := make([]string, len(num.page))
	for i, p := range num.page {
		kids[i] = fmt.Sprintf("%d 0 R", p)
	}
	begin(pagesObj)
	w.printf("<< /Type /Pages /Kids [%s] /Count %d >>\nendobj\n", strings.Join(kids, " "), len(d.Pages))

	for i, g := range d.Globals {
		stream(num.globals[i], "", g)
	}

	for i, p := range d.Pages {
		if p.Image != nil {
			stream(num.image[i], imageDict(p.Image, num), p.Image.payload())
		}
		stream(num.content[i], "", contentStream(p.Image))

		begin(num.page[i])
		w.printf("<< /Type /Page /Parent %d 0 R /MediaBox [0 0 %s %s] /Contents %d 0 R /Resources << ",
			pagesObj, formatNum(p.Width), formatNum(p.Height), num.content[i])
		if p.Image != nil {
			w.printf("/XObject << /Im %d 0 R >> ", num.image[i])
		}
		w.printf(">> >>\nendobj\n")
	}

	xref := w.pos
	w.printf("xref\n0 %d\n", num.count+1)
	w.printf("0000000000 65535 f\r\n")
	for obj := 1; obj <= num.count; obj++ {
		w.printf("%010d 00000 n\r\n", offsets[obj])
	}
	w.printf("trailer\n<< /Size %d /Root %d 0 R >>\nstartxref\n%d\n%%%%EOF\n", num.count+1, catalogObj, xref)

	if w.err != nil {
		return w.pos, w.err
	}
	if err := w.w.Flush(); err != nil {
		return w.pos, err
	}
	return w.pos, nil
}

func imageDict(img Image, num numbering) string {
	switch m := img.(type) {
	case *JP2Image:
		cs := "/DeviceRGB"
		if m.Gray {
			cs = "/DeviceGray"
		}
		return fmt.Sprintf("/Type /XObject /Subtype /Image /Width %d /Height %d /ColorSpace %s /BitsPerComponent 8 /Filter /JPXDecode",
			m.Width, m.Height, cs)
	case *JBIG2Image:
		return fmt.Sprintf("/Type /XObject /Subtype /Image /Width %d /Height %d /ColorSpace /DeviceGray /BitsPerComponent 1 /Filter /JBIG2Decode /DecodeParms << /JBIG2Globals %d 0 R >>",
			m.Width, m.Height, num.globals[m.Globals])
	default:
		panic(fmt.Sprintf("pdfout: unknown image type %T", img))
	}
}

// contentStream paints the image into its placement rectangle.
func contentStream(img Image) []byte {
	if img == nil {
		return nil
	}
	p := img.placement()
	return []byte(fmt.Sprintf("q %s 0 0 %s %s %s cm /Im Do Q",
		formatNum(p.W), formatNum(p.H), formatNum(p.X), formatNum(p.Y)))
}

// formatNum prints f with at most four decimals and no trailing zeros.
func formatNum(f float64) string {
	r := math.Round(f*1e4) / 1e4
	if r == 0 {
		return "0"
	}
	return strconv.FormatFloat(r, 'f', -1, 64)
}
