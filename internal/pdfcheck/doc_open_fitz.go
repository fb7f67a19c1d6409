package pdfcheck

import (
	fitz "github.com/gen2brain/go-fitz"
)

// ProbeDPI keeps the render probe cheap.
const ProbeDPI = 18

// fitzOpener implements Opener using github.com/gen2brain/go-fitz.
type fitzOpener struct{}

func (fitzOpener) Open(path string) (Doc, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, err
	}
	return fitzDoc{doc}, nil
}

func init() {
	setDefaultOpener(fitzOpener{})
}

type fitzDoc struct{ *fitz.Document }

func (d fitzDoc) Probe(i int) error {
	_, err := d.Document.ImageDPI(i, ProbeDPI)
	return err
}
