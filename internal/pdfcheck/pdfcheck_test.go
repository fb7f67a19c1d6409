package pdfcheck

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDoc struct {
	pages    int
	probeErr error
	closed   *bool
}

func (d stubDoc) NumPage() int    { return d.pages }
func (d stubDoc) Probe(int) error { return d.probeErr }

func (d stubDoc) Close() error {
	*d.closed = true
	return nil
}

type stubOpener struct {
	doc stubDoc
	err error
}

func (o stubOpener) Open(string) (Doc, error) {
	if o.err != nil {
		return nil, o.err
	}
	return o.doc, nil
}

func counter(n int, err error) func(string) (int, error) {
	return func(string) (int, error) { return n, err }
}

func TestVerifyPageCount(t *testing.T) {
	v := &Verifier{count: counter(3, nil)}
	require.NoError(t, v.Verify(context.Background(), "x.pdf", 3))

	err := v.Verify(context.Background(), "x.pdf", 4)
	assert.ErrorIs(t, err, ErrPageCount)

	v.count = counter(0, errors.New("malformed xref"))
	err = v.Verify(context.Background(), "x.pdf", 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed xref")
}

func TestVerifyProbe(t *testing.T) {
	closed := false
	v := &Verifier{
		opts:   Options{Probe: true},
		count:  counter(2, nil),
		opener: stubOpener{doc: stubDoc{pages: 2, closed: &closed}},
	}
	require.NoError(t, v.Verify(context.Background(), "x.pdf", 2))
	assert.True(t, closed)

	v.opener = stubOpener{doc: stubDoc{pages: 2, probeErr: errors.New("bad jbig2"), closed: &closed}}
	err := v.Verify(context.Background(), "x.pdf", 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad jbig2")

	v.opener = stubOpener{doc: stubDoc{pages: 1, closed: &closed}}
	assert.ErrorIs(t, v.Verify(context.Background(), "x.pdf", 2), ErrPageCount)

	v.opener = stubOpener{err: errors.New("cannot open")}
	assert.Error(t, v.Verify(context.Background(), "x.pdf", 2))
}

func TestVerifyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	v := &Verifier{count: counter(1, nil)}
	assert.ErrorIs(t, v.Verify(ctx, "x.pdf", 1), context.Canceled)
}
