// Package jp2 drives an external JPEG2000 compressor: planar component
// preparation, output buffer sizing with retries, and a process-wide pool
// bounding how many encodes run at once.
package jp2

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/local/djvupdf/internal/metrics"
	"github.com/local/djvupdf/internal/raster"
)

var (
	// ErrBufferTooSmall is returned by a Compressor whose output did not fit.
	ErrBufferTooSmall = errors.New("jp2: output buffer too small")
	// ErrBufferExhausted is returned once every retry overflowed.
	ErrBufferExhausted = errors.New("jp2: output buffer retries exhausted")
)

const (
	bufferSlack   = 1 << 20
	minBufferSize = 64 << 10
	maxAttempts   = 3
)

// Components is a planar image: one int32 plane per channel, row-major.
type Components struct {
	Width     int
	Height    int
	Planes    [][]int32
	Precision int
}

// Gray reports whether the image has a single component.
func (c *Components) Gray() bool { return len(c.Planes) == 1 }

// FromImage splits an RGB24 or Gray8 raster into 8-bit planes.
func FromImage(img *raster.Image) (*Components, error) {
	if err := img.Validate(); err != nil {
		return nil, err
	}
	if img.Format == raster.Mono1 {
		return nil, fmt.Errorf("jp2: %s input is not supported", img.Format)
	}
	return &Components{Width: img.Width, Height: img.Height, Planes: img.Planes(), Precision: 8}, nil
}

// Params are the rate control settings handed to the compressor.
type Params struct {
	PSNR    float64 // target quality of the single layer, in dB
	Layers  int
	Threads int // codec threads per encode
}

// DefaultParams returns lossy single-layer settings at 44 dB with two
// threads per job.
func DefaultParams() Params {
	return Params{PSNR: 44, Layers: 1, Threads: 2}
}

// Compressor is the external lossy codec. Init is called once per process
// before the first Compress. Compress writes at most bufSize bytes and
// returns ErrBufferTooSmall when the codestream does not fit.
type Compressor interface {
	Init() error
	Compress(c *Components, p Params, bufSize int) ([]byte, error)
}

// Encoder encodes rasters with buffer retries. It is safe for concurrent use.
type Encoder struct {
	comp    Compressor
	params  Params
	once    sync.Once
	initErr error
}

// NewEncoder wraps comp with the given parameters.
func NewEncoder(comp Compressor, params Params) *Encoder {
	return &Encoder{comp: comp, params: params}
}

func (e *Encoder) init() error {
	e.once.Do(func() {
		e.initErr = e.comp.Init()
		if e.initErr != nil {
			log.Error().Err(e.initErr).Msg("jp2 codec initialization failed")
		}
	})
	return e.initErr
}

// BufferSize returns the first output buffer size tried for a raster of
// payloadBytes.
func BufferSize(payloadBytes int) int {
	return max(payloadBytes+bufferSlack, minBufferSize)
}

// Encode compresses img. The output buffer starts at BufferSize and doubles
// on overflow, up to three attempts.
func (e *Encoder) Encode(img *raster.Image) ([]byte, error) {
	if err := e.init(); err != nil {
		return nil, fmt.Errorf("jp2: init: %w", err)
	}
	comps, err := FromImage(img)
	if err != nil {
		return nil, err
	}

	size := BufferSize(img.Bytes())
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out, err := e.comp.Compress(comps, e.params, size)
		if errors.Is(err, ErrBufferTooSmall) {
			log.Debug().Int("attempt", attempt).Int("buffer", size).Msg("jp2 output buffer overflow")
			if attempt < maxAttempts {
				metrics.IncJP2Retry()
				size *= 2
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("jp2: compress %dx%d: %w", img.Width, img.Height, err)
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("jp2: compress %dx%d: empty codestream", img.Width, img.Height)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %dx%d after %d attempts, last buffer %d bytes",
		ErrBufferExhausted, img.Width, img.Height, maxAttempts, size)
}
