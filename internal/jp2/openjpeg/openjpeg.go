//go:build cgo

// Package openjpeg implements jp2.Compressor with libopenjp2, encoding into a
// fixed-capacity caller buffer.
package openjpeg

/*
#cgo pkg-config: libopenjp2
#include <stdlib.h>
#include <string.h>
#include <openjpeg.h>

enum {
	DJP_OK = 0,
	DJP_OVERFLOW = 1,
	DJP_IMAGE = 2,
	DJP_SETUP = 3,
	DJP_ENCODE = 4,
};

typedef struct {
	OPJ_BYTE *data;
	OPJ_SIZE_T cap;
	OPJ_SIZE_T len;
	OPJ_SIZE_T pos;
	int overflow;
} djp_buf;

static OPJ_SIZE_T djp_write(void *p, OPJ_SIZE_T n, void *user) {
	djp_buf *b = user;
	if (b->pos + n > b->cap) {
		b->overflow = 1;
		return (OPJ_SIZE_T)-1;
	}
	memcpy(b->data + b->pos, p, n);
	b->pos += n;
	if (b->pos > b->len) {
		b->len = b->pos;
	}
	return n;
}

static OPJ_OFF_T djp_skip(OPJ_OFF_T n, void *user) {
	djp_buf *b = user;
	if (n < 0 && (OPJ_SIZE_T)(-n) > b->pos) {
		return -1;
	}
	if (n > 0 && b->pos + (OPJ_SIZE_T)n > b->cap) {
		b->overflow = 1;
		return -1;
	}
	b->pos += n;
	return n;
}

static OPJ_BOOL djp_seek(OPJ_OFF_T n, void *user) {
	djp_buf *b = user;
	if (n < 0 || (OPJ_SIZE_T)n > b->cap) {
		b->overflow = 1;
		return OPJ_FALSE;
	}
	b->pos = (OPJ_SIZE_T)n;
	return OPJ_TRUE;
}

// samples holds ncomp planes of width*height values back to back.
static int djp_encode(const OPJ_INT32 *samples, int width, int height, int ncomp, int prec,
		float psnr, int layers, int threads, int numres,
		OPJ_BYTE *out, OPJ_SIZE_T cap, OPJ_SIZE_T *outlen) {
	opj_cparameters_t params;
	opj_set_default_encoder_parameters(&params);
	params.tcp_numlayers = layers;
	params.tcp_distoratio[0] = psnr;
	params.cp_fixed_quality = 1;
	params.irreversible = 1;
	params.numresolution = numres;
	params.tcp_mct = ncomp == 3 ? 1 : 0;

	opj_image_cmptparm_t cmpt[3];
	memset(cmpt, 0, sizeof(cmpt));
	for (int i = 0; i < ncomp; i++) {
		cmpt[i].dx = 1;
		cmpt[i].dy = 1;
		cmpt[i].w = width;
		cmpt[i].h = height;
		cmpt[i].prec = prec;
		cmpt[i].sgnd = 0;
	}
	opj_image_t *img = opj_image_create(ncomp, cmpt, ncomp == 3 ? OPJ_CLRSPC_SRGB : OPJ_CLRSPC_GRAY);
	if (img == NULL) {
		return DJP_IMAGE;
	}
	img->x0 = 0;
	img->y0 = 0;
	img->x1 = width;
	img->y1 = height;
	size_t plane = (size_t)width * (size_t)height;
	for (int i = 0; i < ncomp; i++) {
		memcpy(img->comps[i].data, samples + i * plane, plane * sizeof(OPJ_INT32));
	}

	opj_codec_t *codec = opj_create_compress(OPJ_CODEC_JP2);
	if (codec == NULL || !opj_setup_encoder(codec, &params, img)) {
		if (codec != NULL) {
			opj_destroy_codec(codec);
		}
		opj_image_destroy(img);
		return DJP_SETUP;
	}
	if (threads > 1) {
		opj_codec_set_threads(codec, threads);
	}

	djp_buf buf = {out, cap, 0, 0, 0};
	opj_stream_t *s = opj_stream_create(OPJ_J2K_STREAM_CHUNK_SIZE, OPJ_FALSE);
	if (s == NULL) {
		opj_destroy_codec(codec);
		opj_image_destroy(img);
		return DJP_SETUP;
	}
	opj_stream_set_user_data(s, &buf, NULL);
	opj_stream_set_write_function(s, djp_write);
	opj_stream_set_skip_function(s, djp_skip);
	opj_stream_set_seek_function(s, djp_seek);

	OPJ_BOOL ok = opj_start_compress(codec, img, s) &&
		opj_encode(codec, s) &&
		opj_end_compress(codec, s);

	opj_stream_destroy(s);
	opj_destroy_codec(codec);
	opj_image_destroy(img);

	if (buf.overflow) {
		return DJP_OVERFLOW;
	}
	if (!ok) {
		return DJP_ENCODE;
	}
	*outlen = buf.len;
	return DJP_OK;
}
*/
import "C"

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"github.com/rs/zerolog/log"

	"github.com/local/djvupdf/internal/jp2"
)

var initOnce sync.Once

// Compressor encodes JP2 files with OpenJPEG.
type Compressor struct{}

// New returns the native compressor.
func New() *Compressor { return &Compressor{} }

// Available reports whether the native library is linked in.
func Available() bool { return true }

// Init logs the library version once per process. OpenJPEG has no global
// state to set up beyond that.
func (Compressor) Init() error {
	initOnce.Do(func() {
		log.Info().Str("version", C.GoString(C.opj_version())).Msg("openjpeg initialized")
	})
	return nil
}

// resolutions picks the largest decomposition count the image can take.
func resolutions(w, h int) int {
	n := 6
	for n > 1 && 1<<(n-1) > min(w, h) {
		n--
	}
	return n
}

func (Compressor) Compress(c *jp2.Components, p jp2.Params, bufSize int) ([]byte, error) {
	nc := len(c.Planes)
	if nc != 1 && nc != 3 {
		return nil, fmt.Errorf("openjpeg: unsupported component count %d", nc)
	}
	plane := c.Width * c.Height
	if plane == 0 || bufSize <= 0 {
		return nil, errors.New("openjpeg: empty image or buffer")
	}
	samples := make([]int32, plane*nc)
	for i, pl := range c.Planes {
		if len(pl) != plane {
			return nil, fmt.Errorf("openjpeg: plane %d has %d samples, want %d", i, len(pl), plane)
		}
		copy(samples[i*plane:], pl)
	}

	out := make([]byte, bufSize)
	var n C.OPJ_SIZE_T
	rc := C.djp_encode((*C.OPJ_INT32)(unsafe.Pointer(&samples[0])),
		C.int(c.Width), C.int(c.Height), C.int(nc), C.int(c.Precision),
		C.float(p.PSNR), C.int(p.Layers), C.int(p.Threads), C.int(resolutions(c.Width, c.Height)),
		(*C.OPJ_BYTE)(unsafe.Pointer(&out[0])), C.OPJ_SIZE_T(bufSize), &n)
	switch rc {
	case C.DJP_OK:
		return out[:int(n)], nil
	case C.DJP_OVERFLOW:
		return nil, jp2.ErrBufferTooSmall
	case C.DJP_IMAGE:
		return nil, errors.New("openjpeg: image allocation failed")
	case C.DJP_SETUP:
		return nil, errors.New("openjpeg: encoder setup failed")
	default:
		return nil, errors.New("openjpeg: encode failed")
	}
}
