package main

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/local/djvupdf/internal/classify"
	cfgpkg "github.com/local/djvupdf/internal/config"
	"github.com/local/djvupdf/internal/convert"
	"github.com/local/djvupdf/internal/djvu/ddjvu"
	"github.com/local/djvupdf/internal/jbig2"
	"github.com/local/djvupdf/internal/jbig2/jbig2enc"
	"github.com/local/djvupdf/internal/jp2"
	"github.com/local/djvupdf/internal/jp2/openjpeg"
	"github.com/local/djvupdf/internal/orchestrator"
	"github.com/local/djvupdf/internal/pdfcheck"
	"github.com/local/djvupdf/internal/render"
	"github.com/local/djvupdf/internal/statuscheck"
	"github.com/local/djvupdf/internal/storage"
	"github.com/local/djvupdf/internal/store"
	"github.com/local/djvupdf/internal/tracker"
)

func newEngine(c cfgpkg.ConvertConfig) *convert.Engine {
	tuning := classify.DefaultTuning()
	tuning.SolidRatio = c.SolidRatio
	tuning.TileMaxDark = c.TileMaxDark
	tuning.ContentThreshold = c.ContentThreshold
	tuning.CropMargin = c.CropMargin
	tuning.BilevelThreshold = c.BilevelThreshold

	enc := jp2.NewEncoder(openjpeg.New(), jp2.Params{PSNR: c.JP2PSNR, Layers: c.JP2Layers, Threads: c.JP2Threads})
	return convert.New(convert.Options{
		Decoder:     ddjvu.New(),
		Render:      render.Pipeline{MaxDPI: c.MaxDPI, MaxDimension: c.MaxDimension},
		Classifier:  classify.New(tuning),
		JBIG2:       jbig2enc.New(),
		JBIG2Params: jbig2.Params{Threshold: c.JBIG2Threshold, Weight: c.JBIG2Weight},
		BatchSize:   c.JBIG2BatchSize,
		Pool:        jp2.NewPool(enc, c.JP2Pool),
	})
}

// services holds the optional sinks; close releases them.
type services struct {
	deps   orchestrator.Dependencies
	checks *statuscheck.Checker
	close  func()
}

func newServices(ctx context.Context, cfg cfgpkg.Config) *services {
	s := &services{close: func() {}}
	s.deps = orchestrator.Dependencies{
		Engine:  newEngine(cfg.Convert),
		Tracker: tracker.New(),
	}
	if cfg.Verify.Enabled {
		s.deps.Verifier = pdfcheck.New(pdfcheck.Options{Probe: cfg.Verify.Probe})
	}

	opts := statuscheck.Options{Codecs: map[string]func() bool{
		"djvulibre": ddjvu.Available,
		"jbig2enc":  jbig2enc.Available,
		"openjpeg":  openjpeg.Available,
	}}

	if cfg.Redis.URL != "" {
		rs, err := store.NewRedisStatus(cfg.Redis.URL, cfg.Redis.TTL)
		if err != nil {
			log.Warn().Err(err).Msg("redis status sink disabled")
		} else {
			s.deps.Status = orchestrator.NewStatusAdapter(rs)
			s.deps.Pages = orchestrator.NewProgressAdapter(store.NewPageStore(rs.Client(), cfg.Redis.TTL))
			opts.Redis = rs
			prev := s.close
			s.close = func() { prev(); _ = rs.Close() }
		}
	}

	if cfg.S3.Bucket != "" {
		m, err := storage.NewS3Mirror(ctx, storage.Config{
			Bucket:    cfg.S3.Bucket,
			Prefix:    cfg.S3.Prefix,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			PathStyle: cfg.S3.PathStyle,
		})
		if err != nil {
			log.Warn().Err(err).Msg("s3 mirror disabled")
		} else {
			s.deps.Mirror = m
			opts.S3 = m
		}
	}

	s.checks = statuscheck.New(opts)
	s.deps.Health = s.checks.Health
	return s
}
