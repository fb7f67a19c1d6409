package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	cfgpkg "github.com/local/djvupdf/internal/config"
	"github.com/local/djvupdf/internal/metrics"
	"github.com/local/djvupdf/internal/orchestrator"
	"github.com/local/djvupdf/internal/owner"
)

func newWatchCmd(cfg *cfgpkg.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [dir...]",
		Short: "Watch directories and convert DjVu files as they complete",
		RunE: func(cmd *cobra.Command, args []string) error {
			dirs := append(args, cfg.Worker.WatchDirs...)
			if len(dirs) == 0 {
				return errors.New("no directories to watch (pass them as arguments or set WATCH_DIRS)")
			}
			return watch(cmd.Context(), *cfg, dirs)
		},
	}
	cmd.Flags().DurationVar(&cfg.Worker.ScanInterval, "interval", cfg.Worker.ScanInterval, "scan interval")
	cmd.Flags().IntVar(&cfg.Worker.Concurrency, "workers", cfg.Worker.Concurrency, "documents converted at once")
	cmd.Flags().StringVar(&cfg.HTTP.Addr, "http", cfg.HTTP.Addr, "status API listen address (empty disables)")
	return cmd
}

func watch(parent context.Context, cfg cfgpkg.Config, dirs []string) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Init()
	svc := newServices(ctx, cfg)
	defer svc.close()

	orch := orchestrator.New(orchestrator.Config{
		Workers:    cfg.Worker.Concurrency,
		QueueSize:  cfg.Worker.QueueSize,
		TempMaxAge: cfg.Worker.TempMaxAge,
	}, svc.deps)
	for _, d := range dirs {
		ow, err := owner.NewDir(d, cfg.Worker.SettleTime)
		if err != nil {
			return fmt.Errorf("watch %s: %w", d, err)
		}
		orch.Register(ow)
		log.Info().Str("owner", ow.ID()).Str("dir", ow.Name()).Msg("watching directory")
	}
	orch.Start()

	go func() {
		for ev := range orch.Subscribe(ctx) {
			if msg, ok := orch.FailureStatus(ev.Owner); ok {
				log.Warn().Str("owner", ev.Owner).Str("status", msg).Msg("owner has failed conversions")
				continue
			}
			log.Info().Str("owner", ev.Owner).Msg("conversions finished")
		}
	}()

	var srv *http.Server
	if cfg.HTTP.Addr != "" {
		mux := http.NewServeMux()
		orch.RegisterRoutes(mux)
		mux.Handle("GET /metrics", metrics.Handler())
		srv = &http.Server{Addr: cfg.HTTP.Addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			log.Info().Str("addr", cfg.HTTP.Addr).Msg("HTTP server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("http server error")
				stop()
			}
		}()
	}

	orch.Watch(ctx, cfg.Worker.ScanInterval)

	shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if srv != nil {
		_ = srv.Shutdown(shutdown)
	}
	if err := orch.Stop(shutdown); err != nil {
		log.Warn().Err(err).Msg("workers did not stop in time")
	}
	log.Info().Msg("shutdown complete")
	return nil
}
