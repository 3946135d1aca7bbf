package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"audiograb/internal/config"
	"audiograb/internal/fetch"
	"audiograb/internal/metrics"
	"audiograb/internal/ratelimit"
	"audiograb/internal/search"
	"audiograb/internal/server"
	"audiograb/internal/store"
)

func main() {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "audiograb",
	})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load configuration", "err", err)
	}

	cacheDir, err := cfg.ResolveCacheDir()
	if err != nil {
		logger.Fatal("resolve cache directory", "err", err)
	}

	st, err := store.New(cacheDir, cfg.RetentionPeriod, cfg.RefreshDebounce, logger)
	if err != nil {
		logger.Fatal("initialise artifact store", "err", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("error closing store", "err", err)
		}
	}()

	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweeper := store.NewSweeper(cacheDir, cfg.RetentionPeriod, cfg.SweepInterval, cfg.FetchTimeout, logger, m.Evicted.Inc)
	go sweeper.Run(ctx)

	limiter := ratelimit.New(ratelimit.PerWindow(30, time.Second))
	defer limiter.Close()
	limiter.SetPolicy("/search", ratelimit.PerWindow(5, time.Minute))
	limiter.SetPolicy("/download", ratelimit.PerWindow(5, time.Minute))
	limiter.SetPolicy("/audios/", ratelimit.PerWindow(2, 5*time.Second))

	source := fetch.NewYTDLP(cfg.YTDLPPath, cfg.UpstreamPerMinute, logger)
	encoder := fetch.NewFFmpeg(cfg.FFmpegPath, cfg.Bitrate, logger)
	pipeline := fetch.NewPipeline(source, encoder, st, fetch.Settings{
		DurationCeiling: cfg.DurationCeiling,
		RetentionPeriod: cfg.RetentionPeriod,
		FetchTimeout:    cfg.FetchTimeout,
		OnProduced:      m.Produced.Inc,
		OnFailed:        m.Failed.Inc,
	}, logger)

	searcher := search.NewYTDLP(cfg.YTDLPPath, cfg.SearchLimit, cfg.DurationCeiling, cfg.UpstreamPerMinute, logger)

	handler := server.New(server.Options{
		Store:         st,
		Producer:      pipeline,
		Searcher:      searcher,
		Gate:          limiter,
		Metrics:       m,
		PublicBaseURL: cfg.PublicBaseURL,
		Logger:        logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		// Productions can outlive any sane write timeout, so the server
		// relies on the pipeline's own fetch timeout instead.
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("graceful shutdown error", "err", err)
		}
	}()

	logger.Info("listening", "addr", cfg.ListenAddr, "cache", cacheDir,
		"retention", cfg.RetentionPeriod, "sweep", cfg.SweepInterval)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("http server error", "err", err)
	}
	logger.Info("shutdown complete")
}
