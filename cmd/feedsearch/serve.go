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

	"github.com/high-moctane/feedsearch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cli.Command{
	Name:  "serve",
	Usage: "Serve the search API over HTTP",
	Flags: []cli.Flag{
		addrFlag,
	},
	Action: func(ctx context.Context, c *cli.Command) error {
		a := appFrom(ctx)
		cfg, logger := a.cfg, a.logger

		addr := cfg.ServerAddr
		if c.IsSet(addrFlag.Name) {
			addr = c.String(addrFlag.Name)
		}

		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		b, err := openBackend(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := b.Close(); err != nil {
				logger.ErrorContext(ctx, "failed to close store", "err", err)
			}
		}()

		mux := http.NewServeMux()

		var store feedsearch.ContentStore = b.store
		var metrics *feedsearch.SearchMetrics
		if cfg.PrometheusEnabled {
			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			metrics = feedsearch.NewSearchMetrics(reg)
			store = feedsearch.NewMetricsStore(store, metrics)
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		}

		opt := cfg.SearchServiceOptions()
		opt.Logger = logger
		opt.Metrics = metrics
		service := feedsearch.NewSearchService(store, b.follows, opt)
		defer service.Close()
		b.OnIndexChanged = service.TextIndexChanged

		// A reindex run in another process announces itself with SIGHUP.
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer func() {
			signal.Stop(hup)
			close(hup)
		}()
		go func() {
			for range hup {
				logger.InfoContext(ctx, "text index changed, dropping cached results")
				service.TextIndexChanged()
				service.InvalidateResults()
			}
		}()

		mux.Handle("/search/", feedsearch.NewHandler(service, &feedsearch.HandlerOption{Logger: logger}))

		srv := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		errs := make(chan error, 1)
		go func() {
			logger.InfoContext(ctx, "feedsearch listening", "addr", addr)
			errs <- srv.ListenAndServe()
		}()

		select {
		case err := <-errs:
			return fmt.Errorf("server terminated: %w", err)
		case <-ctx.Done():
		}

		logger.InfoContext(ctx, "shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to shut down: %w", err)
		}
		return nil
	},
}
