package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	reuseport "github.com/kavu/go_reuseport"
	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/nci/satgate/api"
	"github.com/nci/satgate/catalog"
	"github.com/nci/satgate/jobs"
	"github.com/nci/satgate/logging"
	"github.com/nci/satgate/metrics"
	"github.com/nci/satgate/processor"
	"github.com/nci/satgate/utils"
	"github.com/nci/satgate/worker/gdalprocess"
)

const (
	pgMaxConns     = 10
	sceneCacheAge  = 7 * 24 * time.Hour
	maxMetricsSize = 100 * 1024 * 1024
	maxMetricsLogs = 10
)

func loggingConfig(cfg *utils.Config) logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = cfg.Logging.Level
	lc.Format = cfg.Logging.Format
	lc.Caller = cfg.Logging.Caller
	return lc
}

// closer collects shutdown steps and runs them in reverse order.
type closer []func()

func (c *closer) add(fn func()) { *c = append(*c, fn) }

func (c closer) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := utils.LoadConfig(c.GlobalString("config"))
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	logger := logging.Init(loggingConfig(cfg))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cleanup closer
	defer cleanup.run()

	if err := serve(ctx, cfg, logger, &cleanup); err != nil {
		logger.Error().Err(err).Msg("gateway stopped")
		return cli.NewExitError(err.Error(), 1)
	}
	logger.Info().Msg("gateway stopped")
	return nil
}

func buildCatalog(cfg *utils.Config, logger zerolog.Logger, cleanup *closer) (catalog.Catalog, error) {
	stac := catalog.NewSTACClient(catalog.STACClientConfig{
		URL:               cfg.Catalog.STACURL,
		DefaultCollection: cfg.Catalog.DefaultCollection,
		Timeout:           cfg.Catalog.Timeout,
		RateLimit:         cfg.Catalog.RateLimit,
	}, logger)
	if len(cfg.Catalog.PostgresDSN) == 0 {
		return stac, nil
	}

	db, err := catalog.OpenPostgres(cfg.Catalog.PostgresDSN, pgMaxConns)
	if err != nil {
		return nil, err
	}
	cleanup.add(func() { db.Close() })
	return catalog.NewPGCache(db, stac, sceneCacheAge, logger), nil
}

func buildSink(ctx context.Context, cfg *utils.Config, cleanup *closer) (jobs.Sink, error) {
	if len(cfg.Jobs.GCSBucket) == 0 {
		return jobs.LocalSink{}, nil
	}
	sink, err := jobs.NewGCSSink(ctx, cfg.Jobs.GCSBucket, "jobs")
	if err != nil {
		return nil, err
	}
	cleanup.add(func() { sink.Close() })
	return sink, nil
}

func buildMetricsLogger(cfg *utils.Config, logger zerolog.Logger, cleanup *closer) metrics.Logger {
	switch cfg.Server.MetricsLogDir {
	case "":
		return nil
	case "-":
		return metrics.NewZerologLogger(logger)
	}
	ml := metrics.NewFileLogger(cfg.Server.MetricsLogDir, maxMetricsSize, maxMetricsLogs, logger)
	cleanup.add(ml.Close)
	return ml
}

func serve(ctx context.Context, cfg *utils.Config, logger zerolog.Logger, cleanup *closer) error {
	cat, err := buildCatalog(cfg, logger, cleanup)
	if err != nil {
		return err
	}
	fallback := catalog.DefaultPublicBuckets()

	reader := gdalprocess.NewGDALReader(gdalprocess.ReaderConfig{
		Unsigned:           cfg.Raster.Unsigned,
		PublicBuckets:      cfg.Raster.PublicBuckets,
		ReadTimeout:        cfg.Raster.ReadTimeout,
		BreakerMaxFailures: cfg.Raster.BreakerMaxFailures,
		BreakerTimeout:     cfg.Raster.BreakerTimeout,
	}, logger)

	var rescale utils.RescaleMode
	if len(cfg.Tiles.DefaultRescale) > 0 {
		if rescale, err = utils.ParseRescale(cfg.Tiles.DefaultRescale); err != nil {
			return fmt.Errorf("tiles.default_rescale: %w", err)
		}
	}
	compositor := processor.NewCompositor(reader, cat, fallback, processor.CompositorConfig{
		BandConcurrency:   cfg.Tiles.BandConcurrency,
		DefaultCollection: cfg.Catalog.DefaultCollection,
		DefaultRescale:    rescale,
		CacheTTL:          cfg.Tiles.CacheTTL,
		CacheSize:         cfg.Tiles.CacheSize,
	}, logger)

	engine := &processor.Engine{
		Reader:             reader,
		Lookup:             cat,
		Fallback:           fallback,
		Files:              gdalprocess.GeoTIFFFiles{},
		MaxConcurrentReads: cfg.Processing.MaxConcurrentReads,
		PreviewSize:        cfg.Raster.PreviewSize,
		AOICentresOnly:     !cfg.Processing.AOIAllTouched,
		Logger:             logger,
	}

	store, closeStore, err := jobs.OpenStore(cfg.Jobs)
	if err != nil {
		return err
	}
	cleanup.add(func() {
		if err := closeStore(); err != nil {
			logger.Warn().Err(err).Msg("close job store")
		}
	})
	tracker := jobs.NewTracker(store, cfg.Jobs.StatusTTL, logger)
	orchestrator, err := jobs.NewOrchestrator(tracker, jobs.OrchestratorConfig{
		Timeout: cfg.Jobs.Timeout,
		Workers: cfg.Jobs.Workers,
	}, logger)
	if err != nil {
		return err
	}
	cleanup.add(func() { orchestrator.Close() })

	sink, err := buildSink(ctx, cfg, cleanup)
	if err != nil {
		return err
	}
	procs := &jobs.Processors{Engine: engine, Sink: sink, OutputDir: cfg.Jobs.OutputDir, Logger: logger}
	procs.Register(orchestrator)

	srv := &api.Server{
		Tiles:         compositor,
		Catalog:       cat,
		Sources:       reader,
		Jobs:          orchestrator,
		Config:        cfg,
		MetricsLogger: buildMetricsLogger(cfg, logger, cleanup),
		Logger:        logging.WithComponent(logger, "api"),
	}
	httpServer := &http.Server{
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	sup := suture.New("satgate", suture.Spec{
		EventHook: func(e suture.Event) {
			logger.Warn().Str("event", e.String()).Msg("supervisor event")
		},
	})
	sup.Add(&httpService{
		server:          httpServer,
		addr:            cfg.Server.Addr,
		reusePort:       cfg.Server.ReusePort,
		shutdownTimeout: cfg.Server.ShutdownTimeout,
		logger:          logger,
	})
	sup.Add(&jobService{orchestrator: orchestrator, logger: logger})

	logger.Info().Str("addr", cfg.Server.Addr).Str("stac_url", cfg.Catalog.STACURL).Msg("satgate is ready")
	err = sup.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// httpService runs the HTTP server under the supervisor.
type httpService struct {
	server          *http.Server
	addr            string
	reusePort       bool
	shutdownTimeout time.Duration
	logger          zerolog.Logger
}

func (h *httpService) listen() (net.Listener, error) {
	if h.reusePort {
		return reuseport.Listen("tcp", h.addr)
	}
	return net.Listen("tcp", h.addr)
}

func (h *httpService) Serve(ctx context.Context) error {
	ln, err := h.listen()
	if err != nil {
		return fmt.Errorf("listen on %s: %w", h.addr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			h.logger.Warn().Err(err).Msg("http shutdown")
		}
		return ctx.Err()
	}
}

func (h *httpService) String() string { return "http-server" }

// jobService runs the job router. A stopped router cannot be run again and
// its failure terminates the supervisor.
type jobService struct {
	orchestrator *jobs.Orchestrator
	logger       zerolog.Logger
}

func (j *jobService) Serve(ctx context.Context) error {
	err := j.orchestrator.Run(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	j.logger.Error().Err(err).Msg("job router stopped")
	return suture.ErrTerminateSupervisorTree
}

func (j *jobService) String() string { return "job-router" }
