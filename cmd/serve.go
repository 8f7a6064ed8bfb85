package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/desertthunder/dlx/internal/artifacts"
	"github.com/desertthunder/dlx/internal/catalog"
	"github.com/desertthunder/dlx/internal/engine"
	"github.com/desertthunder/dlx/internal/links"
	"github.com/desertthunder/dlx/internal/metrics"
	"github.com/desertthunder/dlx/internal/repositories"
	"github.com/desertthunder/dlx/internal/server"
	"github.com/desertthunder/dlx/internal/shared"
	"github.com/desertthunder/dlx/internal/tasks"
	"github.com/urfave/cli/v3"
)

const shutdownTimeout = 30 * time.Second

// service is the wired server process.
type service struct {
	db           *sql.DB
	cache        repositories.ResolveCache
	store        *artifacts.Store
	orchestrator *tasks.Orchestrator
	sweeper      *artifacts.Sweeper
	handler      http.Handler
	events       chan tasks.Event
}

// newService wires storage, the engine, the orchestrator and the HTTP handler from cfg.
func (r *Runner) newService(ctx context.Context, cfg *shared.Config, withEvents bool) (*service, error) {
	svc := &service{}
	logger := r.logger

	var err error
	if cfg.Cache.Backend == "sqlite" || cfg.Credentials.Spotify.Configured() {
		if svc.db, err = shared.OpenDatabase(cfg.Database); err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
	}

	if svc.cache, err = repositories.NewResolveCache(ctx, cfg.Cache, svc.db); err != nil {
		svc.close(ctx)
		return nil, err
	}

	var namer catalog.Namer
	if cfg.Credentials.Spotify.Configured() {
		client, err := catalog.NewClient(cfg.Credentials.Spotify, logger,
			catalog.WithNameCache(repositories.NewCatalogNameRepository(svc.db)))
		if err != nil {
			logger.Warn("catalog lookups disabled", "error", err)
		} else {
			namer = client
		}
	} else {
		logger.Info("spotify credentials not configured; artifact names come from the engine")
	}

	eng := r.engine
	if eng == nil {
		eng = engine.NewSpotDLFromConfig(cfg.Engine, logger)
	}

	m := metrics.New(nil)
	svc.store, err = artifacts.NewStore(cfg.Artifacts.Dir, cfg.Artifacts.TTL, logger,
		artifacts.WithMetrics(m),
		artifacts.WithSingleUseLinks(cfg.Artifacts.SingleUseLinks),
	)
	if err != nil {
		svc.close(ctx)
		return nil, err
	}

	opts := []tasks.Option{
		tasks.WithResolveCache(svc.cache, cfg.Cache.TTL),
		tasks.WithMetrics(m),
		tasks.WithLogger(logger),
	}
	if namer != nil {
		opts = append(opts, tasks.WithNamer(namer))
	}
	if withEvents {
		svc.events = make(chan tasks.Event, 64)
		opts = append(opts, tasks.WithEvents(svc.events))
	}
	svc.orchestrator = tasks.New(tasks.NewRegistry(), eng, svc.store, tasks.ConfigFromShared(cfg), opts...)

	linkService := links.NewService(eng, svc.store, namer, links.Config{
		TTL:           cfg.Artifacts.LinkTTL,
		Timeout:       cfg.Tasks.Timeout,
		DefaultFormat: cfg.Engine.OutputFormatDefault,
	}, logger)

	api := server.NewAPI(svc.orchestrator, linkService, server.APIConfig{
		BaseURL:     cfg.Server.BaseURL,
		ClaimWindow: cfg.Artifacts.ClaimWindow,
		Version:     version,
	}, logger)
	svc.handler = server.NewRouter(cfg.Server, api, m, logger)

	if svc.sweeper, err = artifacts.NewSweeper(svc.store, cfg.Artifacts.SweepSchedule, logger); err != nil {
		svc.close(ctx)
		return nil, err
	}

	return svc, nil
}

// start launches the worker pool and the sweeper. Workers outlive ctx so
// in-flight tasks can drain during shutdown.
func (s *service) start(ctx context.Context) {
	s.orchestrator.Start(context.WithoutCancel(ctx))
	s.sweeper.Start()
}

// close stops the sweeper and workers, then releases storage.
func (s *service) close(ctx context.Context) error {
	var errs []error
	if s.sweeper != nil {
		errs = append(errs, s.sweeper.Stop(ctx))
	}
	if s.orchestrator != nil {
		errs = append(errs, s.orchestrator.Shutdown(ctx))
	}
	if s.events != nil {
		close(s.events)
	}
	if s.cache != nil {
		errs = append(errs, s.cache.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	return errors.Join(errs...)
}

// Serve runs the HTTP API until SIGINT or SIGTERM, then drains in-flight tasks.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	cfg := *r.config
	if port := cmd.Int("port"); port > 0 {
		cfg.Server.Port = int(port)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := r.newService(ctx, &cfg, cmd.Bool("events"))
	if err != nil {
		return err
	}

	if svc.events != nil {
		go func() {
			for ev := range svc.events {
				r.writePlain("%s\n", ev)
			}
		}()
	}

	svc.start(ctx)
	httpServer := server.NewHTTPServer(cfg.Server, svc.handler)

	errc := make(chan error, 1)
	go func() {
		r.logger.Info("listening", "addr", httpServer.Addr, "artifacts", svc.store.Root())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case <-ctx.Done():
		r.logger.Info("shutting down")
	case err := <-errc:
		if err != nil {
			svc.close(context.Background())
			return fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Warn("http shutdown incomplete", "error", err)
	}
	if err := svc.close(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown incomplete: %w", err)
	}
	r.logger.Info("stopped")
	return nil
}
