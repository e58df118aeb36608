package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/health"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/kafka"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/metrics"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/middleware"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/routes"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/routes/alias"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/routes/deadletter"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/routes/entity"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/routes/identifier"
	signalroutes "github.com/daseme/ctv-bookedbiz-db-sub004/pkg/routes/signal"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/startup"
)

const (
	depConsumer = "consumer"
	depHTTP     = "http"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the ledger event consumer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), opts)
		},
	}
}

func serve(ctx context.Context, opts *rootOptions) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	logger, flush, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer flush()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := newApp(cfg, logger, cfg.DatabaseMigrateOnStart)
	checker := health.NewChecker(cfg.Version)
	e := newEcho(a, checker)

	var consumer *kafka.Consumer
	if cfg.KafkaConsumerEnabled {
		a.startup.AddDependency(&startup.Dependency{
			Name:     depConsumer,
			Requires: []string{depServices},
			OnStart: func(context.Context) error {
				consumer = kafka.NewConsumer(cfg.Consumer(), logger, a.svc.processor.ProcessMessage, a.svc.dlq)
				checker.Register("kafka", false, health.BoolProbe(consumer.Health))
				return consumer.Start(ctx)
			},
			OnStop: func(context.Context) error { return consumer.Stop() },
		})
	}

	serverErr := make(chan error, 1)
	a.startup.AddDependency(&startup.Dependency{
		Name:     depHTTP,
		Requires: []string{depServices},
		OnStart: func(context.Context) error {
			registerRoutes(e, a)
			checker.Register("postgres", true, func(ctx context.Context) error { return a.sqlDB.PingContext(ctx) })
			checker.Register("redis", true, a.redis.Ping)

			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", cfg.Port),
				ReadTimeout:       time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second,
				WriteTimeout:      time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second,
				IdleTimeout:       time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second,
				ReadHeaderTimeout: time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second,
				MaxHeaderBytes:    cfg.MaxHeaderBytes,
			}
			go func() {
				logger.Infof("HTTP server listening on %s", srv.Addr)
				if err := e.StartServer(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error { return e.Shutdown(ctx) },
	})

	if err := a.start(ctx); err != nil {
		a.stop()
		return err
	}
	defer a.stop()

	go func() {
		if err := a.svc.broadcast.Listen(ctx); err != nil && ctx.Err() == nil {
			logger.WithError(err).Error("Alias map invalidation listener stopped")
		}
	}()

	checker.SetReady(true)
	logger.Infof("%s %s started", cfg.AppName, cfg.Version)

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err := <-serverErr:
		logger.WithError(err).Error("HTTP server failed")
		checker.SetReady(false)
		return err
	}
	checker.SetReady(false)
	return nil
}

func newEcho(a *app, checker *health.Checker) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(a.logger)

	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: a.cfg.AllowOrigins,
		AllowMethods: a.cfg.AllowMethods,
	}))
	e.Use(otelecho.Middleware(a.cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(a.logger))

	checker.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	return e
}

func registerRoutes(e *echo.Echo, a *app) {
	r, s := a.repos, a.svc
	routes.Register(e, routes.Handlers{
		Aliases:     alias.NewHandler(s.aliases, r.aliases),
		Identifiers: identifier.NewHandler(s.snapshots, s.auditor, s.processor),
		Entities:    entity.NewHandler(r.entities, s.aliases, s.records, s.tracker, r.metrics, r.signals, r.auditLog),
		Signals:     signalroutes.NewHandler(r.signals, s.job, r.runs),
		DeadLetters: deadletter.NewHandler(s.dlq, s.processor.ProcessMessage, a.logger),
	})
}
