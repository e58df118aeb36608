package main

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/daseme/ctv-bookedbiz-db-sub004/config"
	aliasrepo "github.com/daseme/ctv-bookedbiz-db-sub004/internal/repositories/alias"
	assignmentrepo "github.com/daseme/ctv-bookedbiz-db-sub004/internal/repositories/assignment"
	"github.com/daseme/ctv-bookedbiz-db-sub004/internal/repositories/auditlog"
	"github.com/daseme/ctv-bookedbiz-db-sub004/internal/repositories/canonicalmap"
	entityrepo "github.com/daseme/ctv-bookedbiz-db-sub004/internal/repositories/entity"
	"github.com/daseme/ctv-bookedbiz-db-sub004/internal/repositories/entitymetrics"
	"github.com/daseme/ctv-bookedbiz-db-sub004/internal/repositories/entitysignal"
	"github.com/daseme/ctv-bookedbiz-db-sub004/internal/repositories/ledger"
	"github.com/daseme/ctv-bookedbiz-db-sub004/internal/repositories/recomputerun"
	"github.com/daseme/ctv-bookedbiz-db-sub004/internal/repositories/relatedrecord"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/aliasmap"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/assignment"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/audit"
	appctx "github.com/daseme/ctv-bookedbiz-db-sub004/pkg/context"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/database"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/kafka"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/normalizers"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/primary"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/processor"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/recompute"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/redis"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/signals"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/startup"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/tracing"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/tracing/exporters"
)

const (
	depTracing    = "tracing"
	depPostgres   = "postgres"
	depMigrations = "migrations"
	depRedis      = "redis"
	depServices   = "services"
)

type repositories struct {
	entities  *entityrepo.Repository
	aliases   *aliasrepo.Repository
	canonical *canonicalmap.Repository
	records   *relatedrecord.Repository
	periods   *assignmentrepo.Repository
	ledger    *ledger.Repository
	metrics   *entitymetrics.Repository
	signals   *entitysignal.Repository
	runs      *recomputerun.Repository
	auditLog  *auditlog.Repository
}

type services struct {
	snapshots *aliasmap.Store
	broadcast *aliasmap.Broadcast
	auditor   *audit.Auditor
	aliases   *audit.AliasService
	records   *primary.Manager
	tracker   *assignment.Tracker
	job       *recompute.Job
	processor *processor.Processor
	dlq       *redis.DeadLetterQueue
}

// app owns the infrastructure handles and the domain graph built on them.
// Commands register what they need on the startup graph and call start.
type app struct {
	cfg     *config.Config
	logger  ectologger.Logger
	startup *startup.Startup

	sqlDB    *sqlx.DB
	db       database.DB
	redis    *redis.Client
	producer *kafka.Producer
	tracer   *sdktrace.TracerProvider

	repos repositories
	svc   services
}

func newApp(cfg *config.Config, logger ectologger.Logger, migrate bool) *app {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		startup: startup.NewStartup(logger, cfg.StartupMaxAttempts),
	}

	a.startup.AddDependency(&startup.Dependency{
		Name:    depTracing,
		OnStart: a.startTracing,
		OnStop: func(ctx context.Context) error {
			if a.tracer == nil {
				return nil
			}
			return a.tracer.Shutdown(ctx)
		},
	})

	a.startup.AddDependency(&startup.Dependency{
		Name:    depPostgres,
		OnStart: a.connectPostgres,
		OnStop: func(context.Context) error {
			if a.sqlDB == nil {
				return nil
			}
			return a.sqlDB.Close()
		},
	})

	servicesRequire := []string{depTracing, depPostgres, depRedis}
	if migrate {
		a.startup.AddDependency(&startup.Dependency{
			Name:     depMigrations,
			Requires: []string{depPostgres},
			OnStart:  func(context.Context) error { return a.migrate() },
		})
		servicesRequire = append(servicesRequire, depMigrations)
	}

	a.startup.AddDependency(&startup.Dependency{
		Name: depRedis,
		OnStart: func(ctx context.Context) error {
			client, err := redis.NewClient(ctx, cfg.Redis(), logger)
			if err != nil {
				return err
			}
			a.redis = client
			return nil
		},
		OnStop: func(context.Context) error {
			if a.redis == nil {
				return nil
			}
			return a.redis.Close()
		},
	})

	a.startup.AddDependency(&startup.Dependency{
		Name:     depServices,
		Requires: servicesRequire,
		OnStart: func(context.Context) error {
			a.wire()
			return nil
		},
		OnStop: func(context.Context) error {
			if a.producer == nil {
				return nil
			}
			return a.producer.Close()
		},
	})

	return a
}

func (a *app) startTracing(ctx context.Context) error {
	if !a.cfg.TracingEnabled {
		return nil
	}
	exporter, err := exporters.NewOTLPExporter(ctx, a.cfg.OTLP())
	if err != nil {
		return fmt.Errorf("failed to create OTLP exporter: %w", err)
	}
	provider, err := exporters.NewTracerProvider(ctx, a.cfg.TraceProvider(), exporter)
	if err != nil {
		return err
	}
	a.tracer = provider
	tracing.SetTracer(provider.Tracer(a.cfg.AppName))
	return nil
}

func (a *app) connectPostgres(ctx context.Context) error {
	sqlDB, err := database.Connect(ctx, a.cfg.Database())
	if err != nil {
		return err
	}
	a.sqlDB = sqlDB
	a.db = database.NewDatabaseInstance(sqlDB, a.logger)
	return nil
}

func (a *app) migrate() error {
	return database.NewMigrationService(a.logger, a.cfg.Migration()).MigratePostgres(a.sqlDB.DB, a.cfg.DatabaseName)
}

// wire builds the repositories and services once every handle is open.
func (a *app) wire() {
	db, logger := a.db, a.logger

	a.repos = repositories{
		entities:  entityrepo.NewRepository(db, logger),
		aliases:   aliasrepo.NewRepository(db, logger),
		canonical: canonicalmap.NewRepository(db, logger),
		records:   relatedrecord.NewRepository(db, logger),
		periods:   assignmentrepo.NewRepository(db, logger),
		ledger:    ledger.NewRepository(db, logger),
		metrics:   entitymetrics.NewRepository(db, logger),
		signals:   entitysignal.NewRepository(db, logger),
		runs:      recomputerun.NewRepository(db, logger),
		auditLog:  auditlog.NewRepository(db, logger),
	}
	r := a.repos

	a.producer = kafka.NewProducer(a.cfg.Producer(), logger)
	locker := redis.NewLocker(a.redis, "")

	snapshots := aliasmap.NewStore(r.canonical, logger)
	broadcast := aliasmap.NewBroadcast(snapshots, a.redis, logger)
	auditor := audit.NewAuditor(snapshots, r.entities, r.aliases, r.ledger, a.cfg.AuditWorkers, logger)
	aliases := audit.NewAliasService(db, r.entities, r.aliases, r.ledger, r.canonical, broadcast, r.auditLog, logger)
	records := primary.NewManager(db, r.entities, r.records, r.auditLog, logger)
	tracker := assignment.NewTracker(records, records.Syncer(), r.periods, r.ledger, a.ownerTable(), r.auditLog, logger)
	job := recompute.NewJob(db, r.ledger, r.metrics, r.signals, r.runs, locker, a.producer, a.cfg.Recompute(), a.signalRules(), logger)
	resolver := processor.NewResolver(r.aliases, r.entities, logger)

	a.svc = services{
		snapshots: snapshots,
		broadcast: broadcast,
		auditor:   auditor,
		aliases:   aliases,
		records:   records,
		tracker:   tracker,
		job:       job,
		processor: processor.NewProcessor(logger, auditor, resolver, a.producer, job),
		dlq:       redis.NewDeadLetterQueue(a.redis, a.cfg.DLQStream, logger),
	}
}

// signalRules falls back to the built-in thresholds when no file is set or
// the file is unusable, so a bad deploy of the rules file cannot stop recompute.
func (a *app) signalRules() signals.Config {
	if a.cfg.SignalRulesFile == "" {
		return signals.DefaultConfig()
	}
	rules, err := signals.LoadConfig(a.cfg.SignalRulesFile)
	if err != nil {
		a.logger.WithError(err).Warnf("Failed to load signal rules from %s, using defaults", a.cfg.SignalRulesFile)
		return signals.DefaultConfig()
	}
	return rules
}

func (a *app) ownerTable() *normalizers.OwnerTable {
	if a.cfg.OwnerTableFile == "" {
		return normalizers.DefaultOwnerTable()
	}
	table, err := normalizers.LoadOwnerTable(a.cfg.OwnerTableFile)
	if err != nil {
		a.logger.WithError(err).Warnf("Failed to load owner table from %s, using defaults", a.cfg.OwnerTableFile)
		return normalizers.DefaultOwnerTable()
	}
	return table
}

func (a *app) start(ctx context.Context) error {
	return a.startup.Start(ctx)
}

func (a *app) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.startup.Stop(ctx); err != nil {
		a.logger.WithError(err).Error("Failed to stop cleanly")
	}
}

// runCommand is the shared body of the one-shot commands: load config, start
// the graph without the HTTP or consumer pieces, run fn, tear down.
func runCommand(ctx context.Context, opts *rootOptions, fn func(ctx context.Context, a *app) error) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	logger, flush, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer flush()

	a := newApp(cfg, logger, cfg.DatabaseMigrateOnStart)
	if err := a.start(ctx); err != nil {
		return err
	}
	defer a.stop()

	ctx = appctx.SetSource(ctx, appctx.SourceCLI)
	ctx = appctx.SetUserID(ctx, opts.actor)

	started := time.Now()
	err = fn(ctx, a)
	logger.WithField("elapsed", time.Since(started).String()).Debug("Command finished")
	return err
}
