// Package infra wires configuration into concrete adapters and services.
// The cmd binaries call Build once at startup and hand the resulting App to
// their surface (HTTP server, worker, check); nothing here is global.
package infra

import (
	"context"
	"fmt"
	"net/http"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/opx/automation/internal/alerts"
	"github.com/opx/automation/internal/analytics"
	"github.com/opx/automation/internal/automation"
	"github.com/opx/automation/internal/config"
	"github.com/opx/automation/internal/core"
	"github.com/opx/automation/internal/events"
	"github.com/opx/automation/internal/invoker"
	"github.com/opx/automation/internal/kvstore"
	"github.com/opx/automation/internal/learning"
	"github.com/opx/automation/internal/lifecycle"
	"github.com/opx/automation/internal/monitoring"
	"github.com/opx/automation/internal/outcomes"
	"github.com/opx/automation/internal/promotion"
	"github.com/opx/automation/internal/stores"
)

// Stores groups every persistent collection the services use.
type Stores struct {
	Incidents    *stores.IncidentStore
	Events       *stores.IncidentEventStore
	Idempotency  *stores.IdempotencyStore
	Signals      *stores.SignalStore
	Evidence     *stores.EvidenceStore
	Promotions   *stores.PromotionStore
	Outcomes     *stores.OutcomeStore
	Summaries    *stores.SummaryStore
	Calibrations *stores.CalibrationStore
	Snapshots    *stores.SnapshotStore
	Audits       *stores.AuditStore
	KillSwitch   *stores.KillSwitchStore
}

// App is the wired process: one driver, one adapter per concern, and the
// services on top.
type App struct {
	Config *config.Config
	Logger *zap.Logger

	DB     kvstore.Driver
	Stores Stores

	Metrics monitoring.Publisher
	// MetricsHandler serves GET /metrics; nil unless the Prometheus sink
	// is selected.
	MetricsHandler http.Handler
	Alerts         alerts.Publisher
	Bus            events.Bus
	Invoker        invoker.Invoker

	KillSwitch   *automation.KillSwitch
	Limiter      *automation.RateLimiter
	Orchestrator *automation.Orchestrator
	Triggers     *automation.TriggerService
	Engine       *lifecycle.Engine
	Recorder     *outcomes.Recorder
	Gate         *promotion.Gate
	Analytics    *analytics.Recorder

	closers []func() error
}

// Build wires the app per the configuration. Fails fast: a selected
// adapter that cannot be constructed aborts startup.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{Config: cfg, Logger: logger}

	if err := app.buildDriver(ctx, cfg); err != nil {
		return nil, err
	}
	app.buildStores(cfg)
	if err := app.buildAdapters(ctx, cfg, logger); err != nil {
		return nil, err
	}
	app.buildServices(cfg, logger)
	if err := app.buildInvoker(ctx, cfg, logger); err != nil {
		return nil, err
	}

	app.Triggers = automation.NewTriggerService(automation.TriggerConfig{
		Audits:     app.Stores.Audits,
		KillSwitch: app.KillSwitch,
		Limiter:    app.Limiter,
		Invoker:    app.Invoker,
		Metrics:    app.Metrics,
		Logger:     logger,
	})
	return app, nil
}

// Close releases adapter resources in reverse construction order.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (a *App) buildDriver(ctx context.Context, cfg *config.Config) error {
	switch cfg.Driver {
	case config.DriverMemory:
		a.DB = kvstore.NewMemory()
	case config.DriverDynamoDB:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return fmt.Errorf("load aws config: %w", err)
		}
		a.DB = kvstore.NewDynamo(awsCfg)
	case config.DriverPostgres:
		pg, err := kvstore.NewPostgres(cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, pg.Close)
		a.DB = pg
	default:
		return fmt.Errorf("unknown driver %q", cfg.Driver)
	}
	return nil
}

func (a *App) buildStores(cfg *config.Config) {
	logger := a.Logger
	t := cfg.Tables
	a.Stores = Stores{
		Incidents:    stores.NewIncidentStore(a.DB, t.Incidents, logger),
		Events:       stores.NewIncidentEventStore(a.DB, t.Incidents, logger),
		Idempotency:  stores.NewIdempotencyStore(a.DB, t.Incidents, logger),
		Signals:      stores.NewSignalStore(a.DB, t.Signals, logger),
		Evidence:     stores.NewEvidenceStore(a.DB, t.Evidence, logger),
		Promotions:   stores.NewPromotionStore(a.DB, t.Promotions, logger),
		Outcomes:     stores.NewOutcomeStore(a.DB, t.Outcome, logger),
		Summaries:    stores.NewSummaryStore(a.DB, t.Summary, logger),
		Calibrations: stores.NewCalibrationStore(a.DB, t.Calibration, logger),
		Snapshots:    stores.NewSnapshotStore(a.DB, t.Snapshot, logger),
		Audits:       stores.NewAuditStore(a.DB, t.Audit, logger),
		KillSwitch:   stores.NewKillSwitchStore(a.DB, t.Config, logger),
	}
}

func (a *App) buildAdapters(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	switch cfg.Metrics {
	case config.MetricsMemory:
		a.Metrics = monitoring.NewMemory()
	case config.MetricsPrometheus:
		reg := prometheus.NewRegistry()
		a.Metrics = monitoring.NewPrometheus(reg)
		a.MetricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	case config.MetricsCloudWatch:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return fmt.Errorf("load aws config: %w", err)
		}
		a.Metrics = monitoring.NewCloudWatch(awsCfg, cfg.CloudWatchNamespace, logger)
	default:
		return fmt.Errorf("unknown metrics sink %q", cfg.Metrics)
	}

	switch cfg.Alerts {
	case config.AlertsMemory:
		a.Alerts = alerts.NewMemory()
	case config.AlertsSNS:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return fmt.Errorf("load aws config: %w", err)
		}
		a.Alerts = alerts.NewThrottled(alerts.NewSNS(awsCfg, cfg.AlertTopicARN, logger), 30, logger)
	default:
		return fmt.Errorf("unknown alert sink %q", cfg.Alerts)
	}

	switch cfg.EventBus {
	case config.EventBusMemory:
		a.Bus = events.NewMemory()
	case config.EventBusEventBridge:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return fmt.Errorf("load aws config: %w", err)
		}
		a.Bus = events.NewEventBridge(awsCfg, cfg.EventBusName, logger)
	case config.EventBusPubSub:
		ps, err := events.NewPubSub(ctx, cfg.PubSubProject, cfg.PubSubTopic, logger)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, ps.Close)
		a.Bus = ps
	default:
		return fmt.Errorf("unknown event bus %q", cfg.EventBus)
	}
	return nil
}

func (a *App) buildServices(cfg *config.Config, logger *zap.Logger) {
	a.KillSwitch = automation.NewKillSwitch(a.Stores.KillSwitch, a.Stores.Audits, nil, logger)

	var rateStore automation.RateLimitStore = automation.NewMemoryRateLimitStore()
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:         cfg.RedisAddr,
			DialTimeout:  3 * time.Second,
			ReadTimeout:  2 * time.Second,
			WriteTimeout: 2 * time.Second,
		})
		a.closers = append(a.closers, client.Close)
		rateStore = automation.NewRedisRateLimitStore(client)
	}
	a.Limiter = automation.NewRateLimiter(rateStore, nil, logger)

	extractor := learning.NewExtractor(a.Stores.Outcomes, a.Stores.Summaries, nil, logger)
	calibrator := learning.NewCalibrator(a.Stores.Outcomes, a.Stores.Calibrations, nil, logger)
	snapshotter := learning.NewSnapshotter(learning.SnapshotterConfig{
		Outcomes:     a.Stores.Outcomes,
		Summaries:    a.Stores.Summaries,
		Calibrations: a.Stores.Calibrations,
		Snapshots:    a.Stores.Snapshots,
		Logger:       logger,
	})
	a.Orchestrator = automation.NewOrchestrator(automation.OrchestratorConfig{
		Audits:      a.Stores.Audits,
		KillSwitch:  a.KillSwitch,
		Extractor:   extractor,
		Calibrator:  calibrator,
		Snapshotter: snapshotter,
		Metrics:     a.Metrics,
		Alerts:      a.Alerts,
		Logger:      logger,
	})

	a.Engine = lifecycle.NewEngine(lifecycle.Config{
		Incidents: a.Stores.Incidents,
		Events:    a.Stores.Events,
		Bus:       a.Bus,
		Logger:    logger,
	})
	a.Recorder = outcomes.NewRecorder(outcomes.Config{
		Incidents: a.Stores.Incidents,
		Outcomes:  a.Stores.Outcomes,
		Logger:    logger,
	})
	a.Gate = promotion.NewGate(promotion.Config{
		Evidence:   a.Stores.Evidence,
		Promotions: a.Stores.Promotions,
		Incidents:  a.Stores.Incidents,
		Events:     a.Stores.Events,
		Allowlist:  cfg.ServiceAllowlist,
		Logger:     logger,
	})
	a.Analytics = analytics.NewRecorder(a.Metrics, logger)
}

func (a *App) buildInvoker(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	switch cfg.Invoker {
	case config.InvokerLocal:
		a.Invoker = invoker.NewLocal(func(ctx context.Context, p invoker.Payload) error {
			req, err := automation.RequestFromPayload(p)
			if err != nil {
				return err
			}
			_, err = a.Orchestrator.Run(ctx, req)
			return err
		}, 10*time.Minute, logger)
	case config.InvokerLambda:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return fmt.Errorf("load aws config: %w", err)
		}
		a.Invoker = invoker.NewLambda(awsCfg, map[core.OperationType]string{
			core.OpPatternExtraction: cfg.Functions.PatternExtraction,
			core.OpCalibration:       cfg.Functions.Calibration,
			core.OpSnapshot:          cfg.Functions.Snapshot,
		}, logger)
	case config.InvokerCloudTasks:
		tasks, err := invoker.NewCloudTasks(ctx, cfg.TasksProject, cfg.TasksLocation, cfg.TasksQueue, cfg.WorkerURL, logger)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, tasks.Close)
		a.Invoker = tasks
	default:
		return fmt.Errorf("unknown invoker %q", cfg.Invoker)
	}
	return nil
}
