// Command server runs the opx automation HTTP surface and, when enabled,
// the in-process calendar scheduler.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/opx/automation/internal/api"
	"github.com/opx/automation/internal/automation"
	"github.com/opx/automation/internal/config"
	"github.com/opx/automation/internal/infra"
	"github.com/opx/automation/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
		os.Exit(1)
	}
}

func run() error {
	// A local .env participates like real environment; absence is fine.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := infra.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	logger.Info("starting",
		zap.String("env", cfg.Env),
		zap.String("driver", cfg.Driver),
		zap.String("invoker", cfg.Invoker),
		zap.Bool("scheduler", cfg.SchedulerEnabled))

	if cfg.SchedulerEnabled {
		scheduler := automation.NewScheduler(app.Orchestrator, time.Minute, nil, logger)
		go scheduler.Start(ctx)
	}

	server := api.NewServer(api.Config{
		Triggers:    app.Triggers,
		KillSwitch:  app.KillSwitch,
		Engine:      app.Engine,
		Recorder:    app.Recorder,
		Incidents:   app.Stores.Incidents,
		Audits:      app.Stores.Audits,
		Idempotency: app.Stores.Idempotency,
		Analytics:   app.Analytics,
		Metrics:     app.MetricsHandler,
		Logger:      logger,
	})
	return server.Start(ctx, cfg.Port)
}
