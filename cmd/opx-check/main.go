// Command opx-check verifies a deployment before traffic: configuration
// loads, the driver answers, every table is reachable, and the kill-switch
// record reads. It prints one line per check and exits non-zero on any
// failure, so it slots into release pipelines as a gate.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/opx/automation/internal/config"
	"github.com/opx/automation/internal/infra"
	"github.com/opx/automation/internal/kvstore"
	"github.com/opx/automation/internal/logging"
)

type check struct {
	name string
	err  error
}

func main() {
	if ok := run(); !ok {
		os.Exit(1)
	}
}

func run() bool {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	results := []check{}
	fail := func(name string, err error) bool {
		results = append(results, check{name, err})
		report(results)
		return false
	}

	cfg, err := config.Load()
	if err != nil {
		return fail("config", err)
	}
	results = append(results, check{"config", nil})

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fail("logging", err)
	}
	defer logger.Sync()

	fmt.Printf("env=%s driver=%s invoker=%s event_bus=%s metrics=%s alerts=%s\n\n",
		cfg.Env, cfg.Driver, cfg.Invoker, cfg.EventBus, cfg.Metrics, cfg.Alerts)

	app, err := infra.Build(ctx, cfg, logger)
	if err != nil {
		return fail("wiring", err)
	}
	defer app.Close()
	results = append(results, check{"wiring", nil})

	if pinger, ok := app.DB.(kvstore.Pinger); ok {
		results = append(results, check{"driver ping", pinger.Ping(ctx)})
	}

	for _, table := range []string{
		cfg.Tables.Audit,
		cfg.Tables.Config,
		cfg.Tables.Outcome,
		cfg.Tables.Calibration,
		cfg.Tables.Summary,
		cfg.Tables.Snapshot,
		cfg.Tables.Incidents,
		cfg.Tables.Evidence,
		cfg.Tables.Signals,
		cfg.Tables.Promotions,
	} {
		results = append(results, check{"table " + table, probeTable(ctx, app, table)})
	}

	state, err := app.KillSwitch.Status(ctx)
	results = append(results, check{"kill-switch read", err})
	if err == nil {
		fmt.Printf("kill switch active: %v\n\n", state.Active())
	}

	return report(results)
}

// probeTable issues a point read at a key no writer uses. Not-found proves
// the table answers; any other error means it does not.
func probeTable(ctx context.Context, app *infra.App, table string) error {
	_, err := app.DB.Get(ctx, table, "opx-check#probe", "v1")
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil
	}
	return err
}

func report(results []check) bool {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	ok := true
	for _, c := range results {
		status := "OK"
		detail := ""
		if c.err != nil {
			ok = false
			status = "FAIL"
			detail = c.err.Error()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", c.name, status, detail)
	}
	w.Flush()
	if ok {
		fmt.Println("\nall checks passed")
	} else {
		fmt.Println("\nchecks failed")
	}
	return ok
}
