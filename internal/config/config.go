// Package config loads process configuration: environment first, with an
// optional YAML file underneath. cmd binaries call godotenv.Load() before
// Load(), so a local .env participates like real environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"
)

// Driver / adapter selectors. "memory" everywhere is a fully local run.
const (
	DriverMemory   = "memory"
	DriverDynamoDB = "dynamodb"
	DriverPostgres = "postgres"

	InvokerLocal      = "local"
	InvokerLambda     = "lambda"
	InvokerCloudTasks = "cloudtasks"

	EventBusMemory      = "memory"
	EventBusEventBridge = "eventbridge"
	EventBusPubSub      = "pubsub"

	MetricsMemory     = "memory"
	MetricsCloudWatch = "cloudwatch"
	MetricsPrometheus = "prometheus"

	AlertsMemory = "memory"
	AlertsSNS    = "sns"
)

// Tables groups the per-entity table names.
type Tables struct {
	Audit       string `yaml:"audit"`
	Config      string `yaml:"config"`
	Outcome     string `yaml:"outcome"`
	Calibration string `yaml:"calibration"`
	Summary     string `yaml:"summary"`
	Snapshot    string `yaml:"snapshot"`
	Incidents   string `yaml:"incidents"`
	Evidence    string `yaml:"evidence"`
	Signals     string `yaml:"signals"`
	Promotions  string `yaml:"promotions"`
}

// Functions names the async invocation targets per operation type.
type Functions struct {
	PatternExtraction string `yaml:"pattern_extraction"`
	Calibration       string `yaml:"calibration"`
	Snapshot          string `yaml:"snapshot"`
}

// Config is the process-wide configuration constructed once at startup and
// passed explicitly; there is no module-level state.
type Config struct {
	Env      string `yaml:"env"`
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	Driver   string `yaml:"driver"`
	Invoker  string `yaml:"invoker"`
	EventBus string `yaml:"event_bus"`
	Metrics  string `yaml:"metrics"`
	Alerts   string `yaml:"alerts"`

	Tables    Tables    `yaml:"tables"`
	Functions Functions `yaml:"functions"`

	AlertTopicARN       string `yaml:"alert_topic_arn"`
	CloudWatchNamespace string `yaml:"cloudwatch_namespace"`
	EventBusName        string `yaml:"event_bus_name"`
	Region              string `yaml:"region"`

	PostgresDSN string `yaml:"postgres_dsn"`
	RedisAddr   string `yaml:"redis_addr"`

	PubSubProject string `yaml:"pubsub_project"`
	PubSubTopic   string `yaml:"pubsub_topic"`

	TasksProject  string `yaml:"tasks_project"`
	TasksLocation string `yaml:"tasks_location"`
	TasksQueue    string `yaml:"tasks_queue"`
	WorkerURL     string `yaml:"worker_url"`

	// ServiceAllowlist names the services the promotion gate may promote.
	ServiceAllowlist []string `yaml:"service_allowlist"`

	// SchedulerEnabled turns on the in-process ticker scheduler in
	// cmd/server.
	SchedulerEnabled bool `yaml:"scheduler_enabled"`
}

// Load reads OPX_CONFIG_FILE (when set) and then overlays the environment.
// Environment always wins over the file.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("OPX_CONFIG_FILE"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config file %s: %w", path, err)
		}
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode config file %s: %w", path, err)
		}
	}

	overlayEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Env:                 "production",
		Port:                8080,
		Driver:              DriverMemory,
		Invoker:             InvokerLocal,
		EventBus:            EventBusMemory,
		Metrics:             MetricsPrometheus,
		Alerts:              AlertsMemory,
		CloudWatchNamespace: "LearningOperations",
		Tables: Tables{
			Audit:       "opx-automation-audit",
			Config:      "opx-automation-config",
			Outcome:     "opx-incident-outcomes",
			Calibration: "opx-confidence-calibrations",
			Summary:     "opx-resolution-summaries",
			Snapshot:    "opx-learning-snapshots",
			Incidents:   "opx-incidents",
			Evidence:    "opx-evidence",
			Signals:     "opx-signals",
			Promotions:  "opx-promotions",
		},
	}
}

func overlayEnv(cfg *Config) {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	str("ENVIRONMENT", &cfg.Env)
	str("LOG_LEVEL", &cfg.LogLevel)
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		}
	}

	str("OPX_DRIVER", &cfg.Driver)
	str("OPX_INVOKER", &cfg.Invoker)
	str("OPX_EVENT_BUS", &cfg.EventBus)
	str("OPX_METRICS", &cfg.Metrics)
	str("OPX_ALERTS", &cfg.Alerts)

	str("AUDIT_TABLE_NAME", &cfg.Tables.Audit)
	str("CONFIG_TABLE_NAME", &cfg.Tables.Config)
	str("OUTCOME_TABLE_NAME", &cfg.Tables.Outcome)
	str("CALIBRATION_TABLE_NAME", &cfg.Tables.Calibration)
	str("SUMMARY_TABLE_NAME", &cfg.Tables.Summary)
	str("SNAPSHOT_TABLE_NAME", &cfg.Tables.Snapshot)
	str("INCIDENTS_TABLE_NAME", &cfg.Tables.Incidents)
	str("EVIDENCE_TABLE_NAME", &cfg.Tables.Evidence)
	str("SIGNALS_TABLE_NAME", &cfg.Tables.Signals)
	str("PROMOTIONS_TABLE_NAME", &cfg.Tables.Promotions)

	str("PATTERN_EXTRACTION_FUNCTION_NAME", &cfg.Functions.PatternExtraction)
	str("CALIBRATION_FUNCTION_NAME", &cfg.Functions.Calibration)
	str("SNAPSHOT_FUNCTION_NAME", &cfg.Functions.Snapshot)

	str("ALERT_TOPIC_ARN", &cfg.AlertTopicARN)
	str("CLOUDWATCH_NAMESPACE", &cfg.CloudWatchNamespace)
	str("EVENT_BUS_NAME", &cfg.EventBusName)
	str("AWS_REGION", &cfg.Region)

	str("POSTGRES_DSN", &cfg.PostgresDSN)
	str("REDIS_ADDR", &cfg.RedisAddr)
	str("PUBSUB_PROJECT", &cfg.PubSubProject)
	str("PUBSUB_TOPIC", &cfg.PubSubTopic)
	str("TASKS_PROJECT", &cfg.TasksProject)
	str("TASKS_LOCATION", &cfg.TasksLocation)
	str("TASKS_QUEUE", &cfg.TasksQueue)
	str("WORKER_URL", &cfg.WorkerURL)

	if v := os.Getenv("SERVICE_ALLOWLIST"); v != "" {
		parts := strings.Split(v, ",")
		cfg.ServiceAllowlist = cfg.ServiceAllowlist[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cfg.ServiceAllowlist = append(cfg.ServiceAllowlist, p)
			}
		}
	}
	if v := os.Getenv("SCHEDULER_ENABLED"); v != "" {
		cfg.SchedulerEnabled = v == "true" || v == "1"
	}
}

// Validate fails fast on incoherent combinations instead of letting a
// half-wired process start.
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverMemory:
	case DriverDynamoDB:
		if c.Region == "" {
			return fmt.Errorf("config: driver %q requires AWS_REGION", c.Driver)
		}
	case DriverPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("config: driver %q requires POSTGRES_DSN", c.Driver)
		}
	default:
		return fmt.Errorf("config: unknown driver %q", c.Driver)
	}

	switch c.Invoker {
	case InvokerLocal:
	case InvokerLambda:
		if c.Functions.PatternExtraction == "" || c.Functions.Calibration == "" || c.Functions.Snapshot == "" {
			return fmt.Errorf("config: invoker %q requires all three function names", c.Invoker)
		}
	case InvokerCloudTasks:
		if c.TasksProject == "" || c.TasksLocation == "" || c.TasksQueue == "" || c.WorkerURL == "" {
			return fmt.Errorf("config: invoker %q requires tasks project, location, queue, and worker URL", c.Invoker)
		}
	default:
		return fmt.Errorf("config: unknown invoker %q", c.Invoker)
	}

	switch c.EventBus {
	case EventBusMemory:
	case EventBusEventBridge:
		if c.EventBusName == "" {
			return fmt.Errorf("config: event bus %q requires EVENT_BUS_NAME", c.EventBus)
		}
	case EventBusPubSub:
		if c.PubSubProject == "" || c.PubSubTopic == "" {
			return fmt.Errorf("config: event bus %q requires PUBSUB_PROJECT and PUBSUB_TOPIC", c.EventBus)
		}
	default:
		return fmt.Errorf("config: unknown event bus %q", c.EventBus)
	}

	switch c.Metrics {
	case MetricsMemory, MetricsPrometheus:
	case MetricsCloudWatch:
		if c.CloudWatchNamespace == "" {
			return fmt.Errorf("config: metrics %q requires a namespace", c.Metrics)
		}
	default:
		return fmt.Errorf("config: unknown metrics sink %q", c.Metrics)
	}

	switch c.Alerts {
	case AlertsMemory:
	case AlertsSNS:
		if c.AlertTopicARN == "" {
			return fmt.Errorf("config: alerts %q requires ALERT_TOPIC_ARN", c.Alerts)
		}
	default:
		return fmt.Errorf("config: unknown alert sink %q", c.Alerts)
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	return nil
}

// Redacted returns a copy safe to log: credentials inside DSNs are masked.
func (c *Config) Redacted() Config {
	out := *c
	out.PostgresDSN = redactDSN(c.PostgresDSN)
	return out
}

func redactDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	if at := strings.LastIndex(dsn, "@"); at >= 0 {
		if scheme := strings.Index(dsn, "://"); scheme >= 0 && scheme+3 < at {
			return dsn[:scheme+3] + "***" + dsn[at:]
		}
	}
	return "***"
}
