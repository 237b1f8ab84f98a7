package main

import (
	"time"

	"github.com/dukex/conduit/pkg/engine"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func logFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (text, json)",
			Value:   "text",
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
	}
}

func eventBusFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (none, gochannel, kafka)",
			Value:   "none",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma separated Kafka brokers",
			Value:   "localhost:9092",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
	}
}

func runtimeFlags() []cli.Flag {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:     "database-url",
			Usage:    "Database connection URL for persistence (postgres:// or a directory)",
			Required: true,
			Sources:  cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "budget-store-url",
			Usage:   "Redis URL for budget counters (defaults to the main persistence)",
			Sources: cli.EnvVars("BUDGET_STORE_URL"),
		},
		&cli.FloatFlag{
			Name:    "daily-limit-usd",
			Usage:   "Default daily spend limit per user, 0 disables the window",
			Sources: cli.EnvVars("DEFAULT_DAILY_LIMIT_USD"),
		},
		&cli.FloatFlag{
			Name:    "monthly-limit-usd",
			Usage:   "Default monthly spend limit per user, 0 disables the window",
			Sources: cli.EnvVars("DEFAULT_MONTHLY_LIMIT_USD"),
		},
		&cli.FloatFlag{
			Name:    "alert-threshold-percent",
			Usage:   "Spend percentage of a limit that logs a warning",
			Value:   80,
			Sources: cli.EnvVars("BUDGET_ALERT_THRESHOLD_PERCENT"),
		},
		&cli.StringFlag{
			Name:    "openai-api-key",
			Usage:   "API key for the OpenAI provider",
			Sources: cli.EnvVars("OPENAI_API_KEY"),
		},
		&cli.StringFlag{
			Name:    "openai-base-url",
			Usage:   "Base URL of an OpenAI compatible API",
			Sources: cli.EnvVars("OPENAI_BASE_URL"),
		},
		&cli.BoolFlag{
			Name:    "llm-simulation",
			Usage:   "Answer llm_agent nodes with simulated responses",
			Sources: cli.EnvVars("LLM_SIMULATION"),
		},
		&cli.StringFlag{
			Name:    "smtp-addr",
			Usage:   "SMTP server host:port for email actions",
			Sources: cli.EnvVars("SMTP_ADDR"),
		},
		&cli.StringFlag{
			Name:    "smtp-from",
			Usage:   "Sender address for email actions",
			Sources: cli.EnvVars("SMTP_FROM"),
		},
		&cli.StringFlag{
			Name:    "smtp-username",
			Usage:   "SMTP username",
			Sources: cli.EnvVars("SMTP_USERNAME"),
		},
		&cli.StringFlag{
			Name:    "smtp-password",
			Usage:   "SMTP password",
			Sources: cli.EnvVars("SMTP_PASSWORD"),
		},
		&cli.DurationFlag{
			Name:    "node-timeout",
			Usage:   "Timeout of one node attempt when the node sets none",
			Value:   engine.DefaultNodeTimeout,
			Sources: cli.EnvVars("NODE_TIMEOUT"),
		},
		&cli.IntFlag{
			Name:    "max-parallel",
			Usage:   "Nodes of one execution running at the same time",
			Value:   engine.DefaultMaxParallel,
			Sources: cli.EnvVars("MAX_PARALLEL"),
		},
		&cli.BoolFlag{
			Name:    "tracing",
			Usage:   "Export OpenTelemetry traces over OTLP/HTTP",
			Sources: cli.EnvVars("OTEL_ENABLED"),
		},
		&cli.DurationFlag{
			Name:  "shutdown-timeout",
			Usage: "Time allowed for flushing traces and closing stores",
			Value: 10 * time.Second,
		},
	}

	flags = append(flags, eventBusFlags()...)

	return append(flags, logFlags()...)
}
