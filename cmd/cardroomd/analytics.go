package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/feltworks/cardroom/internal/analytics"
	"github.com/feltworks/cardroom/internal/server"
)

// AnalyticsCmd runs the hand-stats worker: it consumes hand summaries from
// Kafka and batches them into ClickHouse. Runs separately from the game
// server so analytics backpressure never touches the tables.
type AnalyticsCmd struct {
	Config   string `short:"c" default:"cardroom.hcl" help:"Path to HCL configuration file"`
	LogLevel string `short:"l" help:"Log level (overrides config)"`
}

func (c *AnalyticsCmd) Run() error {
	cfg, err := server.LoadConfig(c.Config)
	if err != nil {
		return err
	}
	if c.LogLevel != "" {
		cfg.Server.LogLevel = c.LogLevel
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return fmt.Errorf("analytics worker requires kafka brokers in config")
	}

	logger := newLogger(cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sink, err := analytics.NewClickHouse(ctx,
		cfg.ClickHouse.Addr,
		cfg.ClickHouse.Database,
		cfg.ClickHouse.Username,
		cfg.ClickHouse.Password,
		logger)
	if err != nil {
		return err
	}
	defer func() { _ = sink.Close() }()

	consumer, err := analytics.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Group, cfg.Kafka.Topic, sink, logger)
	if err != nil {
		return err
	}
	defer func() { _ = consumer.Close() }()

	logger.Info("starting analytics worker",
		"brokers", cfg.Kafka.Brokers,
		"topic", cfg.Kafka.Topic,
		"group", cfg.Kafka.Group,
		"clickhouse", cfg.ClickHouse.Addr)

	return consumer.Run(ctx)
}
