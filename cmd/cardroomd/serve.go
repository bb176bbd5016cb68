package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/feltworks/cardroom/internal/analytics"
	"github.com/feltworks/cardroom/internal/game"
	"github.com/feltworks/cardroom/internal/metrics"
	"github.com/feltworks/cardroom/internal/queue"
	"github.com/feltworks/cardroom/internal/server"
	"github.com/feltworks/cardroom/internal/store"
)

// ServeCmd runs the game server.
type ServeCmd struct {
	Config         string   `short:"c" default:"cardroom.hcl" help:"Path to HCL configuration file"`
	Listen         string   `short:"a" help:"Listen address (overrides config)"`
	LogLevel       string   `short:"l" help:"Log level (overrides config)"`
	AllowedOrigins []string `help:"Allowed websocket origins (overrides config)"`
	StoreDriver    string   `help:"Store driver, memory or postgres (overrides config)"`
	StoreDSN       string   `name:"store-dsn" help:"Postgres DSN (overrides config)"`
}

func (c *ServeCmd) Run() error {
	cfg, err := server.LoadConfig(c.Config)
	if err != nil {
		return err
	}
	if c.Listen != "" {
		cfg.Server.Listen = c.Listen
	}
	if c.LogLevel != "" {
		cfg.Server.LogLevel = c.LogLevel
	}
	if len(c.AllowedOrigins) > 0 {
		cfg.Server.AllowedOrigins = c.AllowedOrigins
	}
	if c.StoreDriver != "" {
		cfg.Store.Driver = c.StoreDriver
	}
	if c.StoreDSN != "" {
		cfg.Store.DSN = c.StoreDSN
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cfg.Server.LogLevel)

	st, err := store.Open(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	var publisher analytics.Publisher = analytics.Nop{}
	if cfg.Kafka.Enabled {
		kafka, err := analytics.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		if err != nil {
			return err
		}
		defer func() { _ = kafka.Close() }()
		publisher = kafka
	}

	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)
	hub := server.NewHub(logger, m, nil)
	variants := cfg.EngineVariants()

	registry := game.NewRegistry(game.Options{
		Store:     st,
		Broadcast: hub,
		Variants:  variants,
		Logger:    logger,
		Metrics:   m,
		Publisher: publisher,
		ReturnURL: cfg.Server.ReturnURL,
	})
	q := queue.New(queue.Options{
		Store:     st,
		Registry:  registry,
		Broadcast: hub,
		Variants:  variants,
		Logger:    logger,
		Metrics:   m,
	})

	srv := server.New(server.Options{
		Config:   cfg,
		Logger:   logger,
		Registry: registry,
		Queue:    q,
		Hub:      hub,
		Gatherer: promReg,
		Version:  version,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting cardroom server",
		"addr", cfg.Server.Listen,
		"store", cfg.Store.Driver,
		"variants", len(cfg.Variants),
		"kafka", cfg.Kafka.Enabled,
		"version", version)

	return srv.Run(ctx)
}
