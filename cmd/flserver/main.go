// Package main runs the federated-learning service layer: the HTTP API, the
// ledger-invocation gateway behind it, and the optional scheduled
// aggregation rounds.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/vpsa-network/fl-service-layer/internal/config"
	"github.com/vpsa-network/fl-service-layer/internal/coordinator"
	"github.com/vpsa-network/fl-service-layer/internal/fabric"
	"github.com/vpsa-network/fl-service-layer/internal/metrics"
	"github.com/vpsa-network/fl-service-layer/internal/server"
)

func main() {
	configPath := flag.String("config", "config/flserver.yaml", "Path to YAML configuration")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load configuration")
	}
	if level, err := zerolog.ParseLevel(cfg.Server.LogLevel); err == nil && cfg.Server.LogLevel != "" {
		log = log.Level(level)
	}

	transport, err := fabric.NewCLITransport(cfg.FabricTransport(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("create fabric transport")
	}

	m := metrics.New()
	gateway := fabric.NewGateway(transport, fabric.Options{
		InvokeTimeout: cfg.Server.InvokeTimeout(),
		QueryTimeout:  cfg.Server.QueryTimeout(),
		Recorder:      m,
	}, log)
	coord := coordinator.New(gateway, m, log)

	if spec := cfg.Server.AggregationSchedule; spec != "" {
		sched, err := coordinator.NewScheduler(spec, coord, gateway, log)
		if err != nil {
			log.Fatal().Err(err).Msg("create aggregation scheduler")
		}
		sched.Start()
		defer sched.Stop()
		log.Info().Str("schedule", spec).Msg("aggregation scheduler running")
	}

	srv := server.New(server.Config{
		ListenAddr:         cfg.Server.ListenAddr,
		Chaincode:          cfg.Fabric.Chaincode,
		RateLimitPerSecond: cfg.Server.RateLimitPerSecond,
		RateLimitBurst:     cfg.Server.RateLimitBurst,
	}, gateway, coord, m, log)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server failed")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown incomplete")
	}
}
