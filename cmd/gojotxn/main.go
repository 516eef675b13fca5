// Command gojotxn runs one two-phase commit simulation and prints the
// correctness report.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sushant-115/gojotxn/core/cluster"
	"github.com/sushant-115/gojotxn/internal/config"
	"github.com/sushant-115/gojotxn/internal/health"
	"github.com/sushant-115/gojotxn/pkg/logger"
	"github.com/sushant-115/gojotxn/pkg/telemetry"
)

var (
	configPath = flag.String("config", "", "Path to a YAML config file; defaults are used when empty")
	runFor     = flag.Duration("run_for", 0, "Override workload.run_for")
	seed       = flag.Int64("seed", 0, "Override network.seed (0 keeps the configured value)")
	crashProb  = flag.Float64("crash_probability", -1, "Override the crash probability of every node (negative keeps the configured value)")
	grpcAddr   = flag.String("grpc_addr", "", "Override admin.grpc_addr for the gRPC health service")
)

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("CRITICAL: %v", err)
	}

	runID := uuid.NewString()
	zlogger, err := logger.New(cfg.Logger, runID)
	if err != nil {
		log.Fatalf("CRITICAL: Can't initialize zap logger: %v", err)
	}

	code := run(cfg, runID, zlogger)
	_ = zlogger.Sync()
	os.Exit(code)
}

func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return nil, err
		}
	}
	if *runFor > 0 {
		cfg.Workload.RunFor = *runFor
	}
	if *seed != 0 {
		cfg.Network.Seed = *seed
	}
	if *crashProb >= 0 {
		cfg.Crash.Coordinator.Probability = *crashProb
		cfg.Crash.Server.Probability = *crashProb
	}
	if *grpcAddr != "" {
		cfg.Admin.GRPCAddr = *grpcAddr
	}
	return cfg, cfg.Validate()
}

func run(cfg *config.Config, runID string, zlogger *zap.Logger) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel, shutdown, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		zlogger.Error("Failed to initialize telemetry", zap.Error(err))
		return 1
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			zlogger.Warn("Telemetry shutdown failed", zap.Error(err))
		}
	}()

	var reporter *health.Reporter
	if cfg.Admin.GRPCAddr != "" {
		reporter = health.New(zlogger)
		go func() {
			if err := reporter.ListenAndServe(ctx, cfg.Admin.GRPCAddr); err != nil {
				zlogger.Error("Health service stopped", zap.Error(err))
			}
		}()
	}

	c, err := cluster.New(cluster.Options{
		Config:    cfg,
		RunID:     runID,
		Logger:    zlogger,
		Telemetry: tel,
		Health:    reporter,
	})
	if err != nil {
		zlogger.Error("Failed to build cluster", zap.Error(err))
		return 1
	}
	defer c.Close()

	zlogger.Info("Starting simulation",
		zap.Duration("run_for", cfg.Workload.RunFor),
		zap.Duration("settle", cfg.Workload.Settle),
		zap.Float64("coordinator_crash_probability", cfg.Crash.Coordinator.Probability),
		zap.Float64("server_crash_probability", cfg.Crash.Server.Probability))

	start := time.Now()
	res, err := c.Run(ctx)
	if err != nil {
		zlogger.Error("Simulation aborted", zap.Error(err))
		return 1
	}
	committed, attempted := c.Stats()
	zlogger.Info("Simulation finished",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int64("committed", committed),
		zap.Int64("attempted", attempted),
		zap.Bool("ok", res.OK()))

	fmt.Print(res.String())
	if !res.OK() {
		return 2
	}
	return 0
}
