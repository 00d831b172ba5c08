package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var version = "0.0.1"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "carrier",
	Short:   "Enviora Carrier Engine - multi-carrier quoting, booking, tracking, and webhook service",
	Version: version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the carrier integration server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	// Load configuration
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Initialize telemetry
	logger, err := initLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	tracerShutdown, err := initTracer(ctx, cfg)
	if err != nil {
		logger.Warn("Failed to initialize tracer", zap.Error(err))
	} else {
		defer tracerShutdown(ctx)
	}

	// Assemble the engine: registry, vault, breaker, limiter, stores,
	// aggregator, selector, webhook pipeline, HTTP server.
	eng, err := initEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer eng.cleanup()

	logger.Info("Starting Enviora Carrier Engine",
		zap.Int("port", cfg.Port),
		zap.String("version", cfg.Version),
		zap.String("environment", cfg.Environment),
		zap.Int("carriers", eng.registry.Count()),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.server.Run(gctx)
	})
	g.Go(func() error {
		eng.monitor.Run(gctx)
		return nil
	})
	g.Go(func() error {
		eng.pipeline.Run(gctx)
		return nil
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
