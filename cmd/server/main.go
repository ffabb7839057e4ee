package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chuanjin/obdbridge/internal/api"
	"github.com/chuanjin/obdbridge/internal/config"
	"github.com/chuanjin/obdbridge/internal/emulator"
	"github.com/chuanjin/obdbridge/internal/ingest"
	"github.com/chuanjin/obdbridge/internal/logger"
	"github.com/chuanjin/obdbridge/internal/mcp"
	"github.com/chuanjin/obdbridge/internal/obd"
	"github.com/chuanjin/obdbridge/internal/script"
	"github.com/chuanjin/obdbridge/internal/stream"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	envFile := flag.String("env", ".env", "environment file to load")
	mcpMode := flag.Bool("mcp", false, "serve the MCP tools over stdio instead of HTTP")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Debug, cfg.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *mcpMode); err != nil {
		logger.Fatal("Server stopped with error", zap.Error(err))
	}
	logger.Info("Shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, mcpMode bool) error {
	scripts := script.NewManager(cfg.ScriptDir, logger.Named("script"))
	n, err := scripts.LoadDir()
	if err != nil {
		return fmt.Errorf("loading scripts from %s: %w", cfg.ScriptDir, err)
	}
	registry := scripts.Overlay(obd.DefaultRegistry())
	logger.Info("PID registry ready", zap.Int("builtin", obd.DefaultRegistry().Len()), zap.Int("scripts", n), zap.Int("total", registry.Len()))

	decoder := obd.NewDecoder(registry, obd.WithStrictDLC(cfg.StrictDLC))
	dispatcher := ingest.NewDefaultDispatcher(decoder)

	if mcpMode {
		return mcp.NewServer(decoder, dispatcher, cfg.EmulatedPIDs).Run(ctx)
	}

	handlerCfg := stream.HandlerConfig{
		Interval:     cfg.TickInterval,
		Baud:         cfg.DefaultBaud,
		WriteTimeout: cfg.WriteTimeout,
	}
	driftHandler := stream.NewHandler("stream", func() stream.Generator {
		return emulator.NewDrift(cfg.StreamSources, nil)
	}, handlerCfg, logger.Named("stream"))
	telemetryHandler := stream.NewHandler("telemetry", telemetryFactory(cfg), handlerCfg, logger.Named("stream"))

	server := api.NewServer(api.ServerConfig{
		Addr:         cfg.HTTPAddr,
		Decoder:      decoder,
		Dispatcher:   dispatcher,
		EmulatedPIDs: cfg.EmulatedPIDs,
		Stream:       driftHandler,
		Telemetry:    telemetryHandler,
	}, logger.Named("api"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Stop(shutdownCtx)
	})

	if cfg.TCPAddr != "" {
		tcp := ingest.NewTCPServer(cfg.TCPAddr, dispatcher, logger.Named("ingest"))
		g.Go(func() error { return tcp.ListenAndServe(gctx) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// telemetryFactory builds one telemetry model per peer. The session's loop
// paces Step, so the emulator's own interval is left unset.
func telemetryFactory(cfg *config.Config) stream.GeneratorFactory {
	return func() stream.Generator {
		return emulator.NewTelemetry(nil,
			emulator.WithSources(cfg.PowertrainSource, cfg.BodySource),
			emulator.WithLogger(logger.Named("telemetry")))
	}
}
