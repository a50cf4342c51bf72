// Package main provides the entry point for the dispatch backend server:
// an HTTP/WebSocket API exposing HMM-seeded battery dispatch optimization
// and windowed backtests.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/voltdesk/dispatch-backend/internal/api"
	"github.com/voltdesk/dispatch-backend/internal/config"
	"github.com/voltdesk/dispatch-backend/internal/hmm"
	"github.com/voltdesk/dispatch-backend/internal/optimizer"
	"github.com/voltdesk/dispatch-backend/internal/pipeline"
	"github.com/voltdesk/dispatch-backend/internal/seed"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	host := flag.String("host", "", "Server host (overrides config)")
	port := flag.Int("port", 0, "Server port (overrides config)")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Logger is not up yet.
		panic(err)
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger := setupLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting dispatch backend",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
	)

	pipelineCfg := &pipeline.Config{
		HMM: &hmm.Config{
			MaxIterations: cfg.HMM.MaxIterations,
			Tolerance:     cfg.HMM.Tolerance,
		},
		Optimizer: &optimizer.Config{
			PopulationSize:   cfg.Optimizer.PopulationSize,
			MaxGenerations:   cfg.Optimizer.MaxGenerations,
			MutationFactor:   cfg.Optimizer.MutationFactor,
			CrossoverProb:    cfg.Optimizer.CrossoverProb,
			StallGenerations: cfg.Optimizer.StallGenerations,
			StallEpsilon:     1e-6,
			Seed:             cfg.Optimizer.Seed,
		},
		Seed:       seed.DefaultConfig(),
		SocPenalty: pipeline.DefaultConfig().SocPenalty,
	}

	server := api.NewServer(logger, &cfg.Server, pipelineCfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("server exited", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		logger.Error("error stopping server", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
