package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kode4food/ledger/internal/cmd/cli"
)

// LogLevelEnv selects the log level: debug|info|warn|error
const LogLevelEnv = "LEDGER_LOG_LEVEL"

func main() {
	logger, err := newLogger()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer cancel()

	if err := cli.NewRoot(logger).ExecuteContext(ctx); err != nil {
		logger.Error("command failed", zap.Error(err))
		cancel()
		os.Exit(1)
	}
}

func newLogger() (*zap.Logger, error) {
	level := zapcore.WarnLevel
	if v := os.Getenv(LogLevelEnv); v != "" {
		parsed, err := zapcore.ParseLevel(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", LogLevelEnv, err)
		}
		level = parsed
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}
