// ====================================
// File: cmd/bot/main.go
// ====================================
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-sniper/internal/bot"
	"github.com/rovshanmuradov/solana-sniper/internal/config"
	"github.com/rovshanmuradov/solana-sniper/internal/logger"
)

const defaultConfigPath = "configs/config.json"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "💥 %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Secrets usually live in .env next to the binary.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	cfg, err := config.LoadConfig(configPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logCfg := logger.DefaultConfig()
	logCfg.LogFile = cfg.LogFile
	logCfg.Debug = cfg.DebugLogging
	log, err := logger.New(logCfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync(log) }()

	rpcs := make([]string, 0, len(cfg.RPCList))
	for _, rpc := range cfg.RPCList {
		rpcs = append(rpcs, config.MaskedRPC(rpc))
	}
	log.Info("Configuration loaded", zap.Strings("rpc_list", rpcs), zap.String("feed_url", cfg.FeedURL))

	runner, err := bot.NewRunner(cfg, log)
	if err != nil {
		return fmt.Errorf("initialize bot: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		log.Info("📡 Shutdown signal received")
	}()

	return runner.Run(ctx)
}

// configPath returns SNIPER_CONFIG, the default file when present, or empty
// to load from the environment only.
func configPath() string {
	if path := os.Getenv("SNIPER_CONFIG"); path != "" {
		return path
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return defaultConfigPath
	}
	return ""
}
