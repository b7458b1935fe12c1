// ====================================
// File: cmd/bot/main.go
// ====================================
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/dlmm-bot/internal/config"
	"github.com/rovshanmuradov/dlmm-bot/internal/keeper"
	"github.com/rovshanmuradov/dlmm-bot/internal/logger"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logCfg := logger.DefaultConfig()
	logCfg.Development = cfg.DebugLogging
	logCfg.LogFile = cfg.LogFile
	log, err := logger.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	zl := log.WithComponent("keeper")
	zl.Info("Starting DLMM position keeper",
		zap.String("pool", cfg.PoolAddress),
		zap.String("rpc", cfg.RPCURL))

	runner, err := keeper.NewRunner(cfg, zl)
	if err != nil {
		zl.Fatal("Failed to initialize keeper", zap.Error(err))
	}

	if err := runner.Run(context.Background()); err != nil {
		zl.Error("Keeper exited with error", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}
}
