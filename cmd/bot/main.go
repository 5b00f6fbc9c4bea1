package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"hybrid-learning-bot-go/internal/api"
	"hybrid-learning-bot-go/internal/buffer"
	"hybrid-learning-bot-go/internal/collector"
	"hybrid-learning-bot-go/internal/config"
	"hybrid-learning-bot-go/internal/logger"
	"hybrid-learning-bot-go/internal/ml"
	"hybrid-learning-bot-go/internal/models"
	"hybrid-learning-bot-go/internal/orchestrator"
	"hybrid-learning-bot-go/internal/persistence"
	"hybrid-learning-bot-go/internal/pricesource"
	"hybrid-learning-bot-go/internal/registry"
	"hybrid-learning-bot-go/internal/reporter"
	"hybrid-learning-bot-go/internal/store"

	"github.com/joho/godotenv"
)

// Exit codes: 0 clean shutdown, 2 configuration error, 3 storage error.
const (
	exitConfig  = 2
	exitStorage = 3
)

func main() {
	configPath := flag.String("config", "config.json", "path to the config file")
	reportMode := flag.Bool("report", false, "print the model report and exit")
	flag.Parse()

	// A default logger so config loading can already log; re-initialized
	// with the configured settings right after.
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	if err := godotenv.Load(); err == nil {
		logger.S().Info("loaded environment overrides from .env")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Errorf("loading configuration: %v", err)
		os.Exit(exitConfig)
	}

	logger.InitLogger(cfg.LogConfig)
	defer logger.S().Sync()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.S().Errorf("creating data dir: %v", err)
		os.Exit(exitStorage)
	}

	candleStore, err := store.Open(filepath.Join(cfg.DataDir, "candles.db"), cfg.FeatureSchemaVer)
	if err != nil {
		logger.S().Errorf("opening candle store: %v", err)
		os.Exit(exitStorage)
	}
	defer candleStore.Close()

	reg, err := registry.Open(filepath.Join(cfg.DataDir, "models"), cfg.FeatureSchemaVer)
	if err != nil {
		logger.S().Errorf("opening model registry: %v", err)
		os.Exit(exitStorage)
	}

	repo, err := persistence.NewBadgerRepository(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		logger.S().Errorf("opening state database: %v", err)
		os.Exit(exitStorage)
	}
	defer repo.Close()

	buf, err := buffer.New(repo, cfg.BufferCapacity)
	if err != nil {
		logger.S().Errorf("restoring training buffer: %v", err)
		os.Exit(exitStorage)
	}

	source := pricesource.NewBinanceSource(cfg.KlineInterval)
	col := collector.New(source, candleStore, cfg.Symbols, cfg.CollectionActive)
	trainer := ml.NewTrainer(candleStore, reg, cfg)

	orch, err := orchestrator.New(cfg, candleStore, col, buf, reg, trainer, repo)
	if err != nil {
		logger.S().Errorf("building orchestrator: %v", err)
		os.Exit(exitStorage)
	}

	if *reportMode {
		reporter.PrintReport(orch.Status(), orch.ListModels())
		return
	}

	orch.Start()

	server := api.NewServer(cfg, orch)
	go func() {
		if serr := server.Start(); serr != nil {
			logger.S().Fatalf("http server: %v", serr)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.S().Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.S().Warnf("http shutdown: %v", err)
	}
	orch.Stop()

	reporter.PrintReport(orch.Status(), orch.ListModels())
	logger.S().Info("service stopped")
}
