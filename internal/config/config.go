package config

import (
	"encoding/json"
	"math"
	"os"
	"strconv"
	"strings"

	"hybrid-learning-bot-go/internal/models"
)

// Defaults returns the built-in configuration, matching the documented
// defaults for every tunable.
func Defaults() *models.Config {
	return &models.Config{
		Symbols:            []string{"BTCUSDT", "ETHUSDT"},
		KlineInterval:      "5m",
		DataDir:            "data",
		HTTPPort:           8090,
		CollectIntervalSec: 30,
		OnlineIntervalSec:  60,
		BatchRetrainHours:  6,
		WBatch:             0.7,
		WOnline:            0.3,
		BufferCapacity:     1000,
		OnlineRingSize:     200,
		SnapshotEvery:      50,
		FeatureSchemaVer:   1,
		CollectionActive:   true,
		LogConfig: models.LogConfig{
			Level:  "info",
			Output: "console",
		},
	}
}

// LoadConfig reads the JSON config file (when present), applies environment
// overrides, and validates the result. A missing file is not an error; the
// defaults plus environment are enough to run.
func LoadConfig(path string) (*models.Config, error) {
	cfg := Defaults()

	if path != "" {
		file, err := os.Open(path)
		if err == nil {
			decoder := json.NewDecoder(file)
			if derr := decoder.Decode(cfg); derr != nil {
				file.Close()
				return nil, models.WrapAppError(models.KindConfigError, derr, "parsing %s", path)
			}
			file.Close()
		} else if !os.IsNotExist(err) {
			return nil, models.WrapAppError(models.KindConfigError, err, "opening %s", path)
		}
	}

	applyEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides file values with the enumerated environment keys.
func applyEnv(cfg *models.Config) {
	if v := os.Getenv("SYMBOLS"); v != "" {
		var symbols []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				symbols = append(symbols, strings.ToUpper(s))
			}
		}
		if len(symbols) > 0 {
			cfg.Symbols = symbols
		}
	}
	envInt("COLLECT_INTERVAL_SEC", &cfg.CollectIntervalSec)
	envInt("ONLINE_UPDATE_INTERVAL_SEC", &cfg.OnlineIntervalSec)
	envInt("BATCH_RETRAIN_HOURS", &cfg.BatchRetrainHours)
	envFloat("W_BATCH", &cfg.WBatch)
	envFloat("W_ONLINE", &cfg.WOnline)
	envInt("BUFFER_CAPACITY", &cfg.BufferCapacity)
	envInt("ONLINE_RING_SIZE", &cfg.OnlineRingSize)
	envInt("SNAPSHOT_EVERY", &cfg.SnapshotEvery)
	envInt("FEATURE_SCHEMA_VERSION", &cfg.FeatureSchemaVer)
	envInt("HTTP_PORT", &cfg.HTTPPort)
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("KLINE_INTERVAL"); v != "" {
		cfg.KlineInterval = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogConfig.Level = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

// Validate enforces the config invariants. The ensemble weights must sum to
// one; everything else must simply be positive and non-empty.
func Validate(cfg *models.Config) error {
	if len(cfg.Symbols) == 0 {
		return models.NewAppError(models.KindConfigError, "SYMBOLS must name at least one symbol")
	}
	if math.Abs(cfg.WBatch+cfg.WOnline-1.0) > 1e-9 {
		return models.NewAppError(models.KindConfigError,
			"W_BATCH (%.3f) + W_ONLINE (%.3f) must equal 1.0", cfg.WBatch, cfg.WOnline)
	}
	if cfg.WBatch < 0 || cfg.WOnline < 0 {
		return models.NewAppError(models.KindConfigError, "ensemble weights must be non-negative")
	}
	if cfg.CollectIntervalSec <= 0 || cfg.OnlineIntervalSec <= 0 || cfg.BatchRetrainHours <= 0 {
		return models.NewAppError(models.KindConfigError, "intervals must be positive")
	}
	if cfg.BufferCapacity <= 0 {
		return models.NewAppError(models.KindConfigError, "BUFFER_CAPACITY must be positive")
	}
	if cfg.OnlineRingSize <= 0 || cfg.SnapshotEvery <= 0 {
		return models.NewAppError(models.KindConfigError, "ONLINE_RING_SIZE and SNAPSHOT_EVERY must be positive")
	}
	if cfg.FeatureSchemaVer <= 0 {
		return models.NewAppError(models.KindConfigError, "FEATURE_SCHEMA_VERSION must be a positive integer")
	}
	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		return models.NewAppError(models.KindConfigError, "http_port out of range: %d", cfg.HTTPPort)
	}
	return nil
}
