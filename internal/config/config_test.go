package config

import (
	"os"
	"path/filepath"
	"testing"

	"hybrid-learning-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Symbols)
	assert.Equal(t, "5m", cfg.KlineInterval)
	assert.Equal(t, 8090, cfg.HTTPPort)
	assert.Equal(t, 30, cfg.CollectIntervalSec)
	assert.Equal(t, 60, cfg.OnlineIntervalSec)
	assert.Equal(t, 6, cfg.BatchRetrainHours)
	assert.Equal(t, 0.7, cfg.WBatch)
	assert.Equal(t, 0.3, cfg.WOnline)
	assert.Equal(t, 1000, cfg.BufferCapacity)
	assert.Equal(t, 200, cfg.OnlineRingSize)
	assert.Equal(t, 50, cfg.SnapshotEvery)
	assert.Equal(t, 1, cfg.FeatureSchemaVer)
	assert.True(t, cfg.CollectionActive)
	require.NoError(t, Validate(cfg))
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, Defaults().Symbols, cfg.Symbols)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"symbols": ["BNBUSDT"],
		"http_port": 9000,
		"w_batch": 0.6,
		"w_online": 0.4
	}`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"BNBUSDT"}, cfg.Symbols)
	assert.Equal(t, 9000, cfg.HTTPPort)
	assert.Equal(t, 0.6, cfg.WBatch)
	assert.Equal(t, 50, cfg.SnapshotEvery, "untouched fields keep defaults")
}

func TestLoadConfigRejectsBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{broken`), 0o644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindConfigError))
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SYMBOLS", "solusdt, adausdt")
	t.Setenv("HTTP_PORT", "7070")
	t.Setenv("W_BATCH", "0.5")
	t.Setenv("W_ONLINE", "0.5")
	t.Setenv("COLLECT_INTERVAL_SEC", "15")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, []string{"SOLUSDT", "ADAUSDT"}, cfg.Symbols)
	assert.Equal(t, 7070, cfg.HTTPPort)
	assert.Equal(t, 0.5, cfg.WBatch)
	assert.Equal(t, 15, cfg.CollectIntervalSec)
}

func TestValidateWeightSum(t *testing.T) {
	cfg := Defaults()
	cfg.WBatch = 0.8

	err := Validate(cfg)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindConfigError))
}

func TestValidatePositives(t *testing.T) {
	for _, mutate := range []func(*models.Config){
		func(c *models.Config) { c.Symbols = nil },
		func(c *models.Config) { c.CollectIntervalSec = 0 },
		func(c *models.Config) { c.BufferCapacity = -1 },
		func(c *models.Config) { c.OnlineRingSize = 0 },
		func(c *models.Config) { c.FeatureSchemaVer = 0 },
		func(c *models.Config) { c.HTTPPort = 70000 },
	} {
		cfg := Defaults()
		mutate(cfg)
		err := Validate(cfg)
		require.Error(t, err)
		assert.True(t, models.IsKind(err, models.KindConfigError))
	}
}
