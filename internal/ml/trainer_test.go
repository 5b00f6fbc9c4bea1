package ml

import (
	"context"
	"math"
	"testing"

	"hybrid-learning-bot-go/internal/models"
	"hybrid-learning-bot-go/internal/registry"
	"hybrid-learning-bot-go/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trainerFixture(t *testing.T, candles int) (*Trainer, *registry.Registry) {
	t.Helper()

	st, err := store.Open(":memory:", 1)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	price := 100.0
	for i := 0; i < candles; i++ {
		move := math.Sin(float64(i)/5)*1.5 + math.Cos(float64(i)/11)
		open := price
		closeP := price + move
		require.NoError(t, st.Upsert(models.Candle{
			Symbol: "BTCUSDT",
			TS:     int64(i) * 300_000,
			Open:   open,
			High:   math.Max(open, closeP) + 0.3,
			Low:    math.Min(open, closeP) - 0.3,
			Close:  closeP,
			Volume: 20 + float64(i%5),
		}))
		price = closeP
	}

	reg, err := registry.Open(t.TempDir(), 1)
	require.NoError(t, err)

	cfg := &models.Config{Symbols: []string{"BTCUSDT"}, FeatureSchemaVer: 1}
	return NewTrainer(st, reg, cfg), reg
}

func TestBuildDatasetShape(t *testing.T) {
	trainer, _ := trainerFixture(t, 400)

	ds, err := trainer.BuildDataset()
	require.NoError(t, err)

	// One row per bar from the warmup boundary, minus the final unlabelled bar.
	assert.Len(t, ds.X, len(ds.Y))
	assert.GreaterOrEqual(t, len(ds.X), minDatasetRows)
	for _, label := range ds.Y {
		assert.Contains(t, []int{0, 1}, label)
	}
}

func TestBuildDatasetNeedsHistory(t *testing.T) {
	trainer, _ := trainerFixture(t, 100)

	_, err := trainer.BuildDataset()
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindInsufficientHistory))
}

func TestTrainAllSavesAndPromotes(t *testing.T) {
	trainer, reg := trainerFixture(t, 450)

	report, err := trainer.TrainAll(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Positive(t, report.Rows)

	kinds := make(map[models.ModelKind]KindResult)
	for _, res := range report.Results {
		kinds[res.Kind] = res
	}
	require.Contains(t, kinds, models.KindRF)
	require.Contains(t, kinds, models.KindGB)
	require.Contains(t, kinds, models.KindVoting)

	for _, kind := range []models.ModelKind{models.KindRF, models.KindGB, models.KindVoting} {
		res := kinds[kind]
		assert.True(t, res.Promoted, "first run promotes %s", kind)
		active := reg.GetActive(kind)
		require.NotNil(t, active)
		assert.Equal(t, res.FileID, active.FileID)

		data, lerr := reg.LoadArtifact(kind, active.FileID)
		require.NoError(t, lerr)
		_, derr := DecodeModel(kind, data)
		assert.NoError(t, derr)
	}
}
