package orchestrator

import (
	"context"
	"math"
	"testing"

	"hybrid-learning-bot-go/internal/buffer"
	"hybrid-learning-bot-go/internal/collector"
	"hybrid-learning-bot-go/internal/ml"
	"hybrid-learning-bot-go/internal/models"
	"hybrid-learning-bot-go/internal/persistence"
	"hybrid-learning-bot-go/internal/registry"
	"hybrid-learning-bot-go/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopSource struct{}

func (noopSource) FetchLatest(_ context.Context, _ string, _ int) ([]models.Candle, error) {
	return nil, nil
}
func (noopSource) FetchRange(_ context.Context, _ string, _, _ int64) ([]models.Candle, error) {
	return nil, nil
}

func testConfig() *models.Config {
	return &models.Config{
		Symbols:            []string{"BTCUSDT"},
		KlineInterval:      "5m",
		HTTPPort:           0,
		CollectIntervalSec: 30,
		OnlineIntervalSec:  60,
		BatchRetrainHours:  6,
		WBatch:             0.7,
		WOnline:            0.3,
		BufferCapacity:     100,
		OnlineRingSize:     50,
		SnapshotEvery:      10,
		FeatureSchemaVer:   1,
		CollectionActive:   false,
	}
}

func fixture(t *testing.T) (*Orchestrator, *store.CandleStore, persistence.Repository) {
	t.Helper()

	cfg := testConfig()
	st, err := store.Open(":memory:", 1)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	repo := persistence.NewMemoryRepository()
	buf, err := buffer.New(repo, cfg.BufferCapacity)
	require.NoError(t, err)

	reg, err := registry.Open(t.TempDir(), 1)
	require.NoError(t, err)

	col := collector.New(noopSource{}, st, cfg.Symbols, false)
	trainer := ml.NewTrainer(st, reg, cfg)

	orch, err := New(cfg, st, col, buf, reg, trainer, repo)
	require.NoError(t, err)
	return orch, st, repo
}

func seedCandles(t *testing.T, st *store.CandleStore, n int) {
	t.Helper()
	price := 100.0
	for i := 0; i < n; i++ {
		move := math.Sin(float64(i)/4) * 2
		open := price
		closeP := price + move
		require.NoError(t, st.Upsert(models.Candle{
			Symbol: "BTCUSDT", TS: int64(i) * 300_000,
			Open: open, High: math.Max(open, closeP) + 0.5,
			Low: math.Min(open, closeP) - 0.5, Close: closeP, Volume: 8,
		}))
		price = closeP
	}
}

func trainingSample(label int) models.TrainingSample {
	var vec models.FeatureVector
	if label == 1 {
		vec[0] = 3
	} else {
		vec[0] = -3
	}
	return models.TrainingSample{Features: vec, Label: label, Weight: 1, Source: models.SourceHistorical}
}

func TestPredictUnknownSymbol(t *testing.T) {
	orch, _, _ := fixture(t)

	_, err := orch.Predict("DOGEUSDT")
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindUnknownSymbol))
}

func TestPredictWithoutAnyModel(t *testing.T) {
	orch, st, _ := fixture(t)
	seedCandles(t, st, 120)

	_, err := orch.Predict("BTCUSDT")
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindUnavailable))
}

func TestPredictShortWindowUnavailable(t *testing.T) {
	orch, st, _ := fixture(t)
	seedCandles(t, st, 10)

	_, err := orch.Predict("BTCUSDT")
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindUnavailable))
}

func TestOnlineOnlyPrediction(t *testing.T) {
	orch, st, _ := fixture(t)
	seedCandles(t, st, 120)

	for i := 0; i < 40; i++ {
		orch.SubmitSample(trainingSample(i % 2))
	}
	applied := orch.OnlineUpdate(0)
	assert.Equal(t, 40, applied)

	pred, err := orch.Predict("BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, pred.PBatch, "no batch model is active")
	assert.Equal(t, 3, pred.ModelCount)
	assert.InDelta(t, pred.POnlineBloc, pred.P, 1e-12)
	assert.GreaterOrEqual(t, pred.Confidence, 0.0)
	assert.LessOrEqual(t, pred.Confidence, 1.0)
	assert.Contains(t, []int{0, 1}, pred.Label)
}

func TestOnlineUpdateDrainsBuffer(t *testing.T) {
	orch, _, _ := fixture(t)

	for i := 0; i < 20; i++ {
		orch.SubmitSample(trainingSample(1))
	}
	assert.Equal(t, 12, orch.OnlineUpdate(12))
	assert.Equal(t, 8, orch.OnlineUpdate(0))
	assert.Zero(t, orch.OnlineUpdate(0))
}

func TestSubmitSampleDefaultsWeight(t *testing.T) {
	orch, _, _ := fixture(t)

	size := orch.SubmitSample(models.TrainingSample{
		Features: models.FeatureVector{},
		Label:    1,
		Source:   models.SourceTradeOutcome,
	})
	assert.Equal(t, 1, size)

	size = orch.SubmitSample(models.TrainingSample{
		Features: models.FeatureVector{},
		Label:    0,
		Weight:   2.5,
		Source:   models.SourceHistorical,
	})
	assert.Equal(t, 2, size)

	samples := orch.buf.Drain(0)
	require.Len(t, samples, 2)
	assert.Equal(t, 1.0, samples[0].Weight, "missing weight defaults to 1")
	assert.Equal(t, 2.5, samples[1].Weight, "explicit weight is kept")
}

func TestStartBatchWhileRunning(t *testing.T) {
	orch, _, _ := fixture(t)

	orch.batchSlot <- struct{}{}
	defer func() { <-orch.batchSlot }()

	_, err := orch.StartBatch(context.Background())
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindAlreadyRunning))
}

func TestResetOnline(t *testing.T) {
	orch, _, _ := fixture(t)

	for i := 0; i < 10; i++ {
		orch.SubmitSample(trainingSample(1))
	}
	orch.OnlineUpdate(0)

	status := orch.Status()
	require.Equal(t, int64(10), status.Online[models.OnlineSGD].SamplesSeen)

	require.NoError(t, orch.ResetOnline("sgd"))
	status = orch.Status()
	assert.Zero(t, status.Online[models.OnlineSGD].SamplesSeen)
	assert.Equal(t, int64(10), status.Online[models.OnlinePA].SamplesSeen)

	require.NoError(t, orch.ResetOnline(""))
	status = orch.Status()
	assert.Zero(t, status.Online[models.OnlinePA].SamplesSeen)

	err := orch.ResetOnline("bogus")
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindUnknownKind))
}

func TestSnapshotsRestoreAcrossRestart(t *testing.T) {
	cfg := testConfig()
	st, err := store.Open(":memory:", 1)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	repo := persistence.NewMemoryRepository()
	reg, err := registry.Open(t.TempDir(), 1)
	require.NoError(t, err)

	newOrch := func() *Orchestrator {
		buf, berr := buffer.New(repo, cfg.BufferCapacity)
		require.NoError(t, berr)
		col := collector.New(noopSource{}, st, cfg.Symbols, false)
		o, oerr := New(cfg, st, col, buf, reg, ml.NewTrainer(st, reg, cfg), repo)
		require.NoError(t, oerr)
		return o
	}

	first := newOrch()
	for i := 0; i < 30; i++ {
		first.SubmitSample(trainingSample(i % 2))
	}
	first.OnlineUpdate(0)
	first.modelMu.Lock()
	for kind, learner := range first.learners {
		first.snapshotLocked(kind, learner)
	}
	first.modelMu.Unlock()

	second := newOrch()
	status := second.Status()
	for _, kind := range models.OnlineKinds {
		assert.Equal(t, int64(30), status.Online[kind].SamplesSeen, "learner %s restored", kind)
	}
}

func TestSchemaBumpRetiresActiveBatchModel(t *testing.T) {
	st, err := store.Open(":memory:", 1)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	seedCandles(t, st, 120)

	regDir := t.TempDir()
	reg, err := registry.Open(regDir, 1)
	require.NoError(t, err)

	// Promote a small forest trained under schema 1.
	var X []models.FeatureVector
	var y []int
	for i := 0; i < 40; i++ {
		label := i % 2
		var vec models.FeatureVector
		if label == 1 {
			vec[0] = 3
		} else {
			vec[0] = -3
		}
		X = append(X, vec)
		y = append(y, label)
	}
	forest := ml.TrainForest(X, y, ml.ForestParams{Trees: 5, MaxDepth: 3, MinLeaf: 2, Subsample: 1.0}, 1)
	artifact, err := ml.EncodeModel(forest)
	require.NoError(t, err)
	id, err := reg.Save(models.ModelVersion{
		Kind: models.KindRF, TrainedAt: 1, Accuracy: 0.9, SchemaVersion: 1,
	}, artifact)
	require.NoError(t, err)
	require.NoError(t, reg.Promote(models.KindRF, id))

	newOrch := func(schema int, reg *registry.Registry) *Orchestrator {
		cfg := testConfig()
		cfg.FeatureSchemaVer = schema
		repo := persistence.NewMemoryRepository()
		buf, berr := buffer.New(repo, cfg.BufferCapacity)
		require.NoError(t, berr)
		col := collector.New(noopSource{}, st, cfg.Symbols, false)
		o, oerr := New(cfg, st, col, buf, reg, ml.NewTrainer(st, reg, cfg), repo)
		require.NoError(t, oerr)
		return o
	}

	pred, err := newOrch(1, reg).Predict("BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, pred.PBatch, "active model serves under its own schema")

	// Restart with the schema bumped: the stale version must stop serving.
	bumped, err := registry.Open(regDir, 2)
	require.NoError(t, err)
	_, err = newOrch(2, bumped).Predict("BTCUSDT")
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindUnavailable))
}

func TestStatusShape(t *testing.T) {
	orch, _, _ := fixture(t)

	status := orch.Status()
	assert.Len(t, status.Online, len(models.OnlineKinds))
	assert.Empty(t, status.Batch)
	assert.False(t, status.Collector.Active)
	assert.Equal(t, 1, status.SchemaVersion)
	assert.Zero(t, status.Buffer.Size)
}
