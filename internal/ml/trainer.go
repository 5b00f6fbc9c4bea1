package ml

import (
	"context"
	"math/rand"
	"time"

	"hybrid-learning-bot-go/internal/features"
	"hybrid-learning-bot-go/internal/logger"
	"hybrid-learning-bot-go/internal/models"
	"hybrid-learning-bot-go/internal/registry"
	"hybrid-learning-bot-go/internal/store"
)

const (
	// datasetWindow bounds the history behind each feature row.
	datasetWindow = 100
	// minDatasetRows is the smallest dataset a batch run accepts.
	minDatasetRows = 300
	// searchTrials caps the random hyperparameter search per kind.
	searchTrials = 20
	// searchTimeCap caps the whole search wall time per kind.
	searchTimeCap = 10 * time.Minute
	// cvFolds for the search; the final holdout stays untouched by CV.
	cvFolds = 3
	// holdoutFrac is the chronological tail reserved for accuracy scoring.
	holdoutFrac = 0.2
)

// Trainer runs batch training: dataset assembly, hyperparameter search,
// holdout evaluation, then save-and-promote through the registry.
type Trainer struct {
	store *store.CandleStore
	reg   *registry.Registry
	cfg   *models.Config
	now   func() time.Time
}

// NewTrainer wires a trainer over the candle store and the model registry.
func NewTrainer(st *store.CandleStore, reg *registry.Registry, cfg *models.Config) *Trainer {
	return &Trainer{store: st, reg: reg, cfg: cfg, now: time.Now}
}

// KindResult is the outcome of one kind in a batch run.
type KindResult struct {
	Kind     models.ModelKind `json:"kind"`
	FileID   string           `json:"file_id,omitempty"`
	Accuracy float64          `json:"accuracy"`
	Promoted bool             `json:"promoted"`
	Error    string           `json:"error,omitempty"`
}

// Report summarizes one batch training run.
type Report struct {
	StartedAt  int64        `json:"started_at"`
	FinishedAt int64        `json:"finished_at"`
	Rows       int          `json:"rows"`
	Results    []KindResult `json:"results"`
}

// dataset is a labelled feature table in chronological order.
type dataset struct {
	X []models.FeatureVector
	Y []int
}

// BuildDataset assembles the labelled table from stored candles. Each row is
// the feature vector at bar i labelled by whether bar i+1 closed higher.
func (t *Trainer) BuildDataset() (*dataset, error) {
	ds := &dataset{}
	for _, symbol := range t.cfg.Symbols {
		candles, err := t.store.Since(symbol, 0)
		if err != nil {
			return nil, err
		}
		for i := features.MinWindow - 1; i < len(candles)-1; i++ {
			start := i - datasetWindow + 1
			if start < 0 {
				start = 0
			}
			vec, ferr := features.Extract(candles[start : i+1])
			if ferr != nil {
				continue
			}
			label := 0
			if candles[i+1].Close > candles[i].Close {
				label = 1
			}
			ds.X = append(ds.X, vec)
			ds.Y = append(ds.Y, label)
		}
	}
	if len(ds.X) < minDatasetRows {
		return nil, models.NewAppError(models.KindInsufficientHistory,
			"batch training needs %d rows, built %d", minDatasetRows, len(ds.X))
	}
	return ds, nil
}

// TrainAll runs the full pipeline for rf, gb, then the voting wrapper over
// whatever promoted. Per-kind failures are recorded in the report; only
// dataset assembly aborts the whole run.
func (t *Trainer) TrainAll(ctx context.Context) (*Report, error) {
	report := &Report{StartedAt: t.now().UnixMilli()}

	ds, err := t.BuildDataset()
	if err != nil {
		return nil, err
	}
	report.Rows = len(ds.X)

	split := len(ds.X) - int(holdoutFrac*float64(len(ds.X)))
	trainX, trainY := ds.X[:split], ds.Y[:split]
	holdX, holdY := ds.X[split:], ds.Y[split:]

	trained := make(map[models.ModelKind]BatchModel)
	for _, kind := range []models.ModelKind{models.KindRF, models.KindGB} {
		result := t.trainKind(ctx, kind, trainX, trainY, holdX, holdY)
		report.Results = append(report.Results, result)
		if result.Promoted {
			if model, lerr := t.loadActive(kind); lerr == nil {
				trained[kind] = model
			}
		}
	}

	if len(trained) > 0 {
		report.Results = append(report.Results, t.trainVoting(trained, holdX, holdY))
	}

	report.FinishedAt = t.now().UnixMilli()
	return report, nil
}

func (t *Trainer) trainKind(ctx context.Context, kind models.ModelKind, trainX []models.FeatureVector, trainY []int, holdX []models.FeatureVector, holdY []int) KindResult {
	result := KindResult{Kind: kind}

	params, err := t.search(ctx, kind, trainX, trainY)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	model := fit(kind, trainX, trainY, params, t.now().UnixNano())
	result.Accuracy = accuracy(model, holdX, holdY)

	artifact, err := EncodeModel(model)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	fileID, err := t.reg.Save(models.ModelVersion{
		Kind:          kind,
		TrainedAt:     t.now().UnixMilli(),
		Accuracy:      result.Accuracy,
		SchemaVersion: t.cfg.FeatureSchemaVer,
		Hyperparams:   params,
	}, artifact)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.FileID = fileID

	if perr := t.reg.Promote(kind, fileID); perr != nil {
		// A blocked promotion is a normal outcome; the version stays
		// recorded and the old active keeps serving.
		logger.S().Infof("batch %s version %s not promoted: %v", kind, fileID, perr)
		result.Error = perr.Error()
		return result
	}
	result.Promoted = true
	return result
}

func (t *Trainer) trainVoting(members map[models.ModelKind]BatchModel, holdX []models.FeatureVector, holdY []int) KindResult {
	result := KindResult{Kind: models.KindVoting}

	ordered := make([]BatchModel, 0, len(members))
	for _, kind := range []models.ModelKind{models.KindRF, models.KindGB} {
		if m, ok := members[kind]; ok {
			ordered = append(ordered, m)
		}
	}
	voting := NewVoting(ordered)
	result.Accuracy = accuracy(voting, holdX, holdY)

	artifact, err := EncodeModel(voting)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	fileID, err := t.reg.Save(models.ModelVersion{
		Kind:          models.KindVoting,
		TrainedAt:     t.now().UnixMilli(),
		Accuracy:      result.Accuracy,
		SchemaVersion: t.cfg.FeatureSchemaVer,
	}, artifact)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.FileID = fileID

	if perr := t.reg.Promote(models.KindVoting, fileID); perr != nil {
		logger.S().Infof("voting version %s not promoted: %v", fileID, perr)
		result.Error = perr.Error()
		return result
	}
	result.Promoted = true
	return result
}

// loadActive decodes the active artifact for a kind.
func (t *Trainer) loadActive(kind models.ModelKind) (BatchModel, error) {
	active := t.reg.GetActive(kind)
	if active == nil {
		return nil, models.NewAppError(models.KindUnavailable, "no active %s version", kind)
	}
	data, err := t.reg.LoadArtifact(kind, active.FileID)
	if err != nil {
		return nil, err
	}
	return DecodeModel(kind, data)
}

// search runs a bounded random search with k-fold cross validation and
// returns the best hyperparameters found. The first sampled trial always
// completes, so even an expired budget yields a usable set.
func (t *Trainer) search(ctx context.Context, kind models.ModelKind, X []models.FeatureVector, y []int) (map[string]float64, error) {
	rng := rand.New(rand.NewSource(t.now().UnixNano()))
	deadline := t.now().Add(searchTimeCap)

	var best map[string]float64
	bestScore := -1.0

	for trial := 0; trial < searchTrials; trial++ {
		if trial > 0 && (t.now().After(deadline) || ctx.Err() != nil) {
			break
		}
		params := sampleParams(kind, rng)
		score := crossValidate(kind, X, y, params, rng.Int63())
		if score > bestScore {
			bestScore = score
			best = params
		}
	}
	if best == nil {
		return nil, models.NewAppError(models.KindUnavailable, "hyperparameter search produced no candidate for %s", kind)
	}
	logger.S().Infof("search for %s done: cv accuracy %.4f with %v", kind, bestScore, best)
	return best, nil
}

func sampleParams(kind models.ModelKind, rng *rand.Rand) map[string]float64 {
	switch kind {
	case models.KindRF:
		return map[string]float64{
			"trees":       float64(40 + rng.Intn(80)),
			"max_depth":   float64(3 + rng.Intn(6)),
			"min_leaf":    float64(2 + rng.Intn(8)),
			"feature_sub": float64(4 + rng.Intn(5)),
			"subsample":   0.6 + 0.4*rng.Float64(),
		}
	default: // gb
		return map[string]float64{
			"trees":         float64(40 + rng.Intn(80)),
			"max_depth":     float64(2 + rng.Intn(4)),
			"min_leaf":      float64(2 + rng.Intn(8)),
			"learning_rate": 0.02 + 0.18*rng.Float64(),
			"subsample":     0.6 + 0.4*rng.Float64(),
		}
	}
}

func fit(kind models.ModelKind, X []models.FeatureVector, y []int, params map[string]float64, seed int64) BatchModel {
	if kind == models.KindRF {
		return TrainForest(X, y, ForestParams{
			Trees:      int(params["trees"]),
			MaxDepth:   int(params["max_depth"]),
			MinLeaf:    int(params["min_leaf"]),
			FeatureSub: int(params["feature_sub"]),
			Subsample:  params["subsample"],
		}, seed)
	}
	return TrainGBT(X, y, GBTParams{
		Trees:        int(params["trees"]),
		MaxDepth:     int(params["max_depth"]),
		MinLeaf:      int(params["min_leaf"]),
		LearningRate: params["learning_rate"],
		Subsample:    params["subsample"],
	}, seed)
}

// crossValidate scores params with contiguous folds, preserving time order
// inside each training split.
func crossValidate(kind models.ModelKind, X []models.FeatureVector, y []int, params map[string]float64, seed int64) float64 {
	n := len(X)
	foldSize := n / cvFolds
	if foldSize == 0 {
		return 0
	}

	total := 0.0
	for fold := 0; fold < cvFolds; fold++ {
		lo := fold * foldSize
		hi := lo + foldSize
		if fold == cvFolds-1 {
			hi = n
		}

		trainX := make([]models.FeatureVector, 0, n-(hi-lo))
		trainY := make([]int, 0, n-(hi-lo))
		trainX = append(trainX, X[:lo]...)
		trainX = append(trainX, X[hi:]...)
		trainY = append(trainY, y[:lo]...)
		trainY = append(trainY, y[hi:]...)

		model := fit(kind, trainX, trainY, params, seed+int64(fold))
		total += accuracy(model, X[lo:hi], y[lo:hi])
	}
	return total / cvFolds
}

func accuracy(m BatchModel, X []models.FeatureVector, y []int) float64 {
	if len(X) == 0 {
		return 0
	}
	hits := 0
	for i, row := range X {
		if labelOf(m.PredictProb(row)) == y[i] {
			hits++
		}
	}
	return float64(hits) / float64(len(X))
}
