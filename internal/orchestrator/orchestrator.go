// Package orchestrator owns the service's state and runs its loops: the
// collection tick, the online update pass, and the scheduled batch retrain.
// All mutations flow through the single event loop; predictions are served
// from caller goroutines under a read lock.
package orchestrator

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"hybrid-learning-bot-go/internal/buffer"
	"hybrid-learning-bot-go/internal/collector"
	"hybrid-learning-bot-go/internal/features"
	"hybrid-learning-bot-go/internal/logger"
	"hybrid-learning-bot-go/internal/metrics"
	"hybrid-learning-bot-go/internal/ml"
	"hybrid-learning-bot-go/internal/models"
	"hybrid-learning-bot-go/internal/persistence"
	"hybrid-learning-bot-go/internal/registry"
	"hybrid-learning-bot-go/internal/store"

	"github.com/jxskiss/base62"
)

const (
	// onlineBacklogTrigger runs an early online pass when the buffer grows
	// this large between ticks.
	onlineBacklogTrigger = 50
	// snapshotMaxAge forces a snapshot even on a quiet stream.
	snapshotMaxAge = 5 * time.Minute
	// minOnlineWeight floors a cold learner's vote so it keeps
	// participating while it warms up.
	minOnlineWeight = 0.05
	// shutdownGrace bounds how long Stop waits for the loop to drain.
	shutdownGrace = 5 * time.Second

	snapshotKeyPrefix = "online/"
	snapshotKeySuffix = ".snapshot"
)

// Event is pushed to registered sinks (the websocket hub) on every new bar
// and every served prediction.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// BatchJob describes a running or finished batch training run.
type BatchJob struct {
	ID         string     `json:"job_id"`
	StartedAt  int64      `json:"started_at"`
	FinishedAt int64      `json:"finished_at,omitempty"`
	Report     *ml.Report `json:"report,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Orchestrator wires every subsystem together.
type Orchestrator struct {
	cfg       *models.Config
	store     *store.CandleStore
	collector *collector.Collector
	buf       *buffer.TrainingBuffer
	reg       *registry.Registry
	trainer   *ml.Trainer
	repo      persistence.Repository

	// modelMu guards the learners and the batch model cache. The event loop
	// writes; Predict and Status read.
	modelMu  sync.RWMutex
	learners map[models.OnlineKind]ml.OnlineLearner
	batch    map[models.ModelKind]ml.BatchModel

	sinceSnap map[models.OnlineKind]int
	lastSnap  map[models.OnlineKind]time.Time

	batchSlot chan struct{}
	jobMu     sync.Mutex
	lastJob   *BatchJob

	sinkMu sync.Mutex
	sinks  []func(Event)

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds the orchestrator and restores online learner snapshots. A
// snapshot that fails to decode resets that learner instead of failing
// startup.
func New(cfg *models.Config, st *store.CandleStore, col *collector.Collector, buf *buffer.TrainingBuffer, reg *registry.Registry, trainer *ml.Trainer, repo persistence.Repository) (*Orchestrator, error) {
	o := &Orchestrator{
		cfg:       cfg,
		store:     st,
		collector: col,
		buf:       buf,
		reg:       reg,
		trainer:   trainer,
		repo:      repo,
		learners:  make(map[models.OnlineKind]ml.OnlineLearner),
		batch:     make(map[models.ModelKind]ml.BatchModel),
		sinceSnap: make(map[models.OnlineKind]int),
		lastSnap:  make(map[models.OnlineKind]time.Time),
		batchSlot: make(chan struct{}, 1),
		done:      make(chan struct{}),
	}

	for _, kind := range models.OnlineKinds {
		learner, err := ml.NewOnlineLearner(kind, cfg.OnlineRingSize)
		if err != nil {
			return nil, err
		}
		o.restoreLearner(kind, learner)
		o.learners[kind] = learner
		o.lastSnap[kind] = time.Now()
	}

	o.reloadBatch()
	return o, nil
}

func (o *Orchestrator) restoreLearner(kind models.OnlineKind, learner ml.OnlineLearner) {
	var raw []byte
	ok, err := o.repo.GetJSON(snapshotKeyPrefix+string(kind)+snapshotKeySuffix, &raw)
	if err != nil || !ok {
		if err != nil {
			logger.S().Warnf("reading %s snapshot: %v", kind, err)
		}
		return
	}
	if rerr := learner.Restore(raw); rerr != nil {
		logger.S().Warnf("snapshot for %s is unreadable, starting fresh: %v", kind, rerr)
		learner.Reset()
		return
	}
	logger.S().Infof("restored %s learner (%d samples seen)", kind, learner.SamplesSeen())
}

// reloadBatch refreshes the in-memory cache of active batch models.
func (o *Orchestrator) reloadBatch() {
	loaded := make(map[models.ModelKind]ml.BatchModel)
	for _, kind := range models.BatchKinds {
		active := o.reg.GetActive(kind)
		if active == nil {
			continue
		}
		data, err := o.reg.LoadArtifact(kind, active.FileID)
		if err != nil {
			logger.S().Warnf("loading active %s artifact: %v", kind, err)
			continue
		}
		model, err := ml.DecodeModel(kind, data)
		if err != nil {
			logger.S().Warnf("decoding active %s artifact: %v", kind, err)
			continue
		}
		loaded[kind] = model
	}

	o.modelMu.Lock()
	o.batch = loaded
	o.modelMu.Unlock()
}

// RegisterSink subscribes fn to orchestrator events. Sinks must not block.
func (o *Orchestrator) RegisterSink(fn func(Event)) {
	o.sinkMu.Lock()
	defer o.sinkMu.Unlock()
	o.sinks = append(o.sinks, fn)
}

func (o *Orchestrator) emit(event Event) {
	o.sinkMu.Lock()
	sinks := make([]func(Event), len(o.sinks))
	copy(sinks, o.sinks)
	o.sinkMu.Unlock()
	for _, fn := range sinks {
		fn(event)
	}
}

// Start launches the event loop.
func (o *Orchestrator) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.collector.Bootstrap()
	go o.loop(ctx)
	logger.S().Info("orchestrator started")
}

// Stop shuts the loop down, waits up to the grace period for in-flight work,
// and snapshots every learner.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	select {
	case <-o.done:
	case <-time.After(shutdownGrace):
		logger.S().Warn("event loop did not drain within the grace period")
	}

	o.modelMu.Lock()
	for kind, learner := range o.learners {
		o.snapshotLocked(kind, learner)
	}
	o.modelMu.Unlock()
	logger.S().Info("orchestrator stopped")
}

func (o *Orchestrator) loop(ctx context.Context) {
	defer close(o.done)

	collectTicker := time.NewTicker(o.cfg.CollectInterval())
	onlineTicker := time.NewTicker(o.cfg.OnlineInterval())
	batchTicker := time.NewTicker(o.cfg.BatchInterval())
	defer collectTicker.Stop()
	defer onlineTicker.Stop()
	defer batchTicker.Stop()

	// Prime the stores before the first tick fires.
	o.collector.CollectTick(ctx)

	for {
		select {
		case <-ctx.Done():
			// Apply whatever is buffered so the final snapshots include it.
			o.onlinePass(0)
			return
		case <-collectTicker.C:
			o.collector.CollectTick(ctx)
		case bar := <-o.collector.Events():
			o.handleNewBar(bar)
		case <-onlineTicker.C:
			o.onlinePass(0)
		case <-batchTicker.C:
			if _, err := o.StartBatch(ctx); err != nil {
				logger.S().Warnf("scheduled batch run skipped: %v", err)
			}
		}
	}
}

// handleNewBar labels the bar preceding the freshly closed one and buffers
// the resulting sample.
func (o *Orchestrator) handleNewBar(bar models.NewBar) {
	o.emit(Event{Type: "new_bar", Payload: bar})

	candles, err := o.store.LastN(bar.Symbol, o.datasetWindow()+1)
	if err != nil {
		logger.S().Warnf("loading candles for %s: %v", bar.Symbol, err)
		return
	}
	n := len(candles)
	if n < features.MinWindow+1 || candles[n-1].TS != bar.TS {
		return
	}

	vec, err := features.Extract(candles[:n-1])
	if err != nil {
		return
	}
	label := 0
	if candles[n-1].Close > candles[n-2].Close {
		label = 1
	}
	o.buf.Push(models.TrainingSample{
		Features: vec,
		Label:    label,
		Weight:   1,
		Source:   models.SourceHistorical,
		TS:       candles[n-2].TS,
	})

	if o.buf.Size() >= onlineBacklogTrigger {
		o.onlinePass(0)
	}
}

func (o *Orchestrator) datasetWindow() int {
	// Enough history for the slowest indicator to be meaningful.
	return 100
}

// SubmitSample accepts an externally labelled sample and returns the buffer
// size after the push. A sample without an explicit weight counts as 1.
func (o *Orchestrator) SubmitSample(sample models.TrainingSample) int {
	if sample.Weight <= 0 {
		sample.Weight = 1
	}
	if sample.TS == 0 {
		sample.TS = time.Now().UnixMilli()
	}
	o.buf.Push(sample)
	return o.buf.Size()
}

// OnlineUpdate drains up to maxN samples through every learner. It is also
// the handler behind POST /train/online/update.
func (o *Orchestrator) OnlineUpdate(maxN int) int {
	return o.onlinePass(maxN)
}

func (o *Orchestrator) onlinePass(maxN int) int {
	samples := o.buf.Drain(maxN)
	if len(samples) == 0 {
		return 0
	}

	o.modelMu.Lock()
	defer o.modelMu.Unlock()

	for _, sample := range samples {
		for _, learner := range o.learners {
			learner.Learn(sample)
		}
		metrics.OnlineUpdatesTotal.Inc()
	}
	for kind, learner := range o.learners {
		o.sinceSnap[kind] += len(samples)
		if o.sinceSnap[kind] >= o.cfg.SnapshotEvery || time.Since(o.lastSnap[kind]) >= snapshotMaxAge {
			o.snapshotLocked(kind, learner)
		}
	}
	logger.S().Debugf("applied %d samples to %d learners", len(samples), len(o.learners))
	return len(samples)
}

func (o *Orchestrator) snapshotLocked(kind models.OnlineKind, learner ml.OnlineLearner) {
	raw, err := learner.Snapshot()
	if err != nil {
		logger.S().Errorf("snapshotting %s: %v", kind, err)
		return
	}
	if err := o.repo.SetJSON(snapshotKeyPrefix+string(kind)+snapshotKeySuffix, raw); err != nil {
		logger.S().Errorf("persisting %s snapshot: %v", kind, err)
		return
	}
	o.sinceSnap[kind] = 0
	o.lastSnap[kind] = time.Now()
}

// ResetOnline reverts one learner (or all, for an empty kind) to its initial
// state and clears its snapshot.
func (o *Orchestrator) ResetOnline(kind string) error {
	o.modelMu.Lock()
	defer o.modelMu.Unlock()

	if kind == "" {
		for k, learner := range o.learners {
			learner.Reset()
			o.clearSnapshotLocked(k)
		}
		logger.S().Info("all online learners reset")
		return nil
	}

	learner, ok := o.learners[models.OnlineKind(kind)]
	if !ok {
		return models.NewAppError(models.KindUnknownKind, "unknown online learner %q", kind)
	}
	learner.Reset()
	o.clearSnapshotLocked(models.OnlineKind(kind))
	logger.S().Infof("online learner %s reset", kind)
	return nil
}

func (o *Orchestrator) clearSnapshotLocked(kind models.OnlineKind) {
	if err := o.repo.Delete(snapshotKeyPrefix + string(kind) + snapshotKeySuffix); err != nil {
		logger.S().Warnf("clearing %s snapshot: %v", kind, err)
	}
	o.sinceSnap[kind] = 0
}

// StartBatch launches a batch training run in the background and returns its
// job ID. A second call while one is running fails with AlreadyRunning.
func (o *Orchestrator) StartBatch(ctx context.Context) (string, error) {
	select {
	case o.batchSlot <- struct{}{}:
	default:
		return "", models.NewAppError(models.KindAlreadyRunning, "a batch training run is already in progress")
	}

	jobID := newJobID()
	job := &BatchJob{ID: jobID, StartedAt: time.Now().UnixMilli()}
	o.jobMu.Lock()
	o.lastJob = job
	o.jobMu.Unlock()

	go func() {
		defer func() { <-o.batchSlot }()

		logger.S().Infof("batch training run %s started", jobID)
		report, err := o.trainer.TrainAll(ctx)

		o.jobMu.Lock()
		job.FinishedAt = time.Now().UnixMilli()
		if err != nil {
			job.Error = err.Error()
		} else {
			job.Report = report
		}
		o.jobMu.Unlock()

		if err != nil {
			metrics.BatchRetrainsTotal.WithLabelValues("failure").Inc()
			logger.S().Warnf("batch training run %s failed: %v", jobID, err)
			return
		}
		metrics.BatchRetrainsTotal.WithLabelValues("success").Inc()
		o.reloadBatch()
		o.emit(Event{Type: "batch_done", Payload: job})
		logger.S().Infof("batch training run %s finished on %d rows", jobID, report.Rows)
	}()

	return jobID, nil
}

// LastBatchJob returns a copy of the most recent batch job, or nil.
func (o *Orchestrator) LastBatchJob() *BatchJob {
	o.jobMu.Lock()
	defer o.jobMu.Unlock()
	if o.lastJob == nil {
		return nil
	}
	job := *o.lastJob
	return &job
}

func newJobID() string {
	raw := make([]byte, 8)
	if _, err := rand.Read(raw); err != nil {
		return base62.EncodeToString([]byte(time.Now().String()))
	}
	return base62.EncodeToString(raw)
}

// Predict serves the ensemble prediction for one symbol.
func (o *Orchestrator) Predict(symbol string) (*models.Prediction, error) {
	if !o.knownSymbol(symbol) {
		return nil, models.NewAppError(models.KindUnknownSymbol, "symbol %q is not collected", symbol)
	}

	candles, err := o.store.LastN(symbol, o.datasetWindow())
	if err != nil {
		return nil, err
	}
	vec, err := features.Extract(candles)
	if err != nil {
		// A short window is a serving problem here, not a caller mistake:
		// the collector simply has not gathered enough bars yet.
		if models.IsKind(err, models.KindInsufficientHistory) {
			return nil, models.WrapAppError(models.KindUnavailable, err,
				"only %d candles collected for %s", len(candles), symbol)
		}
		return nil, err
	}

	o.modelMu.RLock()
	defer o.modelMu.RUnlock()

	pOnline, onlineCount := o.onlineBlocLocked(vec)
	batchModel := o.servingBatchLocked()

	if batchModel == nil && onlineCount == 0 {
		return nil, models.NewAppError(models.KindUnavailable, "no trained model can serve yet")
	}

	pred := &models.Prediction{TS: time.Now().UnixMilli()}
	switch {
	case batchModel == nil:
		pred.P = pOnline
		pred.POnlineBloc = pOnline
		pred.ModelCount = onlineCount
	case onlineCount == 0:
		pb := batchModel.PredictProb(vec)
		pred.P = pb
		pred.PBatch = &pb
		pred.ModelCount = 1
	default:
		pb := batchModel.PredictProb(vec)
		pred.P = o.cfg.WBatch*pb + o.cfg.WOnline*pOnline
		pred.PBatch = &pb
		pred.POnlineBloc = pOnline
		pred.ModelCount = onlineCount + 1
	}

	if pred.P > 0.5 {
		pred.Label = 1
	}
	pred.Confidence = 2 * abs(pred.P-0.5)

	metrics.PredictionsTotal.WithLabelValues(symbol).Inc()
	o.emit(Event{Type: "prediction", Payload: map[string]interface{}{
		"symbol":     symbol,
		"prediction": pred,
	}})
	return pred, nil
}

// onlineBlocLocked combines the online learners weighted by recent accuracy,
// floored so cold learners still vote. Learners that have seen nothing are
// excluded.
func (o *Orchestrator) onlineBlocLocked(vec models.FeatureVector) (float64, int) {
	var weightSum, probSum float64
	count := 0
	for _, learner := range o.learners {
		if learner.SamplesSeen() == 0 {
			continue
		}
		w := learner.RecentAccuracy()
		if w < minOnlineWeight {
			w = minOnlineWeight
		}
		probSum += w * learner.PredictProb(vec)
		weightSum += w
		count++
	}
	if count == 0 || weightSum == 0 {
		return 0, 0
	}
	return probSum / weightSum, count
}

// servingBatchLocked picks the batch model behind p_batch: the voting
// ensemble when active, otherwise the most accurate single active kind.
func (o *Orchestrator) servingBatchLocked() ml.BatchModel {
	if m, ok := o.batch[models.KindVoting]; ok {
		return m
	}
	var best ml.BatchModel
	bestAcc := -1.0
	for kind, m := range o.batch {
		if active := o.reg.GetActive(kind); active != nil && active.Accuracy > bestAcc {
			bestAcc = active.Accuracy
			best = m
		}
	}
	return best
}

func (o *Orchestrator) knownSymbol(symbol string) bool {
	for _, s := range o.cfg.Symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// PauseCollection suspends the collector.
func (o *Orchestrator) PauseCollection() { o.collector.Pause() }

// ResumeCollection re-enables the collector.
func (o *Orchestrator) ResumeCollection() { o.collector.Resume() }

// Promote re-points the active version of a kind and refreshes the cache.
func (o *Orchestrator) Promote(kind models.ModelKind, fileID string) error {
	if err := o.reg.Promote(kind, fileID); err != nil {
		return err
	}
	o.reloadBatch()
	return nil
}

// ListModels returns every recorded version.
func (o *Orchestrator) ListModels() []models.ModelVersion {
	return o.reg.ListAll()
}

// Status assembles the full health structure.
func (o *Orchestrator) Status() models.Status {
	o.modelMu.RLock()
	online := make(map[models.OnlineKind]models.OnlineModelStatus, len(o.learners))
	for kind, learner := range o.learners {
		online[kind] = models.OnlineModelStatus{
			SamplesSeen:    learner.SamplesSeen(),
			RecentAccuracy: learner.RecentAccuracy(),
			LastSnapshotTS: o.lastSnap[kind].UnixMilli(),
		}
	}
	o.modelMu.RUnlock()

	batch := make(map[models.ModelKind]models.BatchModelStatus)
	for _, kind := range models.BatchKinds {
		if active := o.reg.GetActive(kind); active != nil {
			batch[kind] = models.BatchModelStatus{
				ActiveVersion: active.FileID,
				Accuracy:      active.Accuracy,
				TrainedAt:     active.TrainedAt,
			}
		}
	}

	return models.Status{
		Collector:     o.collector.Status(),
		Online:        online,
		Batch:         batch,
		Buffer:        o.buf.Status(),
		SchemaVersion: o.cfg.FeatureSchemaVer,
	}
}
