package models

import "time"

// Candle is one OHLCV bar. Timestamps are milliseconds since epoch and
// strictly increasing per symbol.
type Candle struct {
	Symbol string  `json:"symbol"`
	TS     int64   `json:"ts"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// FeatureCount is the frozen width of the feature vector. New features may
// only be appended, and appending requires a FeatureSchemaVersion bump that
// invalidates all previously trained models.
const FeatureCount = 23

// FeatureNames lists the feature schema in its frozen order.
var FeatureNames = [FeatureCount]string{
	"open", "high", "low", "close", "volume",
	"rsi", "stoch_k", "stoch_d", "williams_r", "roc", "ao",
	"macd", "macd_signal", "macd_diff", "adx", "cci",
	"sma_20", "ema_20", "bb_high", "bb_low", "atr", "obv", "cmf",
}

// FeatureVector is an ordered vector of FeatureCount floats. NaN and ±Inf are
// replaced with 0 at the extraction boundary, so a stored vector is always
// finite.
type FeatureVector [FeatureCount]float64

// SampleSource tags where a training sample came from.
type SampleSource string

const (
	SourceHistorical   SampleSource = "historical"
	SourceTradeOutcome SampleSource = "trade_outcome"
)

// TrainingSample pairs a feature vector with its binary label.
// Label is 1 iff the next bar closed higher (historical) or the trade pnl was
// positive (trade_outcome).
type TrainingSample struct {
	Features FeatureVector `json:"features"`
	Label    int           `json:"label"`
	Weight   float64       `json:"weight"`
	Source   SampleSource  `json:"source"`
	TS       int64         `json:"ts"`
}

// ModelKind identifies a batch model family in the registry.
type ModelKind string

const (
	KindRF     ModelKind = "rf"
	KindGB     ModelKind = "gb"
	KindXGB    ModelKind = "xgb"
	KindLGBM   ModelKind = "lgbm"
	KindCat    ModelKind = "cat"
	KindVoting ModelKind = "voting"
)

// BatchKinds are the kinds the registry accepts.
var BatchKinds = []ModelKind{KindRF, KindGB, KindXGB, KindLGBM, KindCat, KindVoting}

// OnlineKind identifies an incremental learner.
type OnlineKind string

const (
	OnlineSGD OnlineKind = "sgd"
	OnlinePA  OnlineKind = "pa"
	OnlineMLP OnlineKind = "mlp"
)

// OnlineKinds are the learners created at startup.
var OnlineKinds = []OnlineKind{OnlineSGD, OnlinePA, OnlineMLP}

// ModelVersion is one immutable record in the registry log.
type ModelVersion struct {
	Kind          ModelKind          `json:"kind"`
	FileID        string             `json:"file_id"`
	TrainedAt     int64              `json:"trained_at"`
	Accuracy      float64            `json:"accuracy"`
	SchemaVersion int                `json:"feature_schema_version"`
	Hyperparams   map[string]float64 `json:"hyperparams,omitempty"`
}

// Prediction is the ensemble output served to callers.
type Prediction struct {
	Label       int      `json:"label"`
	Confidence  float64  `json:"confidence"`
	P           float64  `json:"p"`
	PBatch      *float64 `json:"p_batch"`
	POnlineBloc float64  `json:"p_online_bloc"`
	ModelCount  int      `json:"model_count"`
	TS          int64    `json:"ts"`
}

// NewBar is emitted by the collector for every freshly closed candle.
type NewBar struct {
	Symbol string `json:"symbol"`
	TS     int64  `json:"ts"`
}

// CollectorSymbolStatus is the per-symbol slice of /status.
type CollectorSymbolStatus struct {
	LastOkTS       int64 `json:"last_ok_ts"`
	ErrorsLastHour int   `json:"errors_last_hour"`
}

// CollectorStatus reports collection health.
type CollectorStatus struct {
	Active    bool                             `json:"active"`
	PerSymbol map[string]CollectorSymbolStatus `json:"per_symbol"`
}

// OnlineModelStatus reports one incremental learner.
type OnlineModelStatus struct {
	SamplesSeen    int64   `json:"samples_seen"`
	RecentAccuracy float64 `json:"recent_accuracy"`
	LastSnapshotTS int64   `json:"last_snapshot_ts"`
}

// BatchModelStatus reports the active version of one batch kind.
type BatchModelStatus struct {
	ActiveVersion string  `json:"active_version"`
	Accuracy      float64 `json:"accuracy"`
	TrainedAt     int64   `json:"trained_at"`
}

// BufferStatus reports the training buffer.
type BufferStatus struct {
	Size         int   `json:"size"`
	DroppedTotal int64 `json:"dropped_total"`
}

// Status is the full health structure behind GET /status.
type Status struct {
	Collector     CollectorStatus                  `json:"collector"`
	Online        map[OnlineKind]OnlineModelStatus `json:"online"`
	Batch         map[ModelKind]BatchModelStatus   `json:"batch"`
	Buffer        BufferStatus                     `json:"buffer"`
	SchemaVersion int                              `json:"schema_version"`
}

// Config holds every runtime parameter of the service.
type Config struct {
	Symbols             []string  `json:"symbols"`
	KlineInterval       string    `json:"kline_interval"`
	DataDir             string    `json:"data_dir"`
	HTTPPort            int       `json:"http_port"`
	CollectIntervalSec  int       `json:"collect_interval_sec"`
	OnlineIntervalSec   int       `json:"online_update_interval_sec"`
	BatchRetrainHours   int       `json:"batch_retrain_hours"`
	WBatch              float64   `json:"w_batch"`
	WOnline             float64   `json:"w_online"`
	BufferCapacity      int       `json:"buffer_capacity"`
	OnlineRingSize      int       `json:"online_ring_size"`
	SnapshotEvery       int       `json:"snapshot_every"`
	FeatureSchemaVer    int       `json:"feature_schema_version"`
	CollectionActive    bool      `json:"collection_active"`
	LogConfig           LogConfig `json:"log"`
}

// LogConfig controls the zap/lumberjack logger.
type LogConfig struct {
	Level      string `json:"level"`
	Output     string `json:"output"`
	File       string `json:"file"`
	MaxSize    int    `json:"max_size"`
	MaxBackups int    `json:"max_backups"`
	MaxAge     int    `json:"max_age"`
	Compress   bool   `json:"compress"`
}

// CollectInterval returns the collection tick period.
func (c *Config) CollectInterval() time.Duration {
	return time.Duration(c.CollectIntervalSec) * time.Second
}

// OnlineInterval returns the online-update tick period.
func (c *Config) OnlineInterval() time.Duration {
	return time.Duration(c.OnlineIntervalSec) * time.Second
}

// BatchInterval returns the batch-retrain tick period.
func (c *Config) BatchInterval() time.Duration {
	return time.Duration(c.BatchRetrainHours) * time.Hour
}
