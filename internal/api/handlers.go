package api

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"hybrid-learning-bot-go/internal/models"
	"hybrid-learning-bot-go/internal/orchestrator"

	"github.com/labstack/echo/v4"
)

type handler struct {
	orch *orchestrator.Orchestrator
}

// envelope is the uniform response shape.
type envelope struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data,omitempty"`
	Error  *errorBody  `json:"error,omitempty"`
}

type errorBody struct {
	Kind          string `json:"kind"`
	Message       string `json:"message"`
	RetryAfterSec int    `json:"retry_after_sec,omitempty"`
}

func success(c echo.Context, code int, data interface{}) error {
	return c.JSON(code, envelope{Status: "success", Data: data})
}

func fail(c echo.Context, err error) error {
	kind, ok := models.KindOf(err)
	if !ok {
		kind = models.KindStorageError
	}
	body := &errorBody{Kind: string(kind), Message: err.Error()}
	if ae, isApp := err.(*models.AppError); isApp {
		body.RetryAfterSec = ae.RetryAfterSec
	}
	return c.JSON(statusFor(kind), envelope{Status: "error", Error: body})
}

func statusFor(kind models.ErrorKind) int {
	switch kind {
	case models.KindSchemaMismatch, models.KindUnknownSymbol, models.KindUnknownKind, models.KindConfigError:
		return http.StatusBadRequest
	case models.KindAlreadyRunning, models.KindRegressionBlocked:
		return http.StatusConflict
	case models.KindSourceUnavailable, models.KindRateLimited, models.KindUnavailable, models.KindInsufficientHistory:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *handler) health(c echo.Context) error {
	return success(c, http.StatusOK, map[string]interface{}{
		"alive": true,
		"ts":    time.Now().UnixMilli(),
	})
}

func (h *handler) status(c echo.Context) error {
	return success(c, http.StatusOK, h.orch.Status())
}

func (h *handler) predict(c echo.Context) error {
	symbol := c.QueryParam("symbol")
	if symbol == "" {
		return fail(c, models.NewAppError(models.KindUnknownSymbol, "missing symbol parameter"))
	}
	pred, err := h.orch.Predict(symbol)
	if err != nil {
		return fail(c, err)
	}
	return success(c, http.StatusOK, pred)
}

// sampleRequest is the POST /train/sample body. Features must be exactly the
// schema width, every value finite.
type sampleRequest struct {
	Features []float64 `json:"features"`
	Label    *int      `json:"label"`
	Weight   float64   `json:"weight"`
	Source   string    `json:"source"`
	TS       int64     `json:"ts"`
}

func (h *handler) trainSample(c echo.Context) error {
	var req sampleRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, models.NewAppError(models.KindSchemaMismatch, "malformed sample body: %v", err))
	}
	if len(req.Features) != models.FeatureCount {
		return fail(c, models.NewAppError(models.KindSchemaMismatch,
			"expected %d features, got %d", models.FeatureCount, len(req.Features)))
	}
	for i, f := range req.Features {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fail(c, models.NewAppError(models.KindSchemaMismatch, "feature %d is not finite", i))
		}
	}
	if req.Label == nil || (*req.Label != 0 && *req.Label != 1) {
		return fail(c, models.NewAppError(models.KindSchemaMismatch, "label must be 0 or 1"))
	}
	source := models.SampleSource(req.Source)
	if source != models.SourceHistorical && source != models.SourceTradeOutcome {
		return fail(c, models.NewAppError(models.KindSchemaMismatch, "unknown sample source %q", req.Source))
	}

	var vec models.FeatureVector
	copy(vec[:], req.Features)
	size := h.orch.SubmitSample(models.TrainingSample{
		Features: vec,
		Label:    *req.Label,
		Weight:   req.Weight,
		Source:   source,
		TS:       req.TS,
	})
	return success(c, http.StatusAccepted, map[string]interface{}{"buffer_size": size})
}

func (h *handler) trainBatch(c echo.Context) error {
	jobID, err := h.orch.StartBatch(c.Request().Context())
	if err != nil {
		return fail(c, err)
	}
	return success(c, http.StatusAccepted, map[string]interface{}{"job_id": jobID})
}

func (h *handler) batchStatus(c echo.Context) error {
	job := h.orch.LastBatchJob()
	if job == nil {
		return fail(c, models.NewAppError(models.KindUnavailable, "no batch run has started yet"))
	}
	return success(c, http.StatusOK, job)
}

func (h *handler) onlineUpdate(c echo.Context) error {
	maxN := 0
	if raw := c.QueryParam("max_n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return fail(c, models.NewAppError(models.KindSchemaMismatch, "max_n must be a non-negative integer"))
		}
		maxN = parsed
	}
	updated := h.orch.OnlineUpdate(maxN)
	return success(c, http.StatusOK, map[string]interface{}{"updated": updated})
}

// resetRequest is the POST /online/reset body. An absent kind resets every
// online learner.
type resetRequest struct {
	Kind string `json:"kind"`
}

func (h *handler) onlineReset(c echo.Context) error {
	var req resetRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, models.NewAppError(models.KindSchemaMismatch, "malformed reset body: %v", err))
	}
	if err := h.orch.ResetOnline(req.Kind); err != nil {
		return fail(c, err)
	}
	return success(c, http.StatusOK, map[string]interface{}{"ok": true})
}

func (h *handler) listModels(c echo.Context) error {
	versions := h.orch.ListModels()
	if kind := c.QueryParam("kind"); kind != "" {
		filtered := versions[:0:0]
		for _, v := range versions {
			if v.Kind == models.ModelKind(kind) {
				filtered = append(filtered, v)
			}
		}
		versions = filtered
	}
	return success(c, http.StatusOK, map[string]interface{}{"versions": versions})
}

type promoteRequest struct {
	Kind   string `json:"kind"`
	FileID string `json:"file_id"`
}

func (h *handler) promote(c echo.Context) error {
	var req promoteRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, models.NewAppError(models.KindSchemaMismatch, "malformed promote body: %v", err))
	}
	kind := models.ModelKind(req.Kind)
	known := false
	for _, k := range models.BatchKinds {
		if k == kind {
			known = true
			break
		}
	}
	if !known {
		return fail(c, models.NewAppError(models.KindUnknownKind, "unknown model kind %q", req.Kind))
	}
	if err := h.orch.Promote(kind, req.FileID); err != nil {
		return fail(c, err)
	}
	return success(c, http.StatusOK, map[string]interface{}{"ok": true})
}

func (h *handler) pauseCollector(c echo.Context) error {
	h.orch.PauseCollection()
	return success(c, http.StatusOK, map[string]interface{}{"collection_active": false})
}

func (h *handler) resumeCollector(c echo.Context) error {
	h.orch.ResumeCollection()
	return success(c, http.StatusOK, map[string]interface{}{"collection_active": true})
}
