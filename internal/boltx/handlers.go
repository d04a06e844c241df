package boltx

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cartpulse/cartpulse/internal/events"
	"github.com/cartpulse/cartpulse/internal/idgen"
	"github.com/cartpulse/cartpulse/internal/logging"
	"github.com/cartpulse/cartpulse/internal/merchant"
	"github.com/cartpulse/cartpulse/internal/metrics"
	"github.com/cartpulse/cartpulse/internal/traces"
	"github.com/cartpulse/cartpulse/internal/validation"
)

// Broadcaster pushes scoring results to live dashboard streams.
type Broadcaster interface {
	BroadcastRiskUpdate(merchantID string, data map[string]interface{})
	BroadcastIntervention(merchantID string, data map[string]interface{})
}

// Handler provides HTTP endpoints for abandonment-risk scoring.
type Handler struct {
	predictor *EnhancedPredictor
	events    events.Store
	store     Store
	merchants merchant.Store
	hub       Broadcaster // optional
}

// NewHandler creates a scoring handler. hub may be nil.
func NewHandler(predictor *EnhancedPredictor, eventStore events.Store, store Store, merchants merchant.Store, hub Broadcaster) *Handler {
	return &Handler{
		predictor: predictor,
		events:    eventStore,
		store:     store,
		merchants: merchants,
		hub:       hub,
	}
}

// RegisterProtectedRoutes sets up scoring routes that require API key auth.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/merchants/:id/score", h.ScoreSession)
	r.POST("/merchants/:id/predict", h.Predict)
	r.GET("/merchants/:id/predictions", h.ListPredictions)
	r.GET("/merchants/:id/model", h.ModelMetrics)
	r.POST("/merchants/:id/model/train", h.Train)
	r.GET("/merchants/:id/sessions/:sessionId/history", h.SessionHistory)
	r.DELETE("/merchants/:id/sessions/:sessionId/history", h.ClearSessionHistory)
}

// ScoreSession handles POST /v1/merchants/:id/score. Features are derived
// from the session's stored event stream, enriched with account priors.
func (h *Handler) ScoreSession(c *gin.Context) {
	var req struct {
		SessionID string `json:"sessionId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "sessionId required"})
		return
	}
	if !validation.IsValidSessionID(req.SessionID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_session_id", "message": "malformed session id"})
		return
	}

	merchantID := c.Param("id")
	if !h.scoringAllowed(c, merchantID) {
		return
	}

	ctx, span := traces.StartSpan(c.Request.Context(), "boltx.score",
		traces.MerchantID(merchantID), traces.SessionID(req.SessionID))
	defer span.End()

	evts, err := h.events.ListBySession(ctx, merchantID, req.SessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load session"})
		return
	}
	if len(evts) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "session has no events"})
		return
	}

	features, err := FeaturesFromEvents(evts, time.Now().UTC())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to derive features"})
		return
	}

	if priors, err := h.events.MerchantPriors(ctx, merchantID); err == nil {
		ApplyPriors(&features, priors)
	} else {
		logging.L(ctx).Warn("priors unavailable", "error", err)
	}

	pred := h.predictor.Predict(historyKey(merchantID, req.SessionID), features)
	span.SetAttributes(traces.RiskLevel(string(pred.RiskLevel)))
	h.finish(c, merchantID, req.SessionID, pred)
}

// Predict handles POST /v1/merchants/:id/predict. The caller supplies a
// feature snapshot directly; an optional sessionId engages trend tracking.
func (h *Handler) Predict(c *gin.Context) {
	var req struct {
		SessionID string             `json:"sessionId"`
		Features  PredictionFeatures `json:"features"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "features required"})
		return
	}
	if req.SessionID != "" && !validation.IsValidSessionID(req.SessionID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_session_id", "message": "malformed session id"})
		return
	}

	merchantID := c.Param("id")
	if !h.scoringAllowed(c, merchantID) {
		return
	}

	pred := h.predictor.Predict(historyKey(merchantID, req.SessionID), req.Features)
	h.finish(c, merchantID, req.SessionID, pred)
}

// finish records, broadcasts, and returns a prediction.
func (h *Handler) finish(c *gin.Context, merchantID, sessionID string, pred Prediction) {
	metrics.PredictionsTotal.WithLabelValues(string(pred.RiskLevel)).Inc()
	if pred.InterventionSuggested {
		metrics.InterventionsSuggestedTotal.WithLabelValues(string(pred.InterventionType)).Inc()
	}

	if sessionID != "" {
		stored := &StoredPrediction{
			ID:               idgen.WithPrefix("pred_"),
			MerchantID:       merchantID,
			SessionID:        sessionID,
			RiskScore:        pred.RiskScore,
			RiskLevel:        pred.RiskLevel,
			Confidence:       pred.Confidence,
			InterventionType: pred.InterventionType,
			CreatedAt:        pred.EvaluatedAt,
		}
		// Persist best-effort off the request path.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := h.store.Record(ctx, stored); err != nil {
				logging.FromContext(ctx).Warn("prediction record failed", "error", err)
			}
		}()
	}

	if h.hub != nil {
		h.hub.BroadcastRiskUpdate(merchantID, map[string]interface{}{
			"sessionId":  sessionID,
			"riskScore":  pred.RiskScore,
			"riskLevel":  string(pred.RiskLevel),
			"confidence": pred.Confidence,
		})
		if pred.InterventionSuggested {
			h.hub.BroadcastIntervention(merchantID, map[string]interface{}{
				"sessionId":        sessionID,
				"interventionType": string(pred.InterventionType),
				"recommendations":  pred.Recommendations,
			})
		}
	}

	c.JSON(http.StatusOK, gin.H{"prediction": pred, "sessionId": sessionID})
}

// ListPredictions handles GET /v1/merchants/:id/predictions
func (h *Handler) ListPredictions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	var (
		preds []*StoredPrediction
		err   error
	)
	if sessionID := c.Query("sessionId"); sessionID != "" {
		preds, err = h.store.ListBySession(c.Request.Context(), c.Param("id"), sessionID, limit)
	} else {
		preds, err = h.store.ListRecent(c.Request.Context(), c.Param("id"), limit)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list predictions"})
		return
	}
	if preds == nil {
		preds = []*StoredPrediction{}
	}
	c.JSON(http.StatusOK, gin.H{"predictions": preds, "count": len(preds)})
}

// ModelMetrics handles GET /v1/merchants/:id/model
func (h *Handler) ModelMetrics(c *gin.Context) {
	m := h.predictor.Metrics()
	if m == nil {
		c.JSON(http.StatusOK, gin.H{"trained": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trained": true, "metrics": m})
}

// Train handles POST /v1/merchants/:id/model/train. With no body, samples
// are built from the merchant's ended sessions.
func (h *Handler) Train(c *gin.Context) {
	var req struct {
		Samples []TrainingSample `json:"samples"`
	}
	_ = c.ShouldBindJSON(&req)

	samples := req.Samples
	if len(samples) == 0 {
		var err error
		samples, err = BuildTrainingSamples(c.Request.Context(), h.events, c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to build training samples"})
			return
		}
	}
	if len(samples) == 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "no_samples", "message": "no ended sessions to train on"})
		return
	}

	m := h.predictor.Train(samples)
	metrics.ModelTrainingsTotal.Inc()
	metrics.ModelAccuracy.Set(m.Accuracy)
	c.JSON(http.StatusOK, gin.H{"metrics": m})
}

// SessionHistory handles GET /v1/merchants/:id/sessions/:sessionId/history
func (h *Handler) SessionHistory(c *gin.Context) {
	hist := h.predictor.SessionHistory(historyKey(c.Param("id"), c.Param("sessionId")))
	if hist == nil {
		hist = []Prediction{}
	}
	c.JSON(http.StatusOK, gin.H{"history": hist, "count": len(hist)})
}

// ClearSessionHistory handles DELETE /v1/merchants/:id/sessions/:sessionId/history
func (h *Handler) ClearSessionHistory(c *gin.Context) {
	h.predictor.ClearSessionHistory(historyKey(c.Param("id"), c.Param("sessionId")))
	c.JSON(http.StatusOK, gin.H{"cleared": c.Param("sessionId")})
}

// historyKey scopes trend history to a single merchant. Session IDs are
// merchant-chosen, so two tenants can reuse the same ID; the predictor is
// shared across tenants and must never mix their histories.
func historyKey(merchantID, sessionID string) string {
	if sessionID == "" {
		return ""
	}
	return merchantID + "/" + sessionID
}

// scoringAllowed enforces the plan's risk-scoring flag.
func (h *Handler) scoringAllowed(c *gin.Context, merchantID string) bool {
	m, err := h.merchants.Get(c.Request.Context(), merchantID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "merchant not found"})
		return false
	}
	if !m.Settings.RiskScoring {
		c.JSON(http.StatusForbidden, gin.H{"error": "plan_required", "message": "risk scoring requires a paid plan"})
		return false
	}
	return true
}
