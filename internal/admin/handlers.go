package admin

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cartpulse/cartpulse/internal/boltx"
	"github.com/cartpulse/cartpulse/internal/merchant"
)

// StreamStats exposes live-stream statistics for the overview.
type StreamStats interface {
	Stats() map[string]interface{}
}

// Handler provides admin HTTP endpoints. Callers must gate the group with
// the admin-secret middleware.
type Handler struct {
	merchants merchant.Store
	predictor *boltx.EnhancedPredictor
	samples   boltx.SampleSource
	stream    StreamStats
}

// NewHandler creates a new admin handler.
func NewHandler(merchants merchant.Store) *Handler {
	return &Handler{merchants: merchants}
}

// WithPredictor enables model metrics and on-demand retraining.
func (h *Handler) WithPredictor(p *boltx.EnhancedPredictor, samples boltx.SampleSource) *Handler {
	h.predictor = p
	h.samples = samples
	return h
}

// WithStreamStats wires live-stream statistics into the overview.
func (h *Handler) WithStreamStats(s StreamStats) *Handler {
	h.stream = s
	return h
}

// RegisterRoutes sets up admin routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/overview", h.overview)
	r.GET("/merchants/suspended", h.listSuspended)
	r.GET("/stream/stats", h.streamStats)
	r.POST("/model/retrain", h.retrain)
}

// streamStats reports connected dashboard clients per merchant.
func (h *Handler) streamStats(c *gin.Context) {
	if h.stream == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stream_not_configured"})
		return
	}
	c.JSON(http.StatusOK, h.stream.Stats())
}

// overview tallies merchants by plan and status plus model and stream
// health in one payload.
func (h *Handler) overview(c *gin.Context) {
	all, err := h.merchants.List(c.Request.Context(), 1000, 0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	out := PlatformOverview{
		Merchants: len(all),
		ByPlan:    make(map[string]int),
		ByStatus:  make(map[string]int),
		Timestamp: time.Now().UTC(),
	}
	for _, m := range all {
		out.ByPlan[string(m.Plan)]++
		out.ByStatus[string(m.Status)]++
	}
	if h.predictor != nil {
		if metrics := h.predictor.Metrics(); metrics != nil {
			out.ModelMetrics = metrics
		}
	}
	if h.stream != nil {
		out.StreamClients = h.stream.Stats()
	}

	c.JSON(http.StatusOK, out)
}

// listSuspended returns merchants currently suspended, usually for failed
// payments.
func (h *Handler) listSuspended(c *gin.Context) {
	limit := 100
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}

	all, err := h.merchants.List(c.Request.Context(), limit, 0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	suspended := make([]*merchant.Merchant, 0)
	for _, m := range all {
		if m.Status == merchant.StatusSuspended {
			suspended = append(suspended, m)
		}
	}

	c.JSON(http.StatusOK, gin.H{"merchants": suspended, "count": len(suspended)})
}

// retrain rebuilds training samples across every merchant and re-scores
// the model immediately instead of waiting for the periodic retrainer.
func (h *Handler) retrain(c *gin.Context) {
	if h.predictor == nil || h.samples == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "model_not_configured"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 60*time.Second)
	defer cancel()

	start := time.Now()
	samples, err := h.samples.TrainingSamples(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	metrics := h.predictor.Train(samples)

	c.JSON(http.StatusOK, gin.H{
		"report": RetrainReport{
			Samples:   len(samples),
			Duration:  time.Since(start) / time.Millisecond,
			Timestamp: time.Now().UTC(),
		},
		"metrics": metrics,
	})
}
