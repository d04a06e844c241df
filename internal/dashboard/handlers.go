// Package dashboard provides JSON API endpoints and the live WebSocket
// stream for the merchant dashboard.
package dashboard

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cartpulse/cartpulse/internal/boltx"
	"github.com/cartpulse/cartpulse/internal/events"
	"github.com/cartpulse/cartpulse/internal/merchant"
	"github.com/cartpulse/cartpulse/internal/realtime"
)

// activeWindow bounds how far back a session may have been active and
// still count as live.
const activeWindow = 30 * time.Minute

// Handler provides dashboard API endpoints.
type Handler struct {
	events      events.Store
	predictions boltx.Store
	merchants   merchant.Store
	hub         *realtime.Hub
}

// NewHandler creates a new dashboard handler.
func NewHandler(evts events.Store, predictions boltx.Store, merchants merchant.Store, hub *realtime.Hub) *Handler {
	return &Handler{events: evts, predictions: predictions, merchants: merchants, hub: hub}
}

// RegisterRoutes sets up dashboard routes under the given group.
// Routes require merchant ownership (enforced by caller middleware).
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/merchants/:id/dashboard/overview", h.Overview)
	r.GET("/merchants/:id/dashboard/live", h.Live)
	r.GET("/merchants/:id/dashboard/stream", h.Stream)
}

// Overview returns plan usage, live-session count, and recent risk
// activity for one merchant.
func (h *Handler) Overview(c *gin.Context) {
	ctx := c.Request.Context()
	merchantID := c.Param("id")

	m, err := h.merchants.Get(ctx, merchantID)
	if err != nil {
		if err == merchant.ErrNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	now := time.Now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	eventsThisMonth, err := h.events.CountSince(ctx, merchantID, monthStart)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	active, err := h.events.ActiveSessionIDs(ctx, merchantID, now.Add(-activeWindow))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	recent, err := h.predictions.ListRecent(ctx, merchantID, 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	atRisk := 0
	for _, p := range recent {
		if p.RiskLevel == boltx.RiskHigh || p.RiskLevel == boltx.RiskCritical {
			atRisk++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"merchant": gin.H{
			"id":     m.ID,
			"name":   m.Name,
			"plan":   m.Plan,
			"status": m.Status,
		},
		"usage": gin.H{
			"eventsThisMonth":   eventsThisMonth,
			"monthlyEventQuota": m.Settings.MonthlyEventQuota,
		},
		"activeSessions":    len(active),
		"recentPredictions": len(recent),
		"recentAtRisk":      atRisk,
		"stream":            h.hub.Stats(),
	})
}

// Live returns the currently active sessions, each annotated with its
// latest risk prediction when one exists.
func (h *Handler) Live(c *gin.Context) {
	ctx := c.Request.Context()
	merchantID := c.Param("id")
	limit := parseLimit(c, 50, 500)

	active, err := h.events.ActiveSessionIDs(ctx, merchantID, time.Now().UTC().Add(-activeWindow))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	if len(active) > limit {
		active = active[:limit]
	}

	// Latest prediction per session, from one recent-predictions query.
	recent, err := h.predictions.ListRecent(ctx, merchantID, 500)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	latest := make(map[string]*boltx.StoredPrediction, len(recent))
	for _, p := range recent {
		if _, ok := latest[p.SessionID]; !ok {
			latest[p.SessionID] = p
		}
	}

	sessions := make([]gin.H, 0, len(active))
	for _, id := range active {
		entry := gin.H{"sessionId": id}
		if p := latest[id]; p != nil {
			entry["riskScore"] = p.RiskScore
			entry["riskLevel"] = p.RiskLevel
			entry["scoredAt"] = p.CreatedAt
		}
		sessions = append(sessions, entry)
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// Stream upgrades to a WebSocket scoped to the merchant's events.
func (h *Handler) Stream(c *gin.Context) {
	h.hub.HandleWebSocket(c.Writer, c.Request, c.Param("id"))
}

func parseLimit(c *gin.Context, defaultVal, maxVal int) int {
	limit := defaultVal
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxVal {
		limit = maxVal
	}
	return limit
}
