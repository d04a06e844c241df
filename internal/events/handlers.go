package events

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cartpulse/cartpulse/internal/auth"
	"github.com/cartpulse/cartpulse/internal/merchant"
	"github.com/cartpulse/cartpulse/internal/pagination"
	"github.com/cartpulse/cartpulse/internal/validation"
)

// activeWindow is how far back a session may be idle and still count as live.
const activeWindow = 30 * time.Minute

// maxBatchEvents caps one batch ingest request.
const maxBatchEvents = 100

// Handler provides HTTP endpoints for event ingestion and queries.
type Handler struct {
	service   *Service
	merchants merchant.Store
}

// NewHandler creates an events handler.
func NewHandler(service *Service, merchants merchant.Store) *Handler {
	return &Handler{service: service, merchants: merchants}
}

// RegisterProtectedRoutes sets up the ingest route, scoped to the
// authenticated merchant rather than a URL parameter.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/events", h.IngestEvent)
	r.POST("/events/batch", h.IngestBatch)
}

// RegisterMerchantRoutes sets up read routes under /merchants/:id.
// Callers must enforce merchant ownership on the group.
func (h *Handler) RegisterMerchantRoutes(r *gin.RouterGroup) {
	r.GET("/merchants/:id/events", h.ListEvents)
	r.GET("/merchants/:id/sessions", h.ListActiveSessions)
	r.GET("/merchants/:id/sessions/:sessionId/events", h.ListSessionEvents)
}

// IngestEvent handles POST /v1/events. The event is scoped to the
// authenticated merchant.
func (h *Handler) IngestEvent(c *gin.Context) {
	var req struct {
		SessionID    string `json:"sessionId" binding:"required"`
		Type         string `json:"type" binding:"required"`
		Step         string `json:"step"`
		RevenueCents int64  `json:"revenueCents"`
		DeviceType   string `json:"deviceType"`
		Location     string `json:"location"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "sessionId and type required"})
		return
	}

	if errs := validation.Validate(
		validation.ValidSessionID("sessionId", req.SessionID),
		validation.OneOf("type", req.Type, Types),
		validation.NonNegative("revenueCents", req.RevenueCents),
		validation.MaxLength("deviceType", req.DeviceType, 24),
		validation.MaxLength("location", req.Location, 64),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "details": errs})
		return
	}

	m, err := h.merchants.Get(c.Request.Context(), auth.GetMerchantID(c))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "unknown merchant"})
		return
	}

	e := &Event{
		SessionID:    req.SessionID,
		Type:         req.Type,
		Step:         req.Step,
		RevenueCents: req.RevenueCents,
		DeviceType:   validation.SanitizeString(req.DeviceType, 24),
		Location:     validation.SanitizeString(req.Location, 64),
	}

	if err := h.service.Ingest(c.Request.Context(), m, e); err != nil {
		switch err {
		case ErrInvalidType:
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_type", "message": "unknown event type"})
		case ErrQuotaExceeded:
			c.JSON(http.StatusPaymentRequired, gin.H{"error": "quota_exceeded", "message": "monthly event quota exceeded, upgrade your plan"})
		case ErrSuspended:
			c.JSON(http.StatusForbidden, gin.H{"error": "suspended", "message": "merchant account is not active"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to store event"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"event": e})
}

type eventPayload struct {
	SessionID    string `json:"sessionId" binding:"required"`
	Type         string `json:"type" binding:"required"`
	Step         string `json:"step"`
	RevenueCents int64  `json:"revenueCents"`
	DeviceType   string `json:"deviceType"`
	Location     string `json:"location"`
}

// IngestBatch handles POST /v1/events/batch. Trackers buffer events
// offline and flush them here; the whole batch counts against the quota
// or none of it does.
func (h *Handler) IngestBatch(c *gin.Context) {
	var req struct {
		Events []eventPayload `json:"events" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Events) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "events array required"})
		return
	}
	if len(req.Events) > maxBatchEvents {
		c.JSON(http.StatusBadRequest, gin.H{"error": "batch_too_large", "message": "at most 100 events per batch"})
		return
	}

	evts := make([]*Event, 0, len(req.Events))
	for i, p := range req.Events {
		if errs := validation.Validate(
			validation.ValidSessionID("sessionId", p.SessionID),
			validation.OneOf("type", p.Type, Types),
			validation.NonNegative("revenueCents", p.RevenueCents),
			validation.MaxLength("deviceType", p.DeviceType, 24),
			validation.MaxLength("location", p.Location, 64),
		); len(errs) > 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "index": i, "details": errs})
			return
		}
		evts = append(evts, &Event{
			SessionID:    p.SessionID,
			Type:         p.Type,
			Step:         p.Step,
			RevenueCents: p.RevenueCents,
			DeviceType:   validation.SanitizeString(p.DeviceType, 24),
			Location:     validation.SanitizeString(p.Location, 64),
		})
	}

	m, err := h.merchants.Get(c.Request.Context(), auth.GetMerchantID(c))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "unknown merchant"})
		return
	}

	stored, err := h.service.IngestBatch(c.Request.Context(), m, evts)
	if err != nil {
		switch err {
		case ErrInvalidType:
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_type", "message": "unknown event type"})
		case ErrQuotaExceeded:
			c.JSON(http.StatusPaymentRequired, gin.H{"error": "quota_exceeded", "message": "batch would exceed monthly event quota"})
		case ErrSuspended:
			c.JSON(http.StatusForbidden, gin.H{"error": "suspended", "message": "merchant account is not active"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to store events", "stored": stored})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"stored": stored})
}

// ListEvents handles GET /v1/merchants/:id/events. Results are newest
// first; callers page through history with the opaque cursor query param.
// A since filter returns a single time-bounded window instead.
func (h *Handler) ListEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	if raw := c.Query("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "since must be RFC3339"})
			return
		}
		evts, err := h.service.Store().ListRecent(c.Request.Context(), c.Param("id"), since, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list events"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"events": evts, "count": len(evts)})
		return
	}

	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor", "message": "malformed pagination cursor"})
		return
	}

	// Fetch one extra row to learn whether another page exists.
	evts, err := h.service.Store().ListPage(c.Request.Context(), c.Param("id"), cursor, limit+1)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list events"})
		return
	}

	evts, next, hasMore := pagination.ComputePage(evts, limit, func(e *Event) (time.Time, string) {
		return e.CreatedAt, e.ID
	})
	resp := gin.H{"events": evts, "count": len(evts), "hasMore": hasMore}
	if next != "" {
		resp["nextCursor"] = next
	}
	c.JSON(http.StatusOK, resp)
}

// ListActiveSessions handles GET /v1/merchants/:id/sessions
func (h *Handler) ListActiveSessions(c *gin.Context) {
	ids, err := h.service.Store().ActiveSessionIDs(c.Request.Context(), c.Param("id"), time.Now().Add(-activeWindow))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list sessions"})
		return
	}
	if ids == nil {
		ids = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"sessionIds": ids, "count": len(ids)})
}

// ListSessionEvents handles GET /v1/merchants/:id/sessions/:sessionId/events
func (h *Handler) ListSessionEvents(c *gin.Context) {
	sessionID := c.Param("sessionId")
	if !validation.IsValidSessionID(sessionID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_session_id", "message": "malformed session id"})
		return
	}

	evts, err := h.service.Store().ListBySession(c.Request.Context(), c.Param("id"), sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list events"})
		return
	}
	if evts == nil {
		evts = []*Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": evts, "count": len(evts)})
}
