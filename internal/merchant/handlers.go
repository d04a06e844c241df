package merchant

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cartpulse/cartpulse/internal/auth"
	"github.com/cartpulse/cartpulse/internal/idgen"
	"github.com/cartpulse/cartpulse/internal/security"
	"github.com/cartpulse/cartpulse/internal/validation"
)

var validSlug = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,62}[a-z0-9]$`)

// Handler provides HTTP endpoints for merchant management.
type Handler struct {
	store   Store
	authMgr *auth.Manager
}

// NewHandler creates a new merchant handler.
func NewHandler(store Store, authMgr *auth.Manager) *Handler {
	return &Handler{store: store, authMgr: authMgr}
}

// RegisterRoutes sets up the public self-serve signup route.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/signup", h.Signup)
}

// RegisterProtectedRoutes sets up merchant routes that require API key auth.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/merchants/:id", h.GetMerchant)
	r.PATCH("/merchants/:id", h.UpdateMerchant)
	r.POST("/merchants/:id/keys", h.CreateKey)
}

// RegisterAdminRoutes sets up admin-only merchant routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/merchants", h.ListMerchants)
	r.POST("/merchants", h.CreateMerchant)
}

// Signup handles POST /v1/signup. Self-serve signups land on the free plan.
func (h *Handler) Signup(c *gin.Context) {
	h.create(c, PlanFree, false)
}

// CreateMerchant handles POST /v1/merchants (admin only, any plan).
func (h *Handler) CreateMerchant(c *gin.Context) {
	h.create(c, "", true)
}

func (h *Handler) create(c *gin.Context, forcePlan Plan, allowPlan bool) {
	var req struct {
		Name     string `json:"name" binding:"required"`
		Slug     string `json:"slug" binding:"required"`
		Plan     Plan   `json:"plan"`
		StoreURL string `json:"storeUrl"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "name and slug required"})
		return
	}

	if req.StoreURL != "" {
		if err := security.ValidateStoreURL(req.StoreURL); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_store_url", "message": err.Error()})
			return
		}
	}

	req.Slug = strings.ToLower(strings.TrimSpace(req.Slug))
	if !validSlug.MatchString(req.Slug) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_slug",
			"message": "slug must be 3-64 lowercase alphanumeric/hyphens, start/end with alphanumeric",
		})
		return
	}

	plan := forcePlan
	if allowPlan {
		plan = req.Plan
		if plan == "" {
			plan = PlanFree
		}
		if !ValidPlan(plan) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_plan", "message": "unknown plan"})
			return
		}
	}

	settings := DefaultSettingsForPlan(plan)
	settings.StoreURL = req.StoreURL

	now := time.Now()
	m := &Merchant{
		ID:        idgen.WithPrefix("mer_"),
		Name:      validation.SanitizeString(req.Name, 200),
		Slug:      req.Slug,
		Plan:      plan,
		Status:    StatusActive,
		Settings:  settings,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.store.Create(c.Request.Context(), m); err != nil {
		if err == ErrSlugTaken {
			c.JSON(http.StatusConflict, gin.H{"error": "slug_taken", "message": "slug already in use"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to create merchant"})
		return
	}

	rawKey, keyInfo, err := h.authMgr.GenerateKey(c.Request.Context(), m.ID, "Default key")
	if err != nil {
		c.JSON(http.StatusCreated, gin.H{
			"merchant": m,
			"warning":  "Merchant created but key generation failed. Create a key via the keys API.",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"merchant": m,
		"apiKey":   rawKey,
		"keyId":    keyInfo.ID,
		"warning":  "Store this API key securely. It will not be shown again.",
	})
}

// GetMerchant handles GET /v1/merchants/:id
func (h *Handler) GetMerchant(c *gin.Context) {
	m, ok := h.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"merchant": m})
}

// UpdateMerchant handles PATCH /v1/merchants/:id.
// Owners may rename; plan and status changes require admin auth.
func (h *Handler) UpdateMerchant(c *gin.Context) {
	m, ok := h.load(c)
	if !ok {
		return
	}

	var req struct {
		Name     *string `json:"name"`
		Plan     *Plan   `json:"plan"`
		Status   *Status `json:"status"`
		StoreURL *string `json:"storeUrl"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "malformed body"})
		return
	}

	if req.Name != nil {
		m.Name = validation.SanitizeString(*req.Name, 200)
	}
	if req.StoreURL != nil {
		if *req.StoreURL != "" {
			if err := security.ValidateStoreURL(*req.StoreURL); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_store_url", "message": err.Error()})
				return
			}
		}
		m.Settings.StoreURL = *req.StoreURL
	}
	if req.Plan != nil || req.Status != nil {
		if !auth.IsAdmin(c) {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "plan and status changes require admin"})
			return
		}
		if req.Plan != nil {
			if !ValidPlan(*req.Plan) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_plan", "message": "unknown plan"})
				return
			}
			m.Plan = *req.Plan
			storeURL := m.Settings.StoreURL
			m.Settings = DefaultSettingsForPlan(*req.Plan)
			m.Settings.StoreURL = storeURL
		}
		if req.Status != nil {
			m.Status = *req.Status
		}
	}
	m.UpdatedAt = time.Now()

	if err := h.store.Update(c.Request.Context(), m); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to update merchant"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"merchant": m})
}

// CreateKey handles POST /v1/merchants/:id/keys
func (h *Handler) CreateKey(c *gin.Context) {
	m, ok := h.load(c)
	if !ok {
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	_ = c.ShouldBindJSON(&req)
	if req.Name == "" {
		req.Name = "API key"
	}

	rawKey, keyInfo, err := h.authMgr.GenerateKey(c.Request.Context(), m.ID, validation.SanitizeString(req.Name, 100))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to create key"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"apiKey":  rawKey,
		"keyId":   keyInfo.ID,
		"warning": "Store this API key securely. It will not be shown again.",
	})
}

// ListMerchants handles GET /v1/merchants (admin only).
func (h *Handler) ListMerchants(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	merchants, err := h.store.List(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list merchants"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"merchants": merchants, "count": len(merchants)})
}

// load fetches the :id merchant and enforces ownership.
func (h *Handler) load(c *gin.Context) (*Merchant, bool) {
	id := c.Param("id")

	m, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		if err == ErrNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "merchant not found"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return nil, false
	}

	if !auth.IsAdmin(c) && auth.GetMerchantID(c) != m.ID {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "not your merchant"})
		return nil, false
	}
	return m, true
}
