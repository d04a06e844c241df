package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for auth management
type Handler struct {
	manager *Manager
}

// NewHandler creates a new auth handler
func NewHandler(m *Manager) *Handler {
	return &Handler{manager: m}
}

// Info returns auth configuration info
func (h *Handler) Info(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"type":      "api_key",
		"header":    "Authorization: Bearer cp_...",
		"altHeader": "X-API-Key: cp_...",
		"note":      "API key is returned on merchant signup. Store it securely.",
	})
}

// ListKeys returns API keys for the authenticated merchant
func (h *Handler) ListKeys(c *gin.Context) {
	key, ok := GetAPIKey(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	keys, err := h.manager.ListKeys(c.Request.Context(), key.MerchantID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to list keys",
		})
		return
	}

	// Don't expose hashes
	safeKeys := make([]gin.H, len(keys))
	for i, k := range keys {
		safeKeys[i] = gin.H{
			"id":        k.ID,
			"name":      k.Name,
			"createdAt": k.CreatedAt,
			"lastUsed":  k.LastUsed,
			"revoked":   k.Revoked,
		}
	}

	c.JSON(http.StatusOK, gin.H{"keys": safeKeys})
}

// RevokeKey revokes one of the authenticated merchant's keys
func (h *Handler) RevokeKey(c *gin.Context) {
	key, ok := GetAPIKey(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	keyID := c.Param("keyId")
	if err := h.manager.RevokeKey(c.Request.Context(), keyID, key.MerchantID); err != nil {
		if err == ErrKeyNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "key not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"revoked": keyID})
}

// RegisterRoutes sets up auth endpoints
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/auth/info", h.Info)
}

// RegisterProtectedRoutes sets up key-management endpoints
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/auth/keys", h.ListKeys)
	r.DELETE("/auth/keys/:keyId", h.RevokeKey)
}
