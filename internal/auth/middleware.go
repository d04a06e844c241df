package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	// ContextKeyAPIKey is the key for storing API key in gin context
	ContextKeyAPIKey = "apiKey"
	// ContextKeyMerchantID is the key for the authenticated merchant
	ContextKeyMerchantID = "authMerchantID"
	// ContextKeyAdmin marks requests authenticated with the admin secret
	ContextKeyAdmin = "authAdmin"
)

// Middleware extracts and validates an API key from the request.
// Sets apiKey and authMerchantID in context if valid.
func Middleware(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader("Authorization")
		if apiKey == "" {
			apiKey = c.GetHeader("X-API-Key")
		}

		if apiKey != "" {
			key, err := m.ValidateKey(c.Request.Context(), apiKey)
			if err == nil {
				c.Set(ContextKeyAPIKey, key)
				c.Set(ContextKeyMerchantID, key.MerchantID)
			}
		}

		c.Next()
	}
}

// RequireAuth middleware rejects requests without valid auth
func RequireAuth(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, exists := c.Get(ContextKeyAPIKey); !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "API key required. Include 'Authorization: Bearer cp_...' header.",
			})
			return
		}
		c.Next()
	}
}

// RequireMerchant requires auth AND that the key belongs to the merchant
// named by the URL parameter. Admin-authenticated requests pass.
func RequireMerchant(paramName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsAdmin(c) {
			c.Next()
			return
		}

		key, ok := GetAPIKey(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "API key required.",
			})
			return
		}

		if key.MerchantID != c.Param(paramName) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "API key is not scoped to this merchant.",
			})
			return
		}

		c.Next()
	}
}

// AdminMiddleware authenticates requests carrying the admin secret in the
// X-Admin-Secret header. An empty configured secret disables admin auth.
func AdminMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "admin_disabled",
				"message": "admin API is not configured",
			})
			return
		}
		if c.GetHeader("X-Admin-Secret") != secret {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "invalid admin secret",
			})
			return
		}
		c.Set(ContextKeyAdmin, true)
		c.Next()
	}
}

// GetAPIKey returns the API key from context (if authenticated)
func GetAPIKey(c *gin.Context) (*APIKey, bool) {
	key, exists := c.Get(ContextKeyAPIKey)
	if !exists {
		return nil, false
	}
	return key.(*APIKey), true
}

// GetMerchantID returns the authenticated merchant's ID
func GetMerchantID(c *gin.Context) string {
	id, exists := c.Get(ContextKeyMerchantID)
	if !exists {
		return ""
	}
	return id.(string)
}

// IsAdmin checks if the request was authenticated with the admin secret
func IsAdmin(c *gin.Context) bool {
	v, exists := c.Get(ContextKeyAdmin)
	return exists && v == true
}

// IsAuthenticated checks if the request is authenticated
func IsAuthenticated(c *gin.Context) bool {
	_, exists := c.Get(ContextKeyAPIKey)
	return exists
}
