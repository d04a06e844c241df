// Package security provides security middleware for the CartPulse API.
package security

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// csp allows the inline scripts and Google fonts the dashboard pages use,
// permits websocket connections for the live stream, and forbids framing.
const csp = "default-src 'self'; script-src 'self' 'unsafe-inline'; " +
	"style-src 'self' 'unsafe-inline' https://fonts.googleapis.com; " +
	"font-src 'self' https://fonts.gstatic.com; img-src 'self' data:; " +
	"connect-src 'self' ws: wss:; frame-ancestors 'none'"

// responseHeaders are set on every response.
var responseHeaders = map[string]string{
	"X-Content-Type-Options":  "nosniff",
	"X-Frame-Options":         "DENY",
	"X-XSS-Protection":        "1; mode=block",
	"Referrer-Policy":         "strict-origin-when-cross-origin",
	"Content-Security-Policy": csp,
	"Permissions-Policy":      "geolocation=(), microphone=(), camera=()",
}

// HeadersMiddleware adds the standard security headers to all responses.
func HeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		for k, v := range responseHeaders {
			c.Header(k, v)
		}
		c.Next()
	}
}

// CORSMiddleware handles cross-origin requests. Merchant trackers post
// events from storefront pages, so the allowed-origin list is load-bearing:
// an empty list or "*" opens the API to any origin.
func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[strings.TrimSpace(o)] = true
	}
	wildcard := allowed["*"]

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		if len(allowedOrigins) == 0 || wildcard || allowed[origin] {
			if origin != "" {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
			c.Header("Access-Control-Max-Age", "86400")
			// Wildcard origins and credentials must never combine.
			if !wildcard {
				c.Header("Access-Control-Allow-Credentials", "true")
			}
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
