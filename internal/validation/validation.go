// Package validation provides input validation helpers for the CartPulse API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxStringLength is the maximum length for string fields
const MaxStringLength = 10000

var (
	// sessionIDRegex validates storefront session identifiers
	sessionIDRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	// merchantIDRegex validates merchant IDs minted by idgen
	merchantIDRegex = regexp.MustCompile(`^mer_[a-f0-9]{24}$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidSessionID checks if a string is a well-formed session identifier
func IsValidSessionID(s string) bool {
	return sessionIDRegex.MatchString(s)
}

// IsValidMerchantID checks if a string is a well-formed merchant ID
func IsValidMerchantID(s string) bool {
	return merchantIDRegex.MatchString(s)
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	// Trim whitespace
	s = strings.TrimSpace(s)

	// Limit length
	if len(s) > maxLen {
		s = s[:maxLen]
	}

	// Remove null bytes
	s = strings.ReplaceAll(s, "\x00", "")

	return s
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate validates a request and returns errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errors ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errors = append(errors, *err)
		}
	}
	return errors
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// ValidSessionID checks if a field is a well-formed session identifier
func ValidSessionID(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if !IsValidSessionID(value) {
			return &ValidationError{Field: field, Message: "must be 1-64 characters of [A-Za-z0-9_-]"}
		}
		return nil
	}
}

// OneOf checks if a field is one of the allowed values
func OneOf(field, value string, allowed []string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		for _, a := range allowed {
			if value == a {
				return nil
			}
		}
		return &ValidationError{Field: field, Message: "must be one of: " + strings.Join(allowed, ", ")}
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// NonNegative checks that a numeric field is not negative
func NonNegative(field string, value int64) func() *ValidationError {
	return func() *ValidationError {
		if value < 0 {
			return &ValidationError{Field: field, Message: "must not be negative"}
		}
		return nil
	}
}

// MerchantParamMiddleware validates the :id URL parameter on merchant
// routes, rejecting malformed IDs before handlers run.
func MerchantParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if id != "" && !IsValidMerchantID(id) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_merchant_id",
				"message": "merchant id must look like mer_ + 24 hex chars",
			})
			return
		}
		c.Next()
	}
}
