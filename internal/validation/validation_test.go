package validation

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestIsValidSessionID(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"sess-abc123", true},
		{"a", true},
		{"A_Z-09", true},
		{strings.Repeat("x", 64), true},
		{strings.Repeat("x", 65), false},
		{"", false},
		{"has space", false},
		{"semi;colon", false},
		{"path/../traversal", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsValidSessionID(tt.input), "input=%q", tt.input)
	}
}

func TestIsValidMerchantID(t *testing.T) {
	assert.True(t, IsValidMerchantID("mer_0123456789abcdef01234567"))
	assert.False(t, IsValidMerchantID("mer_short"))
	assert.False(t, IsValidMerchantID("usr_0123456789abcdef01234567"))
	assert.False(t, IsValidMerchantID("mer_0123456789ABCDEF01234567")) // uppercase hex
	assert.False(t, IsValidMerchantID(""))
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "hello", SanitizeString("  hello  ", 100))
	assert.Equal(t, "abc", SanitizeString("abcdef", 3))
	assert.Equal(t, "ab", SanitizeString("a\x00b", 100))
	assert.Equal(t, "", SanitizeString("   ", 100))
}

func TestValidate(t *testing.T) {
	errs := Validate(
		Required("name", ""),
		Required("slug", "ok"),
		NonNegative("amount", -1),
	)
	assert.Len(t, errs, 2)
	assert.Equal(t, "name", errs[0].Field)
	assert.Equal(t, "amount", errs[1].Field)

	none := Validate(Required("name", "x"))
	assert.Empty(t, none)
}

func TestValidSessionID(t *testing.T) {
	assert.Nil(t, ValidSessionID("sessionId", "sess-1")())
	assert.Nil(t, ValidSessionID("sessionId", "")()) // empty left to Required
	assert.NotNil(t, ValidSessionID("sessionId", "bad id")())
}

func TestOneOf(t *testing.T) {
	allowed := []string{"step_viewed", "step_completed"}
	assert.Nil(t, OneOf("type", "step_viewed", allowed)())
	assert.Nil(t, OneOf("type", "", allowed)())
	err := OneOf("type", "unknown", allowed)()
	assert.NotNil(t, err)
	assert.Contains(t, err.Message, "step_viewed")
}

func TestMaxLength(t *testing.T) {
	assert.Nil(t, MaxLength("deviceType", "mobile", 24)())
	assert.NotNil(t, MaxLength("deviceType", strings.Repeat("x", 25), 24)())
}

func TestValidationErrors_Error(t *testing.T) {
	assert.Equal(t, "validation failed", ValidationErrors{}.Error())
	errs := ValidationErrors{{Field: "name", Message: "is required"}}
	assert.Equal(t, "name: is required", errs.Error())
}

func TestMerchantParamMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(MerchantParamMiddleware())
	r.GET("/merchants/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/merchants/mer_0123456789abcdef01234567", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/merchants/not-an-id", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_merchant_id")
}

func TestRequestSizeMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestSizeMiddleware(16))
	r.POST("/", func(c *gin.Context) {
		var body map[string]any
		if err := c.ShouldBindJSON(&body); err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":1}`)))
	assert.Equal(t, http.StatusOK, w.Code)

	big := `{"a":"` + strings.Repeat("x", 64) + `"}`
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(big)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
