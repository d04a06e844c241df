package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupMiddlewareTest() (*Manager, string, *APIKey) {
	store := NewMemoryStore()
	mgr := NewManager(store)
	rawKey, key, _ := mgr.GenerateKey(context.Background(), "mer_abc123", "test-key")
	return mgr, rawKey, key
}

// --- Middleware() ---

func TestMiddleware_ValidKey_SetsContext(t *testing.T) {
	mgr, rawKey, _ := setupMiddlewareTest()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("GET", "/test", nil)
	c.Request.Header.Set("Authorization", rawKey)

	Middleware(mgr)(c)

	if GetMerchantID(c) != "mer_abc123" {
		t.Errorf("Expected merchant mer_abc123, got %q", GetMerchantID(c))
	}
	key, ok := GetAPIKey(c)
	if !ok {
		t.Fatal("Expected API key to be set in context")
	}
	if key.Name != "test-key" {
		t.Errorf("Expected key name test-key, got %s", key.Name)
	}
}

func TestMiddleware_XAPIKeyHeader(t *testing.T) {
	mgr, rawKey, _ := setupMiddlewareTest()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("GET", "/test", nil)
	c.Request.Header.Set("X-API-Key", rawKey)

	Middleware(mgr)(c)

	if !IsAuthenticated(c) {
		t.Error("Expected X-API-Key header to authenticate")
	}
}

func TestMiddleware_InvalidKey_NoContext(t *testing.T) {
	mgr, _, _ := setupMiddlewareTest()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("GET", "/test", nil)
	c.Request.Header.Set("Authorization", "cp_bogus")

	Middleware(mgr)(c)

	if IsAuthenticated(c) {
		t.Error("Expected invalid key to leave request unauthenticated")
	}
	// Middleware itself never rejects; RequireAuth does.
	if w.Code != http.StatusOK {
		t.Errorf("Middleware should not write a status, got %d", w.Code)
	}
}

// --- RequireAuth() ---

func TestRequireAuth_Rejects(t *testing.T) {
	mgr, _, _ := setupMiddlewareTest()

	router := gin.New()
	router.Use(Middleware(mgr), RequireAuth(mgr))
	router.GET("/protected", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/protected", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", w.Code)
	}
}

func TestRequireAuth_Passes(t *testing.T) {
	mgr, rawKey, _ := setupMiddlewareTest()

	router := gin.New()
	router.Use(Middleware(mgr), RequireAuth(mgr))
	router.GET("/protected", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+rawKey)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

// --- RequireMerchant() ---

func requireMerchantRouter(mgr *Manager) *gin.Engine {
	router := gin.New()
	router.Use(Middleware(mgr), RequireAuth(mgr))
	router.GET("/merchants/:id/data", RequireMerchant("id"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func TestRequireMerchant_OwnMerchant(t *testing.T) {
	mgr, rawKey, _ := setupMiddlewareTest()
	router := requireMerchantRouter(mgr)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/merchants/mer_abc123/data", nil)
	req.Header.Set("Authorization", rawKey)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 for own merchant, got %d", w.Code)
	}
}

func TestRequireMerchant_OtherMerchant(t *testing.T) {
	mgr, rawKey, _ := setupMiddlewareTest()
	router := requireMerchantRouter(mgr)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/merchants/mer_someone_else/data", nil)
	req.Header.Set("Authorization", rawKey)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for foreign merchant, got %d", w.Code)
	}
}

// --- AdminMiddleware() ---

func TestAdminMiddleware(t *testing.T) {
	router := gin.New()
	router.GET("/admin", AdminMiddleware("s3cret"), func(c *gin.Context) {
		if !IsAdmin(c) {
			t.Error("Expected IsAdmin inside admin route")
		}
		c.Status(http.StatusOK)
	})

	// Correct secret
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/admin", nil)
	req.Header.Set("X-Admin-Secret", "s3cret")
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 with admin secret, got %d", w.Code)
	}

	// Wrong secret
	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/admin", nil)
	req.Header.Set("X-Admin-Secret", "nope")
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 with wrong secret, got %d", w.Code)
	}
}

func TestAdminMiddleware_Unconfigured(t *testing.T) {
	router := gin.New()
	router.GET("/admin", AdminMiddleware(""), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/admin", nil)
	req.Header.Set("X-Admin-Secret", "anything")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 when admin secret unset, got %d", w.Code)
	}
}
