package events

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartpulse/cartpulse/internal/auth"
	"github.com/cartpulse/cartpulse/internal/merchant"
)

const testMerchantID = "mer_0123456789abcdef01234567"

type eventsFixture struct {
	router    *gin.Engine
	store     *MemoryStore
	merchants merchant.Store
}

func newEventsFixture(t *testing.T) *eventsFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &eventsFixture{
		store:     NewMemoryStore(),
		merchants: merchant.NewMemoryStore(),
	}
	m := &merchant.Merchant{
		ID:       testMerchantID,
		Name:     "Test Store",
		Slug:     "test-store",
		Plan:     merchant.PlanStarter,
		Status:   merchant.StatusActive,
		Settings: merchant.DefaultSettingsForPlan(merchant.PlanStarter),
	}
	require.NoError(t, f.merchants.Create(context.Background(), m))

	h := NewHandler(NewService(f.store, nil), f.merchants)
	f.router = gin.New()
	// Simulate the API-key middleware having resolved the merchant.
	f.router.Use(func(c *gin.Context) {
		c.Set(auth.ContextKeyMerchantID, testMerchantID)
		c.Next()
	})
	v1 := f.router.Group("/v1")
	h.RegisterProtectedRoutes(v1)
	h.RegisterMerchantRoutes(v1)
	return f
}

func (f *eventsFixture) postEvent(t *testing.T, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/events", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	f.router.ServeHTTP(w, req)
	return w
}

func TestIngestEvent_OK(t *testing.T) {
	f := newEventsFixture(t)

	w := f.postEvent(t, gin.H{
		"sessionId":  "sess-1",
		"type":       TypeStepViewed,
		"step":       "cart",
		"deviceType": "mobile",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Event Event `json:"event"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Event.ID)
	assert.Equal(t, testMerchantID, resp.Event.MerchantID)

	stored, err := f.store.ListBySession(context.Background(), testMerchantID, "sess-1")
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestIngestEvent_MissingFields(t *testing.T) {
	f := newEventsFixture(t)
	w := f.postEvent(t, gin.H{"type": TypeStepViewed})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIngestEvent_UnknownType(t *testing.T) {
	f := newEventsFixture(t)
	w := f.postEvent(t, gin.H{"sessionId": "sess-1", "type": "mouse_moved"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "validation_failed")
}

func TestIngestEvent_NegativeRevenue(t *testing.T) {
	f := newEventsFixture(t)
	w := f.postEvent(t, gin.H{
		"sessionId":    "sess-1",
		"type":         TypeCheckoutCompleted,
		"revenueCents": -100,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIngestEvent_QuotaExceeded(t *testing.T) {
	f := newEventsFixture(t)

	// Shrink the quota so the next event trips it.
	m, err := f.merchants.Get(context.Background(), testMerchantID)
	require.NoError(t, err)
	m.Settings.MonthlyEventQuota = 1
	require.NoError(t, f.merchants.Update(context.Background(), m))

	w := f.postEvent(t, gin.H{"sessionId": "sess-1", "type": TypeStepViewed, "step": "cart"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = f.postEvent(t, gin.H{"sessionId": "sess-1", "type": TypeStepViewed, "step": "login"})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Contains(t, w.Body.String(), "quota_exceeded")
}

func TestIngestEvent_SuspendedMerchant(t *testing.T) {
	f := newEventsFixture(t)

	m, err := f.merchants.Get(context.Background(), testMerchantID)
	require.NoError(t, err)
	m.Status = merchant.StatusSuspended
	require.NoError(t, f.merchants.Update(context.Background(), m))

	w := f.postEvent(t, gin.H{"sessionId": "sess-1", "type": TypeStepViewed})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func (f *eventsFixture) postBatch(t *testing.T, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/events/batch", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	f.router.ServeHTTP(w, req)
	return w
}

func TestIngestBatch_OK(t *testing.T) {
	f := newEventsFixture(t)

	w := f.postBatch(t, gin.H{"events": []gin.H{
		{"sessionId": "sess-1", "type": TypeStepViewed, "step": "cart"},
		{"sessionId": "sess-1", "type": TypeStepCompleted, "step": "cart"},
		{"sessionId": "sess-2", "type": TypeStepViewed, "step": "cart"},
	}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"stored":3`)

	stored, err := f.store.ListBySession(context.Background(), testMerchantID, "sess-1")
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestIngestBatch_Empty(t *testing.T) {
	f := newEventsFixture(t)
	w := f.postBatch(t, gin.H{"events": []gin.H{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIngestBatch_TooLarge(t *testing.T) {
	f := newEventsFixture(t)
	evts := make([]gin.H, 101)
	for i := range evts {
		evts[i] = gin.H{"sessionId": "sess-1", "type": TypeStepViewed, "step": "cart"}
	}
	w := f.postBatch(t, gin.H{"events": evts})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "batch_too_large")
}

func TestIngestBatch_RejectsBadItem(t *testing.T) {
	f := newEventsFixture(t)

	w := f.postBatch(t, gin.H{"events": []gin.H{
		{"sessionId": "sess-1", "type": TypeStepViewed, "step": "cart"},
		{"sessionId": "sess-1", "type": "mouse_moved"},
	}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"index":1`)

	// Nothing from the batch was stored.
	stored, err := f.store.ListBySession(context.Background(), testMerchantID, "sess-1")
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestIngestBatch_QuotaIsAllOrNothing(t *testing.T) {
	f := newEventsFixture(t)

	m, err := f.merchants.Get(context.Background(), testMerchantID)
	require.NoError(t, err)
	m.Settings.MonthlyEventQuota = 2
	require.NoError(t, f.merchants.Update(context.Background(), m))

	// 3 events against a quota of 2: reject the whole batch.
	w := f.postBatch(t, gin.H{"events": []gin.H{
		{"sessionId": "sess-1", "type": TypeStepViewed, "step": "cart"},
		{"sessionId": "sess-1", "type": TypeStepCompleted, "step": "cart"},
		{"sessionId": "sess-1", "type": TypeStepViewed, "step": "login"},
	}})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)

	stored, err := f.store.ListBySession(context.Background(), testMerchantID, "sess-1")
	require.NoError(t, err)
	assert.Empty(t, stored)

	// A batch that fits exactly goes through.
	w = f.postBatch(t, gin.H{"events": []gin.H{
		{"sessionId": "sess-1", "type": TypeStepViewed, "step": "cart"},
		{"sessionId": "sess-1", "type": TypeStepCompleted, "step": "cart"},
	}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestListEvents_Paged(t *testing.T) {
	f := newEventsFixture(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, f.store.Insert(ctx, &Event{
			ID:         "evt_" + string(rune('a'+i)),
			MerchantID: testMerchantID,
			SessionID:  "sess-1",
			Type:       TypeStepViewed,
			Step:       "cart",
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}))
	}

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/merchants/"+testMerchantID+"/events?limit=2", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Count      int    `json:"count"`
		HasMore    bool   `json:"hasMore"`
		NextCursor string `json:"nextCursor"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	assert.True(t, resp.HasMore)
	require.NotEmpty(t, resp.NextCursor)

	// Follow the cursor to the next page.
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
		"/v1/merchants/"+testMerchantID+"/events?limit=2&cursor="+resp.NextCursor, nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	assert.True(t, resp.HasMore)
}

func TestListEvents_BadCursor(t *testing.T) {
	f := newEventsFixture(t)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
		"/v1/merchants/"+testMerchantID+"/events?cursor=%21%21not-base64", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_cursor")
}

func TestListEvents_SinceFilter(t *testing.T) {
	f := newEventsFixture(t)
	ctx := context.Background()
	old := &Event{ID: "evt_old", MerchantID: testMerchantID, SessionID: "sess-1",
		Type: TypeStepViewed, Step: "cart", CreatedAt: time.Now().UTC().Add(-48 * time.Hour)}
	recent := &Event{ID: "evt_new", MerchantID: testMerchantID, SessionID: "sess-1",
		Type: TypeStepViewed, Step: "login", CreatedAt: time.Now().UTC()}
	require.NoError(t, f.store.Insert(ctx, old))
	require.NoError(t, f.store.Insert(ctx, recent))

	since := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
		"/v1/merchants/"+testMerchantID+"/events?since="+since, nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
}

func TestListActiveSessions(t *testing.T) {
	f := newEventsFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, f.store.Insert(ctx, &Event{
		ID: "e1", MerchantID: testMerchantID, SessionID: "sess-live",
		Type: TypeStepViewed, Step: "cart", CreatedAt: now,
	}))
	require.NoError(t, f.store.Insert(ctx, &Event{
		ID: "e2", MerchantID: testMerchantID, SessionID: "sess-stale",
		Type: TypeStepViewed, Step: "cart", CreatedAt: now.Add(-2 * time.Hour),
	}))

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/merchants/"+testMerchantID+"/sessions", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		SessionIDs []string `json:"sessionIds"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"sess-live"}, resp.SessionIDs)
}

func TestListSessionEvents(t *testing.T) {
	f := newEventsFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Insert(ctx, &Event{
		ID: "e1", MerchantID: testMerchantID, SessionID: "sess-1",
		Type: TypeStepViewed, Step: "cart", CreatedAt: time.Now().UTC(),
	}))

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
		"/v1/merchants/"+testMerchantID+"/sessions/sess-1/events", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)

	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
		"/v1/merchants/"+testMerchantID+"/sessions/bad%20id/events", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
