package analytics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartpulse/cartpulse/internal/events"
)

const merchantID = "mer_analytics"

func newRouter(t *testing.T, store events.Store) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandler(store).RegisterRoutes(router.Group("/v1"))
	return router
}

func get(router *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func seed(t *testing.T, store events.Store, evts ...*events.Event) {
	t.Helper()
	for i, e := range evts {
		e.ID = "evt_seed" + string(rune('a'+i))
		e.MerchantID = merchantID
		require.NoError(t, store.Insert(context.Background(), e))
	}
}

func TestFunnelEndpoint(t *testing.T) {
	store := events.NewMemoryStore()
	now := time.Now().UTC()
	seed(t, store,
		&events.Event{SessionID: "s1", Type: events.TypeStepViewed, Step: "cart", CreatedAt: now.Add(-time.Hour)},
		&events.Event{SessionID: "s1", Type: events.TypeStepCompleted, Step: "cart", CreatedAt: now.Add(-time.Hour)},
		&events.Event{SessionID: "s2", Type: events.TypeStepViewed, Step: "cart", CreatedAt: now.Add(-time.Hour)},
	)
	router := newRouter(t, store)

	w := get(router, "/v1/merchants/"+merchantID+"/analytics/funnel?days=7")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Days  int           `json:"days"`
		Steps []StepSummary `json:"steps"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 7, resp.Days)
	require.Len(t, resp.Steps, 5)
	assert.Equal(t, 2, resp.Steps[0].Viewed)
	assert.Equal(t, 1, resp.Steps[0].Completed)
	assert.Equal(t, 0.5, resp.Steps[0].ConversionRate)
}

func TestRevenueEndpoint(t *testing.T) {
	store := events.NewMemoryStore()
	now := time.Now().UTC()
	seed(t, store,
		&events.Event{SessionID: "s1", Type: events.TypeCheckoutCompleted, RevenueCents: 1000, CreatedAt: now.Add(-26 * time.Hour)},
		&events.Event{SessionID: "s2", Type: events.TypeCheckoutCompleted, RevenueCents: 2500, CreatedAt: now.Add(-time.Hour)},
	)
	router := newRouter(t, store)

	w := get(router, "/v1/merchants/"+merchantID+"/analytics/revenue")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Series            []events.DailyRevenue `json:"series"`
		TotalRevenueCents int64                 `json:"totalRevenueCents"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(3500), resp.TotalRevenueCents)
	assert.Len(t, resp.Series, 2)
}

func TestForecastEndpoint_Model(t *testing.T) {
	store := events.NewMemoryStore()
	now := time.Now().UTC()
	// Three days of history engages the trend model.
	for i := 1; i <= 3; i++ {
		seed(t, store, &events.Event{
			SessionID:    "s",
			Type:         events.TypeCheckoutCompleted,
			RevenueCents: int64(i) * 10000,
			CreatedAt:    now.AddDate(0, 0, -4+i),
		})
	}
	router := newRouter(t, store)

	w := get(router, "/v1/merchants/"+merchantID+"/analytics/forecast?horizon=5")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Source    string `json:"source"`
		Trend     string `json:"trend"`
		Forecasts []struct {
			Forecast   float64 `json:"forecast"`
			LowerBound float64 `json:"lowerBound"`
			UpperBound float64 `json:"upperBound"`
		} `json:"forecasts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "model", resp.Source)
	assert.Equal(t, "increasing", resp.Trend)
	require.Len(t, resp.Forecasts, 5)
	for _, p := range resp.Forecasts {
		assert.LessOrEqual(t, p.LowerBound, p.Forecast)
		assert.LessOrEqual(t, p.Forecast, p.UpperBound)
		assert.GreaterOrEqual(t, p.LowerBound, 0.0)
	}
}

func TestForecastEndpoint_Fallback(t *testing.T) {
	store := events.NewMemoryStore()
	seed(t, store, &events.Event{
		SessionID:    "s",
		Type:         events.TypeCheckoutCompleted,
		RevenueCents: 5000,
		CreatedAt:    time.Now().UTC().Add(-time.Hour),
	})
	router := newRouter(t, store)

	w := get(router, "/v1/merchants/"+merchantID+"/analytics/forecast")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Source    string            `json:"source"`
		Forecasts []json.RawMessage `json:"forecasts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "fallback", resp.Source)
	assert.Len(t, resp.Forecasts, 7)
}

func TestForecastEndpoint_BadHorizon(t *testing.T) {
	router := newRouter(t, events.NewMemoryStore())

	for _, q := range []string{"horizon=0", "horizon=-3", "horizon=91", "horizon=abc"} {
		w := get(router, "/v1/merchants/"+merchantID+"/analytics/forecast?"+q)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestCohortsEndpoint(t *testing.T) {
	store := events.NewMemoryStore()
	now := time.Now().UTC()
	seed(t, store,
		&events.Event{SessionID: "s1", Type: events.TypeStepViewed, Step: "cart", CreatedAt: now.AddDate(0, 0, -14)},
		&events.Event{SessionID: "s1", Type: events.TypeStepViewed, Step: "cart", CreatedAt: now.AddDate(0, 0, -7)},
		&events.Event{SessionID: "s2", Type: events.TypeStepViewed, Step: "cart", CreatedAt: now.AddDate(0, 0, -1)},
	)
	router := newRouter(t, store)

	w := get(router, "/v1/merchants/"+merchantID+"/analytics/cohorts?weeks=4")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Weeks   int      `json:"weeks"`
		Count   int      `json:"count"`
		Cohorts []Cohort `json:"cohorts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 4, resp.Weeks)
	assert.GreaterOrEqual(t, resp.Count, 2)
}
