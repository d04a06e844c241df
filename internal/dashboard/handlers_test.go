package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartpulse/cartpulse/internal/boltx"
	"github.com/cartpulse/cartpulse/internal/events"
	"github.com/cartpulse/cartpulse/internal/merchant"
	"github.com/cartpulse/cartpulse/internal/realtime"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testMerchant = "mer_dash"

type fixture struct {
	router      *gin.Engine
	events      *events.MemoryStore
	predictions *boltx.MemoryStore
	merchants   *merchant.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		events:      events.NewMemoryStore(),
		predictions: boltx.NewMemoryStore(),
		merchants:   merchant.NewMemoryStore(),
	}

	require.NoError(t, f.merchants.Create(context.Background(), &merchant.Merchant{
		ID:       testMerchant,
		Name:     "Dash Store",
		Slug:     "dash-store",
		Plan:     merchant.PlanFree,
		Status:   merchant.StatusActive,
		Settings: merchant.DefaultSettingsForPlan(merchant.PlanFree),
	}))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(f.events, f.predictions, f.merchants, realtime.NewHub(logger))

	f.router = gin.New()
	h.RegisterRoutes(f.router.Group("/v1"))
	return f
}

func (f *fixture) get(t *testing.T, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	f.router.ServeHTTP(w, req)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func (f *fixture) insert(t *testing.T, sessionID, typ string, age time.Duration) {
	t.Helper()
	require.NoError(t, f.events.Insert(context.Background(), &events.Event{
		MerchantID: testMerchant,
		SessionID:  sessionID,
		Type:       typ,
		CreatedAt:  time.Now().UTC().Add(-age),
	}))
}

func (f *fixture) record(t *testing.T, sessionID string, score float64, level boltx.RiskLevel) {
	t.Helper()
	require.NoError(t, f.predictions.Record(context.Background(), &boltx.StoredPrediction{
		MerchantID: testMerchant,
		SessionID:  sessionID,
		RiskScore:  score,
		RiskLevel:  level,
		CreatedAt:  time.Now().UTC(),
	}))
}

func TestOverview(t *testing.T) {
	f := newFixture(t)

	f.insert(t, "sess_a", events.TypeStepViewed, 5*time.Minute)
	f.insert(t, "sess_b", events.TypeStepViewed, 9*time.Minute)
	f.insert(t, "sess_c", events.TypeStepViewed, 8*time.Minute)
	f.insert(t, "sess_c", events.TypeCheckoutAbandoned, 3*time.Minute)

	f.record(t, "sess_b", 75, boltx.RiskHigh)
	f.record(t, "sess_c", 90, boltx.RiskCritical)
	f.record(t, "sess_a", 10, boltx.RiskLow)

	w, body := f.get(t, "/v1/merchants/"+testMerchant+"/dashboard/overview")
	require.Equal(t, http.StatusOK, w.Code)

	m := body["merchant"].(map[string]any)
	assert.Equal(t, testMerchant, m["id"])
	assert.Equal(t, "free", m["plan"])

	usage := body["usage"].(map[string]any)
	assert.Equal(t, float64(4), usage["eventsThisMonth"])
	assert.Equal(t, float64(10_000), usage["monthlyEventQuota"])

	// sess_c ended, sess_a and sess_b are live.
	assert.Equal(t, float64(2), body["activeSessions"])
	assert.Equal(t, float64(3), body["recentPredictions"])
	assert.Equal(t, float64(2), body["recentAtRisk"])
	assert.Contains(t, body, "stream")
}

func TestOverview_UnknownMerchant(t *testing.T) {
	f := newFixture(t)
	w, body := f.get(t, "/v1/merchants/mer_nope/dashboard/overview")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", body["error"])
}

func TestLive_AnnotatesLatestPrediction(t *testing.T) {
	f := newFixture(t)

	f.insert(t, "sess_plain", events.TypeStepViewed, 5*time.Minute)
	f.insert(t, "sess_scored", events.TypeStepViewed, 6*time.Minute)
	f.insert(t, "sess_stale", events.TypeStepViewed, 2*time.Hour)

	// Two predictions for the same session; the later one wins.
	f.record(t, "sess_scored", 20, boltx.RiskLow)
	f.record(t, "sess_scored", 75, boltx.RiskHigh)

	w, body := f.get(t, "/v1/merchants/"+testMerchant+"/dashboard/live")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), body["count"])

	byID := map[string]map[string]any{}
	for _, raw := range body["sessions"].([]any) {
		s := raw.(map[string]any)
		byID[s["sessionId"].(string)] = s
	}

	scored, ok := byID["sess_scored"]
	require.True(t, ok)
	assert.Equal(t, float64(75), scored["riskScore"])
	assert.Equal(t, "high", scored["riskLevel"])

	plain, ok := byID["sess_plain"]
	require.True(t, ok)
	assert.NotContains(t, plain, "riskScore")

	assert.NotContains(t, byID, "sess_stale")
}

func TestLive_Limit(t *testing.T) {
	f := newFixture(t)
	f.insert(t, "sess_1", events.TypeStepViewed, time.Minute)
	f.insert(t, "sess_2", events.TypeStepViewed, 2*time.Minute)
	f.insert(t, "sess_3", events.TypeStepViewed, 3*time.Minute)

	w, body := f.get(t, "/v1/merchants/"+testMerchant+"/dashboard/live?limit=2")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), body["count"])
}
