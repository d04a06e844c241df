package cartpulse

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFastClient(url string) *Client {
	c := New(url, "cp_testkey")
	c.RetryDelay = time.Millisecond
	return c
}

func TestTrackEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/events", r.URL.Path)
		require.Equal(t, "Bearer cp_testkey", r.Header.Get("Authorization"))

		var e Event
		require.NoError(t, json.NewDecoder(r.Body).Decode(&e))
		assert.Equal(t, "sess-1", e.SessionID)

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"event": StoredEvent{
			Event: e, ID: "evt_abc", MerchantID: "mer_abc", CreatedAt: time.Now().UTC(),
		}})
	}))
	defer srv.Close()

	stored, err := newFastClient(srv.URL).TrackEvent(context.Background(), Event{
		SessionID: "sess-1", Type: EventStepViewed, Step: "cart",
	})
	require.NoError(t, err)
	assert.Equal(t, "evt_abc", stored.ID)
}

func TestTrackBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/events/batch", r.URL.Path)
		var req struct {
			Events []Event `json:"events"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]int{"stored": len(req.Events)})
	}))
	defer srv.Close()

	stored, err := newFastClient(srv.URL).TrackBatch(context.Background(), []Event{
		{SessionID: "sess-1", Type: EventStepViewed, Step: "cart"},
		{SessionID: "sess-1", Type: EventStepCompleted, Step: "cart"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, stored)
}

func TestTrackBatch_EmptyIsNoop(t *testing.T) {
	c := newFastClient("http://invalid.invalid")
	stored, err := c.TrackBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, stored)
}

func TestScoreSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/merchants/mer_abc/score", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"sessionId": "sess-1",
			"prediction": Prediction{
				RiskScore: 72.5, RiskLevel: "critical", Confidence: 0.8,
				Recommendations: []string{"Offer live chat support"},
			},
		})
	}))
	defer srv.Close()

	pred, err := newFastClient(srv.URL).ScoreSession(context.Background(), "mer_abc", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 72.5, pred.RiskScore)
	assert.Equal(t, "critical", pred.RiskLevel)
}

func TestRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"event": StoredEvent{ID: "evt_abc"}})
	}))
	defer srv.Close()

	var retried []int
	c := newFastClient(srv.URL)
	c.OnRetry = func(attempt, status int) { retried = append(retried, status) }

	_, err := c.TrackEvent(context.Background(), Event{SessionID: "sess-1", Type: EventStepViewed})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []int{http.StatusServiceUnavailable, http.StatusServiceUnavailable}, retried)
}

func TestDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusPaymentRequired)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error": "quota_exceeded", "message": "monthly event quota exceeded",
		})
	}))
	defer srv.Close()

	_, err := newFastClient(srv.URL).TrackEvent(context.Background(), Event{SessionID: "sess-1", Type: EventStepViewed})
	require.Error(t, err)
	assert.True(t, IsQuotaExceeded(err))
	assert.Equal(t, int32(1), calls.Load())

	var ae *APIError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusPaymentRequired, ae.StatusCode)
}

func TestGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newFastClient(srv.URL)
	c.MaxRetries = 1
	_, err := c.TrackEvent(context.Background(), Event{SessionID: "sess-1", Type: EventStepViewed})
	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())

	var ae *APIError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "unexpected_response", ae.Code)
}

func TestContextCancelledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newFastClient(srv.URL)
	c.RetryDelay = time.Minute
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.TrackEvent(ctx, Event{SessionID: "sess-1", Type: EventStepViewed})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAPIError_Error(t *testing.T) {
	e := &APIError{StatusCode: 403, Code: "suspended", Message: "merchant account is not active"}
	assert.Equal(t, "cartpulse: suspended: merchant account is not active (HTTP 403)", e.Error())
}
