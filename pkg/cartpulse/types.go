// Package cartpulse is the Go client for the CartPulse API. Merchant
// backends embed it to stream checkout events and read back risk scores
// without hand-rolling HTTP calls.
package cartpulse

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Event is one shopper action inside a checkout session.
type Event struct {
	SessionID    string `json:"sessionId"`
	Type         string `json:"type"`
	Step         string `json:"step,omitempty"`
	RevenueCents int64  `json:"revenueCents,omitempty"`
	DeviceType   string `json:"deviceType,omitempty"`
	Location     string `json:"location,omitempty"`
}

// Event types accepted by the ingest endpoints.
const (
	EventStepViewed        = "step_viewed"
	EventStepCompleted     = "step_completed"
	EventCheckoutError     = "checkout_error"
	EventCheckoutCompleted = "checkout_completed"
	EventCheckoutAbandoned = "checkout_abandoned"
)

// StoredEvent is an event as the server returns it, with server-assigned
// identity fields.
type StoredEvent struct {
	Event
	ID         string    `json:"id"`
	MerchantID string    `json:"merchantId"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Factor is one named contribution to a risk score.
type Factor struct {
	Name         string  `json:"name"`
	Contribution float64 `json:"contribution"`
	Weight       float64 `json:"weight"`
	Detail       string  `json:"detail,omitempty"`
}

// Prediction is a session's abandonment risk as scored by the server.
type Prediction struct {
	RiskScore             float64   `json:"riskScore"`
	RiskLevel             string    `json:"riskLevel"`
	Confidence            float64   `json:"confidence"`
	Factors               []Factor  `json:"factors"`
	Recommendations       []string  `json:"recommendations"`
	InterventionSuggested bool      `json:"interventionSuggested"`
	InterventionType      string    `json:"interventionType,omitempty"`
	EvaluatedAt           time.Time `json:"evaluatedAt"`
}

// APIError is a non-2xx response body from the server.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"error"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cartpulse: %s: %s (HTTP %d)", e.Code, e.Message, e.StatusCode)
}

// IsQuotaExceeded reports whether the error is the monthly event quota
// rejection, which callers typically handle by dropping or buffering.
func IsQuotaExceeded(err error) bool {
	ae, ok := err.(*APIError)
	return ok && ae.Code == "quota_exceeded"
}

// parseAPIError reads an error envelope out of a non-2xx response. The
// body is consumed but not closed.
func parseAPIError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return fmt.Errorf("cartpulse: failed to read error response: %w", err)
	}
	ae := &APIError{StatusCode: resp.StatusCode}
	if err := json.Unmarshal(body, ae); err != nil || ae.Code == "" {
		ae.Code = "unexpected_response"
		ae.Message = http.StatusText(resp.StatusCode)
	}
	return ae
}
