package cartpulse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Client calls the CartPulse API with Bearer key auth and automatic
// retries on transient failures (429 and 5xx).
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string

	// MaxRetries is how many times a request is retried after a
	// transient failure (default: 2).
	MaxRetries int
	// RetryDelay is the base delay between retries; it doubles per
	// attempt and respects a server Retry-After header (default: 500ms).
	RetryDelay time.Duration

	// OnRetry, if set, is called before each retry with the attempt
	// number and the status code that triggered it.
	OnRetry func(attempt, statusCode int)
}

// New creates a client for the API at baseURL (e.g.
// "https://api.cartpulse.io") authenticated with a cp_ API key.
func New(baseURL, apiKey string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
		MaxRetries: 2,
		RetryDelay: 500 * time.Millisecond,
	}
}

// TrackEvent sends one checkout event.
func (c *Client) TrackEvent(ctx context.Context, e Event) (*StoredEvent, error) {
	var resp struct {
		Event StoredEvent `json:"event"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/events", e, &resp); err != nil {
		return nil, err
	}
	return &resp.Event, nil
}

// TrackBatch sends up to 100 events in one request. The server accepts
// the whole batch or none of it.
func (c *Client) TrackBatch(ctx context.Context, events []Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	body := map[string]any{"events": events}
	var resp struct {
		Stored int `json:"stored"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/events/batch", body, &resp); err != nil {
		return 0, err
	}
	return resp.Stored, nil
}

// ScoreSession asks the server to score a live session's abandonment
// risk from its stored event stream.
func (c *Client) ScoreSession(ctx context.Context, merchantID, sessionID string) (*Prediction, error) {
	body := map[string]any{"sessionId": sessionID}
	var resp struct {
		Prediction Prediction `json:"prediction"`
	}
	path := "/v1/merchants/" + merchantID + "/score"
	if err := c.doJSON(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}
	return &resp.Prediction, nil
}

// doJSON performs one JSON round trip with the retry loop. The request
// body is re-marshalled bytes, so retries are safe.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("cartpulse: failed to encode request: %w", err)
	}

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("cartpulse: failed to build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("cartpulse: request failed: %w", err)
		}

		if resp.StatusCode < 300 {
			defer resp.Body.Close()
			if out == nil {
				return nil
			}
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("cartpulse: failed to decode response: %w", err)
			}
			return nil
		}

		apiErr := parseAPIError(resp)
		retryAfter := resp.Header.Get("Retry-After")
		_ = resp.Body.Close()

		if !retryable(resp.StatusCode) || attempt >= c.MaxRetries {
			return apiErr
		}
		if c.OnRetry != nil {
			c.OnRetry(attempt+1, resp.StatusCode)
		}
		if err := c.sleep(ctx, attempt, retryAfter); err != nil {
			return err
		}
	}
}

// retryable reports whether a status is worth retrying. Client errors
// other than 429 will fail the same way every time.
func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// sleep waits out the backoff for one retry, preferring the server's
// Retry-After when present.
func (c *Client) sleep(ctx context.Context, attempt int, retryAfter string) error {
	delay := c.RetryDelay << attempt
	if secs, err := strconv.Atoi(retryAfter); err == nil && secs > 0 {
		delay = time.Duration(secs) * time.Second
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
