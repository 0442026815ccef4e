package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"time"
)

const maxBackoff = 30 * time.Second

// StatusError is returned when an endpoint answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.StatusCode, e.Body)
}

// Client talks to the monitoring and control endpoints. Monitoring sends
// are retried with jittered exponential backoff; control checks are a
// single attempt because a failed authorization must never silently pass.
type Client struct {
	apiKey        string
	monitoringURL string
	controlURL    string
	httpClient    *http.Client
	maxRetries    int
	baseBackoff   time.Duration
	logger        *slog.Logger
	random        *rand.Rand
}

func New(apiKey, monitoringURL, controlURL string, timeout time.Duration, retries int, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		apiKey:        apiKey,
		monitoringURL: monitoringURL,
		controlURL:    controlURL,
		httpClient:    &http.Client{Timeout: timeout},
		maxRetries:    retries,
		baseBackoff:   500 * time.Millisecond,
		logger:        logger,
		random:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetTestOptions swaps the transport and retry policy for tests.
func (c *Client) SetTestOptions(client *http.Client, retries int, backoff time.Duration) {
	if client != nil {
		c.httpClient = client
	}
	c.maxRetries = retries
	c.baseBackoff = backoff
}

// SendBatch posts a group of payloads as one request, retrying transient
// failures. The batch succeeds or fails as a whole.
func (c *Client) SendBatch(ctx context.Context, payloads []MonitorPayload) (BatchResponse, error) {
	if len(payloads) == 0 {
		return BatchResponse{Success: true}, nil
	}
	body, err := json.Marshal(payloads)
	if err != nil {
		return BatchResponse{}, fmt.Errorf("marshal batch: %w", err)
	}

	var lastErr error
	// maxRetries counts resends beyond the initial attempt.
	attempts := c.maxRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		raw, err := c.post(ctx, c.monitoringURL, body)
		if err == nil {
			var resp BatchResponse
			if err := json.Unmarshal(raw, &resp); err != nil {
				// Delivery happened; a malformed body is not worth a resend.
				c.logger.Debug("unparseable batch response", "error", err)
				return BatchResponse{Success: true, TotalRequests: len(payloads), SuccessCount: len(payloads)}, nil
			}
			return resp, nil
		}
		lastErr = err
		c.logger.Debug("batch send attempt failed", "attempt", attempt+1, "error", err)

		if attempt == attempts-1 {
			break
		}
		maxSleep := c.baseBackoff * time.Duration(1<<attempt)
		if maxSleep > maxBackoff {
			maxSleep = maxBackoff
		}
		sleep := time.Duration(c.random.Int63n(int64(maxSleep) + 1))
		select {
		case <-ctx.Done():
			return BatchResponse{}, ctx.Err()
		case <-time.After(sleep):
		}
	}
	return BatchResponse{}, fmt.Errorf("batch send failed after %d attempts: %w", attempts, lastErr)
}

// CheckControl asks the control endpoint whether a call may proceed.
// Exactly one attempt: the caller decides what an unreachable authority
// means, not the transport.
func (c *Client) CheckControl(ctx context.Context, payload ControlPayload) (ControlResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return ControlResponse{}, fmt.Errorf("marshal control payload: %w", err)
	}
	raw, err := c.post(ctx, c.controlURL, body)
	if err != nil {
		return ControlResponse{}, err
	}
	var resp ControlResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return ControlResponse{}, fmt.Errorf("decode control response: %w", err)
	}
	return resp, nil
}

func (c *Client) post(ctx context.Context, url string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncateBody(raw)}
	}
	return raw, nil
}

func truncateBody(raw []byte) string {
	const max = 256
	if len(raw) > max {
		raw = raw[:max]
	}
	return string(raw)
}

// IsStatusError reports whether err originates from a non-2xx response.
func IsStatusError(err error) bool {
	var se *StatusError
	return errors.As(err, &se)
}
