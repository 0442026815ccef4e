package olakai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// fakeBackend stands in for the Olakai platform: it answers the control
// endpoint with a configured verdict and records every monitoring batch.
type fakeBackend struct {
	mu            sync.Mutex
	monitored     []map[string]any
	controlBodies []map[string]any
	controlJSON   string
	controlStatus int
	monitorStatus int
	apiKeysSeen   map[string]bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		controlJSON:   `{"allowed":true,"details":{"detectedSensitivity":[],"isAllowedPersona":true}}`,
		controlStatus: http.StatusOK,
		monitorStatus: http.StatusOK,
		apiKeysSeen:   map[string]bool{},
	}
}

func (b *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/monitoring/prompt", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.apiKeysSeen[r.Header.Get("x-api-key")] = true
		var payloads []map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payloads)
		if b.monitorStatus >= 300 {
			w.WriteHeader(b.monitorStatus)
			return
		}
		b.monitored = append(b.monitored, payloads...)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true, "totalRequests": len(payloads), "successCount": len(payloads),
		})
	})
	mux.HandleFunc("/api/control/prompt", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.apiKeysSeen[r.Header.Get("x-api-key")] = true
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		b.controlBodies = append(b.controlBodies, body)
		if b.controlStatus >= 300 {
			w.WriteHeader(b.controlStatus)
			return
		}
		_, _ = w.Write([]byte(b.controlJSON))
	})
	return mux
}

func (b *fakeBackend) monitoredPayloads() []map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]map[string]any, len(b.monitored))
	copy(out, b.monitored)
	return out
}

func (b *fakeBackend) controlRequests() []map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]map[string]any, len(b.controlBodies))
	copy(out, b.controlBodies)
	return out
}

func (b *fakeBackend) setControl(status int, body string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.controlStatus = status
	if body != "" {
		b.controlJSON = body
	}
}

// newTestClient builds a client against the fake backend, with storage
// off and auto-flush effectively disabled unless the test re-tunes it.
func newTestClient(t *testing.T, backend *fakeBackend, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(backend.handler())
	t.Cleanup(srv.Close)

	base := []Option{
		WithoutStorage(),
		WithBatchSize(100),
		WithBatchTimeout(time.Hour),
		WithRetries(1),
		WithTimeout(3 * time.Second),
		WithLogOutput(io.Discard),
	}
	c, err := New("test-key", srv.URL, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = c.Shutdown(ctx)
	})
	return c
}

func waitForCondition(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New("", "https://app.olakai.ai", WithoutStorage(), WithLogOutput(io.Discard))
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestNewRejectsBadSanitizePattern(t *testing.T) {
	_, err := New("key", "https://app.olakai.ai",
		WithoutStorage(),
		WithLogOutput(io.Discard),
		WithSanitizePatterns(SanitizePattern{Pattern: "("}),
	)
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError for bad regex, got %v", err)
	}
}

func TestConfigSnapshot(t *testing.T) {
	backend := newFakeBackend()
	c := newTestClient(t, backend, WithBatchSize(25), WithControlTimeout(time.Second))

	cfg := c.Config()
	if cfg.BatchSize != 25 {
		t.Fatalf("option not applied: %d", cfg.BatchSize)
	}
	if cfg.ControlTimeout != time.Second {
		t.Fatalf("control timeout not applied: %v", cfg.ControlTimeout)
	}
	if cfg.StorageEnabled || cfg.StoragePath != "" {
		t.Fatalf("storage should be off: %+v", cfg)
	}
	if cfg.MonitoringURL == "" || cfg.ControlURL == "" {
		t.Fatalf("endpoints not derived: %+v", cfg)
	}
}

func TestFlushDeliversQueuedEvents(t *testing.T) {
	backend := newFakeBackend()
	c := newTestClient(t, backend)

	double := Supervise(c, func(ctx context.Context, n int) (int, error) {
		return n * 2, nil
	}, WithoutControl())

	for i := 0; i < 3; i++ {
		if _, err := double(context.Background(), i); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if got := c.QueueSize(); got != 3 {
		t.Fatalf("expected 3 queued events, got %d", got)
	}

	if err := c.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if got := c.QueueSize(); got != 0 {
		t.Fatalf("queue not drained: %d", got)
	}
	if got := len(backend.monitoredPayloads()); got != 3 {
		t.Fatalf("backend received %d payloads", got)
	}
	if !backend.apiKeysSeen["test-key"] {
		t.Fatalf("api key header missing")
	}
}

func TestClearQueueDiscardsWithoutSending(t *testing.T) {
	backend := newFakeBackend()
	c := newTestClient(t, backend)

	record := Supervise(c, func(ctx context.Context, s string) (string, error) {
		return s, nil
	}, WithoutControl())
	if _, err := record(context.Background(), "x"); err != nil {
		t.Fatalf("call: %v", err)
	}

	if err := c.ClearQueue(context.Background()); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if c.QueueSize() != 0 {
		t.Fatalf("queue not cleared")
	}
	if len(backend.monitoredPayloads()) != 0 {
		t.Fatalf("clear must not deliver")
	}
}

func TestBatchSizeTriggersAutoFlush(t *testing.T) {
	backend := newFakeBackend()
	c := newTestClient(t, backend, WithBatchSize(2))

	echo := Supervise(c, func(ctx context.Context, s string) (string, error) {
		return s, nil
	}, WithoutControl())

	if _, err := echo(context.Background(), "one"); err != nil {
		t.Fatalf("call: %v", err)
	}
	if _, err := echo(context.Background(), "two"); err != nil {
		t.Fatalf("call: %v", err)
	}

	waitForCondition(t, "auto flush", func() bool {
		return c.QueueSize() == 0 && len(backend.monitoredPayloads()) == 2
	})
}

func TestDeliveryFailureReachesErrorCallback(t *testing.T) {
	backend := newFakeBackend()
	backend.monitorStatus = http.StatusInternalServerError

	var mu sync.Mutex
	var seen []error
	c := newTestClient(t, backend, WithErrorCallback(func(err error) {
		mu.Lock()
		seen = append(seen, err)
		mu.Unlock()
	}))

	echo := Supervise(c, func(ctx context.Context, s string) (string, error) {
		return s, nil
	}, WithoutControl())
	if _, err := echo(context.Background(), "x"); err != nil {
		t.Fatalf("delivery problems must not surface in the call: %v", err)
	}

	if err := c.Flush(context.Background()); err != nil {
		t.Fatalf("flush settles failures internally: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 {
		t.Fatalf("expected one callback, got %d", len(seen))
	}
}
