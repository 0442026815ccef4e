package olakai

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"
)

// The singleton tests share process-wide state, so none of them run in
// parallel and each one tears the default client down.

func initForTest(t *testing.T, backend *fakeBackend, opts ...Option) {
	t.Helper()
	srv := httptest.NewServer(backend.handler())
	t.Cleanup(srv.Close)

	base := []Option{
		WithoutStorage(),
		WithBatchSize(100),
		WithBatchTimeout(time.Hour),
		WithRetries(1),
		WithLogOutput(io.Discard),
	}
	if err := Init("test-key", srv.URL, append(base, opts...)...); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = Shutdown(ctx)
	})
}

func TestPackageLevelRequiresInit(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = Shutdown(ctx)

	if _, err := Default(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if _, err := GetConfig(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("GetConfig: %v", err)
	}
	if _, err := QueueSize(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("QueueSize: %v", err)
	}
	if err := Flush(ctx); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("Flush: %v", err)
	}
	if err := AddMiddleware(Middleware{Name: "x"}); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("AddMiddleware: %v", err)
	}
}

func TestInitAndPackageLevelOperations(t *testing.T) {
	backend := newFakeBackend()
	initForTest(t, backend)

	cfg, err := GetConfig()
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	if cfg.APIKey != "test-key" {
		t.Fatalf("config not from init: %+v", cfg)
	}

	echo := SuperviseDefault(func(ctx context.Context, s string) (string, error) {
		return s, nil
	}, WithoutControl())
	if _, err := echo(context.Background(), "hi"); err != nil {
		t.Fatalf("call: %v", err)
	}

	n, err := QueueSize()
	if err != nil {
		t.Fatalf("queue size: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 queued event, got %d", n)
	}

	if err := Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if got := len(backend.monitoredPayloads()); got != 1 {
		t.Fatalf("backend received %d events", got)
	}
}

func TestSuperviseDefaultBeforeInitPassesThrough(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = Shutdown(ctx)

	echo := SuperviseDefault(func(ctx context.Context, s string) (string, error) {
		return s + "!", nil
	})
	got, err := echo(context.Background(), "plain")
	if err != nil {
		t.Fatalf("unsupervised pass-through failed: %v", err)
	}
	if got != "plain!" {
		t.Fatalf("pass-through altered the result: %q", got)
	}
}

func TestSuperviseDefaultBindsLazily(t *testing.T) {
	echo := SuperviseDefault(func(ctx context.Context, s string) (string, error) {
		return s, nil
	}, WithoutControl())

	backend := newFakeBackend()
	initForTest(t, backend)

	if _, err := echo(context.Background(), "late"); err != nil {
		t.Fatalf("call: %v", err)
	}
	n, err := QueueSize()
	if err != nil {
		t.Fatalf("queue size: %v", err)
	}
	if n != 1 {
		t.Fatalf("wrapper built before init must bind after it, queue %d", n)
	}
}

func TestReinitReplacesClient(t *testing.T) {
	first := newFakeBackend()
	initForTest(t, first)

	second := newFakeBackend()
	srv := httptest.NewServer(second.handler())
	t.Cleanup(srv.Close)
	err := Init("second-key", srv.URL,
		WithoutStorage(), WithBatchSize(100), WithBatchTimeout(time.Hour), WithLogOutput(io.Discard))
	if err != nil {
		t.Fatalf("re-init: %v", err)
	}

	cfg, err := GetConfig()
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	if cfg.APIKey != "second-key" {
		t.Fatalf("re-init did not replace the client: %+v", cfg)
	}

	echo := SuperviseDefault(func(ctx context.Context, s string) (string, error) {
		return s, nil
	}, WithoutControl())
	if _, err := echo(context.Background(), "x"); err != nil {
		t.Fatalf("call: %v", err)
	}
	if err := Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(second.monitoredPayloads()) != 1 || len(first.monitoredPayloads()) != 0 {
		t.Fatalf("events went to the wrong backend: first=%d second=%d",
			len(first.monitoredPayloads()), len(second.monitoredPayloads()))
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	backend := newFakeBackend()
	initForTest(t, backend)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := Shutdown(ctx); err != nil {
		t.Fatalf("second shutdown must be a no-op: %v", err)
	}
}
