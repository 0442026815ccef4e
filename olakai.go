package olakai

import (
	"context"
	"sync"
)

var (
	defaultMu     sync.RWMutex
	defaultClient *Client
)

// Init establishes the process-wide client used by the package-level
// functions. Calling it again replaces the previous client after
// shutting it down; the replacement is logged at the old client's level.
func Init(apiKey, domain string, opts ...Option) error {
	c, err := New(apiKey, domain, opts...)
	if err != nil {
		return err
	}

	defaultMu.Lock()
	prev := defaultClient
	defaultClient = c
	defaultMu.Unlock()

	if prev != nil {
		prev.logger.Info("replacing initialized client")
		if err := prev.Shutdown(context.Background()); err != nil {
			prev.logger.Warn("shutdown of replaced client failed", "error", err)
		}
	}
	return nil
}

// Default returns the process-wide client, or ErrNotInitialized when
// Init has not run.
func Default() (*Client, error) {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	if defaultClient == nil {
		return nil, ErrNotInitialized
	}
	return defaultClient, nil
}

// SuperviseDefault wraps fn against the process-wide client. The client
// is resolved per call, so wrappers built before Init become active once
// Init runs; until then they invoke fn directly, unsupervised.
func SuperviseDefault[A, R any](fn SupervisedFunc[A, R], opts ...SupervisorOption) SupervisedFunc[A, R] {
	return func(ctx context.Context, arg A) (R, error) {
		c, err := Default()
		if err != nil {
			return fn(ctx, arg)
		}
		return Supervise(c, fn, opts...)(ctx, arg)
	}
}

// GetConfig snapshots the process-wide client's configuration.
func GetConfig() (Config, error) {
	c, err := Default()
	if err != nil {
		return Config{}, err
	}
	return c.Config(), nil
}

// QueueSize reports the process-wide client's pending payload count.
func QueueSize() (int, error) {
	c, err := Default()
	if err != nil {
		return 0, err
	}
	return c.QueueSize(), nil
}

// Flush forces immediate delivery on the process-wide client.
func Flush(ctx context.Context) error {
	c, err := Default()
	if err != nil {
		return err
	}
	return c.Flush(ctx)
}

// ClearQueue discards everything pending on the process-wide client.
func ClearQueue(ctx context.Context) error {
	c, err := Default()
	if err != nil {
		return err
	}
	return c.ClearQueue(ctx)
}

// AddMiddleware registers mw on the process-wide client.
func AddMiddleware(mw Middleware) error {
	c, err := Default()
	if err != nil {
		return err
	}
	c.AddMiddleware(mw)
	return nil
}

// RemoveMiddleware removes the named middleware from the process-wide
// client.
func RemoveMiddleware(name string) error {
	c, err := Default()
	if err != nil {
		return err
	}
	c.RemoveMiddleware(name)
	return nil
}

// Shutdown flushes and releases the process-wide client. Subsequent
// package-level calls return ErrNotInitialized until Init runs again.
func Shutdown(ctx context.Context) error {
	defaultMu.Lock()
	c := defaultClient
	defaultClient = nil
	defaultMu.Unlock()

	if c == nil {
		return nil
	}
	return c.Shutdown(ctx)
}
