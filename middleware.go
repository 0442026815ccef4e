package olakai

import (
	"context"
	"fmt"
)

// Middleware hooks around every supervised call made through a client.
// Hooks are fail-safe by contract: one that returns an error or panics is
// reported and skipped, it never aborts the call or the monitoring event.
type Middleware struct {
	// Name is the registry key; registering again under the same name
	// replaces the previous entry in place.
	Name string
	// Before runs ahead of the wrapped function and may transform its
	// argument. Returning a value of a different type keeps the previous
	// argument.
	Before func(ctx context.Context, args any) (any, error)
	// After runs once the wrapped function returned, seeing the argument,
	// result and call error.
	After func(ctx context.Context, args any, result any, callErr error) error
	// OnError runs only when the wrapped function failed.
	OnError func(ctx context.Context, args any, callErr error)
}

// AddMiddleware registers mw. Hooks run in registration order; a name
// collision replaces the previous entry without changing its position.
func (c *Client) AddMiddleware(mw Middleware) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.middlewares {
		if existing.Name == mw.Name {
			c.middlewares[i] = mw
			c.logger.Info("replaced middleware", "name", mw.Name)
			return
		}
	}
	c.middlewares = append(c.middlewares, mw)
	c.logger.Info("added middleware", "name", mw.Name)
}

// RemoveMiddleware deletes the entry under name; a miss is a no-op.
func (c *Client) RemoveMiddleware(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.middlewares {
		if existing.Name == name {
			c.middlewares = append(c.middlewares[:i], c.middlewares[i+1:]...)
			c.logger.Info("removed middleware", "name", name)
			return
		}
	}
}

// middlewareSnapshot copies the registry so hooks run against a stable
// view even if registrations change mid-call.
func (c *Client) middlewareSnapshot() []Middleware {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Middleware, len(c.middlewares))
	copy(out, c.middlewares)
	return out
}

func (c *Client) runBefore(ctx context.Context, mws []Middleware, args any) any {
	for _, mw := range mws {
		if mw.Before == nil {
			continue
		}
		transformed, err := callBefore(ctx, mw, args)
		if err != nil {
			c.reportError("before-middleware", fmt.Errorf("middleware %q: %w", mw.Name, err))
			continue
		}
		if transformed != nil {
			args = transformed
		}
	}
	return args
}

func (c *Client) runAfter(ctx context.Context, mws []Middleware, args, result any, callErr error) {
	for _, mw := range mws {
		if mw.After == nil {
			continue
		}
		if err := callAfter(ctx, mw, args, result, callErr); err != nil {
			c.reportError("after-middleware", fmt.Errorf("middleware %q: %w", mw.Name, err))
		}
	}
}

func (c *Client) runOnError(ctx context.Context, mws []Middleware, args any, callErr error) {
	for _, mw := range mws {
		if mw.OnError == nil {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.reportError("error-middleware", fmt.Errorf("middleware %q panicked: %v", mw.Name, r))
				}
			}()
			mw.OnError(ctx, args, callErr)
		}()
	}
}

func callBefore(ctx context.Context, mw Middleware, args any) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("panicked: %v", r)
		}
	}()
	return mw.Before(ctx, args)
}

func callAfter(ctx context.Context, mw Middleware, args, result any, callErr error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panicked: %v", r)
		}
	}()
	return mw.After(ctx, args, result, callErr)
}
