// Package control implements the pre-call authorization stage. The gate
// is fail-fast by contract: a denied or unreachable authority aborts the
// supervised call, and there is no retry, because a failed check must
// never silently allow execution.
package control

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/olakai/olakai-go/internal/api"
)

// DeniedError is returned when policy rejects the call. The wrapped
// function never executes.
type DeniedError struct {
	Reason  string
	Details api.ControlDetails
}

func (e *DeniedError) Error() string {
	if e.Reason == "" {
		return "call blocked by control policy"
	}
	return fmt.Sprintf("call blocked by control policy: %s", e.Reason)
}

// UnavailableError is returned when the authority cannot produce a
// verdict: timeout, transport failure, or a non-2xx response.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("control endpoint unavailable: %v", e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Checker is the single authorization request. Implemented by api.Client.
type Checker interface {
	CheckControl(ctx context.Context, payload api.ControlPayload) (api.ControlResponse, error)
}

// Gate asks the remote authority whether a supervised call may proceed.
type Gate struct {
	checker Checker
	timeout time.Duration
	logger  *slog.Logger
}

func New(checker Checker, timeout time.Duration, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Gate{checker: checker, timeout: timeout, logger: logger}
}

// Check resolves to exactly one of three outcomes: nil (allow),
// *DeniedError, or *UnavailableError.
func (g *Gate) Check(ctx context.Context, payload api.ControlPayload) (api.ControlResponse, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	resp, err := g.checker.CheckControl(ctx, payload)
	if err != nil {
		g.logger.Warn("control check failed", "error", err)
		return api.ControlResponse{}, &UnavailableError{Err: err}
	}
	if !resp.Allowed {
		g.logger.Info("control denied call", "reason", resp.Message)
		return resp, &DeniedError{Reason: resp.Message, Details: resp.Details}
	}
	return resp, nil
}
