package olakai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/olakai/olakai-go/internal/api"
	"github.com/olakai/olakai-go/internal/capture"
	"github.com/olakai/olakai-go/internal/control"
	"github.com/olakai/olakai-go/internal/queue"
)

// SupervisedFunc is the shape every supervised call takes: one argument
// value in, one result out. Functions that naturally take several
// parameters wrap them in a struct.
type SupervisedFunc[A, R any] func(ctx context.Context, arg A) (R, error)

// Supervise wraps fn in the supervision pipeline: control check, before
// middleware, the call itself, after middleware, monitoring emission.
// The wrapper preserves fn's result and error exactly; only a control
// denial or an unreachable control endpoint introduce errors of their
// own, and in those cases fn never runs.
func Supervise[A, R any](c *Client, fn SupervisedFunc[A, R], opts ...SupervisorOption) SupervisedFunc[A, R] {
	sc := newSupervisorConfig(opts)

	return func(ctx context.Context, arg A) (R, error) {
		var zero R
		start := time.Now()
		mws := c.middlewareSnapshot()

		email, chatID := sc.identity(arg)

		var sensitivity []string
		if !sc.controlDisabled {
			verdict, err := c.checkControl(ctx, sc, arg, email, chatID)
			if err != nil {
				var denied *control.DeniedError
				if errors.As(err, &denied) {
					c.emitBlocked(sc, arg, email, chatID, denied, start)
					return zero, &BlockedError{
						Reason: denied.Reason,
						Details: ControlDetails{
							DetectedSensitivity: denied.Details.DetectedSensitivity,
							IsAllowedPersona:    denied.Details.IsAllowedPersona,
						},
					}
				}
				var unavailable *control.UnavailableError
				if errors.As(err, &unavailable) {
					return zero, &ControlUnavailableError{Err: unavailable.Err}
				}
				return zero, &ControlUnavailableError{Err: err}
			}
			sensitivity = verdict.Details.DetectedSensitivity
		}

		args := c.runBefore(ctx, mws, any(arg))
		callArg, ok := args.(A)
		if !ok {
			// A transform that changed the argument's type is discarded;
			// the call must still receive what the caller passed.
			c.logger.Debug("before-middleware changed argument type, ignoring transform")
			callArg = arg
			args = any(arg)
		}

		result, callErr := fn(ctx, callArg)

		if callErr != nil {
			c.runOnError(ctx, mws, args, callErr)
			if !sc.sendOnFunctionError {
				return result, callErr
			}
		}

		c.runAfter(ctx, mws, args, result, callErr)

		c.emit(sc, args, result, callErr, email, chatID, sensitivity, start)

		return result, callErr
	}
}

// identity resolves the user and session labels, preferring derivation
// functions and falling back to literals when they fail.
func (sc *supervisorConfig) identity(arg any) (email, chatID string) {
	email, chatID = sc.email, sc.chatID
	if sc.emailFunc != nil {
		if derived := safeDerive(sc.emailFunc, arg); derived != "" {
			email = derived
		}
	}
	if sc.chatIDFunc != nil {
		if derived := safeDerive(sc.chatIDFunc, arg); derived != "" {
			chatID = derived
		}
	}
	return email, chatID
}

func safeDerive(fn func(args any) string, arg any) (out string) {
	defer func() {
		if r := recover(); r != nil {
			out = ""
		}
	}()
	return fn(arg)
}

// checkControl runs the fail-fast authorization stage. The prompt sent
// for inspection goes through the same bounding and redaction as a
// monitored payload.
func (c *Client) checkControl(ctx context.Context, sc supervisorConfig, arg any, email, chatID string) (api.ControlResponse, error) {
	captured := c.engine.Capture(nil, capture.Call{Args: arg}, sc.sanitize)
	payload := api.ControlPayload{
		Prompt:                  captured.Input,
		Email:                   email,
		ChatID:                  chatID,
		Task:                    sc.task,
		SubTask:                 sc.subTask,
		OverrideControlCriteria: sc.overrideControlCriteria,
	}
	return c.gate.Check(ctx, payload)
}

// emit builds the monitoring payload and enqueues it. Nothing here may
// reach the supervised caller: capture failures fall back, enqueue
// panics are swallowed and reported.
func (c *Client) emit(sc supervisorConfig, args, result any, callErr error, email, chatID string, sensitivity []string, start time.Time) {
	defer func() {
		if r := recover(); r != nil {
			c.reportError("monitoring", fmt.Errorf("monitoring emission panicked: %v", r))
		}
	}()

	var captureFn capture.Func
	if sc.capture != nil {
		userFn := sc.capture
		captureFn = func(call capture.Call) (capture.Captured, error) {
			out, err := userFn(Call(call))
			return capture.Captured(out), err
		}
	}
	captured := c.engine.Capture(captureFn, capture.Call{Args: args, Result: result, Err: callErr}, sc.sanitize)

	payload := api.MonitorPayload{
		Email:       email,
		ChatID:      chatID,
		Prompt:      captured.Input,
		Response:    captured.Output,
		RequestTime: time.Since(start).Milliseconds(),
		Task:        sc.task,
		SubTask:     sc.subTask,
		Sensitivity: sensitivity,
	}
	if callErr != nil {
		payload.ErrorMessage = renderError(sc, callErr)
	}

	c.queue.Enqueue(queue.NewEntry(payload, api.Priority(sc.priority)))
}

// emitBlocked records a denied call as a high-priority monitoring event
// before the denial propagates.
func (c *Client) emitBlocked(sc supervisorConfig, arg any, email, chatID string, denied *control.DeniedError, start time.Time) {
	defer func() {
		if r := recover(); r != nil {
			c.reportError("monitoring", fmt.Errorf("blocked-call emission panicked: %v", r))
		}
	}()

	captured := c.engine.Capture(nil, capture.Call{Args: arg}, sc.sanitize)
	payload := api.MonitorPayload{
		Email:       email,
		ChatID:      chatID,
		Prompt:      captured.Input,
		Response:    "Function execution blocked",
		Blocked:     true,
		RequestTime: time.Since(start).Milliseconds(),
		Task:        sc.task,
		SubTask:     sc.subTask,
		Sensitivity: denied.Details.DetectedSensitivity,
	}
	c.queue.Enqueue(queue.NewEntry(payload, api.PriorityHigh))
}

func renderError(sc supervisorConfig, callErr error) (out string) {
	if sc.errorCapture == nil {
		return callErr.Error()
	}
	defer func() {
		if r := recover(); r != nil {
			out = callErr.Error()
		}
	}()
	return sc.errorCapture(callErr)
}
