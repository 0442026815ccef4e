package olakai

import (
	"errors"
	"fmt"
)

// ErrNotInitialized is returned by package-level accessors before Init
// has established the process-wide client.
var ErrNotInitialized = errors.New("olakai: client not initialized, call olakai.Init first")

// ConfigurationError reports invalid or missing initialization parameters.
// It is fatal to the calling code path and surfaced immediately.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("olakai: invalid configuration: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("olakai: invalid configuration: %s", e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ControlDetails carries the policy engine's context for a verdict.
type ControlDetails struct {
	DetectedSensitivity []string
	IsAllowedPersona    bool
}

// BlockedError is returned by a supervised call when the control policy
// denies execution. The wrapped function never ran.
type BlockedError struct {
	Reason  string
	Details ControlDetails
}

func (e *BlockedError) Error() string {
	if e.Reason == "" {
		return "olakai: call blocked by control policy"
	}
	return fmt.Sprintf("olakai: call blocked by control policy: %s", e.Reason)
}

// ControlUnavailableError is returned by a supervised call when the
// control endpoint could not produce a verdict. Fail-fast: the wrapped
// function never ran.
type ControlUnavailableError struct {
	Err error
}

func (e *ControlUnavailableError) Error() string {
	return fmt.Sprintf("olakai: control check unavailable: %v", e.Err)
}

func (e *ControlUnavailableError) Unwrap() error { return e.Err }
