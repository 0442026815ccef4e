package capture

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

// Call is the raw material handed to a capture function: the supervised
// call's argument, its result, and the error it returned, if any.
type Call struct {
	Args   any
	Result any
	Err    error
}

// Captured is the payload-ready {input, output} pair.
type Captured struct {
	Input  any
	Output any
}

// Func transforms a finished call into a Captured pair. A custom Func
// fully replaces the default capture behavior.
type Func func(call Call) (Captured, error)

// Engine turns raw call data into safe, size-bounded payload fields.
type Engine struct {
	maxFieldBytes int
	sanitizer     *Sanitizer
	logger        *slog.Logger
}

func NewEngine(maxFieldBytes int, sanitizer *Sanitizer, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		maxFieldBytes: maxFieldBytes,
		sanitizer:     sanitizer,
		logger:        logger,
	}
}

// Capture runs fn (or the default when fn is nil) and applies the sanitize
// pass when requested. A capture function that fails or panics never
// suppresses the event: the engine falls back to a minimal pair.
func (e *Engine) Capture(fn Func, call Call, sanitize bool) Captured {
	captured, err := e.run(fn, call)
	if err != nil {
		e.logger.Debug("capture function failed, using fallback", "error", err)
		captured = e.fallback(call)
	}

	captured.Input = e.bound(captured.Input, sanitize)
	captured.Output = e.bound(captured.Output, sanitize)
	return captured
}

func (e *Engine) run(fn Func, call Call) (captured Captured, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("capture panic: %v", r)
		}
	}()
	if fn == nil {
		fn = All
	}
	return fn(call)
}

func (e *Engine) fallback(call Call) Captured {
	out := Captured{Input: "Function called", Output: "Function executed successfully"}
	if call.Err != nil {
		out.Output = call.Err.Error()
	}
	return out
}

// bound serializes a captured field, redacts it when sanitize is set, and
// truncates it to the configured byte budget.
func (e *Engine) bound(v any, sanitize bool) any {
	s := Serialize(v)
	if sanitize && e.sanitizer != nil {
		s = e.sanitizer.Sanitize(s)
	}
	return TruncateBytes(s, e.maxFieldBytes)
}

// Serialize renders any value as a JSON string, falling back to fmt for
// values the encoder rejects.
func Serialize(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case error:
		return s.Error()
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}

// TruncateBytes caps input at maxBytes. Zero or negative budgets erase the
// value entirely.
func TruncateBytes(input string, maxBytes int) string {
	if maxBytes <= 0 {
		return ""
	}
	raw := []byte(input)
	if len(raw) <= maxBytes {
		return input
	}
	return string(raw[:maxBytes])
}

// All captures both the argument and the result.
func All(call Call) (Captured, error) {
	out := Captured{Input: call.Args, Output: call.Result}
	if call.Err != nil {
		out.Output = call.Err.Error()
	}
	return out, nil
}

// Input captures only the argument side of the call.
func Input(call Call) (Captured, error) {
	return Captured{Input: call.Args, Output: "Function executed successfully"}, nil
}

// Output captures only the result side of the call.
func Output(call Call) (Captured, error) {
	out := Captured{Input: "Function called", Output: call.Result}
	if call.Err != nil {
		out.Output = call.Err.Error()
	}
	return out, nil
}
