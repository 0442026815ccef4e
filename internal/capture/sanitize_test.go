package capture

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tidwall/gjson"
)

func TestSanitizeJSONRedactsSensitiveKeys(t *testing.T) {
	t.Parallel()

	s, err := NewSanitizer(nil)
	if err != nil {
		t.Fatalf("new sanitizer: %v", err)
	}

	in := `{"user":"alice","password":"hunter2","nested":{"api_key":"sk-abc","note":"keep"},"items":[{"token":"t-1"}]}`
	out := s.Sanitize(in)

	if !gjson.Valid(out) {
		t.Fatalf("sanitized output is no longer JSON: %s", out)
	}
	for _, path := range []string{"password", "nested.api_key", "items.0.token"} {
		if got := gjson.Get(out, path).String(); got != "[REDACTED]" {
			t.Fatalf("path %s not redacted: %q", path, got)
		}
	}
	if gjson.Get(out, "user").String() != "alice" || gjson.Get(out, "nested.note").String() != "keep" {
		t.Fatalf("non-sensitive values damaged: %s", out)
	}
}

func TestSanitizeJSONRedactsDottedKeys(t *testing.T) {
	t.Parallel()

	s, err := NewSanitizer(nil)
	if err != nil {
		t.Fatalf("new sanitizer: %v", err)
	}

	in := `{"user.password":"hunter2","wild*secret":"s1","other":"keep"}`
	out := s.Sanitize(in)

	if !gjson.Valid(out) {
		t.Fatalf("sanitized output is no longer JSON: %s", out)
	}
	if got := gjson.Get(out, `user\.password`).String(); got != "[REDACTED]" {
		t.Fatalf("dotted key not redacted: %s", out)
	}
	if got := gjson.Get(out, `wild\*secret`).String(); got != "[REDACTED]" {
		t.Fatalf("wildcard key not redacted: %s", out)
	}
	if gjson.Get(out, "other").String() != "keep" {
		t.Fatalf("non-sensitive value damaged: %s", out)
	}
}

func TestSanitizePlainTextCredentials(t *testing.T) {
	t.Parallel()

	s, err := NewSanitizer(nil)
	if err != nil {
		t.Fatalf("new sanitizer: %v", err)
	}

	out := s.Sanitize("login with password=hunter2 and token: abc123")
	if strings.Contains(out, "hunter2") || strings.Contains(out, "abc123") {
		t.Fatalf("credentials survived: %s", out)
	}
	if !strings.Contains(out, "password=[REDACTED]") {
		t.Fatalf("expected key to survive with value redacted: %s", out)
	}
}

func TestSanitizeCardNumbers(t *testing.T) {
	t.Parallel()

	s, err := NewSanitizer(nil)
	if err != nil {
		t.Fatalf("new sanitizer: %v", err)
	}

	out := s.Sanitize("paid with 4111 1111 1111 1111 yesterday")
	if strings.Contains(out, "4111") {
		t.Fatalf("card number survived: %s", out)
	}
}

func TestSanitizeCustomPatternAndKey(t *testing.T) {
	t.Parallel()

	s, err := NewSanitizer([]Pattern{
		{Pattern: `\bssn-\d{4}\b`, Replacement: "<ssn>"},
		{Key: "internal_id"},
	})
	if err != nil {
		t.Fatalf("new sanitizer: %v", err)
	}

	out := s.Sanitize("employee ssn-1234 on file")
	if !strings.Contains(out, "<ssn>") || strings.Contains(out, "ssn-1234") {
		t.Fatalf("custom regex not applied: %s", out)
	}

	out = s.Sanitize(`{"internal_id":"X-99","name":"bob"}`)
	if gjson.Get(out, "internal_id").String() != "[REDACTED]" {
		t.Fatalf("custom key not applied: %s", out)
	}
}

func TestNewSanitizerRejectsBadInput(t *testing.T) {
	t.Parallel()

	if _, err := NewSanitizer([]Pattern{{}}); err == nil {
		t.Fatalf("empty rule must be rejected")
	}
	if _, err := NewSanitizer([]Pattern{{Pattern: "("}}); err == nil {
		t.Fatalf("invalid regex must be rejected")
	}
}

func TestLoadPatterns(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "patterns.yaml")
	doc := `patterns:
  - pattern: '\bbadge-\d+\b'
    replacement: "<badge>"
  - key: employee_id
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write patterns: %v", err)
	}

	patterns, err := LoadPatterns(path)
	if err != nil {
		t.Fatalf("load patterns: %v", err)
	}
	if len(patterns) != 2 {
		t.Fatalf("expected 2 patterns, got %d", len(patterns))
	}

	s, err := NewSanitizer(patterns)
	if err != nil {
		t.Fatalf("compile loaded patterns: %v", err)
	}
	if out := s.Sanitize("badge-42 entered"); !strings.Contains(out, "<badge>") {
		t.Fatalf("loaded pattern not applied: %s", out)
	}
}

func TestLoadPatternsMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := LoadPatterns(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
