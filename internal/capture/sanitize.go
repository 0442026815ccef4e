package capture

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"gopkg.in/yaml.v3"
)

const redactedPlaceholder = "[REDACTED]"

// sensitiveKeys are JSON object keys whose values are always redacted.
var sensitiveKeys = []string{
	"password",
	"passwd",
	"secret",
	"token",
	"api_key",
	"apikey",
	"authorization",
	"credential",
	"private_key",
}

// Compiled patterns applied to free-form text.
var (
	// key=value or key: value pairs where the key names a secret.
	credKVRe = regexp.MustCompile(`(?i)(password|passwd|secret|token|api[_-]?key|auth(?:orization)?)([ \t]*[=:][ \t]*)\S+`)

	// Card-number-shaped digit runs.
	cardRe = regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`)
)

// Pattern is one user-supplied redaction rule: either a regex over the
// serialized text or a JSON key whose values get replaced.
type Pattern struct {
	Pattern     string `yaml:"pattern"`
	Key         string `yaml:"key"`
	Replacement string `yaml:"replacement"`

	re *regexp.Regexp
}

type patternFile struct {
	Patterns []Pattern `yaml:"patterns"`
}

// Sanitizer redacts sensitive material from captured call data before it
// leaves the process.
type Sanitizer struct {
	patterns []Pattern
}

// NewSanitizer compiles the built-in rules plus any extra user patterns.
func NewSanitizer(extra []Pattern) (*Sanitizer, error) {
	compiled := make([]Pattern, 0, len(extra))
	for i, p := range extra {
		if p.Pattern == "" && p.Key == "" {
			return nil, fmt.Errorf("pattern %d: needs a pattern or a key", i)
		}
		if p.Pattern != "" {
			re, err := regexp.Compile(p.Pattern)
			if err != nil {
				return nil, fmt.Errorf("pattern %d: %w", i, err)
			}
			p.re = re
		}
		compiled = append(compiled, p)
	}
	return &Sanitizer{patterns: compiled}, nil
}

// LoadPatterns reads extra redaction rules from a YAML file.
func LoadPatterns(path string) ([]Pattern, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sanitize patterns: %w", err)
	}
	var f patternFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse sanitize patterns: %w", err)
	}
	return f.Patterns, nil
}

// Sanitize redacts s. JSON documents get structural key-based redaction;
// everything is then swept with the text patterns.
func (s *Sanitizer) Sanitize(text string) string {
	if gjson.Valid(text) {
		text = s.sanitizeJSON(text)
	}
	text = credKVRe.ReplaceAllString(text, "${1}${2}"+redactedPlaceholder)
	text = cardRe.ReplaceAllString(text, redactedPlaceholder)
	for _, p := range s.patterns {
		if p.re == nil {
			continue
		}
		replacement := p.Replacement
		if replacement == "" {
			replacement = redactedPlaceholder
		}
		text = p.re.ReplaceAllString(text, replacement)
	}
	return text
}

// sanitizeJSON walks the parsed document and overwrites values stored
// under credential-like keys.
func (s *Sanitizer) sanitizeJSON(doc string) string {
	var redactPaths []string
	collectSensitivePaths(gjson.Parse(doc), "", s.patterns, &redactPaths)
	for _, path := range redactPaths {
		if updated, err := sjson.Set(doc, path, redactedPlaceholder); err == nil {
			doc = updated
		}
	}
	return doc
}

// pathEscaper quotes gjson/sjson path metacharacters so keys that contain
// them still address the literal key instead of a wildcard or nested path.
var pathEscaper = strings.NewReplacer(
	`\`, `\\`,
	`.`, `\.`,
	`*`, `\*`,
	`?`, `\?`,
	`|`, `\|`,
	`#`, `\#`,
	`@`, `\@`,
)

func collectSensitivePaths(v gjson.Result, prefix string, extra []Pattern, out *[]string) {
	v.ForEach(func(key, value gjson.Result) bool {
		path := pathEscaper.Replace(key.String())
		if prefix != "" {
			path = prefix + "." + path
		}
		if key.Type == gjson.String && isSensitiveKey(key.String(), extra) {
			*out = append(*out, path)
			return true
		}
		if value.IsObject() || value.IsArray() {
			collectSensitivePaths(value, path, extra, out)
		}
		return true
	})
}

func isSensitiveKey(key string, extra []Pattern) bool {
	lower := strings.ToLower(key)
	for _, k := range sensitiveKeys {
		if strings.Contains(lower, k) {
			return true
		}
	}
	for _, p := range extra {
		if p.Key != "" && strings.Contains(lower, strings.ToLower(p.Key)) {
			return true
		}
	}
	return false
}
