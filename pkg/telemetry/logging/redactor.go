package logging

import (
	"log/slog"
	"regexp"
	"strings"
)

// Redactor masks secrets in log attributes.
type Redactor struct {
	patterns      []redactPattern
	sensitiveKeys []string
}

type redactPattern struct {
	regex       *regexp.Regexp
	replacement string
}

// NewRedactor creates a redactor with the built-in patterns.
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: []redactPattern{
			// user:password@ in DSNs and URLs
			{regex: regexp.MustCompile(`(://[^:/@\s]+):[^@\s]+@`), replacement: "$1:***@"},
			{regex: regexp.MustCompile(`(?i)(bearer\s+)[a-z0-9._~+/=-]+`), replacement: "${1}***"},
			{regex: regexp.MustCompile(`(?i)(password=)[^\s&]+`), replacement: "${1}***"},
		},
		sensitiveKeys: []string{"password", "secret", "token", "api_key", "apikey", "private_key", "hmac"},
	}
}

// RedactString applies every pattern to value.
func (r *Redactor) RedactString(value string) string {
	for _, p := range r.patterns {
		value = p.regex.ReplaceAllString(value, p.replacement)
	}
	return value
}

// RedactAttr masks the attribute value when its key is sensitive and
// scrubs secrets embedded in string values.
func (r *Redactor) RedactAttr(a slog.Attr) slog.Attr {
	if r.isSensitiveKey(a.Key) {
		return slog.String(a.Key, "***")
	}
	if a.Value.Kind() == slog.KindString {
		return slog.String(a.Key, r.RedactString(a.Value.String()))
	}
	return a
}

func (r *Redactor) isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, k := range r.sensitiveKeys {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}
