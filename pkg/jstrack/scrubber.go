// scrubber.go implements fail-closed redaction of admitted records.

package jstrack

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strings"
)

// ScrubberConfig controls scrubbing behavior.
type ScrubberConfig struct {
	// MaxMessageSize is the maximum length for messages and console text (default: 4096).
	MaxMessageSize int

	// MaxStackTraceSize is the maximum length for stack traces (default: 32768).
	MaxStackTraceSize int

	// MaxPayloadSize is the maximum length for structured console payloads
	// once encoded as JSON (default: 16384).
	MaxPayloadSize int

	// ScrubMessages enables pattern scrubbing of secrets and PII (default: true).
	ScrubMessages bool

	// ScrubURLQueries strips query strings and fragments from resource and
	// script URLs (default: true).
	ScrubURLQueries bool

	// FailClosed enables fail-closed behavior: on any scrub error, fully redact (default: true).
	FailClosed bool
}

// DefaultScrubberConfig returns production-safe defaults.
func DefaultScrubberConfig() ScrubberConfig {
	return ScrubberConfig{
		MaxMessageSize:    4096,
		MaxStackTraceSize: 32768,
		MaxPayloadSize:    16384,
		ScrubMessages:     true,
		ScrubURLQueries:   true,
		FailClosed:        true,
	}
}

// Compiled regex patterns for message scrubbing
var messageScrubPatterns = []*regexp.Regexp{
	// API keys and tokens
	regexp.MustCompile(`(?i)(api[_-]?key|token)[=:\s]+['"]?[\w\-\.]+['"]?`),
	regexp.MustCompile(`(?i)(authorization|bearer)[=:\s]+['"]?[\w\-\.]+['"]?[\s]+['"]?[\w\-\.]+['"]?`),
	regexp.MustCompile(`(?i)sk-[a-zA-Z0-9_-]{20,}`),
	regexp.MustCompile(`(?i)ghp_[a-zA-Z0-9]{36}`),
	regexp.MustCompile(`(?i)github_pat_[a-zA-Z0-9_]{22,}`),
	regexp.MustCompile(`(?i)eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`), // JWT

	// Credentials
	regexp.MustCompile(`(?i)password[=:\s]+['"]?[^\s'"",]+['"]?`),
	regexp.MustCompile(`(?i)secret[=:\s]+['"]?[^\s'"",]+['"]?`),
	regexp.MustCompile(`(?i)passwd[=:\s]+['"]?[^\s'"",]+['"]?`),

	// PII
	regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Z|a-z]{2,}\b`), // Email
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),                                 // SSN
	regexp.MustCompile(`\b\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`),           // Credit card
}

// Sensitive JSON key patterns (case-insensitive substring match)
var sensitiveKeyPatterns = []string{
	"token",
	"key",
	"secret",
	"password",
	"credential",
	"auth",
	"cookie",
}

// Query strings inside stack frames, e.g. "app.js?v=3&sid=abc:10:5"
var frameQueryPattern = regexp.MustCompile(`(https?://[^\s?#()]+)[?#][^\s:()]*`)

// Scrubber redacts sensitive data from error records.
type Scrubber struct {
	cfg ScrubberConfig
}

// NewScrubber creates a new scrubber with the given configuration.
func NewScrubber(cfg ScrubberConfig) *Scrubber {
	return &Scrubber{cfg: cfg}
}

// ScrubRecord returns a copy of r with its description and stack scrubbed.
func (s *Scrubber) ScrubRecord(r ErrorRecord) ErrorRecord {
	switch d := r.Description.(type) {
	case RuntimeDescription:
		d.Message = s.ScrubMessage(d.Message)
		d.Source = s.ScrubURL(d.Source)
		r.Description = d
	case LoadDescription:
		d.BaseURL = s.ScrubURL(d.BaseURL)
		d.Href = s.ScrubURL(d.Href)
		r.Description = d
	case string:
		r.Description = s.ScrubMessage(d)
	case nil:
	default:
		r.Description = s.ScrubPayload(d)
	}
	r.StackTrace = s.ScrubStackTrace(r.StackTrace)
	return r
}

// ScrubMessage scrubs sensitive patterns from a message.
func (s *Scrubber) ScrubMessage(msg string) string {
	if len(msg) > s.cfg.MaxMessageSize {
		msg = truncateWithMarker(msg, s.cfg.MaxMessageSize)
	}
	if !s.cfg.ScrubMessages {
		return msg
	}

	result := msg
	for _, pattern := range messageScrubPatterns {
		result = pattern.ReplaceAllString(result, "[REDACTED]")
	}
	return result
}

// ScrubURL drops the query string and fragment of a URL.
// Unparseable URLs are redacted when FailClosed is set.
func (s *Scrubber) ScrubURL(raw string) string {
	if raw == "" || !s.cfg.ScrubURLQueries {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		if s.cfg.FailClosed {
			return "[REDACTED:SCRUB_ERROR]"
		}
		return raw
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil
	return u.String()
}

// ScrubStackTrace strips URL queries from frames and limits stack trace size.
func (s *Scrubber) ScrubStackTrace(trace string) string {
	if trace == "" || trace == NoStack {
		return trace
	}

	result := trace
	if s.cfg.ScrubURLQueries {
		result = frameQueryPattern.ReplaceAllString(result, "$1")
	}
	if s.cfg.ScrubMessages {
		for _, pattern := range messageScrubPatterns {
			result = pattern.ReplaceAllString(result, "[REDACTED]")
		}
	}

	if len(result) > s.cfg.MaxStackTraceSize {
		result = truncateWithMarker(result, s.cfg.MaxStackTraceSize)
	}
	return result
}

// ScrubPayload encodes a structured console argument as JSON and scrubs it
// recursively. Returns "[REDACTED:SCRUB_ERROR]" on any error (fail-closed).
func (s *Scrubber) ScrubPayload(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		if s.cfg.FailClosed {
			return "[REDACTED:SCRUB_ERROR]"
		}
		return s.ScrubMessage(formatRecovered(v))
	}
	return s.ScrubJSON(string(raw))
}

// ScrubJSON recursively scrubs sensitive data from a JSON string.
// Returns scrubbed JSON or "[REDACTED:SCRUB_ERROR]" on any error (fail-closed).
func (s *Scrubber) ScrubJSON(jsonStr string) string {
	var data any
	if err := json.Unmarshal([]byte(jsonStr), &data); err != nil {
		if s.cfg.FailClosed {
			return "[REDACTED:SCRUB_ERROR]"
		}
		return jsonStr
	}

	result, err := json.Marshal(s.scrubJSONValue(data))
	if err != nil {
		if s.cfg.FailClosed {
			return "[REDACTED:SCRUB_ERROR]"
		}
		return jsonStr
	}

	out := string(result)
	if len(out) > s.cfg.MaxPayloadSize {
		out = truncateWithMarker(out, s.cfg.MaxPayloadSize)
	}
	return out
}

func (s *Scrubber) scrubJSONValue(val any) any {
	switch v := val.(type) {
	case map[string]any:
		result := make(map[string]any, len(v))
		for key, value := range v {
			if isSensitiveKey(key) {
				result[key] = "[REDACTED]"
			} else {
				result[key] = s.scrubJSONValue(value)
			}
		}
		return result
	case []any:
		result := make([]any, len(v))
		for i, value := range v {
			result[i] = s.scrubJSONValue(value)
		}
		return result
	case string:
		return s.ScrubMessage(v)
	default:
		return v
	}
}

// isSensitiveKey checks if a JSON key matches sensitive patterns.
func isSensitiveKey(key string) bool {
	keyLower := strings.ToLower(key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(keyLower, pattern) {
			return true
		}
	}
	return false
}

// truncateWithMarker truncates a string and adds a truncation marker.
func truncateWithMarker(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	marker := "...[TRUNCATED]"
	if maxLen <= len(marker) {
		return marker[:maxLen]
	}
	return s[:maxLen-len(marker)] + marker
}
