// scrubber.go redacts secrets from report text before it is persisted.

package crashlog

import (
	"regexp"
	"strings"
)

// ScrubberConfig controls scrubbing behavior.
type ScrubberConfig struct {
	// SensitiveKeys contains additional substrings marking a snapshot key
	// as sensitive (case-insensitive).
	SensitiveKeys []string

	// MaxMessageSize is the maximum length for messages and notes (default: 4096).
	MaxMessageSize int

	// MaxTraceSize is the maximum length for rendered traces (default: 65536).
	MaxTraceSize int

	// MaxValueSize is the maximum length per snapshot value (default: 1024).
	MaxValueSize int

	// ScrubMessages enables pattern redaction of messages and notes (default: true).
	ScrubMessages bool

	// NormalizePaths replaces user-specific directories in traces (default: true).
	NormalizePaths bool
}

// DefaultScrubberConfig returns production-safe defaults.
func DefaultScrubberConfig() ScrubberConfig {
	return ScrubberConfig{
		MaxMessageSize: 4096,
		MaxTraceSize:   65536,
		MaxValueSize:   1024,
		ScrubMessages:  true,
		NormalizePaths: true,
	}
}

// Compiled once at package init.
var messageScrubPatterns = []*regexp.Regexp{
	// API keys and tokens
	regexp.MustCompile(`(?i)(api[_-]?key|token)[=:\s]+['"]?[\w\-\.]+['"]?`),
	regexp.MustCompile(`(?i)(authorization|bearer)[=:\s]+['"]?[\w\-\.]+['"]?[\s]+['"]?[\w\-\.]+['"]?`),
	regexp.MustCompile(`(?i)sk-[a-zA-Z0-9_-]{20,}`),
	regexp.MustCompile(`(?i)ghp_[a-zA-Z0-9]{36}`),
	regexp.MustCompile(`(?i)github_pat_[a-zA-Z0-9_]{22,}`),
	regexp.MustCompile(`(?i)xox[baprs]-[a-zA-Z0-9\-]{10,}`),
	regexp.MustCompile(`(?i)eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`),

	// Credentials
	regexp.MustCompile(`(?i)password[=:\s]+['"]?[^\s'"",]+['"]?`),
	regexp.MustCompile(`(?i)secret[=:\s]+['"]?[^\s'"",]+['"]?`),
	regexp.MustCompile(`(?i)passwd[=:\s]+['"]?[^\s'"",]+['"]?`),
	regexp.MustCompile(`(?i)credential[=:\s]+['"]?[^\s'"",]+['"]?`),

	// PII
	regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
}

var sensitiveKeyPatterns = []string{
	"token",
	"key",
	"secret",
	"password",
	"credential",
	"auth",
	"passwd",
}

var pathNormalizationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/home/[^/]+/`),
	regexp.MustCompile(`/Users/[^/]+/`),
	regexp.MustCompile(`C:\\Users\\[^\\]+\\`),
}

// Scrubber redacts sensitive data from report content.
type Scrubber struct {
	cfg ScrubberConfig
}

// NewScrubber creates a new scrubber with the given configuration.
func NewScrubber(cfg ScrubberConfig) *Scrubber {
	return &Scrubber{cfg: cfg}
}

// ScrubMessage truncates msg and redacts secret and PII patterns.
func (s *Scrubber) ScrubMessage(msg string) string {
	if s.cfg.MaxMessageSize > 0 && len(msg) > s.cfg.MaxMessageSize {
		msg = truncateWithMarker(msg, s.cfg.MaxMessageSize)
	}
	if !s.cfg.ScrubMessages {
		return msg
	}
	for _, pattern := range messageScrubPatterns {
		msg = pattern.ReplaceAllString(msg, "[REDACTED]")
	}
	return msg
}

// ScrubTrace redacts the section headers of a rendered trace, normalizes
// user paths in frames and limits its size.
func (s *Scrubber) ScrubTrace(trace string) string {
	if trace == "" {
		return trace
	}

	lines := strings.Split(trace, "\n")
	for i, line := range lines {
		if strings.HasPrefix(line, "\tat ") {
			if s.cfg.NormalizePaths {
				for _, pattern := range pathNormalizationPatterns {
					line = pattern.ReplaceAllString(line, "/[PATH]/")
				}
			}
			lines[i] = line
			continue
		}
		if s.cfg.ScrubMessages {
			for _, pattern := range messageScrubPatterns {
				line = pattern.ReplaceAllString(line, "[REDACTED]")
			}
		}
		lines[i] = line
	}
	result := strings.Join(lines, "\n")

	if s.cfg.MaxTraceSize > 0 && len(result) > s.cfg.MaxTraceSize {
		result = truncateWithMarker(result, s.cfg.MaxTraceSize)
	}
	return result
}

// ScrubPairs redacts values of sensitive keys and truncates long values.
func (s *Scrubber) ScrubPairs(pairs []Pair) []Pair {
	out := make([]Pair, len(pairs))
	for i, p := range pairs {
		switch {
		case s.isSensitiveKey(p.Key):
			p.Value = "[REDACTED]"
		case s.cfg.MaxValueSize > 0 && len(p.Value) > s.cfg.MaxValueSize:
			p.Value = truncateWithMarker(p.Value, s.cfg.MaxValueSize)
		}
		out[i] = p
	}
	return out
}

func (s *Scrubber) isSensitiveKey(key string) bool {
	keyLower := strings.ToLower(key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(keyLower, pattern) {
			return true
		}
	}
	for _, pattern := range s.cfg.SensitiveKeys {
		if pattern != "" && strings.Contains(keyLower, strings.ToLower(pattern)) {
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
