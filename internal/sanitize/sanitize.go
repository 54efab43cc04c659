// Package sanitize masks secrets and personal data before text leaves the
// process in logs, error replies or audit records.
package sanitize

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/jkindrix/leadconcierge/internal/logging"
)

var (
	phonePattern = regexp.MustCompile(`\+?[1-9]\d{6,14}`)

	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

	apiKeyPattern = regexp.MustCompile(`(?i)(api[_-]?key|apikey|secret|token|password|auth)[=:\s"']*([\w-]{16,})`)

	bearerPattern = regexp.MustCompile(`(?i)bearer\s+[\w.-]+`)

	// Provider credentials that show up in SDK error strings.
	openAIKeyPattern  = regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{16,}`)
	accountSIDPattern = regexp.MustCompile(`\bAC[0-9a-fA-F]{32}\b`)
)

type patternConfig struct {
	pattern     *regexp.Regexp
	replacement func(string) string
	enabled     bool
}

// Config selects what the sanitizer masks.
type Config struct {
	MaskPhones       bool
	MaskEmails       bool
	MaskAPIKeys      bool
	MaskBearerTokens bool
}

// DefaultConfig returns a configuration with all masking enabled.
func DefaultConfig() Config {
	return Config{
		MaskPhones:       true,
		MaskEmails:       true,
		MaskAPIKeys:      true,
		MaskBearerTokens: true,
	}
}

// Sanitizer masks sensitive substrings.
type Sanitizer struct {
	patterns []patternConfig
}

// New creates a new Sanitizer with the given configuration.
func New(cfg Config) *Sanitizer {
	return &Sanitizer{
		patterns: []patternConfig{
			{pattern: openAIKeyPattern, replacement: redact, enabled: cfg.MaskAPIKeys},
			{pattern: accountSIDPattern, replacement: redact, enabled: cfg.MaskAPIKeys},
			{pattern: apiKeyPattern, replacement: maskAPIKey, enabled: cfg.MaskAPIKeys},
			{pattern: bearerPattern, replacement: maskBearer, enabled: cfg.MaskBearerTokens},
			{pattern: emailPattern, replacement: maskEmail, enabled: cfg.MaskEmails},
			{pattern: phonePattern, replacement: logging.MaskPhone, enabled: cfg.MaskPhones},
		},
	}
}

// NewDefault creates a sanitizer with default configuration.
func NewDefault() *Sanitizer {
	return New(DefaultConfig())
}

// String masks all sensitive data in input.
func (s *Sanitizer) String(input string) string {
	result := input
	for _, p := range s.patterns {
		if p.enabled {
			result = p.pattern.ReplaceAllStringFunc(result, p.replacement)
		}
	}
	return result
}

// Error sanitizes an error message.
func (s *Sanitizer) Error(err error) string {
	if err == nil {
		return ""
	}
	return s.String(err.Error())
}

// Form flattens and sanitizes a webhook form for logging. Message bodies
// are replaced by their length.
func (s *Sanitizer) Form(form url.Values) map[string]string {
	out := make(map[string]string, len(form))
	for k, vals := range form {
		v := strings.Join(vals, ",")
		switch {
		case isSensitiveKey(k):
			out[k] = "[REDACTED]"
		case k == "Body":
			out[k] = "[" + strconv.Itoa(utf8.RuneCountInString(v)) + " chars]"
		default:
			out[k] = s.String(v)
		}
	}
	return out
}

// Headers sanitizes HTTP headers.
func (s *Sanitizer) Headers(headers map[string][]string) map[string][]string {
	result := make(map[string][]string, len(headers))
	for k, vals := range headers {
		if isSensitiveHeader(strings.ToLower(k)) {
			result[k] = []string{"[REDACTED]"}
			continue
		}
		sanitized := make([]string, len(vals))
		for i, v := range vals {
			sanitized[i] = s.String(v)
		}
		result[k] = sanitized
	}
	return result
}

func redact(string) string { return "[REDACTED]" }

func maskEmail(email string) string {
	at := strings.Index(email, "@")
	if at <= 0 {
		return "[email]"
	}
	if at <= 2 {
		return email[:1] + "***" + email[at:]
	}
	return email[:2] + "***" + email[at:]
}

func maskAPIKey(match string) string {
	parts := apiKeyPattern.FindStringSubmatch(match)
	if len(parts) >= 2 {
		prefix := strings.TrimSuffix(match, parts[len(parts)-1])
		return prefix + "[REDACTED]"
	}
	return "[REDACTED-KEY]"
}

func maskBearer(string) string {
	return "Bearer [REDACTED]"
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, sk := range []string{"password", "secret", "token", "auth", "api_key", "apikey", "credential"} {
		if strings.Contains(lower, sk) {
			return true
		}
	}
	return false
}

func isSensitiveHeader(header string) bool {
	switch header {
	case "authorization", "x-api-key", "cookie", "set-cookie", "proxy-authorization", "x-twilio-signature":
		return true
	}
	return false
}

// APIKey masks an API key, keeping four characters on each end.
func APIKey(key string) string {
	if len(key) <= 8 {
		return "[REDACTED]"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
