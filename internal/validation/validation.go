// Package validation checks inbound webhook fields and admin inputs.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// ValidationError represents a validation failure with field context.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// FieldErrors returns errors for a specific field.
func (e ValidationErrors) FieldErrors(field string) ValidationErrors {
	var result ValidationErrors
	for _, err := range e {
		if err.Field == field {
			result = append(result, err)
		}
	}
	return result
}

// Error codes for validation failures.
const (
	CodeRequired      = "required"
	CodeInvalidFormat = "invalid_format"
	CodeTooLong       = "too_long"
	CodeInvalidValue  = "invalid_value"
	CodeMalicious     = "malicious_content"
)

// Validator accumulates field errors.
type Validator struct {
	errors ValidationErrors
}

// New creates a new Validator.
func New() *Validator {
	return &Validator{}
}

// Errors returns all accumulated validation errors.
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

// IsValid returns true if no validation errors occurred.
func (v *Validator) IsValid() bool {
	return len(v.errors) == 0
}

// AddError adds a validation error.
func (v *Validator) AddError(field, message, code string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Message: message,
		Code:    code,
	})
}

// Required validates that a string field is not empty.
func (v *Validator) Required(field, value string) bool {
	if strings.TrimSpace(value) == "" {
		v.AddError(field, "is required", CodeRequired)
		return false
	}
	return true
}

// MaxLength validates string length doesn't exceed maximum.
func (v *Validator) MaxLength(field, value string, maxLen int) bool {
	if utf8.RuneCountInString(value) > maxLen {
		v.AddError(field, fmt.Sprintf("must be at most %d characters", maxLen), CodeTooLong)
		return false
	}
	return true
}

// whatsAppRegex matches a Twilio WhatsApp address.
var whatsAppRegex = regexp.MustCompile(`^whatsapp:\+\d+$`)

// WhatsAppAddress validates a "whatsapp:+<digits>" address.
func (v *Validator) WhatsAppAddress(field, value string) bool {
	if value == "" {
		return true
	}
	if !whatsAppRegex.MatchString(value) {
		v.AddError(field, "must be a WhatsApp address like whatsapp:+5215512345678", CodeInvalidFormat)
		return false
	}
	return true
}

// urlRegex matches http/https URLs.
var urlRegex = regexp.MustCompile(`^https?://[^\s/$.?#].\S*$`)

// URL validates a URL format.
func (v *Validator) URL(field, value string) bool {
	if value == "" {
		return true
	}
	if !urlRegex.MatchString(value) {
		v.AddError(field, "must be a valid URL", CodeInvalidFormat)
		return false
	}
	return true
}

// OneOf validates that value is one of the allowed values.
func (v *Validator) OneOf(field, value string, allowed []string) bool {
	if value == "" {
		return true
	}
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	v.AddError(field, fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")), CodeInvalidValue)
	return false
}

// SafeString validates a string has no control characters except
// newlines and tabs.
func (v *Validator) SafeString(field, value string) bool {
	for _, r := range value {
		if r < 32 && r != '\n' && r != '\r' && r != '\t' {
			v.AddError(field, "contains invalid control characters", CodeMalicious)
			return false
		}
	}
	return true
}

// Range validates an integer is within range.
func (v *Validator) Range(field string, value, minVal, maxVal int) bool {
	if value < minVal || value > maxVal {
		v.AddError(field, fmt.Sprintf("must be between %d and %d", minVal, maxVal), CodeInvalidValue)
		return false
	}
	return true
}

// Limits on inbound fields.
const (
	MaxBodyLength        = 4096
	MaxProfileNameLength = 256
	MaxMedia             = 10
)

// InboundValidator validates the Twilio inbound message form.
type InboundValidator struct {
	*Validator
}

// NewInboundValidator creates an inbound validator.
func NewInboundValidator() *InboundValidator {
	return &InboundValidator{Validator: New()}
}

// ValidateInbound checks the fields of one inbound message. A message
// needs a body or at least one media item.
func (v *InboundValidator) ValidateInbound(from, body, profileName string, numMedia int, mediaURL string) ValidationErrors {
	if v.Required("From", from) {
		v.WhatsAppAddress("From", from)
	}
	v.MaxLength("Body", body, MaxBodyLength)
	v.SafeString("Body", body)
	v.MaxLength("ProfileName", profileName, MaxProfileNameLength)
	v.Range("NumMedia", numMedia, 0, MaxMedia)
	if numMedia > 0 {
		if v.Required("MediaUrl0", mediaURL) {
			v.URL("MediaUrl0", mediaURL)
		}
	} else if strings.TrimSpace(body) == "" {
		v.AddError("Body", "is required when no media is attached", CodeRequired)
	}
	return v.Errors()
}
