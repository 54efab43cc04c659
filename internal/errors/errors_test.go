package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "simple message",
			err:      New(CodeNotFound, "lead not found"),
			expected: "lead not found",
		},
		{
			name: "with operation",
			err: &Error{
				Code:    CodeNotFound,
				Message: "project not found",
				Op:      "knowledge.GetProject",
			},
			expected: "knowledge.GetProject: project not found",
		},
		{
			name: "with operation and underlying error",
			err: &Error{
				Code:    CodePersistence,
				Message: "write failed",
				Op:      "conversation.SaveOne",
				Err:     errors.New("disk full"),
			},
			expected: "conversation.SaveOne: write failed: disk full",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, expected %q", got, tt.expected)
			}
		})
	}
}

func TestError_UnwrapAndIs(t *testing.T) {
	root := errors.New("connection reset")
	err := PersistenceError("blob.Put", root)

	if !errors.Is(err, root) {
		t.Error("errors.Is should find the underlying error")
	}
	if !errors.Is(err, New(CodePersistence, "other message")) {
		t.Error("errors with the same code should match")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("errors with different codes should not match")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err      error
		expected int
	}{
		{InvalidInput("bad phone"), http.StatusBadRequest},
		{NotFound("lead"), http.StatusNotFound},
		{LLMError("openai", errors.New("503")), http.StatusBadGateway},
		{MessagingError("twilio.Send", errors.New("timeout")), http.StatusBadGateway},
		{PersistenceError("blob.Put", errors.New("x")), http.StatusInternalServerError},
		{fmt.Errorf("plain"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := GetHTTPStatus(tt.err); got != tt.expected {
			t.Errorf("GetHTTPStatus(%v) = %d, expected %d", tt.err, got, tt.expected)
		}
	}
}

func TestClassification(t *testing.T) {
	if !IsRetriable(LLMError("anthropic", nil)) {
		t.Error("llm errors should be retriable")
	}
	if IsRetriable(PersistenceError("op", nil)) {
		t.Error("persistence errors should not be retriable")
	}
	if GetCode(fmt.Errorf("wrapped: %w", NotFound("project"))) != CodeNotFound {
		t.Error("GetCode should see through fmt wrapping")
	}
	if GetCode(errors.New("foreign")) != CodeInternal {
		t.Error("foreign errors map to CodeInternal")
	}
}
