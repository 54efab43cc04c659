// Package handler provides the HTTP handlers for the WhatsApp webhook, the
// admin triggers and the health probes.
package handler

import (
	"encoding/json"
	"net"
	"net/http"

	"go.uber.org/zap"

	"github.com/jkindrix/leadconcierge/internal/middleware"
)

// ErrorResponse is the JSON body of an error.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// writeJSON writes a JSON response with the request ID header.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if reqID := middleware.GetRequestID(r.Context()); reqID != "" {
		w.Header().Set(middleware.RequestIDHeader, reqID)
	}
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Debug("failed to write JSON response", zap.Error(err))
	}
}

// writeError writes an ErrorResponse.
func writeError(w http.ResponseWriter, r *http.Request, status int, message string, logger *zap.Logger) {
	writeJSON(w, r, status, ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		RequestID: middleware.GetRequestID(r.Context()),
	}, logger)
}

// writeText writes a short plain-text response.
func writeText(w http.ResponseWriter, status int, body string, logger *zap.Logger) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write([]byte(body)); err != nil {
		logger.Debug("failed to write response", zap.Error(err))
	}
}

// clientIP returns the caller address without the port. RealIP runs
// earlier in the chain.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
