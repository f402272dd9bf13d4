package main

import (
	"encoding/json"
	"mime"
	"net/http"
	"strconv"
)

// APIResponse handles consistent header setting and JSON responses.
// It centralizes the logic for setting X-Cache-Status, X-RateLimit-Type,
// and other standard headers based on request context.
type APIResponse struct {
	w           http.ResponseWriter
	r           *http.Request
	cacheStatus string
}

// Respond creates a response helper from request context
func Respond(w http.ResponseWriter, r *http.Request) *APIResponse {
	return &APIResponse{w: w, r: r}
}

// SetCacheStatus sets the X-Cache-Status header value
func (a *APIResponse) SetCacheStatus(status string) *APIResponse {
	a.cacheStatus = status
	return a
}

// writeHeaders sets all standard headers based on context
func (a *APIResponse) writeHeaders(contentType string) {
	a.w.Header().Set("Content-Type", contentType)

	if a.cacheStatus != "" {
		a.w.Header().Set("X-Cache-Status", a.cacheStatus)
	}

	// Rate limit type from context
	if rateLimitType, ok := a.r.Context().Value(rateLimitTypeKey).(string); ok && rateLimitType != "" {
		a.w.Header().Set("X-RateLimit-Type", rateLimitType)
	}
}

// JSON writes headers and encodes data as JSON (200 OK)
func (a *APIResponse) JSON(data interface{}) error {
	a.writeHeaders("application/json")
	return json.NewEncoder(a.w).Encode(data)
}

// Error writes headers, sets status code, and encodes error response
func (a *APIResponse) Error(statusCode int, data interface{}) error {
	a.writeHeaders("application/json")
	a.w.WriteHeader(statusCode)
	return json.NewEncoder(a.w).Encode(data)
}

// Raw writes an already encoded JSON document untouched (200 OK)
func (a *APIResponse) Raw(body []byte) error {
	a.writeHeaders("application/json")
	_, err := a.w.Write(body)
	return err
}

// Attachment sends body as a file download named filename
func (a *APIResponse) Attachment(filename, contentType string, body []byte) error {
	a.writeHeaders(contentType)
	// Non-ASCII names use the RFC 2231 filename* form
	a.w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	a.w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	_, err := a.w.Write(body)
	return err
}
