// Package api provides the JSON response envelope and error-kind
// helpers shared by every handler in internal/httpapi and
// internal/admin.
//
// Success bodies for the endpoints spec.md §6 names are written with
// Raw, not Success — their wire shape is flat JSON dictated by the
// spec, not the {data, meta} envelope. The envelope below is used for
// every error response, and for any success body the spec leaves
// unspecified.
package api

import (
	"encoding/json"
	"log"
	"net/http"
)

// SuccessEnvelope wraps a successful response in {data, meta}.
type SuccessEnvelope struct {
	Data interface{} `json:"data"`
	Meta interface{} `json:"meta,omitempty"`
}

// ErrorEnvelope wraps an error response in {error: {...}}.
type ErrorEnvelope struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is the structured error body. Code is one of the six
// kinds in spec.md §7 (UPPERCASE_SNAKE_CASE).
type ErrorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Raw writes data as-is with no envelope, for endpoints whose wire
// contract is a flat JSON object named explicitly in spec.md §6.
func Raw(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[API] failed to encode response: %v", err)
	}
}

// Success writes a successful {data} envelope response.
func Success(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(SuccessEnvelope{Data: data}); err != nil {
		log.Printf("[API] failed to encode success response: %v", err)
	}
}

// SuccessWithMeta writes a successful {data, meta} envelope response.
func SuccessWithMeta(w http.ResponseWriter, status int, data, meta interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(SuccessEnvelope{Data: data, Meta: meta}); err != nil {
		log.Printf("[API] failed to encode success response with meta: %v", err)
	}
}

// Error writes a structured error response.
func Error(w http.ResponseWriter, status int, code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(ErrorEnvelope{
		Error: ErrorDetail{Code: code, Message: message, Details: details},
	}); err != nil {
		log.Printf("[API] failed to encode error response: %v", err)
	}
}

// The six error kinds from spec.md §7, each with its HTTP status.

// MalformedInput returns 400 for payloads that fail validation or
// cannot be parsed.
func MalformedInput(w http.ResponseWriter, message string, details map[string]interface{}) {
	Error(w, http.StatusBadRequest, "MALFORMED_INPUT", message, details)
}

// Unauthorized returns 401 when the admin key is missing or wrong.
func Unauthorized(w http.ResponseWriter, message string) {
	Error(w, http.StatusUnauthorized, "UNAUTHORIZED", message, nil)
}

// Forbidden returns 403 for a request that identifies a real actor
// but asks for something that actor may not do (e.g. a domain already
// allocated to someone else).
func Forbidden(w http.ResponseWriter, message string) {
	Error(w, http.StatusForbidden, "FORBIDDEN", message, nil)
}

// NotFound returns 404 for an unknown session, domain, or cookie key.
func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, "NOT_FOUND", message, nil)
}

// Conflict returns 409 for a state clash (e.g. ChannelInUse).
func Conflict(w http.ResponseWriter, message string) {
	Error(w, http.StatusConflict, "CONFLICT", message, nil)
}

// InternalError returns 500. The real error is logged, never exposed.
func InternalError(w http.ResponseWriter, err error) {
	if err != nil {
		log.Printf("[API] internal error: %v", err)
	}
	Error(w, http.StatusInternalServerError, "INTERNAL", "an unexpected error occurred", nil)
}
