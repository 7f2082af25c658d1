package main

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Error kinds the services classify precisely; the HTTP layer branches
// on identity, so these must survive wrapping.
var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("already exists")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrExpired            = errors.New("token expired")
	ErrRevoked            = errors.New("token revoked")
	ErrVerificationFailed = errors.New("token verification failed")
)

// APIError represents a structured API error response
type APIError struct {
	Code    string `json:"error_code"`
	Message string `json:"error_message"`
	Details string `json:"details,omitempty"`
}

// writeError writes a structured error response
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIError{
		Code:    code,
		Message: message,
	})
}

// writeServiceError maps a service error to its HTTP status. Unclassified
// errors surface as 500 with no detail.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, ErrConflict):
		writeError(w, http.StatusUnprocessableEntity, "ALREADY_EXISTS", err.Error())
	case errors.Is(err, ErrInvalidInput):
		writeError(w, http.StatusUnprocessableEntity, "INVALID_INPUT", err.Error())
	case errors.Is(err, ErrInvalidCredentials):
		writeError(w, http.StatusUnprocessableEntity, "INVALID_CREDENTIALS", "Invalid email or password")
	case errors.Is(err, ErrExpired):
		writeError(w, http.StatusForbidden, "TOKEN_EXPIRED", err.Error())
	case errors.Is(err, ErrRevoked), errors.Is(err, ErrVerificationFailed):
		writeError(w, http.StatusForbidden, "TOKEN_INVALID", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal error")
	}
}

// writeSuccess writes a success response
func writeSuccess(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, map[string]interface{}{
		"success": true,
		"data":    data,
	})
}
