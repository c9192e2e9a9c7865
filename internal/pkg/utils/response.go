package utils

import (
	"encoding/json"
	"net/http"

	"github.com/pratik-mahalle/wsaudit/internal/pkg/errors"
)

// Envelope is the body of every admin API response. Exactly one of Data and
// Error is set, matching Success.
type Envelope struct {
	Success bool         `json:"success"`
	Data    interface{}  `json:"data,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail is the error half of an Envelope
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// WriteJSON writes v with the given status
func WriteJSON(w http.ResponseWriter, status int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

// WriteSuccess wraps data in a successful envelope
func WriteSuccess(w http.ResponseWriter, status int, data interface{}) error {
	return WriteJSON(w, status, Envelope{Success: true, Data: data})
}

// WriteError writes err with its own status code. The internal cause is
// logged by callers, never sent.
func WriteError(w http.ResponseWriter, err *errors.AppError) error {
	return WriteJSON(w, err.StatusCode, Envelope{
		Error: &ErrorDetail{
			Code:    err.Code,
			Message: err.Message,
			Details: err.Details,
		},
	})
}

// WriteAnyError writes err as an AppError, wrapping unknown errors as internal.
func WriteAnyError(w http.ResponseWriter, err error) error {
	appErr, ok := errors.As(err)
	if !ok {
		appErr = errors.Internal("Internal server error", err)
	}
	return WriteError(w, appErr)
}
