package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-fleet/internal/action"
	"github.com/nerrad567/gray-logic-fleet/internal/device"
	"github.com/nerrad567/gray-logic-fleet/internal/orchestrator"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeBadRequest        = "bad_request"
	ErrCodeNotFound          = "not_found"
	ErrCodeAlreadyExists     = "already_exists"
	ErrCodeInvalidArgument   = "invalid_argument"
	ErrCodeDeviceBusy        = "device_busy"
	ErrCodeDeviceOffline     = "device_offline"
	ErrCodeInvalidTransition = "invalid_transition"
	ErrCodeUnavailable       = "unavailable"
	ErrCodeInternal          = "internal_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// domainErrors maps sentinel errors to responses. First match wins.
var domainErrors = []struct {
	err    error
	status int
	code   string
}{
	{device.ErrDeviceNotFound, http.StatusNotFound, ErrCodeNotFound},
	{action.ErrActionNotFound, http.StatusNotFound, ErrCodeNotFound},
	{device.ErrDeviceExists, http.StatusConflict, ErrCodeAlreadyExists},
	{action.ErrDeviceBusy, http.StatusConflict, ErrCodeDeviceBusy},
	{orchestrator.ErrDeviceOffline, http.StatusConflict, ErrCodeDeviceOffline},
	{action.ErrInvalidTransition, http.StatusConflict, ErrCodeInvalidTransition},
	{action.ErrInvalidArgument, http.StatusBadRequest, ErrCodeInvalidArgument},
	{device.ErrInvalidDevice, http.StatusBadRequest, ErrCodeInvalidArgument},
	{device.ErrInvalidStatus, http.StatusBadRequest, ErrCodeInvalidArgument},
	{orchestrator.ErrClosed, http.StatusServiceUnavailable, ErrCodeUnavailable},
}

// writeDomainError maps a registry, ledger or orchestrator error to an HTTP
// response. Unknown errors are logged and hidden behind a 500.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range domainErrors {
		if errors.Is(err, m.err) {
			writeError(w, m.status, m.code, err.Error())
			return
		}
	}
	s.logger.Error("request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", r.Context().Value(ctxKeyRequestID),
		"error", err,
	)
	writeInternalError(w, "internal server error")
}
