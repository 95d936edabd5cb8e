package api

import (
	"encoding/json"
	"net/http"

	"github.com/nerrad567/gray-logic-wiz/internal/bridges/wiz"
)

// Error is the body of every non-2xx response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes not covered by the bridge's own codes.
const (
	ErrCodeBadRequest = "bad_request"
	ErrCodeNotFound   = "not_found"
	ErrCodeInternal   = "internal_error"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // connection may already be gone
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeBridgeError maps a bridge error onto its code and an HTTP status.
func writeBridgeError(w http.ResponseWriter, err error) {
	code := wiz.ErrorCode(err)
	writeError(w, statusForCode(code), code, err.Error())
}

func statusForCode(code string) int {
	switch code {
	case wiz.ErrCodeInvalidCommand, wiz.ErrCodeInvalidParameters:
		return http.StatusBadRequest
	case wiz.ErrCodeNotConfigured:
		return http.StatusNotFound
	case wiz.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case wiz.ErrCodeDeviceError, wiz.ErrCodeProtocolError, wiz.ErrCodeDeviceUnreachable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
