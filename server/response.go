package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"ecoscope/analysis"
	"ecoscope/database"
	"ecoscope/imageprocessor"
)

// ErrorPayload describes a failed request.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse wraps every failed reply. Successful replies are the bare record.
type ErrorResponse struct {
	Status    string       `json:"status"`
	Error     ErrorPayload `json:"error"`
	RequestID string       `json:"request_id,omitempty"`
}

// errBadRequest marks malformed form input.
var errBadRequest = errors.New("invalid request")

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message, requestID string) {
	writeJSON(w, status, ErrorResponse{Status: "error", Error: ErrorPayload{Code: code, Message: message}, RequestID: requestID})
}

func mapDomainError(err error) (int, string) {
	var invalid *imageprocessor.InvalidImageError
	var mismatch *analysis.DimensionMismatchError
	switch {
	case errors.As(err, &invalid):
		return http.StatusBadRequest, "INVALID_IMAGE"
	case errors.As(err, &mismatch):
		return http.StatusBadRequest, "DIMENSION_MISMATCH"
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, analysis.ErrChannelMismatch):
		return http.StatusConflict, "CHANNEL_MISMATCH"
	case errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}
