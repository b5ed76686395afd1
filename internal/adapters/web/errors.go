package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"vatpilot/internal/app"
	"vatpilot/internal/core"
	"vatpilot/internal/hmrc"
	"vatpilot/internal/shopify"
	"vatpilot/internal/vat"

	"go.uber.org/zap"
)

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := errorResponse{
		Error:     message,
		Code:      code,
		RequestID: requestIDFromContext(r.Context()),
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// writeJSON writes a JSON response with status 200.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONStatus writes a JSON response with the given status.
func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorMapping pairs a sentinel with its HTTP status and error code.
type errorMapping struct {
	target error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{core.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{core.ErrDuplicateSubmission, http.StatusConflict, "DUPLICATE_SUBMISSION"},
	{hmrc.ErrNotConnected, http.StatusConflict, "HMRC_NOT_CONNECTED"},
	{hmrc.ErrInvalidState, http.StatusBadRequest, "INVALID_STATE"},
	{app.ErrNotFinalised, http.StatusUnprocessableEntity, "NOT_FINALISED"},
	{vat.ErrMissingPeriodKey, http.StatusBadRequest, "MISSING_PERIOD_KEY"},
	{shopify.ErrInvalidOrder, http.StatusBadRequest, "INVALID_ORDER"},
	{shopify.ErrEmptyCSV, http.StatusBadRequest, "EMPTY_CSV"},
	{vat.ErrMalformedMoney, http.StatusBadRequest, "MALFORMED_MONEY"},
	{vat.ErrMalformedRate, http.StatusBadRequest, "MALFORMED_RATE"},
	{core.ErrInvalidRange, http.StatusBadRequest, "INVALID_RANGE"},
	{core.ErrInvalidSettings, http.StatusBadRequest, "INVALID_SETTINGS"},
	{app.ErrInvalidRequest, http.StatusBadRequest, "BAD_REQUEST"},
}

// writeServiceError maps a service error onto a status code. Unknown errors
// are logged and reported as 500 without their message.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			writeError(w, r, err.Error(), m.code, m.status)
			return
		}
	}

	var apiErr *hmrc.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.Code
		if code == "" {
			code = "HMRC_ERROR"
		}
		writeError(w, r, apiErr.Error(), code, http.StatusBadGateway)
		return
	}

	h.log.Error("request failed",
		zap.String("path", r.URL.Path),
		zap.String("request_id", requestIDFromContext(r.Context())),
		zap.Error(err))
	writeError(w, r, "internal server error", "INTERNAL_ERROR", http.StatusInternalServerError)
}
