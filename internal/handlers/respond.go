package handlers

import (
	"encoding/json"
	"net/http"
)

// Machine-readable error codes. The set is closed; clients switch on these,
// so adding one is an API change and free-text codes never appear.
const (
	CodeInvalidRequest         = "invalid-request"
	CodeUnauthorized           = "unauthorized"
	CodeContestNotFound        = "contest-not-found"
	CodeIntentNotFound         = "intent-not-found"
	CodeIdempotencyKeyRequired = "idempotency-key-required"
	CodeContestNotEligible     = "contest-not-eligible"
	CodeAlreadySettled         = "already-settled"
	CodeProcessorUnavailable   = "processor-unavailable"
	CodeRateLimited            = "rate-limited"
	CodeInternalError          = "internal-error"
)

type errorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{ErrorCode: code, Message: message})
}
