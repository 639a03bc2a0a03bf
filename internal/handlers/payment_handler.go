package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/playoffchallenge/backend/internal/metrics"
	"github.com/playoffchallenge/backend/internal/middleware"
	"github.com/playoffchallenge/backend/internal/payments"
)

const (
	maxChargeAttempts = 3
	baseRetryDelay    = 200 * time.Millisecond
)

// PaymentHandler serves /api/v1/payment-intents.
type PaymentHandler struct {
	Payments payments.Service
	Logger   *slog.Logger
}

type createIntentRequest struct {
	ContestID   string `json:"contest_id"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

type intentResponse struct {
	IntentID     string `json:"intent_id"`
	Status       string `json:"status"`
	ClientSecret string `json:"client_secret,omitempty"`
}

// CreateIntent handles POST /api/v1/payment-intents. The caller supplies the
// idempotency key in the Idempotency-Key header; retries of transient
// processor failures happen here, outside the service's transaction, with the
// same key every attempt.
func (h *PaymentHandler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserFromCtx(r.Context())
	if userID == uuid.Nil {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "authentication required")
		return
	}

	idemKey := r.Header.Get("Idempotency-Key")
	if idemKey == "" {
		metrics.PaymentIntentsTotal.WithLabelValues("rejected").Inc()
		writeError(w, http.StatusBadRequest, CodeIdempotencyKeyRequired, "Idempotency-Key header is required")
		return
	}

	var req createIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid JSON")
		return
	}
	contestID, err := uuid.Parse(req.ContestID)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid contest_id")
		return
	}
	if req.AmountCents <= 0 {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "amount_cents must be > 0")
		return
	}
	if req.Currency == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "currency is required")
		return
	}

	svcReq := payments.CreateIntentRequest{
		IdempotencyKey: idemKey,
		ContestID:      contestID,
		UserID:         userID,
		AmountCents:    req.AmountCents,
		Currency:       req.Currency,
	}

	intent, err := h.Payments.CreateIntent(r.Context(), svcReq)
	for attempt := 1; err != nil && payments.IsRetryable(err) && attempt < maxChargeAttempts; attempt++ {
		delay := baseRetryDelay << (attempt - 1)
		h.Logger.Warn("processor call failed, retrying",
			"attempt", attempt, "delay_ms", delay.Milliseconds(), "error", err)
		select {
		case <-r.Context().Done():
			writeError(w, http.StatusServiceUnavailable, CodeProcessorUnavailable, "payment processor unavailable")
			return
		case <-time.After(delay):
		}
		intent, err = h.Payments.CreateIntent(r.Context(), svcReq)
	}
	if err != nil {
		switch {
		case errors.Is(err, payments.ErrIdempotencyKeyRequired):
			writeError(w, http.StatusBadRequest, CodeIdempotencyKeyRequired, "Idempotency-Key header is required")
		case payments.IsRetryable(err):
			metrics.PaymentIntentsTotal.WithLabelValues("processor_unavailable").Inc()
			writeError(w, http.StatusServiceUnavailable, CodeProcessorUnavailable, "payment processor unavailable")
		default:
			h.Logger.Error("create intent", "error", err)
			metrics.PaymentIntentsTotal.WithLabelValues("error").Inc()
			writeError(w, http.StatusInternalServerError, CodeInternalError, "could not create payment intent")
		}
		return
	}

	metrics.PaymentIntentsTotal.WithLabelValues("created").Inc()
	resp := intentResponse{IntentID: intent.ID.String(), Status: intent.Status}
	if intent.ClientSecret != nil {
		resp.ClientSecret = *intent.ClientSecret
	}
	writeJSON(w, http.StatusCreated, resp)
}

// GetIntent handles GET /api/v1/payment-intents/{id}. Callers can only see
// their own intents.
func (h *PaymentHandler) GetIntent(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserFromCtx(r.Context())
	if userID == uuid.Nil {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "authentication required")
		return
	}
	intentID, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid intent id")
		return
	}

	intent, err := h.Payments.GetIntent(r.Context(), intentID)
	if err != nil {
		if errors.Is(err, payments.ErrIntentNotFound) {
			writeError(w, http.StatusNotFound, CodeIntentNotFound, "payment intent not found")
			return
		}
		h.Logger.Error("get intent", "intent_id", intentID, "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternalError, "could not load payment intent")
		return
	}
	if intent.UserID != userID && middleware.RoleFromCtx(r.Context()) != "admin" {
		writeError(w, http.StatusNotFound, CodeIntentNotFound, "payment intent not found")
		return
	}
	writeJSON(w, http.StatusOK, intent)
}
