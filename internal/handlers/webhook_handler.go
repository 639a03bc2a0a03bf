package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/playoffchallenge/backend/internal/metrics"
	"github.com/playoffchallenge/backend/internal/payments"
)

const maxWebhookBody = 1 << 20

// WebhookHandler receives processor notifications at /api/v1/webhooks/processor.
type WebhookHandler struct {
	Payments payments.Service
	Secret   []byte
	Logger   *slog.Logger
}

type webhookPayload struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	ProcessorRef string `json:"processor_ref"`
}

// HandleEvent verifies the HMAC-SHA256 signature over the raw body, then
// hands the event to the payment service. Replays come back 200 so the
// processor stops retrying.
func (h *WebhookHandler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "could not read body")
		return
	}

	if !h.verifySignature(body, r.Header.Get("X-Processor-Signature")) {
		metrics.ProcessorEventsTotal.WithLabelValues("bad_signature").Inc()
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "invalid signature")
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid JSON")
		return
	}
	if payload.ID == "" || payload.Type == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "event id and type are required")
		return
	}

	outcome, err := h.Payments.ProcessEvent(r.Context(), payments.WebhookEvent{
		ExternalEventID: payload.ID,
		EventType:       payload.Type,
		ProcessorRef:    payload.ProcessorRef,
		RawPayload:      body,
	})
	if err != nil {
		h.Logger.Error("process webhook", "external_event_id", payload.ID, "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternalError, "could not process event")
		return
	}

	switch {
	case outcome.Duplicate:
		metrics.ProcessorEventsTotal.WithLabelValues("duplicate").Inc()
	default:
		metrics.ProcessorEventsTotal.WithLabelValues("processed").Inc()
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (h *WebhookHandler) verifySignature(body []byte, signature string) bool {
	if len(h.Secret) == 0 || signature == "" {
		return false
	}
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, h.Secret)
	mac.Write(body)
	return hmac.Equal(provided, mac.Sum(nil))
}
