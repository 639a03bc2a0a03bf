package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Payment intent statuses. REQUIRES_CONFIRMATION is the only status this
// service assigns on creation; later statuses mirror the processor's.
const (
	IntentStatusRequiresConfirmation = "REQUIRES_CONFIRMATION"
	IntentStatusProcessing           = "PROCESSING"
	IntentStatusSucceeded            = "SUCCEEDED"
	IntentStatusFailed               = "FAILED"
)

type PaymentIntent struct {
	ID             uuid.UUID `json:"id"`
	IdempotencyKey string    `json:"idempotency_key"`
	ContestID      uuid.UUID `json:"contest_id"`
	UserID         uuid.UUID `json:"user_id"`
	AmountCents    int64     `json:"amount_cents"`
	Currency       string    `json:"currency"`
	Status         string    `json:"status"`
	ProcessorRef   *string   `json:"processor_ref,omitempty"`
	ClientSecret   *string   `json:"client_secret,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Processor event processing statuses.
const (
	EventStatusReceived  = "received"
	EventStatusProcessed = "processed"
	EventStatusSkipped   = "skipped"
)

// ProcessorEvent is one webhook delivery from the payment processor. The
// external event id is unique; duplicate deliveries are absorbed on insert.
type ProcessorEvent struct {
	ID               uuid.UUID       `json:"id"`
	ExternalEventID  string          `json:"external_event_id"`
	EventType        string          `json:"event_type"`
	RawPayload       json.RawMessage `json:"raw_payload"`
	ProcessingStatus string          `json:"processing_status"`
	ReceivedAt       time.Time       `json:"received_at"`
}
