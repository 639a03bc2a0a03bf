package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/playoffchallenge/backend/internal/ledger"
	"github.com/playoffchallenge/backend/internal/models"
)

var (
	// ErrIdempotencyKeyRequired is returned when CreateIntent is called
	// without a caller-supplied key. Keys are never generated server-side; a
	// generated key cannot tie a client retry back to the first attempt.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIntentNotFound is returned when no intent matches the lookup.
	ErrIntentNotFound = errors.New("payment intent not found")
)

// CreateIntentRequest carries one entry-fee charge attempt.
type CreateIntentRequest struct {
	IdempotencyKey string
	ContestID      uuid.UUID
	UserID         uuid.UUID
	AmountCents    int64
	Currency       string
}

// WebhookEvent is a verified, decoded processor notification. Signature
// verification happens before this type is constructed.
type WebhookEvent struct {
	ExternalEventID string
	EventType       string
	ProcessorRef    string
	RawPayload      []byte
}

// EventOutcome reports what a webhook delivery did.
type EventOutcome struct {
	Duplicate     bool
	StatusChanged bool
}

type Service interface {
	CreateIntent(ctx context.Context, req CreateIntentRequest) (*models.PaymentIntent, error)
	GetIntent(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error)
	ProcessEvent(ctx context.Context, event WebhookEvent) (*EventOutcome, error)
}

type store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	getByIdempotencyKey(ctx context.Context, key string) (*models.PaymentIntent, error)
	getByID(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error)
	insertIntent(ctx context.Context, tx pgx.Tx, intent *models.PaymentIntent) error
	setProcessorResult(ctx context.Context, tx pgx.Tx, id uuid.UUID, processorRef, clientSecret, status string) error
	updateStatusByRef(ctx context.Context, tx pgx.Tx, processorRef, status string) (*models.PaymentIntent, bool, error)
	insertEvent(ctx context.Context, tx pgx.Tx, event *models.ProcessorEvent) (bool, error)
	setEventStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string) error
}

type service struct {
	repo      store
	processor ProcessorClient
	ledger    ledger.Service
	logger    *slog.Logger
}

func NewService(repo *Repository, processor ProcessorClient, ledgerSvc ledger.Service, logger *slog.Logger) Service {
	return &service{repo: repo, processor: processor, ledger: ledgerSvc, logger: logger}
}

var _ Service = (*service)(nil)

// CreateIntent opens a charge with the processor, exactly once per
// idempotency key. A replayed key returns the stored intent verbatim with no
// second processor call.
func (s *service) CreateIntent(ctx context.Context, req CreateIntentRequest) (*models.PaymentIntent, error) {
	if req.IdempotencyKey == "" {
		return nil, ErrIdempotencyKeyRequired
	}

	if existing, err := s.repo.getByIdempotencyKey(ctx, req.IdempotencyKey); err == nil {
		return existing, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	intent := &models.PaymentIntent{
		ID:             uuid.New(),
		IdempotencyKey: req.IdempotencyKey,
		ContestID:      req.ContestID,
		UserID:         req.UserID,
		AmountCents:    req.AmountCents,
		Currency:       req.Currency,
		Status:         models.IntentStatusRequiresConfirmation,
	}
	if err := s.repo.insertIntent(ctx, tx, intent); err != nil {
		if errors.Is(err, errKeyConflict) {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				return nil, rbErr
			}
			return s.repo.getByIdempotencyKey(ctx, req.IdempotencyKey)
		}
		return nil, err
	}

	// Same idempotency key forwarded to the processor: if we crash after its
	// side commits but before ours does, the client's retry reuses the key
	// and the processor deduplicates the charge.
	charge, err := s.processor.CreateCharge(ctx, req.IdempotencyKey, ChargeRequest{
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
		Description: fmt.Sprintf("entry fee for contest %s", req.ContestID),
	})
	if err != nil {
		return nil, fmt.Errorf("create charge: %w", err)
	}

	status := chargeStatusToIntent(charge.Status)
	if err := s.repo.setProcessorResult(ctx, tx, intent.ID, charge.ProcessorRef, charge.ClientSecret, status); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	intent.ProcessorRef = &charge.ProcessorRef
	intent.ClientSecret = &charge.ClientSecret
	intent.Status = status

	s.logger.Info("payment intent created",
		"intent_id", intent.ID,
		"contest_id", req.ContestID,
		"user_id", req.UserID,
		"amount_cents", req.AmountCents)
	return intent, nil
}

func (s *service) GetIntent(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error) {
	intent, err := s.repo.getByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrIntentNotFound
	}
	return intent, err
}

// ProcessEvent applies one processor webhook. The external event id makes the
// whole operation idempotent: a replayed delivery inserts nothing, changes
// nothing, and reports Duplicate.
func (s *service) ProcessEvent(ctx context.Context, event WebhookEvent) (*EventOutcome, error) {
	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	record := &models.ProcessorEvent{
		ID:               uuid.New(),
		ExternalEventID:  event.ExternalEventID,
		EventType:        event.EventType,
		RawPayload:       event.RawPayload,
		ProcessingStatus: models.EventStatusReceived,
	}
	first, err := s.repo.insertEvent(ctx, tx, record)
	if err != nil {
		return nil, err
	}
	if !first {
		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		return &EventOutcome{Duplicate: true}, nil
	}

	status, recognized := eventTypeToStatus(event.EventType)
	if !recognized {
		if err := s.repo.setEventStatus(ctx, tx, record.ID, models.EventStatusSkipped); err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		s.logger.Warn("unrecognized processor event type", "event_type", event.EventType)
		return &EventOutcome{}, nil
	}

	intent, changed, err := s.repo.updateStatusByRef(ctx, tx, event.ProcessorRef, status)
	if errors.Is(err, pgx.ErrNoRows) {
		// No intent for this ref; record the event and stop retries.
		if err := s.repo.setEventStatus(ctx, tx, record.ID, models.EventStatusSkipped); err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		s.logger.Warn("webhook for unknown processor ref", "processor_ref", event.ProcessorRef)
		return &EventOutcome{}, nil
	}
	if err != nil {
		return nil, err
	}

	// The credit rides on the status edge, not the delivery: a second
	// succeeded event with a fresh event id must not double-credit.
	if changed && status == models.IntentStatusSucceeded {
		key := "evt:" + event.ExternalEventID
		_, err := s.ledger.Append(ctx, tx, &models.LedgerEntry{
			ContestID:      &intent.ContestID,
			UserID:         &intent.UserID,
			EntryType:      models.LedgerEntryFeePayment,
			Direction:      models.LedgerDirectionCredit,
			AmountCents:    intent.AmountCents,
			Currency:       intent.Currency,
			IdempotencyKey: &key,
			ReferenceID:    &intent.ID,
		})
		if err != nil && !errors.Is(err, ledger.ErrDuplicateEntry) {
			return nil, fmt.Errorf("record entry fee: %w", err)
		}
	}

	if err := s.repo.setEventStatus(ctx, tx, record.ID, models.EventStatusProcessed); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.logger.Info("processor event applied",
		"external_event_id", event.ExternalEventID,
		"event_type", event.EventType,
		"status_changed", changed)
	return &EventOutcome{StatusChanged: changed}, nil
}

func chargeStatusToIntent(chargeStatus string) string {
	switch strings.ToLower(chargeStatus) {
	case "processing":
		return models.IntentStatusProcessing
	case "succeeded":
		return models.IntentStatusSucceeded
	case "failed":
		return models.IntentStatusFailed
	default:
		return models.IntentStatusRequiresConfirmation
	}
}

func eventTypeToStatus(eventType string) (string, bool) {
	switch eventType {
	case "charge.processing":
		return models.IntentStatusProcessing, true
	case "charge.succeeded":
		return models.IntentStatusSucceeded, true
	case "charge.failed":
		return models.IntentStatusFailed, true
	default:
		return "", false
	}
}
