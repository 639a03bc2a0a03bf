package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/playoffchallenge/backend/internal/middleware"
	"github.com/playoffchallenge/backend/internal/models"
	"github.com/playoffchallenge/backend/internal/payments"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type mockPaymentService struct {
	intent   *models.PaymentIntent
	outcome  *payments.EventOutcome
	err      error
	failures int // errors to return before succeeding

	createCalls  int
	processCalls int
	lastEvent    payments.WebhookEvent
}

func (m *mockPaymentService) CreateIntent(_ context.Context, req payments.CreateIntentRequest) (*models.PaymentIntent, error) {
	m.createCalls++
	if req.IdempotencyKey == "" {
		return nil, payments.ErrIdempotencyKeyRequired
	}
	if m.failures > 0 {
		m.failures--
		return nil, &payments.ProcessorError{StatusCode: 503, Message: "maintenance", Retryable: true}
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.intent, nil
}

func (m *mockPaymentService) GetIntent(_ context.Context, id uuid.UUID) (*models.PaymentIntent, error) {
	if m.intent == nil || m.intent.ID != id {
		return nil, payments.ErrIntentNotFound
	}
	return m.intent, nil
}

func (m *mockPaymentService) ProcessEvent(_ context.Context, event payments.WebhookEvent) (*payments.EventOutcome, error) {
	m.processCalls++
	m.lastEvent = event
	if m.err != nil {
		return nil, m.err
	}
	return m.outcome, nil
}

var testLogger = slog.New(slog.DiscardHandler)

func authedRequest(method, target, body string, userID uuid.UUID) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	return req.WithContext(middleware.WithUser(req.Context(), userID, "player"))
}

// ---------------------------------------------------------------------------
// CreateIntent
// ---------------------------------------------------------------------------

func TestCreateIntent_MissingKeyRejected(t *testing.T) {
	svc := &mockPaymentService{}
	h := &PaymentHandler{Payments: svc, Logger: testLogger}

	req := authedRequest(http.MethodPost, "/api/v1/payment-intents", `{"contest_id":"x"}`, uuid.New())
	rec := httptest.NewRecorder()
	h.CreateIntent(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ErrorCode != CodeIdempotencyKeyRequired {
		t.Errorf("error code: got %q, want %q", resp.ErrorCode, CodeIdempotencyKeyRequired)
	}
	if svc.createCalls != 0 {
		t.Error("service must not be called without a key")
	}
}

func TestCreateIntent_Success(t *testing.T) {
	userID := uuid.New()
	secret := "secret_xyz"
	svc := &mockPaymentService{intent: &models.PaymentIntent{
		ID:           uuid.New(),
		UserID:       userID,
		Status:       models.IntentStatusRequiresConfirmation,
		ClientSecret: &secret,
	}}
	h := &PaymentHandler{Payments: svc, Logger: testLogger}

	body := `{"contest_id":"` + uuid.NewString() + `","amount_cents":500,"currency":"USD"}`
	req := authedRequest(http.MethodPost, "/api/v1/payment-intents", body, userID)
	req.Header.Set("Idempotency-Key", "order-1")
	rec := httptest.NewRecorder()
	h.CreateIntent(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp intentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ClientSecret != secret {
		t.Errorf("client secret not returned: %+v", resp)
	}
}

func TestCreateIntent_RetriesTransientProcessorFailure(t *testing.T) {
	userID := uuid.New()
	svc := &mockPaymentService{
		failures: 1,
		intent:   &models.PaymentIntent{ID: uuid.New(), UserID: userID, Status: models.IntentStatusRequiresConfirmation},
	}
	h := &PaymentHandler{Payments: svc, Logger: testLogger}

	body := `{"contest_id":"` + uuid.NewString() + `","amount_cents":500,"currency":"USD"}`
	req := authedRequest(http.MethodPost, "/api/v1/payment-intents", body, userID)
	req.Header.Set("Idempotency-Key", "order-1")
	rec := httptest.NewRecorder()
	h.CreateIntent(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 after retry, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.createCalls != 2 {
		t.Errorf("service calls: got %d, want 2", svc.createCalls)
	}
}

func TestCreateIntent_GivesUpAfterMaxAttempts(t *testing.T) {
	userID := uuid.New()
	svc := &mockPaymentService{failures: 100}
	h := &PaymentHandler{Payments: svc, Logger: testLogger}

	body := `{"contest_id":"` + uuid.NewString() + `","amount_cents":500,"currency":"USD"}`
	req := authedRequest(http.MethodPost, "/api/v1/payment-intents", body, userID)
	req.Header.Set("Idempotency-Key", "order-1")
	rec := httptest.NewRecorder()
	h.CreateIntent(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.createCalls != maxChargeAttempts {
		t.Errorf("service calls: got %d, want %d", svc.createCalls, maxChargeAttempts)
	}
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ErrorCode != CodeProcessorUnavailable {
		t.Errorf("error code: got %q, want %q", resp.ErrorCode, CodeProcessorUnavailable)
	}
}

func TestCreateIntent_Unauthenticated(t *testing.T) {
	h := &PaymentHandler{Payments: &mockPaymentService{}, Logger: testLogger}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payment-intents", nil)
	rec := httptest.NewRecorder()
	h.CreateIntent(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// GetIntent
// ---------------------------------------------------------------------------

func TestGetIntent_OwnerOnly(t *testing.T) {
	owner := uuid.New()
	intent := &models.PaymentIntent{ID: uuid.New(), UserID: owner}
	svc := &mockPaymentService{intent: intent}
	h := &PaymentHandler{Payments: svc, Logger: testLogger}

	req := authedRequest(http.MethodGet, "/api/v1/payment-intents/"+intent.ID.String(), "", owner)
	req.SetPathValue("id", intent.ID.String())
	rec := httptest.NewRecorder()
	h.GetIntent(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("owner: expected 200, got %d", rec.Code)
	}

	// A different user sees 404, not 403: intent ids are not enumerable.
	req = authedRequest(http.MethodGet, "/api/v1/payment-intents/"+intent.ID.String(), "", uuid.New())
	req.SetPathValue("id", intent.ID.String())
	rec = httptest.NewRecorder()
	h.GetIntent(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("stranger: expected 404, got %d", rec.Code)
	}
}
