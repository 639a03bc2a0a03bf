package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const processorTimeout = 10 * time.Second

// ProcessorError reports a failed processor call. Retryable errors (network
// faults, 429, 5xx) are safe to retry with the same idempotency key; the
// processor deduplicates on its side.
type ProcessorError struct {
	StatusCode int
	Message    string
	Retryable  bool
}

func (e *ProcessorError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("processor returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("processor unreachable: %s", e.Message)
}

// IsRetryable reports whether err is a processor error worth retrying.
func IsRetryable(err error) bool {
	var pe *ProcessorError
	return errors.As(err, &pe) && pe.Retryable
}

// ChargeRequest is what we send the processor to open a charge.
type ChargeRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	Description string `json:"description,omitempty"`
}

// ChargeResult is the processor's reply: its reference for the charge, a
// client secret for the frontend confirmation step, and the charge status.
type ChargeResult struct {
	ProcessorRef string `json:"processor_ref"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
}

// ProcessorClient talks to the external payment processor. The idempotency
// key is forwarded verbatim so a retried call cannot double-charge.
type ProcessorClient interface {
	CreateCharge(ctx context.Context, idempotencyKey string, req ChargeRequest) (*ChargeResult, error)
}

type httpProcessorClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPProcessorClient returns the production client with the 10-second
// processor HTTP client.
func NewHTTPProcessorClient(baseURL string) ProcessorClient {
	return &httpProcessorClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: processorTimeout},
	}
}

func (c *httpProcessorClient) CreateCharge(ctx context.Context, idempotencyKey string, chargeReq ChargeRequest) (*ChargeResult, error) {
	body, err := json.Marshal(chargeReq)
	if err != nil {
		return nil, fmt.Errorf("marshal charge request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/charges", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create charge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &ProcessorError{Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &ProcessorError{
			StatusCode: resp.StatusCode,
			Message:    string(msg),
			Retryable:  resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
		}
	}

	var result ChargeResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode charge response: %w", err)
	}
	return &result, nil
}
