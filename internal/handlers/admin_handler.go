package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/playoffchallenge/backend/internal/lifecycle"
	"github.com/playoffchallenge/backend/internal/models"
	"github.com/playoffchallenge/backend/internal/settlement"
)

// ContestWriter is the contest creation surface for operators.
type ContestWriter interface {
	Create(ctx context.Context, c *models.ContestInstance) error
}

// AdminHandler serves the operator endpoints under /api/v1/admin. The router
// wraps these in the admin key middleware.
type AdminHandler struct {
	Contests   ContestWriter
	Lifecycle  lifecycle.Service
	Settlement settlement.Service
	Logger     *slog.Logger
}

type createContestRequest struct {
	Name                string          `json:"name"`
	LockTime            *time.Time      `json:"lock_time"`
	TournamentStartTime *time.Time      `json:"tournament_start_time"`
	TournamentEndTime   *time.Time      `json:"tournament_end_time"`
	PayoutStructure     json.RawMessage `json:"payout_structure"`
	PrizePoolCents      int64           `json:"prize_pool_cents"`
	EntryFeeCents       int64           `json:"entry_fee_cents"`
	Currency            string          `json:"currency"`
	MaxEntries          *int            `json:"max_entries"`
}

// CreateContest handles POST /api/v1/admin/contests.
func (h *AdminHandler) CreateContest(w http.ResponseWriter, r *http.Request) {
	var req createContestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid JSON")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "name is required")
		return
	}
	if req.PrizePoolCents < 0 || req.EntryFeeCents < 0 {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "amounts must not be negative")
		return
	}
	// Reject a payout structure the settlement engine cannot execute; a bad
	// or missing one would only surface months later, at settlement time.
	if len(req.PayoutStructure) == 0 {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "payout_structure is required")
		return
	}
	if _, err := settlement.StrategyFromStructure(req.PayoutStructure); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid payout structure: "+err.Error())
		return
	}

	contest := &models.ContestInstance{
		Name:                req.Name,
		LockTime:            req.LockTime,
		TournamentStartTime: req.TournamentStartTime,
		TournamentEndTime:   req.TournamentEndTime,
		PayoutStructure:     req.PayoutStructure,
		PrizePoolCents:      req.PrizePoolCents,
		EntryFeeCents:       req.EntryFeeCents,
		Currency:            req.Currency,
		MaxEntries:          req.MaxEntries,
	}
	if err := h.Contests.Create(r.Context(), contest); err != nil {
		h.Logger.Error("create contest", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternalError, "could not create contest")
		return
	}
	writeJSON(w, http.StatusCreated, contest)
}

// CancelContest handles POST /api/v1/admin/contests/{id}/cancel.
func (h *AdminHandler) CancelContest(w http.ResponseWriter, r *http.Request) {
	contestID, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid contest id")
		return
	}
	result, err := h.Lifecycle.Cancel(r.Context(), contestID, "admin:api")
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			writeError(w, http.StatusNotFound, CodeContestNotFound, "contest not found")
		case errors.Is(err, lifecycle.ErrNotCancellable):
			writeError(w, http.StatusConflict, CodeContestNotEligible, "contest is already terminal")
		default:
			h.Logger.Error("cancel contest", "contest_id", contestID, "error", err)
			writeError(w, http.StatusInternalServerError, CodeInternalError, "could not cancel contest")
		}
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// MarkError handles POST /api/v1/admin/contests/{id}/mark-error. ERROR is only
// ever reached this way; the reconciler never produces it on its own.
func (h *AdminHandler) MarkError(w http.ResponseWriter, r *http.Request) {
	contestID, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid contest id")
		return
	}
	result, err := h.Lifecycle.MarkError(r.Context(), contestID, "admin:api")
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			writeError(w, http.StatusNotFound, CodeContestNotFound, "contest not found")
		case errors.Is(err, lifecycle.ErrNotCancellable):
			writeError(w, http.StatusConflict, CodeContestNotEligible, "contest is already terminal")
		default:
			h.Logger.Error("mark contest error", "contest_id", contestID, "error", err)
			writeError(w, http.StatusInternalServerError, CodeInternalError, "could not mark contest")
		}
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// SettleContest handles POST /api/v1/admin/contests/{id}/settle, a manual
// settlement trigger for contests whose background job needs a rerun.
func (h *AdminHandler) SettleContest(w http.ResponseWriter, r *http.Request) {
	contestID, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid contest id")
		return
	}
	result, err := h.Settlement.SettleContest(r.Context(), contestID)
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			writeError(w, http.StatusNotFound, CodeContestNotFound, "contest not found")
		case errors.Is(err, settlement.ErrNotEligible):
			writeError(w, http.StatusConflict, CodeContestNotEligible, "contest has not completed")
		case errors.Is(err, settlement.ErrIncompleteEntries):
			writeError(w, http.StatusConflict, CodeContestNotEligible, "ranking data is incomplete")
		case errors.Is(err, settlement.ErrBadPayoutStructure):
			writeError(w, http.StatusConflict, CodeContestNotEligible, "payout structure is invalid")
		default:
			h.Logger.Error("settle contest", "contest_id", contestID, "error", err)
			writeError(w, http.StatusInternalServerError, CodeInternalError, "could not settle contest")
		}
		return
	}
	status := http.StatusOK
	if !result.AlreadySettled {
		status = http.StatusCreated
	}
	writeJSON(w, status, result)
}

// Reconcile handles POST /api/v1/admin/reconcile, an on-demand pass outside
// the periodic schedule.
func (h *AdminHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.Lifecycle.ReconcileAll(r.Context(), time.Now().UTC())
	if err != nil {
		h.Logger.Error("manual reconcile", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternalError, "reconcile pass failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}
