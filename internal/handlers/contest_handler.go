package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/playoffchallenge/backend/internal/ledger"
	"github.com/playoffchallenge/backend/internal/models"
)

// ContestReader is the read-only contest surface the public handlers need.
type ContestReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.ContestInstance, error)
	List(ctx context.Context) ([]*models.ContestInstance, error)
	ListTransitions(ctx context.Context, contestID uuid.UUID) ([]*models.StateTransition, error)
	ListRankedEntries(ctx context.Context, contestID uuid.UUID) ([]models.RankedEntry, error)
}

// ContestHandler serves the public read endpoints under /api/v1/contests.
type ContestHandler struct {
	Contests ContestReader
	Ledger   ledger.Service
	Logger   *slog.Logger
}

// ListContests handles GET /api/v1/contests.
func (h *ContestHandler) ListContests(w http.ResponseWriter, r *http.Request) {
	contests, err := h.Contests.List(r.Context())
	if err != nil {
		h.Logger.Error("list contests", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternalError, "could not list contests")
		return
	}
	writeJSON(w, http.StatusOK, contests)
}

// GetContest handles GET /api/v1/contests/{id}.
func (h *ContestHandler) GetContest(w http.ResponseWriter, r *http.Request) {
	contestID, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid contest id")
		return
	}
	contest, err := h.Contests.GetByID(r.Context(), contestID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, CodeContestNotFound, "contest not found")
			return
		}
		h.Logger.Error("get contest", "contest_id", contestID, "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternalError, "could not load contest")
		return
	}
	writeJSON(w, http.StatusOK, contest)
}

// GetLeaderboard handles GET /api/v1/contests/{id}/leaderboard.
func (h *ContestHandler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	contestID, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid contest id")
		return
	}
	entries, err := h.Contests.ListRankedEntries(r.Context(), contestID)
	if err != nil {
		h.Logger.Error("list ranked entries", "contest_id", contestID, "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternalError, "could not load leaderboard")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// GetTransitions handles GET /api/v1/contests/{id}/transitions. The response
// is the audit trail of every status change.
func (h *ContestHandler) GetTransitions(w http.ResponseWriter, r *http.Request) {
	contestID, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid contest id")
		return
	}
	transitions, err := h.Contests.ListTransitions(r.Context(), contestID)
	if err != nil {
		h.Logger.Error("list transitions", "contest_id", contestID, "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternalError, "could not load transitions")
		return
	}
	writeJSON(w, http.StatusOK, transitions)
}

type ledgerResponse struct {
	Entries      []*models.LedgerEntry `json:"entries"`
	BalanceCents int64                 `json:"balance_cents"`
}

// GetLedger handles GET /api/v1/admin/contests/{id}/ledger. The balance is
// the credit/debit sum over the same entries, for reconciliation against the
// contest's prize pool.
func (h *ContestHandler) GetLedger(w http.ResponseWriter, r *http.Request) {
	contestID, ok := pathUUID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid contest id")
		return
	}
	entries, err := h.Ledger.ListByContest(r.Context(), contestID)
	if err != nil {
		h.Logger.Error("list ledger entries", "contest_id", contestID, "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternalError, "could not load ledger")
		return
	}
	balance, err := h.Ledger.ContestBalance(r.Context(), contestID)
	if err != nil {
		h.Logger.Error("contest balance", "contest_id", contestID, "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternalError, "could not load ledger")
		return
	}
	if entries == nil {
		entries = []*models.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, ledgerResponse{Entries: entries, BalanceCents: balance})
}

// pathUUID parses a UUID path value from a Go 1.22 route pattern.
func pathUUID(r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
