package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/playoffchallenge/backend/internal/ledger"
	"github.com/playoffchallenge/backend/internal/models"
)

var (
	// ErrNotEligible is returned when the contest has not reached COMPLETE.
	ErrNotEligible = errors.New("contest is not eligible for settlement")
	// ErrIncompleteEntries is returned when the ranking data cannot support a
	// full payout; nothing is credited.
	ErrIncompleteEntries = errors.New("ranked entries are missing or malformed")
	// ErrBadPayoutStructure is returned when the contest's payout configuration
	// cannot produce a strategy. Retrying does not help; the contest needs an
	// operator.
	ErrBadPayoutStructure = errors.New("payout structure is missing or invalid")
)

// RunResult reports one settlement, fresh or replayed. For a replayed run the
// payouts are rebuilt from the ledger and carry amounts only.
type RunResult struct {
	Run            *models.SettlementRun
	Payouts        []Payout
	AlreadySettled bool
}

type Service interface {
	SettleContest(ctx context.Context, contestID uuid.UUID) (*RunResult, error)
}

// store is the persistence surface SettleContest needs; unexported so tests
// in this package can fake it.
type store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	getRunByContest(ctx context.Context, contestID uuid.UUID) (*models.SettlementRun, error)
	insertRun(ctx context.Context, tx pgx.Tx, contestID uuid.UUID, strategy string, prizePoolCents int64) (uuid.UUID, error)
	completeRun(ctx context.Context, tx pgx.Tx, runID uuid.UUID) error
	getContestForUpdate(ctx context.Context, tx pgx.Tx, contestID uuid.UUID) (*models.ContestInstance, error)
	listRankedEntries(ctx context.Context, tx pgx.Tx, contestID uuid.UUID) ([]models.RankedEntry, error)
}

type service struct {
	repo   store
	ledger ledger.Service
	logger *slog.Logger
}

func NewService(repo *Repository, ledgerSvc ledger.Service, logger *slog.Logger) Service {
	return &service{repo: repo, ledger: ledgerSvc, logger: logger}
}

var _ Service = (*service)(nil)

// SettleContest pays out one contest exactly once. The settlement_runs row is
// the idempotency anchor: a completed run short-circuits before any money
// math, and a losing racer re-reads the winner's run instead of paying twice.
func (s *service) SettleContest(ctx context.Context, contestID uuid.UUID) (*RunResult, error) {
	if run, err := s.repo.getRunByContest(ctx, contestID); err == nil {
		if run.Status == models.SettlementRunCompleted {
			return s.replay(ctx, run)
		}
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	contest, err := s.repo.getContestForUpdate(ctx, tx, contestID)
	if err != nil {
		return nil, fmt.Errorf("load contest %s: %w", contestID, err)
	}
	if contest.Status != models.ContestStatusComplete {
		return nil, fmt.Errorf("%w: status %s", ErrNotEligible, contest.Status)
	}

	strategy, err := StrategyFromStructure(contest.PayoutStructure)
	if err != nil {
		return nil, fmt.Errorf("%w: contest %s: %w", ErrBadPayoutStructure, contestID, err)
	}

	runID, err := s.repo.insertRun(ctx, tx, contestID, strategy.Name(), contest.PrizePoolCents)
	if errors.Is(err, errRunExists) {
		// Lost the race; the winner's transaction has committed by the time
		// the unique check fails.
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return nil, rbErr
		}
		run, readErr := s.repo.getRunByContest(ctx, contestID)
		if readErr != nil {
			return nil, readErr
		}
		return s.replay(ctx, run)
	}
	if err != nil {
		return nil, err
	}

	entries, err := s.repo.listRankedEntries(ctx, tx, contestID)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.Rank <= 0 {
			return nil, fmt.Errorf("%w: nonpositive rank for user %s", ErrIncompleteEntries, e.UserID)
		}
	}

	payouts, err := strategy.Allocate(contest.PrizePoolCents, entries)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIncompleteEntries, err)
	}
	if len(payouts) == 0 {
		return nil, fmt.Errorf("%w: strategy %s produced no payouts", ErrIncompleteEntries, strategy.Name())
	}

	for _, p := range payouts {
		key := payoutKey(contestID, p.UserID)
		userID := p.UserID
		entry := &models.LedgerEntry{
			ContestID:      &contest.ID,
			UserID:         &userID,
			EntryType:      models.LedgerEntryPrizePayout,
			Direction:      models.LedgerDirectionCredit,
			AmountCents:    p.AmountCents,
			Currency:       contest.Currency,
			IdempotencyKey: &key,
			ReferenceID:    &runID,
		}
		if _, err := s.ledger.Append(ctx, tx, entry); err != nil {
			return nil, fmt.Errorf("record payout for %s: %w", p.UserID, err)
		}
	}

	if err := s.repo.completeRun(ctx, tx, runID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.logger.Info("contest settled",
		"contest_id", contestID,
		"strategy", strategy.Name(),
		"payouts", len(payouts),
		"prize_pool_cents", contest.PrizePoolCents)

	run := &models.SettlementRun{
		ID:             runID,
		ContestID:      contestID,
		Strategy:       strategy.Name(),
		PrizePoolCents: contest.PrizePoolCents,
		Status:         models.SettlementRunCompleted,
	}
	return &RunResult{Run: run, Payouts: payouts}, nil
}

func (s *service) replay(ctx context.Context, run *models.SettlementRun) (*RunResult, error) {
	recorded, err := s.ledger.ListByReference(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	payouts := make([]Payout, 0, len(recorded))
	for _, e := range recorded {
		if e.UserID == nil {
			continue
		}
		payouts = append(payouts, Payout{UserID: *e.UserID, AmountCents: e.AmountCents})
	}
	return &RunResult{Run: run, Payouts: payouts, AlreadySettled: true}, nil
}

func payoutKey(contestID, userID uuid.UUID) string {
	return fmt.Sprintf("settle:%s:%s", contestID, userID)
}
