package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/playoffchallenge/backend/internal/models"
)

// ErrNotCancellable is returned when an administrative cancel or error mark
// targets a contest already in a terminal state.
var ErrNotCancellable = errors.New("contest is in a terminal state")

// Actor names recorded on transition audit rows.
const (
	ActorReconciler = "reconciler"
)

// TransitionResult reports one ApplyTransition outcome. Changed=false with
// nil error is the benign no-op: nothing due, or another writer already
// moved the contest.
type TransitionResult struct {
	Changed bool   `json:"changed"`
	From    string `json:"from_status,omitempty"`
	To      string `json:"to_status,omitempty"`
}

// ReconcileReport aggregates one full reconciliation pass.
type ReconcileReport struct {
	Locked     int         `json:"locked"`
	Started    int         `json:"started"`
	Completed  int         `json:"completed"`
	Errors     int         `json:"errors"`
	ChangedIDs []uuid.UUID `json:"changed_ids,omitempty"`
}

// EnqueueSettlementTxFunc enqueues a settlement job for a contest inside the
// reconciler's transaction. Provided by main using river.Client.InsertTx.
type EnqueueSettlementTxFunc func(ctx context.Context, tx pgx.Tx, contestID uuid.UUID) error

// Service is the only mutation path for contest status.
type Service interface {
	ApplyTransition(ctx context.Context, contestID uuid.UUID, now time.Time) (TransitionResult, error)
	ReconcileAll(ctx context.Context, now time.Time) (ReconcileReport, error)
	Cancel(ctx context.Context, contestID uuid.UUID, actor string) (TransitionResult, error)
	MarkError(ctx context.Context, contestID uuid.UUID, actor string) (TransitionResult, error)
}

// store is the repository surface the service needs. Unexported so the
// status-writing statements stay reachable only from this package.
type store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	listIDsByStatus(ctx context.Context, status string) ([]uuid.UUID, error)
	getForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.ContestInstance, error)
	updateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, from, to string) (bool, error)
	insertTransition(ctx context.Context, tx pgx.Tx, t *models.StateTransition) error
}

type service struct {
	repo              store
	enqueueSettlement EnqueueSettlementTxFunc
	logger            *slog.Logger
}

// NewService creates the lifecycle service. enqueueSettlement is typically a
// closure over river.Client.InsertTx; it may be nil in contexts that never
// complete contests.
func NewService(repo *Repository, enqueueSettlement EnqueueSettlementTxFunc, logger *slog.Logger) Service {
	return &service{repo: repo, enqueueSettlement: enqueueSettlement, logger: logger}
}

var _ Service = (*service)(nil)

// ApplyTransition advances one contest one step if a boundary has been
// crossed. Runs under a row lock; the conditional update makes concurrent
// invocations race-safe: the loser observes Changed=false.
func (s *service) ApplyTransition(ctx context.Context, contestID uuid.UUID, now time.Time) (TransitionResult, error) {
	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return TransitionResult{}, err
	}
	defer tx.Rollback(ctx)

	contest, err := s.repo.getForUpdate(ctx, tx, contestID)
	if err != nil {
		return TransitionResult{}, fmt.Errorf("lock contest %s: %w", contestID, err)
	}

	next, ok, err := Next(contest.Status, contest.LockTime, contest.TournamentStartTime, contest.TournamentEndTime, now)
	if err != nil {
		return TransitionResult{}, fmt.Errorf("contest %s: %w", contestID, err)
	}
	if !ok {
		return TransitionResult{Changed: false, From: contest.Status}, nil
	}

	return s.commitTransition(ctx, tx, contest, next, ActorReconciler)
}

// commitTransition performs the conditional write, audit insert, and (for
// LIVE→COMPLETE) the transactional settlement enqueue, then commits.
func (s *service) commitTransition(ctx context.Context, tx pgx.Tx, contest *models.ContestInstance, next, actor string) (TransitionResult, error) {
	changed, err := s.repo.updateStatus(ctx, tx, contest.ID, contest.Status, next)
	if err != nil {
		return TransitionResult{}, fmt.Errorf("update status %s: %w", contest.ID, err)
	}
	if !changed {
		// Another writer moved the contest first; benign.
		return TransitionResult{Changed: false, From: contest.Status}, nil
	}

	rec := &models.StateTransition{
		ID:         uuid.New(),
		ContestID:  contest.ID,
		FromStatus: contest.Status,
		ToStatus:   next,
		Actor:      actor,
	}
	if err := s.repo.insertTransition(ctx, tx, rec); err != nil {
		return TransitionResult{}, fmt.Errorf("insert transition %s: %w", contest.ID, err)
	}

	if next == models.ContestStatusComplete && s.enqueueSettlement != nil {
		if err := s.enqueueSettlement(ctx, tx, contest.ID); err != nil {
			return TransitionResult{}, fmt.Errorf("enqueue settlement %s: %w", contest.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return TransitionResult{}, err
	}
	return TransitionResult{Changed: true, From: contest.Status, To: next}, nil
}

// ReconcileAll runs one reconciliation pass. Candidate ids for all three
// phases are snapshotted up front, so a contest that crossed two boundaries
// between ticks still advances only one step this pass and takes the next
// step on the following pass.
func (s *service) ReconcileAll(ctx context.Context, now time.Time) (ReconcileReport, error) {
	phases := []string{
		models.ContestStatusScheduled,
		models.ContestStatusLocked,
		models.ContestStatusLive,
	}

	var report ReconcileReport
	counts := []*int{&report.Locked, &report.Started, &report.Completed}

	candidates := make([][]uuid.UUID, len(phases))
	for i, from := range phases {
		ids, err := s.repo.listIDsByStatus(ctx, from)
		if err != nil {
			return report, fmt.Errorf("list %s contests: %w", from, err)
		}
		candidates[i] = ids
	}

	for i := range phases {
		for _, id := range candidates[i] {
			res, err := s.ApplyTransition(ctx, id, now)
			if err != nil {
				// Misconfigured contests surface in the log and the report;
				// the rest of the batch proceeds.
				report.Errors++
				s.logger.Error("reconcile transition failed", "contest_id", id, "error", err)
				continue
			}
			if res.Changed {
				*counts[i]++
				report.ChangedIDs = append(report.ChangedIDs, id)
			}
		}
	}
	return report, nil
}

// Cancel moves a contest to CANCELLED from any pre-terminal status. Goes
// through the same locked-read/conditional-write primitive as the
// reconciler; CANCELLED is absorbing.
func (s *service) Cancel(ctx context.Context, contestID uuid.UUID, actor string) (TransitionResult, error) {
	return s.forceTerminal(ctx, contestID, models.ContestStatusCancelled, actor)
}

// MarkError moves a contest to ERROR from any pre-terminal status.
func (s *service) MarkError(ctx context.Context, contestID uuid.UUID, actor string) (TransitionResult, error) {
	return s.forceTerminal(ctx, contestID, models.ContestStatusError, actor)
}

func (s *service) forceTerminal(ctx context.Context, contestID uuid.UUID, target, actor string) (TransitionResult, error) {
	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return TransitionResult{}, err
	}
	defer tx.Rollback(ctx)

	contest, err := s.repo.getForUpdate(ctx, tx, contestID)
	if err != nil {
		return TransitionResult{}, fmt.Errorf("lock contest %s: %w", contestID, err)
	}
	if contest.Terminal() {
		return TransitionResult{Changed: false, From: contest.Status}, ErrNotCancellable
	}

	return s.commitTransition(ctx, tx, contest, target, actor)
}
