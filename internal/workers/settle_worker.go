package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/playoffchallenge/backend/internal/metrics"
	"github.com/playoffchallenge/backend/internal/settlement"
)

type SettleContestArgs struct {
	ContestID uuid.UUID `json:"contest_id"`
}

func (SettleContestArgs) Kind() string { return "settle_contest" }

type SettleContestWorker struct {
	river.WorkerDefaults[SettleContestArgs]
	settlementSvc settlement.Service
	logger        *slog.Logger
}

func NewSettleContestWorker(svc settlement.Service, logger *slog.Logger) *SettleContestWorker {
	return &SettleContestWorker{settlementSvc: svc, logger: logger}
}

func (w *SettleContestWorker) Work(ctx context.Context, job *river.Job[SettleContestArgs]) error {
	result, err := w.settlementSvc.SettleContest(ctx, job.Args.ContestID)
	if err != nil {
		// Bad ranking data or a broken payout structure will not fix itself on
		// retry; park the job and leave the contest for operator attention.
		if errors.Is(err, settlement.ErrIncompleteEntries) || errors.Is(err, settlement.ErrBadPayoutStructure) {
			metrics.SettlementRunsTotal.WithLabelValues("aborted").Inc()
			w.logger.Error("settlement aborted, contest needs attention",
				"contest_id", job.Args.ContestID, "error", err)
			return river.JobCancel(err)
		}
		metrics.SettlementRunsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("settle contest %s: %w", job.Args.ContestID, err)
	}

	if result.AlreadySettled {
		metrics.SettlementRunsTotal.WithLabelValues("replayed").Inc()
		w.logger.Info("contest already settled", "contest_id", job.Args.ContestID)
		return nil
	}
	metrics.SettlementRunsTotal.WithLabelValues("completed").Inc()
	return nil
}
