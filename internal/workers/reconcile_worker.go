package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/playoffchallenge/backend/internal/lifecycle"
	"github.com/playoffchallenge/backend/internal/metrics"
	"github.com/playoffchallenge/backend/internal/models"
)

type ReconcileArgs struct{}

func (ReconcileArgs) Kind() string { return "reconcile_contests" }

func (ReconcileArgs) InsertOpts() river.InsertOpts {
	// One reconcile pass in flight at a time; overlapping passes would just
	// race each other's conditional updates.
	return river.InsertOpts{UniqueOpts: river.UniqueOpts{ByState: []rivertype.JobState{
		rivertype.JobStateAvailable, rivertype.JobStateRunning,
	}}}
}

type ReconcileWorker struct {
	river.WorkerDefaults[ReconcileArgs]
	lifecycleSvc lifecycle.Service
	logger       *slog.Logger
}

func NewReconcileWorker(svc lifecycle.Service, logger *slog.Logger) *ReconcileWorker {
	return &ReconcileWorker{lifecycleSvc: svc, logger: logger}
}

func (w *ReconcileWorker) Work(ctx context.Context, job *river.Job[ReconcileArgs]) error {
	start := time.Now()
	report, err := w.lifecycleSvc.ReconcileAll(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	metrics.ReconcilePassesTotal.Inc()
	metrics.ReconcilePassDuration.Observe(time.Since(start).Seconds())
	metrics.ContestTransitionsTotal.WithLabelValues(models.ContestStatusLocked).Add(float64(report.Locked))
	metrics.ContestTransitionsTotal.WithLabelValues(models.ContestStatusLive).Add(float64(report.Started))
	metrics.ContestTransitionsTotal.WithLabelValues(models.ContestStatusComplete).Add(float64(report.Completed))
	metrics.ReconcileErrorsTotal.Add(float64(report.Errors))

	if report.Locked+report.Started+report.Completed > 0 || report.Errors > 0 {
		w.logger.Info("reconcile pass finished",
			"locked", report.Locked,
			"started", report.Started,
			"completed", report.Completed,
			"errors", report.Errors,
			"duration_ms", time.Since(start).Milliseconds())
	}
	return nil
}
