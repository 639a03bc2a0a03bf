package settlement

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/playoffchallenge/backend/internal/models"
)

var errRunExists = errors.New("settlement run already exists for contest")

const runColumns = `id, contest_id, strategy, prize_pool_cents, status, created_at, completed_at`

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// getRunByContest is the lock-free fast path; returns nil, pgx.ErrNoRows when
// the contest has never been settled.
func (r *Repository) getRunByContest(ctx context.Context, contestID uuid.UUID) (*models.SettlementRun, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM settlement_runs WHERE contest_id = $1`, contestID)
	return scanRun(row)
}

// insertRun claims the contest's single settlement slot. The UNIQUE index on
// contest_id makes a concurrent claim fail with errRunExists after the
// competing transaction commits.
func (r *Repository) insertRun(ctx context.Context, tx pgx.Tx, contestID uuid.UUID, strategy string, prizePoolCents int64) (uuid.UUID, error) {
	id := uuid.New()
	_, err := tx.Exec(ctx, `
		INSERT INTO settlement_runs (id, contest_id, strategy, prize_pool_cents, status)
		VALUES ($1, $2, $3, $4, $5)
	`, id, contestID, strategy, prizePoolCents, models.SettlementRunPending)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return uuid.Nil, errRunExists
		}
		return uuid.Nil, err
	}
	return id, nil
}

func (r *Repository) completeRun(ctx context.Context, tx pgx.Tx, runID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		UPDATE settlement_runs SET status = $2, completed_at = now() WHERE id = $1
	`, runID, models.SettlementRunCompleted)
	return err
}

// getContestForUpdate locks the contest row so the status cannot move under
// the settlement transaction. Read-only: status writes live elsewhere.
func (r *Repository) getContestForUpdate(ctx context.Context, tx pgx.Tx, contestID uuid.UUID) (*models.ContestInstance, error) {
	var c models.ContestInstance
	row := tx.QueryRow(ctx, `
		SELECT id, name, status, payout_structure, prize_pool_cents, currency
		FROM contest_instances WHERE id = $1 FOR UPDATE
	`, contestID)
	err := row.Scan(&c.ID, &c.Name, &c.Status, &c.PayoutStructure, &c.PrizePoolCents, &c.Currency)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repository) listRankedEntries(ctx context.Context, tx pgx.Tx, contestID uuid.UUID) ([]models.RankedEntry, error) {
	rows, err := tx.Query(ctx, `
		SELECT contest_id, user_id, rank, score FROM ranked_entries WHERE contest_id = $1 ORDER BY rank, user_id
	`, contestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []models.RankedEntry
	for rows.Next() {
		var e models.RankedEntry
		if err := rows.Scan(&e.ContestID, &e.UserID, &e.Rank, &e.Score); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanRun(row pgx.Row) (*models.SettlementRun, error) {
	var run models.SettlementRun
	err := row.Scan(&run.ID, &run.ContestID, &run.Strategy, &run.PrizePoolCents,
		&run.Status, &run.CreatedAt, &run.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &run, nil
}
