package lifecycle

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/playoffchallenge/backend/internal/models"
)

// Repository owns all SQL touching contest_instances.status. The mutating
// methods are unexported so the only callers are the Service in this
// package; other packages read contests but cannot write status.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

const contestColumns = `id, name, status, lock_time, tournament_start_time, tournament_end_time,
		payout_structure, prize_pool_cents, entry_fee_cents, currency, max_entries, created_at, updated_at`

func scanContest(row pgx.Row) (*models.ContestInstance, error) {
	var c models.ContestInstance
	err := row.Scan(&c.ID, &c.Name, &c.Status, &c.LockTime, &c.TournamentStartTime, &c.TournamentEndTime,
		&c.PayoutStructure, &c.PrizePoolCents, &c.EntryFeeCents, &c.Currency, &c.MaxEntries, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Create inserts a new contest in SCHEDULED status. Contest creation is the
// external collaborator's entry point; status afterwards belongs to the
// reconciler alone.
func (r *Repository) Create(ctx context.Context, c *models.ContestInstance) error {
	c.Status = models.ContestStatusScheduled
	return r.pool.QueryRow(ctx, `
		INSERT INTO contest_instances (id, name, status, lock_time, tournament_start_time, tournament_end_time,
			payout_structure, prize_pool_cents, entry_fee_cents, currency, max_entries)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`, c.ID, c.Name, c.Status, c.LockTime, c.TournamentStartTime, c.TournamentEndTime,
		c.PayoutStructure, c.PrizePoolCents, c.EntryFeeCents, c.Currency, c.MaxEntries).Scan(&c.CreatedAt, &c.UpdatedAt)
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.ContestInstance, error) {
	return scanContest(r.pool.QueryRow(ctx, `
		SELECT `+contestColumns+` FROM contest_instances WHERE id = $1
	`, id))
}

func (r *Repository) List(ctx context.Context) ([]*models.ContestInstance, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+contestColumns+` FROM contest_instances ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.ContestInstance
	for rows.Next() {
		c, err := scanContest(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

// listIDsByStatus snapshots the ids currently in the given status. The
// reconciler takes the snapshot per phase before applying any transition so
// one pass moves each contest at most one step.
func (r *Repository) listIDsByStatus(ctx context.Context, status string) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM contest_instances WHERE status = $1 ORDER BY created_at
	`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// getForUpdate locks the contest row. Call within a transaction.
func (r *Repository) getForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.ContestInstance, error) {
	return scanContest(tx.QueryRow(ctx, `
		SELECT `+contestColumns+` FROM contest_instances WHERE id = $1 FOR UPDATE
	`, id))
}

// updateStatus is the single status-writing statement in the codebase. The
// WHERE clause makes the write conditional on the expected current status;
// zero rows affected means another writer won the race.
func (r *Repository) updateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, from, to string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE contest_instances SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// insertTransition appends the audit row for one successful transition.
func (r *Repository) insertTransition(ctx context.Context, tx pgx.Tx, t *models.StateTransition) error {
	return tx.QueryRow(ctx, `
		INSERT INTO contest_state_transitions (id, contest_id, from_status, to_status, actor)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING transitioned_at
	`, t.ID, t.ContestID, t.FromStatus, t.ToStatus, t.Actor).Scan(&t.TransitionedAt)
}

func (r *Repository) ListTransitions(ctx context.Context, contestID uuid.UUID) ([]*models.StateTransition, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, contest_id, from_status, to_status, actor, transitioned_at
		FROM contest_state_transitions WHERE contest_id = $1 ORDER BY transitioned_at
	`, contestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.StateTransition
	for rows.Next() {
		var t models.StateTransition
		if err := rows.Scan(&t.ID, &t.ContestID, &t.FromStatus, &t.ToStatus, &t.Actor, &t.TransitionedAt); err != nil {
			return nil, err
		}
		list = append(list, &t)
	}
	return list, rows.Err()
}

func (r *Repository) ListRankedEntries(ctx context.Context, contestID uuid.UUID) ([]models.RankedEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT contest_id, user_id, rank, score
		FROM ranked_entries WHERE contest_id = $1 ORDER BY rank, user_id
	`, contestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.RankedEntry
	for rows.Next() {
		var e models.RankedEntry
		if err := rows.Scan(&e.ContestID, &e.UserID, &e.Rank, &e.Score); err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}
