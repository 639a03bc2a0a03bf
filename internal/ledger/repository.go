package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/playoffchallenge/backend/internal/models"
)

var errDuplicateEntry = errors.New("ledger entry with this idempotency key already exists")

const entryColumns = `id, contest_id, user_id, entry_type, direction, amount_cents, currency, idempotency_key, reference_id, created_at`

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Append inserts one entry inside the caller's transaction. The table is
// insert-only; a unique index on idempotency_key turns a replay into
// errDuplicateEntry instead of a second row.
func (r *Repository) Append(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) (uuid.UUID, error) {
	var id uuid.UUID
	row := tx.QueryRow(ctx, `
		INSERT INTO ledger_entries (contest_id, user_id, entry_type, direction, amount_cents, currency, idempotency_key, reference_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, e.ContestID, e.UserID, e.EntryType, e.Direction, e.AmountCents, e.Currency, e.IdempotencyKey, e.ReferenceID)
	if err := row.Scan(&id); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return uuid.Nil, errDuplicateEntry
		}
		return uuid.Nil, err
	}
	return id, nil
}

// ListByContest returns every entry for a contest, oldest first.
func (r *Repository) ListByContest(ctx context.Context, contestID uuid.UUID) ([]*models.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+entryColumns+` FROM ledger_entries WHERE contest_id = $1 ORDER BY created_at ASC, id ASC
	`, contestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ListByReference returns entries tied to a payment intent or settlement run.
func (r *Repository) ListByReference(ctx context.Context, referenceID uuid.UUID) ([]*models.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+entryColumns+` FROM ledger_entries WHERE reference_id = $1 ORDER BY created_at ASC, id ASC
	`, referenceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ContestBalance sums credits minus debits for a contest. Because rows are
// append-only this is reproducible at any point in time.
func (r *Repository) ContestBalance(ctx context.Context, contestID uuid.UUID) (int64, error) {
	var balance int64
	row := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(CASE WHEN direction = 'CREDIT' THEN amount_cents ELSE -amount_cents END), 0)
		FROM ledger_entries WHERE contest_id = $1
	`, contestID)
	if err := row.Scan(&balance); err != nil {
		return 0, err
	}
	return balance, nil
}

func scanEntries(rows pgx.Rows) ([]*models.LedgerEntry, error) {
	var entries []*models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		err := rows.Scan(&e.ID, &e.ContestID, &e.UserID, &e.EntryType, &e.Direction,
			&e.AmountCents, &e.Currency, &e.IdempotencyKey, &e.ReferenceID, &e.CreatedAt)
		if err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
