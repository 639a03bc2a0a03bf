package payments

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/playoffchallenge/backend/internal/models"
)

var errKeyConflict = errors.New("payment intent with this idempotency key already exists")

const intentColumns = `id, idempotency_key, contest_id, user_id, amount_cents, currency, status, processor_ref, client_secret, created_at, updated_at`

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// getByIdempotencyKey is the lock-free fast path.
func (r *Repository) getByIdempotencyKey(ctx context.Context, key string) (*models.PaymentIntent, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE idempotency_key = $1`, key)
	return scanIntent(row)
}

func (r *Repository) getByID(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE id = $1`, id)
	return scanIntent(row)
}

// insertIntent claims the idempotency key. The UNIQUE index surfaces a
// concurrent claim as errKeyConflict once the competing transaction commits.
func (r *Repository) insertIntent(ctx context.Context, tx pgx.Tx, intent *models.PaymentIntent) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO payment_intents (id, idempotency_key, contest_id, user_id, amount_cents, currency, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, intent.ID, intent.IdempotencyKey, intent.ContestID, intent.UserID,
		intent.AmountCents, intent.Currency, intent.Status)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return errKeyConflict
		}
		return err
	}
	return nil
}

func (r *Repository) setProcessorResult(ctx context.Context, tx pgx.Tx, id uuid.UUID, processorRef, clientSecret, status string) error {
	_, err := tx.Exec(ctx, `
		UPDATE payment_intents SET processor_ref = $2, client_secret = $3, status = $4, updated_at = now()
		WHERE id = $1
	`, id, processorRef, clientSecret, status)
	return err
}

// updateStatusByRef moves the intent identified by the processor's reference
// to a new status. Zero rows means either an unknown ref or the status was
// already current; both are no-ops for the webhook path.
func (r *Repository) updateStatusByRef(ctx context.Context, tx pgx.Tx, processorRef, status string) (*models.PaymentIntent, bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE payment_intents SET status = $2, updated_at = now()
		WHERE processor_ref = $1 AND status <> $2
	`, processorRef, status)
	if err != nil {
		return nil, false, err
	}
	row := tx.QueryRow(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE processor_ref = $1`, processorRef)
	intent, err := scanIntent(row)
	if err != nil {
		return nil, false, err
	}
	return intent, tag.RowsAffected() > 0, nil
}

// insertEvent records one webhook delivery. ON CONFLICT DO NOTHING absorbs
// replays; the bool reports whether this delivery was the first.
func (r *Repository) insertEvent(ctx context.Context, tx pgx.Tx, event *models.ProcessorEvent) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO processor_events (id, external_event_id, event_type, raw_payload, processing_status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (external_event_id) DO NOTHING
	`, event.ID, event.ExternalEventID, event.EventType, event.RawPayload, event.ProcessingStatus)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Repository) setEventStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string) error {
	_, err := tx.Exec(ctx, `UPDATE processor_events SET processing_status = $2 WHERE id = $1`, id, status)
	return err
}

func scanIntent(row pgx.Row) (*models.PaymentIntent, error) {
	var in models.PaymentIntent
	err := row.Scan(&in.ID, &in.IdempotencyKey, &in.ContestID, &in.UserID, &in.AmountCents,
		&in.Currency, &in.Status, &in.ProcessorRef, &in.ClientSecret, &in.CreatedAt, &in.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &in, nil
}
