package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/playoffchallenge/backend/internal/models"
)

type Service interface {
	Append(ctx context.Context, tx pgx.Tx, entry *models.LedgerEntry) (uuid.UUID, error)
	ListByContest(ctx context.Context, contestID uuid.UUID) ([]*models.LedgerEntry, error)
	ListByReference(ctx context.Context, referenceID uuid.UUID) ([]*models.LedgerEntry, error)
	ContestBalance(ctx context.Context, contestID uuid.UUID) (int64, error)
}

type service struct {
	repo *Repository
}

func NewService(repo *Repository) Service {
	return &service{repo: repo}
}

var _ Service = (*service)(nil)

func (s *service) Append(ctx context.Context, tx pgx.Tx, entry *models.LedgerEntry) (uuid.UUID, error) {
	return s.repo.Append(ctx, tx, entry)
}

func (s *service) ListByContest(ctx context.Context, contestID uuid.UUID) ([]*models.LedgerEntry, error) {
	return s.repo.ListByContest(ctx, contestID)
}

func (s *service) ListByReference(ctx context.Context, referenceID uuid.UUID) ([]*models.LedgerEntry, error) {
	return s.repo.ListByReference(ctx, referenceID)
}

func (s *service) ContestBalance(ctx context.Context, contestID uuid.UUID) (int64, error) {
	return s.repo.ContestBalance(ctx, contestID)
}

// ErrDuplicateEntry is returned when an idempotency key has already been used.
var ErrDuplicateEntry = errDuplicateEntry
