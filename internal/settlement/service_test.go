package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/playoffchallenge/backend/internal/models"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type noopTx struct{}

func (noopTx) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }
func (noopTx) Commit(context.Context) error          { return nil }
func (noopTx) Rollback(context.Context) error        { return nil }
func (noopTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (noopTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (noopTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (noopTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (noopTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (noopTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (noopTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (noopTx) Conn() *pgx.Conn { return nil }

type mockStore struct {
	contest      *models.ContestInstance
	run          *models.SettlementRun
	entries      []models.RankedEntry
	insertFails  bool
	fastPathMiss bool // first lookup misses, as when a racer has not committed yet

	runLookups   int
	runCompleted bool
}

func (m *mockStore) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }

func (m *mockStore) getRunByContest(_ context.Context, contestID uuid.UUID) (*models.SettlementRun, error) {
	m.runLookups++
	if m.fastPathMiss && m.runLookups == 1 {
		return nil, pgx.ErrNoRows
	}
	if m.run == nil || m.run.ContestID != contestID {
		return nil, pgx.ErrNoRows
	}
	return m.run, nil
}

func (m *mockStore) insertRun(_ context.Context, _ pgx.Tx, contestID uuid.UUID, strategy string, prizePoolCents int64) (uuid.UUID, error) {
	if m.insertFails {
		return uuid.Nil, errRunExists
	}
	id := uuid.New()
	m.run = &models.SettlementRun{
		ID:             id,
		ContestID:      contestID,
		Strategy:       strategy,
		PrizePoolCents: prizePoolCents,
		Status:         models.SettlementRunPending,
	}
	return id, nil
}

func (m *mockStore) completeRun(context.Context, pgx.Tx, uuid.UUID) error {
	m.run.Status = models.SettlementRunCompleted
	m.runCompleted = true
	return nil
}

func (m *mockStore) getContestForUpdate(_ context.Context, _ pgx.Tx, contestID uuid.UUID) (*models.ContestInstance, error) {
	if m.contest == nil || m.contest.ID != contestID {
		return nil, pgx.ErrNoRows
	}
	return m.contest, nil
}

func (m *mockStore) listRankedEntries(context.Context, pgx.Tx, uuid.UUID) ([]models.RankedEntry, error) {
	return m.entries, nil
}

type mockLedger struct {
	appended []*models.LedgerEntry
	recorded []*models.LedgerEntry
}

func (m *mockLedger) Append(_ context.Context, _ pgx.Tx, entry *models.LedgerEntry) (uuid.UUID, error) {
	for _, prior := range m.appended {
		if prior.IdempotencyKey != nil && entry.IdempotencyKey != nil && *prior.IdempotencyKey == *entry.IdempotencyKey {
			return uuid.Nil, errors.New("ledger entry with this idempotency key already exists")
		}
	}
	e := *entry
	e.ID = uuid.New()
	m.appended = append(m.appended, &e)
	return e.ID, nil
}

func (m *mockLedger) ListByContest(context.Context, uuid.UUID) ([]*models.LedgerEntry, error) {
	return nil, nil
}

func (m *mockLedger) ListByReference(_ context.Context, referenceID uuid.UUID) ([]*models.LedgerEntry, error) {
	var out []*models.LedgerEntry
	for _, e := range m.recorded {
		if e.ReferenceID != nil && *e.ReferenceID == referenceID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockLedger) ContestBalance(context.Context, uuid.UUID) (int64, error) { return 0, nil }

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

func completeContest(poolCents int64, structure string) *models.ContestInstance {
	return &models.ContestInstance{
		ID:              uuid.New(),
		Name:            "sunday major",
		Status:          models.ContestStatusComplete,
		PayoutStructure: json.RawMessage(structure),
		PrizePoolCents:  poolCents,
		Currency:        "USD",
	}
}

func newTestService(repo store, lg *mockLedger) *service {
	return &service{repo: repo, ledger: lg, logger: slog.New(slog.DiscardHandler)}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestSettleContest_PaysOutAndCompletesRun(t *testing.T) {
	c := completeContest(10000, `{"strategy":"top_n_split","percentages":["50","30","20"]}`)
	a, b, cc := uuid.New(), uuid.New(), uuid.New()
	repo := &mockStore{
		contest: c,
		entries: []models.RankedEntry{
			{ContestID: c.ID, UserID: a, Rank: 1},
			{ContestID: c.ID, UserID: b, Rank: 2},
			{ContestID: c.ID, UserID: cc, Rank: 3},
		},
	}
	lg := &mockLedger{}
	svc := newTestService(repo, lg)

	res, err := svc.SettleContest(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("SettleContest: %v", err)
	}
	if res.AlreadySettled {
		t.Error("fresh settlement reported as replay")
	}
	if !repo.runCompleted {
		t.Error("run never marked completed")
	}
	if len(lg.appended) != 3 {
		t.Fatalf("ledger entries: got %d, want 3", len(lg.appended))
	}
	var total int64
	for _, e := range lg.appended {
		total += e.AmountCents
		if e.EntryType != models.LedgerEntryPrizePayout || e.Direction != models.LedgerDirectionCredit {
			t.Errorf("entry %+v: wrong type or direction", e)
		}
		wantKey := fmt.Sprintf("settle:%s:%s", c.ID, *e.UserID)
		if e.IdempotencyKey == nil || *e.IdempotencyKey != wantKey {
			t.Errorf("idempotency key: got %v, want %s", e.IdempotencyKey, wantKey)
		}
	}
	if total != 10000 {
		t.Errorf("total credited: got %d, want 10000", total)
	}
}

func TestSettleContest_CompletedRunShortCircuits(t *testing.T) {
	c := completeContest(10000, `{"strategy":"winner_take_all"}`)
	runID := uuid.New()
	winner := uuid.New()
	repo := &mockStore{
		contest: c,
		run: &models.SettlementRun{
			ID:        runID,
			ContestID: c.ID,
			Strategy:  StrategyWinnerTakeAll,
			Status:    models.SettlementRunCompleted,
		},
	}
	lg := &mockLedger{
		recorded: []*models.LedgerEntry{
			{UserID: &winner, AmountCents: 10000, ReferenceID: &runID},
		},
	}
	svc := newTestService(repo, lg)

	res, err := svc.SettleContest(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("SettleContest: %v", err)
	}
	if !res.AlreadySettled {
		t.Error("expected replay of completed run")
	}
	if len(lg.appended) != 0 {
		t.Errorf("replay appended %d ledger entries, want 0", len(lg.appended))
	}
	if len(res.Payouts) != 1 || res.Payouts[0].AmountCents != 10000 {
		t.Errorf("replayed payouts: %+v", res.Payouts)
	}
}

func TestSettleContest_RaceLoserReturnsWinnersRun(t *testing.T) {
	c := completeContest(5000, `{"strategy":"winner_take_all"}`)
	runID := uuid.New()
	// The fast path misses because the winner has not committed yet; by the
	// time insertRun hits the unique index, the winner's run is visible.
	repo := &mockStore{
		contest:      c,
		insertFails:  true,
		fastPathMiss: true,
		run: &models.SettlementRun{
			ID:        runID,
			ContestID: c.ID,
			Strategy:  StrategyWinnerTakeAll,
			Status:    models.SettlementRunCompleted,
		},
		entries: []models.RankedEntry{{ContestID: c.ID, UserID: uuid.New(), Rank: 1}},
	}
	lg := &mockLedger{}
	svc := newTestService(repo, lg)

	res, err := svc.SettleContest(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("SettleContest: %v", err)
	}
	if !res.AlreadySettled || res.Run.ID != runID {
		t.Errorf("expected the winner's run, got %+v", res)
	}
	if len(lg.appended) != 0 {
		t.Errorf("loser appended %d ledger entries, want 0", len(lg.appended))
	}
}

func TestSettleContest_NotEligible(t *testing.T) {
	c := completeContest(5000, `{"strategy":"winner_take_all"}`)
	c.Status = models.ContestStatusLive
	repo := &mockStore{contest: c}
	svc := newTestService(repo, &mockLedger{})

	_, err := svc.SettleContest(context.Background(), c.ID)
	if !errors.Is(err, ErrNotEligible) {
		t.Fatalf("expected ErrNotEligible, got %v", err)
	}
}

func TestSettleContest_NoEntriesAborts(t *testing.T) {
	c := completeContest(5000, `{"strategy":"winner_take_all"}`)
	repo := &mockStore{contest: c}
	lg := &mockLedger{}
	svc := newTestService(repo, lg)

	_, err := svc.SettleContest(context.Background(), c.ID)
	if !errors.Is(err, ErrIncompleteEntries) {
		t.Fatalf("expected ErrIncompleteEntries, got %v", err)
	}
	if len(lg.appended) != 0 || repo.runCompleted {
		t.Error("aborted run must credit nothing and stay incomplete")
	}
}

func TestSettleContest_BadRankAborts(t *testing.T) {
	c := completeContest(5000, `{"strategy":"top_n_split","percentages":["100"]}`)
	repo := &mockStore{
		contest: c,
		entries: []models.RankedEntry{
			{ContestID: c.ID, UserID: uuid.New(), Rank: 1},
			{ContestID: c.ID, UserID: uuid.New(), Rank: 0},
		},
	}
	lg := &mockLedger{}
	svc := newTestService(repo, lg)

	_, err := svc.SettleContest(context.Background(), c.ID)
	if !errors.Is(err, ErrIncompleteEntries) {
		t.Fatalf("expected ErrIncompleteEntries, got %v", err)
	}
	if len(lg.appended) != 0 {
		t.Errorf("aborted run appended %d entries, want 0", len(lg.appended))
	}
}

func TestSettleContest_UnknownStrategyFails(t *testing.T) {
	c := completeContest(5000, `{"strategy":"mystery"}`)
	repo := &mockStore{
		contest: c,
		entries: []models.RankedEntry{{ContestID: c.ID, UserID: uuid.New(), Rank: 1}},
	}
	svc := newTestService(repo, &mockLedger{})

	_, err := svc.SettleContest(context.Background(), c.ID)
	if !errors.Is(err, ErrUnknownStrategy) {
		t.Fatalf("expected ErrUnknownStrategy, got %v", err)
	}
	if !errors.Is(err, ErrBadPayoutStructure) {
		t.Errorf("configuration failures must carry ErrBadPayoutStructure, got %v", err)
	}
}

func TestSettleContest_MissingStructureAborts(t *testing.T) {
	c := completeContest(5000, "")
	c.PayoutStructure = nil
	repo := &mockStore{
		contest: c,
		entries: []models.RankedEntry{{ContestID: c.ID, UserID: uuid.New(), Rank: 1}},
	}
	lg := &mockLedger{}
	svc := newTestService(repo, lg)

	_, err := svc.SettleContest(context.Background(), c.ID)
	if !errors.Is(err, ErrBadPayoutStructure) {
		t.Fatalf("expected ErrBadPayoutStructure, got %v", err)
	}
	if len(lg.appended) != 0 || repo.runCompleted {
		t.Error("aborted run must credit nothing and stay incomplete")
	}
}
