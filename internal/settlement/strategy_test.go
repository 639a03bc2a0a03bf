package settlement

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/playoffchallenge/backend/internal/models"
)

func mustStrategy(t *testing.T, structure string) Strategy {
	t.Helper()
	s, err := StrategyFromStructure(json.RawMessage(structure))
	if err != nil {
		t.Fatalf("StrategyFromStructure(%s): %v", structure, err)
	}
	return s
}

func ranked(entries ...models.RankedEntry) []models.RankedEntry { return entries }

func entry(rank int) models.RankedEntry {
	return models.RankedEntry{UserID: uuid.New(), Rank: rank}
}

func sumCents(payouts []Payout) int64 {
	var total int64
	for _, p := range payouts {
		total += p.AmountCents
	}
	return total
}

func TestStrategyFromStructure_UnknownFails(t *testing.T) {
	_, err := StrategyFromStructure(json.RawMessage(`{"strategy":"house_always_wins"}`))
	if !errors.Is(err, ErrUnknownStrategy) {
		t.Fatalf("expected ErrUnknownStrategy, got %v", err)
	}
}

func TestStrategyFromStructure_BadPercentages(t *testing.T) {
	cases := []string{
		`{"strategy":"top_n_split","percentages":["50","30","30"]}`, // sums to 110
		`{"strategy":"top_n_split","percentages":["100","-0"]}`,
		`{"strategy":"top_n_split"}`, // neither percentages nor positions
		`{"strategy":"top_n_split","positions":0}`,
	}
	for _, structure := range cases {
		if _, err := StrategyFromStructure(json.RawMessage(structure)); err == nil {
			t.Errorf("%s: expected error", structure)
		}
	}
}

func TestWinnerTakeAll(t *testing.T) {
	s := mustStrategy(t, `{"strategy":"winner_take_all"}`)
	winner := entry(1)
	payouts, err := s.Allocate(10000, ranked(winner, entry(2), entry(3)))
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if len(payouts) != 1 {
		t.Fatalf("payouts: got %d, want 1", len(payouts))
	}
	if payouts[0].UserID != winner.UserID || payouts[0].AmountCents != 10000 {
		t.Errorf("unexpected payout: %+v", payouts[0])
	}
}

func TestWinnerTakeAll_TieSplitsPool(t *testing.T) {
	s := mustStrategy(t, `{"strategy":"winner_take_all"}`)
	a, b := entry(1), entry(1)
	payouts, err := s.Allocate(10001, ranked(a, b, entry(3)))
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if len(payouts) != 2 {
		t.Fatalf("payouts: got %d, want 2", len(payouts))
	}
	if got := sumCents(payouts); got != 10001 {
		t.Errorf("total disbursed: got %d, want 10001", got)
	}
	// The odd cent goes to exactly one of the pair.
	if diff := payouts[0].AmountCents - payouts[1].AmountCents; diff != 1 && diff != -1 {
		t.Errorf("split %d/%d, want a one-cent difference", payouts[0].AmountCents, payouts[1].AmountCents)
	}
}

func TestWinnerTakeAll_NoRankOneMeansNoPayouts(t *testing.T) {
	s := mustStrategy(t, `{"strategy":"winner_take_all"}`)
	payouts, err := s.Allocate(10000, ranked(entry(2), entry(3)))
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if len(payouts) != 0 {
		t.Errorf("got %d payouts, want none when rank 1 is absent", len(payouts))
	}
}

func TestWinnerTakeAll_NoEntries(t *testing.T) {
	s := mustStrategy(t, `{"strategy":"winner_take_all"}`)
	if _, err := s.Allocate(10000, nil); !errors.Is(err, ErrNoEntries) {
		t.Fatalf("expected ErrNoEntries, got %v", err)
	}
}

func TestTopNSplit_TiedRanksShareCombinedBucket(t *testing.T) {
	s := mustStrategy(t, `{"strategy":"top_n_split","percentages":["50","30","20"]}`)
	a, b, c := entry(1), entry(1), entry(3)
	payouts, err := s.Allocate(10000, ranked(a, b, c))
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	byUser := make(map[uuid.UUID]int64, len(payouts))
	for _, p := range payouts {
		byUser[p.UserID] = p.AmountCents
	}
	// The tied pair shares 50%+30% equally; third place keeps 20%.
	if byUser[a.UserID] != 4000 || byUser[b.UserID] != 4000 {
		t.Errorf("tied winners got %d and %d, want 4000 each", byUser[a.UserID], byUser[b.UserID])
	}
	if byUser[c.UserID] != 2000 {
		t.Errorf("third place got %d, want 2000", byUser[c.UserID])
	}
}

func TestTopNSplit_ShortFieldRenormalizes(t *testing.T) {
	s := mustStrategy(t, `{"strategy":"top_n_split","percentages":["50","30","20"]}`)
	a, b := entry(1), entry(2)
	payouts, err := s.Allocate(10000, ranked(a, b))
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if got := sumCents(payouts); got != 10000 {
		t.Fatalf("total disbursed: got %d, want 10000 (short field must renormalize)", got)
	}
	byUser := make(map[uuid.UUID]int64, len(payouts))
	for _, p := range payouts {
		byUser[p.UserID] = p.AmountCents
	}
	// 50/80 and 30/80 of the pool.
	if byUser[a.UserID] != 6250 || byUser[b.UserID] != 3750 {
		t.Errorf("got %d/%d, want 6250/3750", byUser[a.UserID], byUser[b.UserID])
	}
}

func TestTopNSplit_OddPoolDisbursesExactly(t *testing.T) {
	s := mustStrategy(t, `{"strategy":"top_n_split","percentages":["50","30","20"]}`)
	pools := []int64{1, 3, 99, 10001, 33333}
	for _, pool := range pools {
		payouts, err := s.Allocate(pool, ranked(entry(1), entry(2), entry(3)))
		if err != nil {
			t.Fatalf("Allocate(%d): %v", pool, err)
		}
		if got := sumCents(payouts); got != pool {
			t.Errorf("pool %d: disbursed %d", pool, got)
		}
		for _, p := range payouts {
			if p.AmountCents < 0 {
				t.Errorf("pool %d: negative payout %+v", pool, p)
			}
		}
	}
}

func TestTopNSplit_EqualPositions(t *testing.T) {
	s := mustStrategy(t, `{"strategy":"top_n_split","positions":3}`)
	payouts, err := s.Allocate(10000, ranked(entry(1), entry(2), entry(3), entry(4)))
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if len(payouts) != 3 {
		t.Fatalf("payouts: got %d, want 3 (fourth place unpaid)", len(payouts))
	}
	if got := sumCents(payouts); got != 10000 {
		t.Errorf("total disbursed: got %d, want 10000", got)
	}
}

func TestAllocate_Deterministic(t *testing.T) {
	s := mustStrategy(t, `{"strategy":"top_n_split","percentages":["50","30","20"]}`)
	entries := ranked(entry(1), entry(1), entry(3))
	first, err := s.Allocate(10001, entries)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := s.Allocate(10001, entries)
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		for j := range first {
			if again[j] != first[j] {
				t.Fatalf("run %d diverged: %+v vs %+v", i, again[j], first[j])
			}
		}
	}
}
