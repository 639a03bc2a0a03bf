package settlement

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/playoffchallenge/backend/internal/models"
)

// Strategy names accepted in a contest's payout structure. Dispatch is a
// closed switch; adding a strategy means touching StrategyFromStructure.
const (
	StrategyWinnerTakeAll = "winner_take_all"
	StrategyTopNSplit     = "top_n_split"
)

var (
	ErrUnknownStrategy    = errors.New("unknown settlement strategy")
	ErrInvalidPercentages = errors.New("payout percentages must be positive and sum to 100")
	ErrNoEntries          = errors.New("no ranked entries to pay out")
)

// Payout is one participant's slice of the prize pool, in whole cents.
type Payout struct {
	UserID      uuid.UUID
	Rank        int
	AmountCents int64
}

// Strategy turns a final ranking into payouts. Implementations must be pure:
// same pool and entries in, same payouts out.
type Strategy interface {
	Name() string
	Allocate(poolCents int64, entries []models.RankedEntry) ([]Payout, error)
}

type payoutStructure struct {
	Strategy    string   `json:"strategy"`
	Percentages []string `json:"percentages,omitempty"`
	Positions   int      `json:"positions,omitempty"`
}

// StrategyFromStructure parses a contest's payout_structure JSON and returns
// the matching strategy. Unrecognized names fail rather than fall back, so a
// misconfigured contest surfaces as an error instead of a silent payout.
func StrategyFromStructure(raw json.RawMessage) (Strategy, error) {
	var ps payoutStructure
	if err := json.Unmarshal(raw, &ps); err != nil {
		return nil, fmt.Errorf("parse payout structure: %w", err)
	}
	switch ps.Strategy {
	case StrategyWinnerTakeAll:
		return winnerTakeAll{}, nil
	case StrategyTopNSplit:
		weights, err := topNWeights(ps)
		if err != nil {
			return nil, err
		}
		return positionalStrategy{name: StrategyTopNSplit, weights: weights}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, ps.Strategy)
	}
}

func topNWeights(ps payoutStructure) ([]decimal.Decimal, error) {
	if len(ps.Percentages) > 0 {
		weights := make([]decimal.Decimal, len(ps.Percentages))
		sum := decimal.Zero
		for i, p := range ps.Percentages {
			d, err := decimal.NewFromString(p)
			if err != nil {
				return nil, fmt.Errorf("parse percentage %q: %w", p, err)
			}
			if !d.IsPositive() {
				return nil, ErrInvalidPercentages
			}
			weights[i] = d
			sum = sum.Add(d)
		}
		if !sum.Equal(decimal.NewFromInt(100)) {
			return nil, ErrInvalidPercentages
		}
		return weights, nil
	}
	if ps.Positions <= 0 {
		return nil, ErrInvalidPercentages
	}
	// Equal split across N positions; division stays exact in decimal space
	// and the cent allocator absorbs any residue.
	share := decimal.NewFromInt(100).DivRound(decimal.NewFromInt(int64(ps.Positions)), 12)
	weights := make([]decimal.Decimal, ps.Positions)
	for i := range weights {
		weights[i] = share
	}
	return weights, nil
}

// winnerTakeAll pays every rank-1 entry an equal share of the pool. A field
// with no rank-1 entry yields no payouts; that is the scoring collaborator's
// problem to surface, not a winner to invent.
type winnerTakeAll struct{}

func (winnerTakeAll) Name() string { return StrategyWinnerTakeAll }

func (winnerTakeAll) Allocate(poolCents int64, entries []models.RankedEntry) ([]Payout, error) {
	if len(entries) == 0 {
		return nil, ErrNoEntries
	}
	var winners []models.RankedEntry
	for _, e := range entries {
		if e.Rank == 1 {
			winners = append(winners, e)
		}
	}
	if len(winners) == 0 {
		return []Payout{}, nil
	}
	weights := make([]decimal.Decimal, len(winners))
	for i := range weights {
		weights[i] = decimal.NewFromInt(1)
	}
	return allocate(poolCents, winners, weights), nil
}

// positionalStrategy pays the top positions of the ranking by percentage
// weight. Participants tied at a rank share the combined weight of the
// positions their group occupies; a field shorter than the weight table
// renormalizes so the whole pool is still disbursed.
type positionalStrategy struct {
	name    string
	weights []decimal.Decimal
}

func (s positionalStrategy) Name() string { return s.name }

func (s positionalStrategy) Allocate(poolCents int64, entries []models.RankedEntry) ([]Payout, error) {
	if len(entries) == 0 {
		return nil, ErrNoEntries
	}
	ranked := make([]models.RankedEntry, len(entries))
	copy(ranked, entries)
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Rank != ranked[j].Rank {
			return ranked[i].Rank < ranked[j].Rank
		}
		return ranked[i].UserID.String() < ranked[j].UserID.String()
	})

	// Each participant's weight: walk rank groups in order, a group of size k
	// starting at position p shares weights[p..p+k).
	weights := make([]decimal.Decimal, 0, len(ranked))
	recipients := make([]models.RankedEntry, 0, len(ranked))
	pos := 0
	for i := 0; i < len(ranked) && pos < len(s.weights); {
		j := i
		for j < len(ranked) && ranked[j].Rank == ranked[i].Rank {
			j++
		}
		groupSize := j - i
		groupWeight := decimal.Zero
		for k := pos; k < pos+groupSize && k < len(s.weights); k++ {
			groupWeight = groupWeight.Add(s.weights[k])
		}
		each := groupWeight.DivRound(decimal.NewFromInt(int64(groupSize)), 12)
		for k := i; k < j; k++ {
			recipients = append(recipients, ranked[k])
			weights = append(weights, each)
		}
		pos += groupSize
		i = j
	}
	if len(recipients) == 0 {
		return nil, ErrNoEntries
	}
	return allocate(poolCents, recipients, weights), nil
}

// allocate splits poolCents across recipients in proportion to weights using
// largest-remainder rounding, so payouts sum to the pool exactly. Weights are
// renormalized over their own total, which handles short fields. Leftover
// cents go to the largest fractional remainders, ties broken by user id.
func allocate(poolCents int64, recipients []models.RankedEntry, weights []decimal.Decimal) []Payout {
	total := decimal.Zero
	for _, w := range weights {
		total = total.Add(w)
	}
	pool := decimal.NewFromInt(poolCents)

	payouts := make([]Payout, len(recipients))
	remainders := make([]decimal.Decimal, len(recipients))
	var assigned int64
	for i, e := range recipients {
		exact := pool.Mul(weights[i]).Div(total)
		floor := exact.Floor()
		payouts[i] = Payout{UserID: e.UserID, Rank: e.Rank, AmountCents: floor.IntPart()}
		remainders[i] = exact.Sub(floor)
		assigned += floor.IntPart()
	}

	leftover := poolCents - assigned
	order := make([]int, len(recipients))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		ra, rb := remainders[order[a]], remainders[order[b]]
		if !ra.Equal(rb) {
			return ra.GreaterThan(rb)
		}
		return recipients[order[a]].UserID.String() < recipients[order[b]].UserID.String()
	})
	for i := int64(0); i < leftover; i++ {
		payouts[order[i%int64(len(order))]].AmountCents++
	}
	return payouts
}
