package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Contest lifecycle statuses. Status is owned exclusively by the lifecycle
// reconciler; nothing else writes it.
const (
	ContestStatusScheduled = "SCHEDULED"
	ContestStatusLocked    = "LOCKED"
	ContestStatusLive      = "LIVE"
	ContestStatusComplete  = "COMPLETE"
	ContestStatusCancelled = "CANCELLED"
	ContestStatusError     = "ERROR"
)

type ContestInstance struct {
	ID                  uuid.UUID       `json:"id"`
	Name                string          `json:"name"`
	Status              string          `json:"status"`
	LockTime            *time.Time      `json:"lock_time,omitempty"`
	TournamentStartTime *time.Time      `json:"tournament_start_time,omitempty"`
	TournamentEndTime   *time.Time      `json:"tournament_end_time,omitempty"`
	PayoutStructure     json.RawMessage `json:"payout_structure"`
	PrizePoolCents      int64           `json:"prize_pool_cents"`
	EntryFeeCents       int64           `json:"entry_fee_cents"`
	Currency            string          `json:"currency"`
	MaxEntries          *int            `json:"max_entries,omitempty"` // nil = unlimited
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// Terminal reports whether the contest can never transition again.
func (c *ContestInstance) Terminal() bool {
	switch c.Status {
	case ContestStatusComplete, ContestStatusCancelled, ContestStatusError:
		return true
	}
	return false
}

// StateTransition is the immutable audit row written once per successful
// status change.
type StateTransition struct {
	ID             uuid.UUID `json:"id"`
	ContestID      uuid.UUID `json:"contest_id"`
	FromStatus     string    `json:"from_status"`
	ToStatus       string    `json:"to_status"`
	Actor          string    `json:"actor"`
	TransitionedAt time.Time `json:"transitioned_at"`
}

// RankedEntry is a participant's finishing position for a contest, produced
// by the external scoring collaborator and consumed read-only by settlement.
// Entries sharing a rank are tied.
type RankedEntry struct {
	ContestID uuid.UUID `json:"contest_id"`
	UserID    uuid.UUID `json:"user_id"`
	Rank      int       `json:"rank"`
	Score     float64   `json:"score"`
}
