package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/playoffchallenge/backend/internal/models"
)

// ErrMissingTimestamp is returned when the contest lacks the timestamp that
// gates its current phase. The contest is misconfigured and must surface,
// not silently freeze.
var ErrMissingTimestamp = errors.New("missing timestamp for current phase")

// ErrUnknownStatus is returned for a status outside the lifecycle enum.
var ErrUnknownStatus = errors.New("unknown contest status")

// Next computes the contest's next status. now is injected by the caller;
// this function never reads the wall clock. Terminal statuses return
// ok=false with no error. A missing gate timestamp or unknown status is an
// error rather than a no-op.
func Next(status string, lockTime, startTime, endTime *time.Time, now time.Time) (next string, ok bool, err error) {
	switch status {
	case models.ContestStatusScheduled:
		if lockTime == nil {
			return "", false, fmt.Errorf("%w: lock_time (status %s)", ErrMissingTimestamp, status)
		}
		if !now.Before(*lockTime) {
			return models.ContestStatusLocked, true, nil
		}
		return "", false, nil

	case models.ContestStatusLocked:
		if startTime == nil {
			return "", false, fmt.Errorf("%w: tournament_start_time (status %s)", ErrMissingTimestamp, status)
		}
		if !now.Before(*startTime) {
			return models.ContestStatusLive, true, nil
		}
		return "", false, nil

	case models.ContestStatusLive:
		if endTime == nil {
			return "", false, fmt.Errorf("%w: tournament_end_time (status %s)", ErrMissingTimestamp, status)
		}
		if !now.Before(*endTime) {
			// COMPLETE means eligible for settlement, not settled.
			return models.ContestStatusComplete, true, nil
		}
		return "", false, nil

	case models.ContestStatusComplete, models.ContestStatusCancelled, models.ContestStatusError:
		return "", false, nil

	default:
		return "", false, fmt.Errorf("%w: %q", ErrUnknownStatus, status)
	}
}
