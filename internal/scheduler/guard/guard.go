package guard

import (
	"errors"
	"time"
)

var (
	ErrNotDue          = errors.New("job_not_due")
	ErrInvalidInterval = errors.New("invalid_job_interval")
)

// EnsureIntervalElapsed allows a run when the previous one is at least
// interval in the past. A zero last means the job never ran.
func EnsureIntervalElapsed(last time.Time, now time.Time, interval time.Duration) error {
	if interval < 0 {
		return ErrInvalidInterval
	}
	if last.IsZero() {
		return nil
	}
	if now.Sub(last) < interval {
		return ErrNotDue
	}
	return nil
}
