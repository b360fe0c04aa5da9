package domain

import "time"

// BackoffSchedule is the fixed escalation table. Retries past its length reuse the last entry.
var BackoffSchedule = []time.Duration{
	1 * time.Second,
	3 * time.Second,
	7 * time.Second,
	15 * time.Second,
	30 * time.Second,
}

// Backoff returns the delay before the attempt that follows the given retry count.
// retries is the count after the failure was recorded, so the first failure (1) waits 1s.
func Backoff(retries int) time.Duration {
	if len(BackoffSchedule) == 0 {
		return 0
	}
	idx := retries - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(BackoffSchedule) {
		idx = len(BackoffSchedule) - 1
	}
	return BackoffSchedule[idx]
}

// NextAttemptAt is now plus Backoff(retries).
func NextAttemptAt(now time.Time, retries int) time.Time {
	return now.Add(Backoff(retries))
}

// TruncateError trims msg to MaxLastErrorLength bytes without splitting a UTF-8 sequence.
func TruncateError(msg string) string {
	if len(msg) <= MaxLastErrorLength {
		return msg
	}
	cut := MaxLastErrorLength
	for cut > 0 && !isRuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
