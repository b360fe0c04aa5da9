package guard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEnsureIntervalElapsed(t *testing.T) {
	now := time.Date(2026, 7, 4, 12, 0, 0, 0, time.UTC)

	assert.NoError(t, EnsureIntervalElapsed(time.Time{}, now, time.Minute))
	assert.ErrorIs(t, EnsureIntervalElapsed(now.Add(-30*time.Second), now, time.Minute), ErrNotDue)
	assert.NoError(t, EnsureIntervalElapsed(now.Add(-time.Minute), now, time.Minute))
	assert.ErrorIs(t, EnsureIntervalElapsed(now, now, -time.Second), ErrInvalidInterval)
}
