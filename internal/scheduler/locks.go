package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/smallbiznis/tixgate/internal/clock"
	"github.com/smallbiznis/tixgate/internal/scheduler/guard"
)

const lockPrefix = "tixgate:scheduler:"

func lockKey(job string) string {
	return lockPrefix + job
}

// jobLocks gates interval jobs. With a shared locker the gate spans every
// replica; without one it only spans this process.
type jobLocks struct {
	locker jobLocker
	clock  clock.Clock

	mu   sync.Mutex
	last map[string]time.Time
}

func newJobLocks(locker jobLocker, clk clock.Clock) *jobLocks {
	return &jobLocks{
		locker: locker,
		clock:  clk,
		last:   make(map[string]time.Time),
	}
}

// acquireInterval takes the gate for key and holds it for interval. The lease
// is never released early, so its TTL is the minimum spacing between runs.
func (l *jobLocks) acquireInterval(ctx context.Context, key string, interval time.Duration) (bool, error) {
	if interval <= 0 {
		return true, nil
	}
	if l.locker != nil {
		return l.locker.AcquireInterval(ctx, key, interval)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	if err := guard.EnsureIntervalElapsed(l.last[key], now, interval); err != nil {
		if errors.Is(err, guard.ErrNotDue) {
			return false, nil
		}
		return false, err
	}
	l.last[key] = now
	return true, nil
}

const localHolder = "local"

// holder reports who holds the gate for key and how long until it frees up.
// Lookup errors are reported as an unknown holder.
func (l *jobLocks) holder(ctx context.Context, key string, interval time.Duration) (string, time.Duration) {
	if l.locker != nil {
		holder, remaining, err := l.locker.Holder(ctx, key)
		if err != nil {
			return "unknown", 0
		}
		return holder, remaining
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	last, ok := l.last[key]
	if !ok {
		return "", 0
	}
	remaining := interval - l.clock.Now().Sub(last)
	if remaining < 0 {
		remaining = 0
	}
	return localHolder, remaining
}
