package delivery

import (
	"time"

	"github.com/smallbiznis/tixgate/internal/config"
)

// Config controls the delivery worker loop.
type Config struct {
	Enabled           bool
	BatchSize         int
	Concurrency       int
	PollInterval      time.Duration
	ExecTimeout       time.Duration
	RunTimeout        time.Duration
	CompletionTimeout time.Duration
	// LeaseTimeout must match the outbox claim lease.
	LeaseTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		BatchSize:         50,
		Concurrency:       8,
		PollInterval:      time.Second,
		ExecTimeout:       30 * time.Second,
		RunTimeout:        90 * time.Second,
		CompletionTimeout: 5 * time.Second,
		LeaseTimeout:      2 * time.Minute,
	}
}

func ConfigFromApp(cfg config.Config) Config {
	c := DefaultConfig()
	c.Enabled = cfg.Outbox.Enabled
	c.BatchSize = cfg.Outbox.BatchSize
	c.PollInterval = cfg.Outbox.PollInterval
	c.ExecTimeout = cfg.Outbox.ExecTimeout
	c.LeaseTimeout = cfg.Outbox.LeaseTimeout
	return c
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaults.Concurrency
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaults.PollInterval
	}
	if c.ExecTimeout <= 0 {
		c.ExecTimeout = defaults.ExecTimeout
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = defaults.RunTimeout
	}
	if c.CompletionTimeout <= 0 {
		c.CompletionTimeout = defaults.CompletionTimeout
	}
	if c.LeaseTimeout <= 0 {
		c.LeaseTimeout = defaults.LeaseTimeout
	}
	return c
}

// fitLease shrinks the timeouts so a run and its completion writes end before the
// claim lease does. A row whose lease lapses mid-execution can be reclaimed by
// another worker.
func (c Config) fitLease() (Config, bool) {
	adjusted := false
	if c.CompletionTimeout > c.LeaseTimeout/4 {
		c.CompletionTimeout = c.LeaseTimeout / 4
		adjusted = true
	}
	if limit := c.LeaseTimeout - 2*c.CompletionTimeout; c.RunTimeout > limit {
		c.RunTimeout = limit
		adjusted = true
	}
	if c.ExecTimeout > c.RunTimeout {
		c.ExecTimeout = c.RunTimeout
		adjusted = true
	}
	return c, adjusted
}
