package scheduler

import (
	"strings"
	"time"

	"github.com/smallbiznis/tixgate/internal/config"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	Enabled      bool
	RunInterval  time.Duration
	BatchSize    int
	PushInterval time.Duration
	JobTimeout   time.Duration
	EnabledJobs  []string
}

func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		RunInterval:  time.Minute,
		BatchSize:    100,
		PushInterval: time.Minute,
		JobTimeout:   30 * time.Second,
	}
}

func ProvideConfig(cfg config.Config) Config {
	out := Config{
		Enabled:      cfg.Scheduler.Enabled,
		RunInterval:  cfg.Scheduler.RunInterval,
		BatchSize:    cfg.Scheduler.BatchSize,
		PushInterval: cfg.SLO.PushInterval,
	}
	for _, job := range strings.Split(cfg.Scheduler.Jobs, ",") {
		if job = strings.TrimSpace(job); job != "" {
			out.EnabledJobs = append(out.EnabledJobs, job)
		}
	}
	return out.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.PushInterval <= 0 {
		c.PushInterval = defaults.PushInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}
