package scheduler

import (
	"time"

	"github.com/smallbiznis/phage/internal/config"
)

// Config controls the poller interval, batch sizes and the submission pool.
type Config struct {
	Enabled       bool
	RunInterval   time.Duration
	BatchSize     int
	Workers       int
	QueueSize     int
	JobTimeout    time.Duration
	SubmitTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		RunInterval:   time.Minute,
		BatchSize:     25,
		Workers:       4,
		QueueSize:     100,
		JobTimeout:    5 * time.Minute,
		SubmitTimeout: 3 * time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		Enabled:     cfg.Scheduler.Enabled,
		RunInterval: cfg.Scheduler.PollInterval,
		BatchSize:   cfg.Scheduler.BatchSize,
		Workers:     cfg.Scheduler.Workers,
		QueueSize:   cfg.Scheduler.QueueSize,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.Workers <= 0 {
		c.Workers = defaults.Workers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaults.QueueSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = defaults.SubmitTimeout
	}
	return c
}
