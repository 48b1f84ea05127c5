package scheduler

import (
	"os"
	"strings"
	"time"
)

// Config controls scheduler intervals, batch sizes, and the reconciliation
// window.
type Config struct {
	RunInterval     time.Duration
	JobTimeout      time.Duration
	BatchSize       int
	ReconcileWindow time.Duration
	LockTTL         time.Duration
	EnabledJobs     []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:     time.Minute,
		JobTimeout:      30 * time.Second,
		BatchSize:       100,
		ReconcileWindow: 7 * 24 * time.Hour,
		LockTTL:         2 * time.Minute,
	}
}

func ProvideConfig() Config {
	cfg := DefaultConfig()
	if jobs := strings.TrimSpace(os.Getenv("SCHEDULER_ENABLED_JOBS")); jobs != "" {
		cfg.EnabledJobs = strings.Split(jobs, ",")
	}
	if interval, err := time.ParseDuration(os.Getenv("SCHEDULER_RUN_INTERVAL")); err == nil && interval > 0 {
		cfg.RunInterval = interval
	}
	if window, err := time.ParseDuration(os.Getenv("SCHEDULER_RECONCILE_WINDOW")); err == nil && window > 0 {
		cfg.ReconcileWindow = window
	}
	return cfg
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.ReconcileWindow <= 0 {
		c.ReconcileWindow = defaults.ReconcileWindow
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	return c
}
