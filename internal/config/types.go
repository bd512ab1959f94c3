package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Engine   EngineConfig   `json:"engine"`

	// Sweeper controls the periodic store/timer reconciliation job.
	// If omitted, the sweep runs every five minutes.
	Sweeper *SweeperConfig `json:"sweeper,omitempty"`

	// Notifier controls the async alert delivery pipeline.
	Notifier *NotifierConfig `json:"notifier,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the reminder store backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./remindbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// EngineConfig controls reminder semantics.
//
// Timezone is the IANA zone used for calendar-day listing ("today",
// explicit dates). SnoozeOffset is how far the alert Snooze button pushes
// a reminder; a Go duration string, default "10m".
type EngineConfig struct {
	Timezone     string `json:"timezone,omitempty"`
	SnoozeOffset string `json:"snooze_offset,omitempty"`
}

// SweeperConfig controls the reconciliation job that re-arms timers for
// committed reminders and drops orphans.
//
// Spec is a robfig/cron spec; "@every 5m" when omitted.
type SweeperConfig struct {
	Enabled bool   `json:"enabled"`
	Spec    string `json:"spec,omitempty"`
}

// NotifierConfig controls alert delivery workers.
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 256
//   - rate_per_sec: 25
type NotifierConfig struct {
	Workers    int `json:"workers,omitempty"`
	QueueSize  int `json:"queue_size,omitempty"`
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

// Validate checks the parts of a config that can be judged without side
// effects. The watcher runs it before committing a reload.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("engine.snooze_offset", c.Engine.SnoozeOffset); err != nil {
		return err
	}
	if tz := strings.TrimSpace(c.Engine.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("engine.timezone: %w", err)
		}
	}
	if c.Notifier != nil {
		if c.Notifier.Workers < 0 || c.Notifier.QueueSize < 0 || c.Notifier.RatePerSec < 0 {
			return fmt.Errorf("notifier: workers, queue_size and rate_per_sec must be >= 0")
		}
	}
	return nil
}

// Location resolves engine.timezone; empty means the host zone.
func (c *Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Engine.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	return time.LoadLocation(tz)
}

// SnoozeOffset resolves engine.snooze_offset with its default.
func (c *Config) SnoozeOffset() (time.Duration, error) {
	return ParseDurationOrDefault("engine.snooze_offset", c.Engine.SnoozeOffset, 10*time.Minute)
}

// SweepSpec resolves the sweeper cron spec with its default.
func (c *Config) SweepSpec() string {
	if c.Sweeper == nil || strings.TrimSpace(c.Sweeper.Spec) == "" {
		return "@every 5m"
	}
	return strings.TrimSpace(c.Sweeper.Spec)
}

// SweepEnabled reports whether the reconciliation job should run.
// An omitted section means enabled.
func (c *Config) SweepEnabled() bool {
	return c.Sweeper == nil || c.Sweeper.Enabled
}
