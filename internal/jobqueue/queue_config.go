/*
Package jobqueue configuration - All tunable parameters for the River job queue system.

# River Job Queue Configuration Guide

## Queues:
- default: orchestrator tick, per-tenant orchestrator jobs and the learning rollup
- reactivation: agent graph runs, kept apart so a slow batch never delays the tick

## Performance Tuning:
- MaxWorkers sizes the default queue; ReactivationWorkers sizes the agent queue and
  should not exceed the per-tenant reactivation quota
- JobTimeout bounds a single orchestrator job or agent run; TickTimeout bounds the
  hourly sweep over all tenants

## Reliability Tuning:
- MaxAttempts bounds River's retries; a failing tick is not retried past the next hour
  because the next periodic tick covers the same work
- QuotaSnooze delays an agent run that hit the per-tenant quota

## Scheduling:
- The tick runs hourly; each tenant's daily jobs fire in its own timezone
- The rollup runs once a day at RollupHourUTC:RollupMinuteUTC and aggregates the
  previous UTC day (and the closing week on Mondays)
*/
package jobqueue

import (
	"time"

	"github.com/riverqueue/river"
)

// Queue names
const (
	QueueReactivation = "reactivation"
)

// QueueConfig holds all configurable parameters for the job queue
type QueueConfig struct {
	MaxWorkers          int // Workers on the default queue (default: 10)
	ReactivationWorkers int // Workers on the reactivation queue (default: 5)

	MaxAttempts int           // Attempts per job before it is discarded (default: 5)
	JobTimeout  time.Duration // Maximum time a single job can run (default: 5 minutes)
	TickTimeout time.Duration // Maximum time the hourly sweep can run (default: 50 minutes)
	QuotaSnooze time.Duration // Delay before retrying a quota-blocked run (default: 2 minutes)

	RollupHourUTC   int // Hour of the nightly learning rollup (default: 1)
	RollupMinuteUTC int // Minute of the nightly learning rollup (default: 15)
}

// DefaultQueueConfig returns the default configuration
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		MaxWorkers:          10,
		ReactivationWorkers: 5,
		MaxAttempts:         5,
		JobTimeout:          5 * time.Minute,
		TickTimeout:         50 * time.Minute,
		QuotaSnooze:         2 * time.Minute,
		RollupHourUTC:       1,
		RollupMinuteUTC:     15,
	}
}

// ProductionQueueConfig returns a configuration optimized for production use
func ProductionQueueConfig() *QueueConfig {
	config := DefaultQueueConfig()

	config.MaxWorkers = 20
	config.ReactivationWorkers = 10
	config.JobTimeout = 10 * time.Minute

	return config
}

// DevelopmentQueueConfig returns a configuration optimized for development
func DevelopmentQueueConfig() *QueueConfig {
	config := DefaultQueueConfig()

	config.MaxWorkers = 3
	config.ReactivationWorkers = 1
	config.MaxAttempts = 2
	config.JobTimeout = 2 * time.Minute

	return config
}

// GetQueueConfig returns the configuration used when the caller passes none
func GetQueueConfig() *QueueConfig {
	return DefaultQueueConfig()
}

// WithMaxWorkers returns a copy of c with the default queue sized to n
func (c *QueueConfig) WithMaxWorkers(n int) *QueueConfig {
	out := *c
	if n > 0 {
		out.MaxWorkers = n
	}
	return &out
}

// RiverQueueConfig converts our config to River's queue configuration format
func (c *QueueConfig) RiverQueueConfig() map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		river.QueueDefault: {
			MaxWorkers: c.MaxWorkers,
		},
		QueueReactivation: {
			MaxWorkers: c.ReactivationWorkers,
		},
	}
}

// dailySchedule fires once a day at a fixed UTC time
type dailySchedule struct {
	hour, minute int
}

// DailyAt returns a River schedule firing every day at hour:minute UTC
func DailyAt(hour, minute int) river.PeriodicSchedule {
	if hour < 0 || hour > 23 {
		hour = 0
	}
	if minute < 0 || minute > 59 {
		minute = 0
	}
	return dailySchedule{hour: hour, minute: minute}
}

// Next returns the first firing strictly after current
func (s dailySchedule) Next(current time.Time) time.Time {
	c := current.UTC()
	next := time.Date(c.Year(), c.Month(), c.Day(), s.hour, s.minute, 0, 0, time.UTC)
	if !next.After(c) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
