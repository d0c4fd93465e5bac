/**
 * @description
 * Cron scheduler setup for the subscription lifecycle sweeps.
 */
package app

import (
	"context"
	"log"

	"github.com/robfig/cron/v3"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron      *cron.Cron
	lifecycle *LifecycleManager

	expirySchedule  string
	renewalSchedule string
}

// NewScheduler creates a new scheduler instance. A panicking job is recovered
// and logged instead of taking the process down.
func NewScheduler(lifecycle *LifecycleManager, expirySchedule, renewalSchedule string) *Scheduler {
	cronLogger := cron.PrintfLogger(log.Default())
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:            c,
		lifecycle:       lifecycle,
		expirySchedule:  expirySchedule,
		renewalSchedule: renewalSchedule,
	}
}

// Start registers the sweeps and starts the cron scheduler.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.expirySchedule, func() {
		if _, err := s.lifecycle.RunExpirySweep(context.Background()); err != nil {
			log.Printf("level=error component=scheduler job=expiry_sweep err=%v", err)
		}
	}); err != nil {
		log.Printf("level=error component=scheduler msg=\"failed to schedule expiry sweep\" schedule=%q err=%v", s.expirySchedule, err)
	} else {
		log.Printf("level=info component=scheduler msg=\"scheduled expiry sweep\" schedule=%q", s.expirySchedule)
	}

	if _, err := s.cron.AddFunc(s.renewalSchedule, func() {
		if _, err := s.lifecycle.RunRenewalSweep(context.Background()); err != nil {
			log.Printf("level=error component=scheduler job=renewal_sweep err=%v", err)
		}
	}); err != nil {
		log.Printf("level=error component=scheduler msg=\"failed to schedule renewal sweep\" schedule=%q err=%v", s.renewalSchedule, err)
	} else {
		log.Printf("level=info component=scheduler msg=\"scheduled renewal sweep\" schedule=%q", s.renewalSchedule)
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
