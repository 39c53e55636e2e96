package services

import (
	"log"
	"sync"
	"time"

	"referral-incentive-engine/models"

	"github.com/go-co-op/gocron/v2"
)

// ResetScheduler is the single background task driving automatic period
// rollover. It polls the persisted next-reset instant rather than trusting
// in-process state, so a restart (or an overdue period found at boot) fires
// the rollover on the first tick.
type ResetScheduler struct {
	periods *PeriodService

	mu    sync.Mutex
	sched gocron.Scheduler
	job   gocron.Job
}

func NewResetScheduler(periods *PeriodService) (*ResetScheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	sched.Start()
	return &ResetScheduler{periods: periods, sched: sched}, nil
}

// StartMonitoring begins the rollover watch for the active period. Starting
// while already monitoring replaces the existing watch; monitors never stack.
func (s *ResetScheduler) StartMonitoring(period *models.ReferralPeriod) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.job != nil {
		_ = s.sched.RemoveJob(s.job.ID())
		s.job = nil
	}
	job, err := s.sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(s.tick),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return err
	}
	s.job = job
	if at := period.NextResetAt(); at != nil {
		log.Printf("[Scheduler] Monitoring period %d, next reset at %s", period.ID, at.Format(time.RFC3339))
	} else {
		log.Printf("[Scheduler] Monitoring period %d", period.ID)
	}
	return nil
}

// Stop cancels monitoring. Called whenever a period is completed by any path
// and on process shutdown; stopping an idle scheduler is a no-op.
func (s *ResetScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.job != nil {
		_ = s.sched.RemoveJob(s.job.ID())
		s.job = nil
		log.Println("[Scheduler] Reset monitoring stopped")
	}
}

// Shutdown tears the underlying scheduler down on process exit.
func (s *ResetScheduler) Shutdown() {
	s.Stop()
	_ = s.sched.Shutdown()
}

// Resume re-arms monitoring from persisted state after a restart: if the
// active period is scheduled, it is watched again, and an already-overdue
// reset fires on the immediate first tick.
func (s *ResetScheduler) Resume() error {
	period, err := s.periods.GetActivePeriod()
	if err != nil {
		return err
	}
	if period == nil || period.ResetMode != models.ResetScheduled {
		return nil
	}
	return s.StartMonitoring(period)
}

// tick re-reads the active period each time: a stale monitor left behind by
// a manual completion simply finds nothing due. Rollover failures are logged
// and retried on the next tick rather than crashing the loop.
func (s *ResetScheduler) tick() {
	period, err := s.periods.GetActivePeriod()
	if err != nil {
		log.Printf("[Scheduler] DB error: %v", err)
		return
	}
	if period == nil || period.ResetMode != models.ResetScheduled {
		return
	}
	at := period.NextResetAt()
	if at == nil || time.Now().UTC().Before(*at) {
		return
	}

	next, err := s.periods.Rollover(period.ID)
	if err != nil {
		log.Printf("[Scheduler] Rollover of period %d failed, will retry: %v", period.ID, err)
		return
	}
	log.Printf("✅ Scheduled reset fired: period %d completed, period %d now active", period.ID, next.ID)
}
