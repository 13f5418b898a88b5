package bridge

import (
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/dougrathbone/cgateweb-bridge/internal/bridgelog"
)

// Scheduler runs the periodic getall GET command on a `@every Ns` cron
// schedule.
type Scheduler struct {
	log bridgelog.Logger
	c   *cron.Cron

	mu       sync.Mutex
	entryID  cron.EntryID
	hasEntry bool
}

// NewScheduler constructs a Scheduler. Call Start before ReplacePeriodic
// takes effect.
func NewScheduler(log bridgelog.Logger) *Scheduler {
	if log == nil {
		log = bridgelog.Nop{}
	}
	return &Scheduler{log: log, c: cron.New()}
}

// Start begins the underlying cron scheduler's goroutine.
func (s *Scheduler) Start() { s.c.Start() }

// Stop halts the scheduler, waiting for any in-flight job to finish.
func (s *Scheduler) Stop() {
	ctx := s.c.Stop()
	<-ctx.Done()
}

// ReplacePeriodic removes any previously scheduled periodic job and, if
// periodSecs > 0, schedules fn to run every periodSecs seconds.
func (s *Scheduler) ReplacePeriodic(periodSecs int, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasEntry {
		s.c.Remove(s.entryID)
		s.hasEntry = false
	}
	if periodSecs <= 0 {
		return nil
	}

	spec := fmt.Sprintf("@every %ds", periodSecs)
	id, err := s.c.AddFunc(spec, fn)
	if err != nil {
		return fmt.Errorf("bridge: scheduling periodic getall: %w", err)
	}
	s.entryID = id
	s.hasEntry = true
	s.log.Info("bridge: periodic getall scheduled", "periodSeconds", periodSecs)
	return nil
}

// ClearPeriodic removes any scheduled periodic job, if one is active.
func (s *Scheduler) ClearPeriodic() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasEntry {
		s.c.Remove(s.entryID)
		s.hasEntry = false
	}
}
