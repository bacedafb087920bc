package scheduler

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/slezkinis/pentolymp-backend/internal/repository"
	"go.uber.org/zap"
)

// defaultRetryDelay spaces out re-fires after a failed finish handler.
const defaultRetryDelay = 15 * time.Second

// JobStore persists one-shot deadlines so they survive a restart.
type JobStore interface {
	Upsert(matchID string, fireAt time.Time) error
	Delete(matchID string) (bool, error)
	ListPending() ([]repository.TimeoutJob, error)
}

// FinishFunc is invoked when a match deadline fires. A non-nil error keeps
// the deadline: the scheduler retries and the persisted row survives a
// restart, so the handler must be idempotent.
type FinishFunc func(matchID string) error

type armedJob struct {
	timer  *time.Timer
	fireAt time.Time
}

// MatchScheduler arms one in-memory timer per match, backed by a database
// row. Scheduling the same match again replaces the earlier deadline.
// The row is deleted only after the finish handler succeeds, so a handler
// failure or a crash mid-fire leaves the deadline for a retry or the next
// start. The handler must be idempotent; a fire after the match already
// finished must be harmless.
type MatchScheduler struct {
	store        JobStore
	finish       FinishFunc
	misfireGrace time.Duration
	retryDelay   time.Duration
	logger       *zap.Logger

	mu      sync.Mutex
	jobs    map[string]armedJob
	started bool
}

func NewMatchScheduler(store JobStore, finish FinishFunc, misfireGrace time.Duration, logger *zap.Logger) *MatchScheduler {
	return &MatchScheduler{
		store:        store,
		finish:       finish,
		misfireGrace: misfireGrace,
		retryDelay:   defaultRetryDelay,
		logger:       logger,
		jobs:         make(map[string]armedJob),
	}
}

// Start reloads persisted jobs and arms their timers. Jobs whose deadline
// passed while the process was down fire immediately; those overdue beyond
// the misfire grace still fire but are logged as misfires.
func (s *MatchScheduler) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	jobs, err := s.store.ListPending()
	if err != nil {
		return fmt.Errorf("failed to reload timeout jobs: %w", err)
	}

	now := time.Now()
	for _, job := range jobs {
		overdue := now.Sub(job.FireAt)
		if overdue > s.misfireGrace {
			s.logger.Warn("Firing misfired match deadline",
				zap.String("matchId", job.MatchID),
				zap.Duration("overdue", overdue))
		}
		s.arm(job.MatchID, job.FireAt, now)
	}

	s.logger.Info("Match scheduler started", zap.Int("reloaded", len(jobs)))
	return nil
}

// Stop disarms all timers. Persisted rows stay for the next start.
func (s *MatchScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for matchID, job := range s.jobs {
		job.timer.Stop()
		delete(s.jobs, matchID)
	}
	s.started = false

	s.logger.Info("Match scheduler stopped")
}

// ScheduleMatchFinish persists and arms the deadline for a match,
// replacing any earlier deadline for the same match.
func (s *MatchScheduler) ScheduleMatchFinish(matchID string, fireAt time.Time) error {
	if err := s.store.Upsert(matchID, fireAt); err != nil {
		return err
	}
	s.arm(matchID, fireAt, time.Now())
	return nil
}

// Cancel disarms and removes the deadline. Reports whether one existed.
func (s *MatchScheduler) Cancel(matchID string) bool {
	s.mu.Lock()
	if job, ok := s.jobs[matchID]; ok {
		job.timer.Stop()
		delete(s.jobs, matchID)
	}
	s.mu.Unlock()

	existed, err := s.store.Delete(matchID)
	if err != nil {
		s.logger.Error("Failed to delete timeout job",
			zap.String("matchId", matchID),
			zap.Error(err))
		return false
	}
	return existed
}

// ScheduledTime returns the armed deadline for a match, if any.
func (s *MatchScheduler) ScheduledTime(matchID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[matchID]
	return job.fireAt, ok
}

// PendingJobs returns the number of armed timers.
func (s *MatchScheduler) PendingJobs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Pending returns every armed deadline keyed by match, earliest first.
func (s *MatchScheduler) Pending() []repository.TimeoutJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]repository.TimeoutJob, 0, len(s.jobs))
	for matchID, job := range s.jobs {
		jobs = append(jobs, repository.TimeoutJob{MatchID: matchID, FireAt: job.fireAt})
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].FireAt.Before(jobs[j].FireAt) })
	return jobs
}

func (s *MatchScheduler) arm(matchID string, fireAt time.Time, now time.Time) {
	delay := fireAt.Sub(now)
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.jobs[matchID]; ok {
		existing.timer.Stop()
	}
	s.jobs[matchID] = armedJob{
		timer:  time.AfterFunc(delay, func() { s.fire(matchID) }),
		fireAt: fireAt,
	}
}

func (s *MatchScheduler) fire(matchID string) {
	if err := s.runFinish(matchID); err != nil {
		s.logger.Error("Match deadline handler failed, deadline retained",
			zap.String("matchId", matchID),
			zap.Error(err))
		s.retry(matchID)
		return
	}

	s.mu.Lock()
	delete(s.jobs, matchID)
	s.mu.Unlock()

	if _, err := s.store.Delete(matchID); err != nil {
		s.logger.Error("Failed to clear fired timeout job",
			zap.String("matchId", matchID),
			zap.Error(err))
	}
}

func (s *MatchScheduler) runFinish(matchID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("match deadline handler panicked: %v", r)
		}
	}()
	return s.finish(matchID)
}

// retry re-arms the timer after a backoff. The persisted row is untouched,
// so the deadline also survives a process death during the handler.
func (s *MatchScheduler) retry(matchID string) {
	fireAt := time.Now().Add(s.retryDelay)

	s.mu.Lock()
	defer s.mu.Unlock()

	// Cancelled or stopped while the handler ran
	if _, ok := s.jobs[matchID]; !ok {
		return
	}
	s.jobs[matchID] = armedJob{
		timer:  time.AfterFunc(s.retryDelay, func() { s.fire(matchID) }),
		fireAt: fireAt,
	}
}
