// Package jobs provides the in-memory store for asynchronous backtest jobs
// and their results.
package jobs

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voltdesk/dispatch-backend/internal/backtest"
	"github.com/voltdesk/dispatch-backend/pkg/types"
)

// DefaultTTL is how long finished jobs and their results are retained.
const DefaultTTL = time.Hour

// Store tracks job status and finished results. Callers receive copies of
// the status structs, so handlers can marshal them without holding the lock.
type Store struct {
	mu      sync.RWMutex
	logger  *zap.Logger
	ttl     time.Duration
	jobs    map[string]*types.JobStatus
	results map[string]*backtest.Result
	doneAt  map[string]time.Time
}

// NewStore creates a store. ttl <= 0 falls back to DefaultTTL.
func NewStore(logger *zap.Logger, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		logger:  logger,
		ttl:     ttl,
		jobs:    make(map[string]*types.JobStatus),
		results: make(map[string]*backtest.Result),
		doneAt:  make(map[string]time.Time),
	}
}

// Create registers a new running job and returns a snapshot of it. Expired
// finished jobs are pruned on the way in.
func (s *Store) Create() types.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(time.Now())

	job := &types.JobStatus{
		ID:        uuid.NewString(),
		Status:    "running",
		StartedAt: time.Now(),
	}
	s.jobs[job.ID] = job
	return *job
}

// Get returns a snapshot of the job status.
func (s *Store) Get(id string) (types.JobStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return types.JobStatus{}, false
	}
	return *job, true
}

// SetProgress updates the window counters of a running job.
func (s *Store) SetProgress(id string, done, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return
	}
	job.WindowsDone = done
	job.Windows = total
	if total > 0 {
		job.Progress = 100 * float64(done) / float64(total)
	}
}

// Complete marks the job finished and stores its result.
func (s *Store) Complete(id string, result *backtest.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return
	}
	job.Status = "completed"
	job.Progress = 100
	s.results[id] = result
	s.doneAt[id] = time.Now()
}

// Fail marks the job failed with the given message.
func (s *Store) Fail(id, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return
	}
	job.Status = "failed"
	job.Error = msg
	s.doneAt[id] = time.Now()
}

// Result returns the stored result for a completed job.
func (s *Store) Result(id string) (*backtest.Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.results[id]
	return result, ok
}

// Len returns the number of tracked jobs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

func (s *Store) pruneLocked(now time.Time) {
	for id, finished := range s.doneAt {
		if now.Sub(finished) < s.ttl {
			continue
		}
		delete(s.jobs, id)
		delete(s.results, id)
		delete(s.doneAt, id)
		s.logger.Debug("pruned expired job", zap.String("id", id))
	}
}
