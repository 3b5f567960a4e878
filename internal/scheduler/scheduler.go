// Package scheduler runs the periodic jobs of the monitor: the absence sweep, track eviction and
// presence snapshots.
package scheduler

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
)

// JobInfo describes one registered job.
type JobInfo struct {
	ID       string        `json:"id"`
	Interval time.Duration `json:"interval_ns"`
	LastRun  *time.Time    `json:"last_run"`
	NextRun  *time.Time    `json:"next_run"`
	Runs     int           `json:"runs"`
}

type entry struct {
	info JobInfo
	job  *gocron.Job
}

// Scheduler wraps a gocron scheduler with a job registry. Each job runs in singleton mode, so a
// slow sweep never overlaps itself.
type Scheduler struct {
	scheduler *gocron.Scheduler
	jobs      map[string]*entry
	mu        sync.RWMutex
	running   bool
	log       *slog.Logger
}

func New() *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()

	return &Scheduler{
		scheduler: s,
		jobs:      make(map[string]*entry),
		log:       slog.With("component", "scheduler"),
	}
}

// Every registers task to run every interval under id. The first run happens one interval after
// Start.
func (s *Scheduler) Every(id string, interval time.Duration, task func()) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive, got %s", id, interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[id]; exists {
		return fmt.Errorf("job with ID %s already exists", id)
	}

	job, err := s.scheduler.Every(interval).WaitForSchedule().Do(func() {
		now := time.Now()

		s.mu.Lock()
		if e, ok := s.jobs[id]; ok {
			e.info.LastRun = &now
			e.info.Runs++
		}
		s.mu.Unlock()

		task()
	})
	if err != nil {
		return fmt.Errorf("failed to create job %s: %w", id, err)
	}

	s.jobs[id] = &entry{
		info: JobInfo{ID: id, Interval: interval},
		job:  job,
	}
	s.log.Debug("job added", "job_id", id, "interval", interval)
	return nil
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.log.Warn("scheduler is already running")
		return
	}
	s.scheduler.StartAsync()
	s.running = true
	s.log.Info("scheduler started", "jobs", len(s.jobs))
}

// Stop halts the scheduler. Jobs already executing are allowed to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.scheduler.Stop()
	s.running = false
	s.log.Info("scheduler stopped")
}

// IsRunning reports whether Start has been called without a matching Stop.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Jobs returns a copy of every registered job, sorted by id.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]JobInfo, 0, len(s.jobs))
	for _, e := range s.jobs {
		info := e.info
		if info.LastRun != nil {
			last := *info.LastRun
			info.LastRun = &last
		}
		if s.running {
			next := e.job.NextRun()
			info.NextRun = &next
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
