package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Job is a unit of periodic work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type entry struct {
	job      Job
	interval time.Duration
}

// Scheduler runs each registered job on its own ticker between Start and Stop.
type Scheduler struct {
	mu      sync.Mutex
	entries []entry
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New() *Scheduler {
	return &Scheduler{}
}

// Add registers a job. Jobs added after Start are not run.
func (s *Scheduler) Add(job Job, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry{job: job, interval: interval})
}

var ErrAlreadyStarted = errors.New("scheduler already started")

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return ErrAlreadyStarted
	}

	ctx, s.cancel = context.WithCancel(ctx)
	for _, e := range s.entries {
		if e.interval <= 0 {
			logrus.WithField("job", e.job.Name()).Warn("Job has no interval, skipping")
			continue
		}
		s.wg.Add(1)
		go s.loop(ctx, e)
	}

	logrus.WithField("jobs", len(s.entries)).Info("Scheduler started")
	return nil
}

// Stop cancels all jobs and waits for running ones to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	logrus.Info("Scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, e entry) {
	defer s.wg.Done()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	log := logrus.WithField("job", e.job.Name())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			if err := e.job.Run(ctx); err != nil && ctx.Err() == nil {
				log.WithError(err).Error("Job failed")
				continue
			}
			log.WithField("duration", time.Since(start)).Debug("Job finished")
		}
	}
}
