package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kalambet/jopper/internal/syncer"
	"golang.org/x/sync/semaphore"
)

// ErrBusy is returned by TriggerNow when a run is already in flight.
var ErrBusy = errors.New("a sync run is already in progress")

// Runner performs one sync run.
type Runner interface {
	Run(ctx context.Context) (syncer.RunResult, error)
}

// Scheduler drives a Runner at a fixed interval. At most one run is in
// flight at any time; ticks that arrive during a run are skipped.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	sem      *semaphore.Weighted
	logger   *slog.Logger
}

// New creates a Scheduler. If interval is <= 0, it defaults to one hour.
func New(runner Runner, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		runner:   runner,
		interval: interval,
		sem:      semaphore.NewWeighted(1),
		logger:   logger.With("component", "scheduler"),
	}
}

// Interval returns the time between scheduled runs.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Run executes one run immediately and then one per interval until ctx is
// cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started", "interval", s.interval)
	defer s.logger.Info("scheduler stopped")

	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	ran, _, err := s.RunOnce(ctx)
	switch {
	case !ran:
		s.logger.Warn("previous sync still running, skipping tick")
	case err != nil:
		s.logger.Error("sync run failed", "error", err)
	}
}

// RunOnce performs a run if none is in flight. It reports whether a run
// took place.
func (s *Scheduler) RunOnce(ctx context.Context) (bool, syncer.RunResult, error) {
	if !s.sem.TryAcquire(1) {
		return false, syncer.RunResult{}, nil
	}
	defer s.sem.Release(1)

	res, err := s.runner.Run(ctx)
	return true, res, err
}

// TriggerNow runs synchronously, or returns ErrBusy when another run is in
// flight.
func (s *Scheduler) TriggerNow(ctx context.Context) (syncer.RunResult, error) {
	ran, res, err := s.RunOnce(ctx)
	if !ran {
		return syncer.RunResult{}, ErrBusy
	}
	return res, err
}
