package scheduler

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// TaskService repeatedly cycles through a Registrar's ready delegates,
// invoking each one's Execute once per tick in dependency order. One tick
// is the unit of progress, per spec.md §4.9; no preemption is provided.
type TaskService struct {
	registrar *Registrar
	interval  time.Duration
	logger    *logrus.Entry
}

// NewTaskService builds a task service driving registrar once every
// interval.
func NewTaskService(registrar *Registrar, interval time.Duration, logger *logrus.Logger) *TaskService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &TaskService{registrar: registrar, interval: interval, logger: logger.WithField("component", "scheduler")}
}

// Cycle runs every registered delegate once, in topological order. A
// delegate's error is logged and does not prevent the remaining delegates
// in the cycle from running; Cycle returns the first error encountered, if
// any, after completing the full cycle.
func (s *TaskService) Cycle(ctx context.Context) error {
	ordered, err := s.registrar.Order()
	if err != nil {
		return err
	}

	var first error
	for _, d := range ordered {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := d.Execute(ctx); err != nil {
			s.logger.WithError(err).WithField("delegate", d.Name).Warn("delegate execute failed")
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// Run drives Cycle once per interval until ctx is canceled.
func (s *TaskService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Cycle(ctx); err != nil {
				s.logger.WithError(err).Warn("cycle completed with at least one delegate error")
			}
		}
	}
}
