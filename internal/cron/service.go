package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/orgplans-backend/pkg/logger"
	"github.com/angelmondragon/orgplans-backend/pkg/metrics"
)

const (
	defaultInterval   = time.Hour
	defaultJobTimeout = 10 * time.Minute
)

type jobMetrics interface {
	ObserveRun(job, outcome string, took time.Duration, finishedAt time.Time)
	IncSkippedCycle()
}

type jobPanic struct{ value any }

func (p jobPanic) Error() string { return fmt.Sprintf("job panicked: %v", p.value) }

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger     *logger.Logger
	Registry   *Registry
	Lock       Lock
	Metrics    jobMetrics
	Interval   time.Duration
	JobTimeout time.Duration
}

// Service executes registered jobs on a fixed cadence, one instance at a time.
type Service struct {
	logg       *logger.Logger
	registry   *Registry
	lock       Lock
	metrics    jobMetrics
	interval   time.Duration
	jobTimeout time.Duration
}

// NewService builds a cron service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	jobTimeout := params.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = defaultJobTimeout
	}
	return &Service{
		logg:       params.Logger,
		registry:   registry,
		lock:       params.Lock,
		metrics:    params.Metrics,
		interval:   interval,
		jobTimeout: jobTimeout,
	}, nil
}

// Run starts the cron loop until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	if err := s.RunOnce(ctx); err != nil {
		s.logg.Error(ctx, "scheduled run failed", err)
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service context canceled")
			return ctx.Err()
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logg.Error(ctx, "scheduled run failed", err)
			}
		}
	}
}

// RunOnce runs every registered job once if this instance wins the lock.
// A failing job is logged and does not stop the ones after it.
func (s *Service) RunOnce(ctx context.Context) error {
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		s.logg.Info(ctx, "another cron instance is running; skipping this cycle")
		if s.metrics != nil {
			s.metrics.IncSkippedCycle()
		}
		return nil
	}
	defer func() {
		if relErr := s.lock.Release(context.WithoutCancel(ctx)); relErr != nil {
			s.logg.Error(ctx, "failed to release cron lock", relErr)
		}
	}()

	s.logg.Info(ctx, "scheduled run starting")
	for _, job := range s.registry.Jobs() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.runJob(ctx, job)
	}
	s.logg.Info(ctx, "scheduled run complete")
	return nil
}

func (s *Service) runJob(ctx context.Context, job Job) {
	jobCtx := s.logg.WithFields(ctx, map[string]any{
		"job":   job.Name(),
		"event": "cron.job",
	})
	jobCtx, cancel := context.WithTimeout(jobCtx, s.jobTimeout)
	defer cancel()

	s.logg.Info(jobCtx, "job start")
	start := time.Now()
	err := s.safeRun(jobCtx, job)
	took := time.Since(start)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", took.Milliseconds())

	outcome := metrics.JobSucceeded
	var panicked jobPanic
	switch {
	case err == nil:
		s.logg.Info(jobCtx, "job completed")
	case errors.As(err, &panicked):
		outcome = metrics.JobPanicked
		s.logg.Error(jobCtx, "job panicked", err)
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		outcome = metrics.JobTimedOut
		s.logg.Error(s.logg.WithField(jobCtx, "timeout", s.jobTimeout.String()), "job exceeded its timeout", err)
	default:
		outcome = metrics.JobFailed
		s.logg.Error(jobCtx, "job failed", err)
	}
	if s.metrics != nil {
		s.metrics.ObserveRun(job.Name(), outcome, took, time.Now())
	}
}

func (s *Service) safeRun(ctx context.Context, job Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = jobPanic{value: rec}
		}
	}()
	return job.Run(ctx)
}
