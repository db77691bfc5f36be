package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/orgplans-backend/pkg/enums"
	"github.com/angelmondragon/orgplans-backend/pkg/logger"
)

const defaultOutboxRetention = 30 * 24 * time.Hour

type publishedOutboxPurger interface {
	DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type deadLetterPurger interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
	CountByReason(ctx context.Context) (map[enums.OutboxDLQErrorReason]int64, error)
}

type OutboxRetentionJobParams struct {
	Logger     *logger.Logger
	Repository publishedOutboxPurger
	DeadLetter deadLetterPurger
	Retention  time.Duration
	Now        func() time.Time
}

func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = defaultOutboxRetention
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &outboxRetentionJob{
		logg:      params.Logger,
		repo:      params.Repository,
		dlq:       params.DeadLetter,
		retention: retention,
		now:       now,
	}, nil
}

type outboxRetentionJob struct {
	logg      *logger.Logger
	repo      publishedOutboxPurger
	dlq       deadLetterPurger
	retention time.Duration
	now       func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	var errs error
	published, err := j.repo.DeletePublishedBefore(ctx, cutoff)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("purge published outbox rows: %w", err))
	}
	var deadLettered int64
	if j.dlq != nil {
		deadLettered, err = j.dlq.DeleteBefore(ctx, cutoff)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("purge outbox dlq rows: %w", err))
		}
	}
	fields := map[string]any{
		"cutoff":         cutoff,
		"published_rows": published,
		"dlq_rows":       deadLettered,
	}
	if j.dlq != nil {
		remaining, err := j.dlq.CountByReason(ctx)
		if err != nil {
			j.logg.Warn(j.logg.WithField(ctx, "error", err.Error()), "outbox dlq count failed")
		}
		for reason, total := range remaining {
			fields["dlq_remaining_"+string(reason)] = total
		}
	}
	j.logg.Info(j.logg.WithFields(ctx, fields), "outbox retention cleanup complete")
	return errs
}
