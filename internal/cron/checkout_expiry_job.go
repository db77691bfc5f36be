package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/orgplans-backend/pkg/logger"
)

const (
	defaultExpiryBatch       = 500
	defaultCheckoutRetention = 30 * 24 * time.Hour
)

type checkoutSessionRepo interface {
	ExpireOpenBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
	DeleteClosedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CheckoutExpiryJobParams configures the checkout correlation cleanup.
type CheckoutExpiryJobParams struct {
	Logger     *logger.Logger
	Repository checkoutSessionRepo
	BatchSize  int
	Retention  time.Duration
	Now        func() time.Time
}

// NewCheckoutExpiryJob expires open checkout records past their deadline and
// purges closed ones after the retention window.
func NewCheckoutExpiryJob(params CheckoutExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("checkout repository required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultExpiryBatch
	}
	retention := params.Retention
	if retention <= 0 {
		retention = defaultCheckoutRetention
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &checkoutExpiryJob{
		logg:      params.Logger,
		repo:      params.Repository,
		batch:     batch,
		retention: retention,
		now:       now,
	}, nil
}

type checkoutExpiryJob struct {
	logg      *logger.Logger
	repo      checkoutSessionRepo
	batch     int
	retention time.Duration
	now       func() time.Time
}

func (j *checkoutExpiryJob) Name() string { return "checkout-expiry" }

func (j *checkoutExpiryJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	var errs error

	var expired int64
	for {
		rows, err := j.repo.ExpireOpenBefore(ctx, now, j.batch)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("expire open checkout sessions: %w", err))
			break
		}
		expired += rows
		if rows < int64(j.batch) {
			break
		}
		if ctx.Err() != nil {
			errs = multierr.Append(errs, ctx.Err())
			break
		}
	}

	cutoff := now.Add(-j.retention)
	purged, err := j.repo.DeleteClosedBefore(ctx, cutoff)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("purge closed checkout sessions: %w", err))
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"expired":       expired,
		"purged":        purged,
		"purge_cutoff":  cutoff,
		"expiry_cutoff": now,
	}), "checkout session cleanup complete")
	return errs
}
