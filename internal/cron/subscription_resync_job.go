package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/orgplans-backend/internal/gateway"
	"github.com/angelmondragon/orgplans-backend/internal/subscriptions"
	"github.com/angelmondragon/orgplans-backend/pkg/db/models"
	"github.com/angelmondragon/orgplans-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orgplans-backend/pkg/errors"
	"github.com/angelmondragon/orgplans-backend/pkg/logger"
)

const (
	defaultResyncLimit      = 200
	defaultResyncStaleAfter = 6 * time.Hour
)

type resyncCandidates interface {
	ListForResync(ctx context.Context, limit int, updatedBefore time.Time) ([]models.OrgSubscription, error)
}

type subscriptionReader interface {
	GetSubscription(ctx context.Context, subscriptionRef string) (*gateway.SubscriptionState, error)
}

type transitionApplier interface {
	Apply(ctx context.Context, t subscriptions.Transition) (*subscriptions.Result, error)
}

// SubscriptionResyncJobParams configures the recurring subscription re-sync.
type SubscriptionResyncJobParams struct {
	Logger     *logger.Logger
	Repository resyncCandidates
	Gateway    subscriptionReader
	Applier    transitionApplier
	Limit      int
	StaleAfter time.Duration
	Now        func() time.Time
}

// NewSubscriptionResyncJob re-reads gateway-backed subscriptions that no
// webhook touched recently and feeds any drift through the shared transition.
func NewSubscriptionResyncJob(params SubscriptionResyncJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("subscription repository required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if params.Applier == nil {
		return nil, fmt.Errorf("transition applier required")
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultResyncLimit
	}
	staleAfter := params.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultResyncStaleAfter
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &subscriptionResyncJob{
		logg:       params.Logger,
		repo:       params.Repository,
		gateway:    params.Gateway,
		applier:    params.Applier,
		limit:      limit,
		staleAfter: staleAfter,
		now:        now,
	}, nil
}

type subscriptionResyncJob struct {
	logg       *logger.Logger
	repo       resyncCandidates
	gateway    subscriptionReader
	applier    transitionApplier
	limit      int
	staleAfter time.Duration
	now        func() time.Time
}

func (j *subscriptionResyncJob) Name() string { return "subscription-resync" }

func (j *subscriptionResyncJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	candidates, err := j.repo.ListForResync(ctx, j.limit, now.Add(-j.staleAfter))
	if err != nil {
		return fmt.Errorf("list subscriptions for resync: %w", err)
	}
	var errs error
	counts := map[string]int{}
	for i := range candidates {
		outcome, err := j.resync(ctx, &candidates[i], now)
		if err != nil {
			errs = multierr.Append(errs, err)
			counts["failed"]++
			continue
		}
		counts[outcome]++
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"candidates": len(candidates),
		"in_sync":    counts["in_sync"],
		"applied":    counts[string(subscriptions.OutcomeApplied)],
		"skipped":    counts[string(subscriptions.OutcomeSkipped)],
		"failed":     counts["failed"],
	}), "subscription resync complete")
	return errs
}

func (j *subscriptionResyncJob) resync(ctx context.Context, sub *models.OrgSubscription, now time.Time) (string, error) {
	ref := ""
	if sub.ExternalSubscriptionRef != nil {
		ref = *sub.ExternalSubscriptionRef
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"organization_id":  sub.OrganizationID.String(),
		"subscription_ref": ref,
	})

	t := subscriptions.Transition{
		OrganizationID:  sub.OrganizationID,
		Kind:            subscriptions.KindSubscriptionUpdated,
		Source:          enums.TransitionSourceResync,
		OccurredAt:      now,
		SubscriptionRef: ref,
	}
	state, err := j.gateway.GetSubscription(logCtx, ref)
	switch {
	case pkgerrors.CodeOf(err) == pkgerrors.CodeNotFound:
		j.logg.Warn(logCtx, "stripe no longer knows the stored subscription")
		t.Kind = subscriptions.KindSubscriptionEnded
		t.IdempotencyKey = subscriptions.ResyncKey(ref, enums.SubscriptionStatusCancelled, nil, sub.Version)
	case err != nil:
		return "", fmt.Errorf("fetch subscription %s: %w", ref, err)
	case state.Status == enums.SubscriptionStatusCancelled:
		t.Kind = subscriptions.KindSubscriptionEnded
		t.IdempotencyKey = subscriptions.ResyncKey(ref, state.Status, nil, sub.Version)
	default:
		if inSync(sub, state) {
			return "in_sync", nil
		}
		t.Status = state.Status
		t.PeriodEnd = state.PeriodEnd
		t.IdempotencyKey = subscriptions.ResyncKey(ref, state.Status, state.PeriodEnd, sub.Version)
	}

	result, err := j.applier.Apply(logCtx, t)
	if err != nil {
		return "", fmt.Errorf("apply resync for %s: %w", ref, err)
	}
	return string(result.Outcome), nil
}

func inSync(sub *models.OrgSubscription, state *gateway.SubscriptionState) bool {
	if sub.Status != state.Status {
		return false
	}
	if state.PeriodEnd == nil {
		return true
	}
	return sub.CurrentPeriodEnd != nil && sub.CurrentPeriodEnd.Equal(*state.PeriodEnd)
}
