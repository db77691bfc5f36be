package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	pkgdb "github.com/angelmondragon/orgplans-backend/pkg/db"
	"github.com/angelmondragon/orgplans-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/orgplans-backend/pkg/errors"
	"github.com/angelmondragon/orgplans-backend/pkg/logger"
)

const (
	maxApplyAttempts = 4
	notifySavepoint  = "notify"
)

var (
	ErrConcurrentUpdate = pkgerrors.New(pkgerrors.CodeConflict, "subscription changed concurrently, retry the request")

	errAlreadyApplied  = errors.New("transition already applied")
	errVersionConflict = errors.New("subscription version conflict")
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Change describes an applied transition for downstream notification.
type Change struct {
	Transition Transition
	Before     models.OrgSubscription
	After      models.OrgSubscription
}

// Notifier enqueues side effects inside the transition's transaction.
// A returned error is logged and never undoes the transition.
type Notifier interface {
	Notify(ctx context.Context, tx *gorm.DB, change Change) error
}

// SubscriptionCanceller stops billing for a gateway subscription the local
// record no longer tracks.
type SubscriptionCanceller interface {
	CancelSubscription(ctx context.Context, subscriptionRef string) error
}

type transitionMetrics interface {
	IncTransition(kind, source, outcome string)
}

// Result is what a writer gets back from Apply.
type Result struct {
	Outcome      Outcome
	Reason       string
	Subscription models.OrgSubscription
	// ReplacedSubscriptionRef is set when a checkout displaced a still-referenced gateway subscription.
	ReplacedSubscriptionRef string
	// ReplacedCancelled reports whether billing for ReplacedSubscriptionRef was stopped.
	ReplacedCancelled bool
}

// ApplierParams groups dependencies for the transition applier.
type ApplierParams struct {
	DB        txRunner
	Repo      Repository
	Catalog   planResolver
	Notifier  Notifier
	// Canceller stops displaced gateway subscriptions after commit.
	Canceller SubscriptionCanceller
	Metrics   transitionMetrics
	Logger    *logger.Logger
	Now       func() time.Time
}

// Applier is the only code path that mutates org_subscriptions lifecycle state.
type Applier struct {
	db        txRunner
	repo      Repository
	catalog   planResolver
	notifier  Notifier
	canceller SubscriptionCanceller
	metrics   transitionMetrics
	logg      *logger.Logger
	now       func() time.Time
}

func NewApplier(params ApplierParams) (*Applier, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("subscription repository required")
	}
	if params.Catalog == nil {
		return nil, fmt.Errorf("plan catalog required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Applier{
		db:        params.DB,
		repo:      params.Repo,
		catalog:   params.Catalog,
		notifier:  params.Notifier,
		canceller: params.Canceller,
		metrics:   params.Metrics,
		logg:      logg,
		now:       now,
	}, nil
}

// Apply runs t at most once per (organization, idempotency key). Replays
// return OutcomeAlreadyApplied with the current record and change nothing.
func (a *Applier) Apply(ctx context.Context, t Transition) (*Result, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}
	ctx = a.logg.WithFields(ctx, map[string]any{
		"organization_id":   t.OrganizationID.String(),
		"transition_kind":   string(t.Kind),
		"transition_source": string(t.Source),
		"idempotency_key":   t.IdempotencyKey,
	})

	for attempt := 1; ; attempt++ {
		result, err := a.applyOnce(ctx, t)
		switch {
		case err == nil:
			a.record(t, result.Outcome)
			a.logResult(ctx, result)
			a.retireReplaced(ctx, result)
			return result, nil
		case errors.Is(err, errAlreadyApplied):
			result, err = a.alreadyApplied(ctx, t)
			if err != nil {
				return nil, err
			}
			a.record(t, result.Outcome)
			return result, nil
		case errors.Is(err, errVersionConflict):
			if attempt >= maxApplyAttempts {
				a.record(t, "conflict")
				return nil, ErrConcurrentUpdate
			}
			a.logg.Debug(a.logg.WithField(ctx, "attempt", attempt), "subscription version conflict, retrying")
		default:
			a.record(t, "failed")
			return nil, err
		}
	}
}

func (a *Applier) applyOnce(ctx context.Context, t Transition) (*Result, error) {
	var result *Result
	err := a.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := a.repo.WithTx(tx)
		applied, err := repo.HasApplied(ctx, t.OrganizationID, t.IdempotencyKey)
		if err != nil {
			return err
		}
		if applied {
			return errAlreadyApplied
		}

		current, err := repo.FindOrCreateDefault(ctx, t.OrganizationID, a.catalog.Free().ID)
		if err != nil {
			return err
		}
		now := a.now().UTC()
		d, err := decide(*current, t, a.catalog, now)
		if err != nil {
			return err
		}

		audit := &models.AppliedBillingEvent{
			OrganizationID: t.OrganizationID,
			IdempotencyKey: t.IdempotencyKey,
			Kind:           string(t.Kind),
			Source:         t.Source,
			Outcome:        string(d.outcome),
			AppliedAt:      now,
		}
		if t.EventID != "" {
			audit.EventID = strPtr(t.EventID)
		}
		if err := repo.RecordApplied(ctx, audit); err != nil {
			if pkgdb.IsUniqueViolation(err, appliedEventsUniqueIndex) {
				return errAlreadyApplied
			}
			return err
		}

		result = &Result{Outcome: d.outcome, Reason: d.reason, Subscription: d.next}
		if d.outcome != OutcomeApplied {
			return nil
		}

		d.next.LastAppliedEventID = strPtr(t.watermark())
		ok, err := repo.CompareAndUpdate(ctx, &d.next, current.Version)
		if err != nil {
			return err
		}
		if !ok {
			return errVersionConflict
		}
		if t.CheckoutSessionID != "" {
			if err := repo.ConsumeCheckoutSession(ctx, t.CheckoutSessionID, now); err != nil {
				return err
			}
		}
		if t.Kind == KindCheckoutCompleted && current.ExternalSubscriptionRef != nil &&
			(d.next.ExternalSubscriptionRef == nil || *d.next.ExternalSubscriptionRef != *current.ExternalSubscriptionRef) {
			result.ReplacedSubscriptionRef = *current.ExternalSubscriptionRef
		}
		result.Subscription = d.next
		a.notify(ctx, tx, Change{Transition: t, Before: *current, After: d.next})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (a *Applier) alreadyApplied(ctx context.Context, t Transition) (*Result, error) {
	current, err := a.repo.FindOrCreateDefault(ctx, t.OrganizationID, a.catalog.Free().ID)
	if err != nil {
		return nil, err
	}
	a.logg.Info(ctx, "subscription transition already applied")
	return &Result{Outcome: OutcomeAlreadyApplied, Subscription: *current}, nil
}

// notify runs under a savepoint so an outbox failure cannot abort the transition.
func (a *Applier) notify(ctx context.Context, tx *gorm.DB, change Change) {
	if a.notifier == nil {
		return
	}
	if err := tx.SavePoint(notifySavepoint).Error; err != nil {
		a.logg.Error(ctx, "notification savepoint failed", err)
		return
	}
	if err := a.notifier.Notify(ctx, tx, change); err != nil {
		if rbErr := tx.RollbackTo(notifySavepoint).Error; rbErr != nil {
			a.logg.Error(ctx, "notification savepoint rollback failed", rbErr)
		}
		a.logg.Error(ctx, "subscription notification not queued", err)
	}
}

// retireReplaced cancels the gateway subscription a checkout displaced so it
// stops billing once nothing local references it. It runs after commit, so a
// gateway failure is logged and never undoes the transition.
func (a *Applier) retireReplaced(ctx context.Context, result *Result) {
	ref := result.ReplacedSubscriptionRef
	if ref == "" || a.canceller == nil {
		return
	}
	ctx = a.logg.WithField(ctx, "replaced_subscription_ref", ref)
	if err := a.canceller.CancelSubscription(ctx, ref); err != nil {
		a.logg.Error(ctx, "displaced gateway subscription still billing", err)
		return
	}
	result.ReplacedCancelled = true
	a.logg.Info(ctx, "displaced gateway subscription cancelled")
}

func (a *Applier) record(t Transition, outcome Outcome) {
	if a.metrics == nil {
		return
	}
	a.metrics.IncTransition(string(t.Kind), string(t.Source), string(outcome))
}

func (a *Applier) logResult(ctx context.Context, result *Result) {
	fields := map[string]any{
		"outcome": string(result.Outcome),
		"plan_id": result.Subscription.PlanID,
		"status":  string(result.Subscription.Status),
		"version": result.Subscription.Version,
	}
	if result.Reason != "" {
		fields["reason"] = result.Reason
	}
	ctx = a.logg.WithFields(ctx, fields)
	if result.ReplacedSubscriptionRef != "" {
		a.logg.Warn(a.logg.WithField(ctx, "replaced_subscription_ref", result.ReplacedSubscriptionRef), "checkout replaced a gateway subscription")
		return
	}
	a.logg.Info(ctx, "subscription transition processed")
}
