package stripewebhook

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/angelmondragon/orgplans-backend/internal/gateway"
	"github.com/angelmondragon/orgplans-backend/internal/plans"
	"github.com/angelmondragon/orgplans-backend/internal/subscriptions"
	"github.com/angelmondragon/orgplans-backend/pkg/db/models"
	"github.com/angelmondragon/orgplans-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orgplans-backend/pkg/errors"
	"github.com/angelmondragon/orgplans-backend/pkg/logger"
)

var ErrSignatureInvalid = pkgerrors.New(pkgerrors.CodeSignature, "invalid stripe signature")

// Outcome labels what happened to one delivery. Every outcome is acknowledged.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeFailed    Outcome = "failed"
)

type transitionApplier interface {
	Apply(ctx context.Context, t subscriptions.Transition) (*subscriptions.Result, error)
}

type subscriptionLookup interface {
	FindBySubscriptionRef(ctx context.Context, ref string) (*models.OrgSubscription, error)
	FindByCustomerRef(ctx context.Context, ref string) (*models.OrgSubscription, error)
}

type sessionLookup interface {
	FindBySessionID(ctx context.Context, sessionID string) (*models.CheckoutSession, error)
}

type eventGuard interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Complete(ctx context.Context, eventID string) error
	Release(ctx context.Context, eventID string) error
}

type webhookMetrics interface {
	IncWebhook(eventType, outcome string)
}

type ReconcilerParams struct {
	Applier       transitionApplier
	Subscriptions subscriptionLookup
	Checkouts     sessionLookup
	Catalog       *plans.Catalog
	Guard         eventGuard
	Metrics       webhookMetrics
	Logger        *logger.Logger
	SigningSecret string
	// SignatureTolerance bounds the age of a signed delivery; zero keeps the SDK default.
	SignatureTolerance time.Duration
}

// Reconciler turns verified Stripe events into subscription transitions.
type Reconciler struct {
	applier   transitionApplier
	subs      subscriptionLookup
	checkouts sessionLookup
	catalog   *plans.Catalog
	guard     eventGuard
	metrics   webhookMetrics
	logg      *logger.Logger
	secret    string
	tolerance time.Duration
}

func NewReconciler(params ReconcilerParams) (*Reconciler, error) {
	if params.Applier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transition applier required")
	}
	if params.Subscriptions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription lookup required")
	}
	if params.Catalog == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "plan catalog required")
	}
	if strings.TrimSpace(params.SigningSecret) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe signing secret required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Reconciler{
		applier:   params.Applier,
		subs:      params.Subscriptions,
		checkouts: params.Checkouts,
		catalog:   params.Catalog,
		guard:     params.Guard,
		metrics:   params.Metrics,
		logg:      logg,
		secret:    params.SigningSecret,
		tolerance: params.SignatureTolerance,
	}, nil
}

// Handle verifies and processes one delivery. The only error it returns is
// ErrSignatureInvalid; anything else is logged and acknowledged so Stripe
// stops redelivering an event that cannot succeed.
func (r *Reconciler) Handle(ctx context.Context, payload []byte, signatureHeader string) (Outcome, error) {
	if strings.TrimSpace(signatureHeader) == "" {
		r.record("unknown", OutcomeFailed)
		return OutcomeFailed, ErrSignatureInvalid
	}
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, r.secret, webhook.ConstructEventOptions{
		Tolerance:                r.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		r.logg.Warn(r.logg.WithField(ctx, "reason", err.Error()), "stripe webhook signature rejected")
		r.record("unknown", OutcomeFailed)
		return OutcomeFailed, ErrSignatureInvalid
	}
	ctx = r.logg.WithEvent(ctx, event.ID, string(event.Type))

	if r.guard != nil {
		claimed, err := r.guard.Claim(ctx, event.ID)
		switch {
		case err != nil:
			r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "webhook guard unavailable, relying on applied events")
		case !claimed:
			r.logg.Info(ctx, "stripe event already claimed")
			r.record(string(event.Type), OutcomeDuplicate)
			return OutcomeDuplicate, nil
		}
	}

	outcome, err := r.dispatch(ctx, &event)
	if err != nil {
		r.settleGuard(ctx, event.ID, false)
		r.logg.Error(ctx, "stripe event not reconciled", err)
		r.record(string(event.Type), OutcomeFailed)
		return OutcomeFailed, nil
	}
	r.settleGuard(ctx, event.ID, true)
	r.record(string(event.Type), outcome)
	return outcome, nil
}

// settleGuard turns the in-flight reservation into a done marker, or drops it
// when reconciliation failed.
func (r *Reconciler) settleGuard(ctx context.Context, eventID string, done bool) {
	if r.guard == nil {
		return
	}
	if done {
		if err := r.guard.Complete(ctx, eventID); err != nil {
			r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "webhook guard completion failed")
		}
		return
	}
	if err := r.guard.Release(ctx, eventID); err != nil {
		r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "webhook guard release failed")
	}
}

func (r *Reconciler) dispatch(ctx context.Context, event *stripe.Event) (Outcome, error) {
	if event.Data == nil {
		r.logg.Warn(ctx, "stripe event without data")
		return OutcomeIgnored, nil
	}
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted,
		stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return r.undecodable(ctx, err)
		}
		return r.checkoutCompleted(ctx, event, &session)
	case stripe.EventTypeCustomerSubscriptionCreated,
		stripe.EventTypeCustomerSubscriptionUpdated,
		stripe.EventTypeCustomerSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return r.undecodable(ctx, err)
		}
		return r.subscriptionChanged(ctx, event, &sub)
	case stripe.EventTypePaymentIntentPaymentFailed:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return r.undecodable(ctx, err)
		}
		return r.paymentFailed(ctx, event, &intent)
	}
	r.logg.Debug(ctx, "stripe event type not handled")
	return OutcomeIgnored, nil
}

func (r *Reconciler) checkoutCompleted(ctx context.Context, event *stripe.Event, session *stripe.CheckoutSession) (Outcome, error) {
	result := gateway.CheckoutResultFrom(session)
	ctx = r.logg.WithField(ctx, "session_id", result.SessionID)
	if !result.Paid {
		// async methods complete later with checkout.session.async_payment_succeeded
		r.logg.Info(ctx, "checkout completed without payment yet")
		return OutcomeIgnored, nil
	}
	orgID, err := uuid.Parse(result.OrganizationID)
	if err != nil {
		r.logg.Warn(ctx, "checkout session without organization metadata")
		return OutcomeIgnored, nil
	}

	planID := result.PlanID
	if r.checkouts != nil {
		local, err := r.checkouts.FindBySessionID(ctx, result.SessionID)
		if err != nil {
			return OutcomeFailed, fmt.Errorf("load checkout session: %w", err)
		}
		if local != nil {
			if local.OrganizationID != orgID {
				r.logg.Warn(ctx, "checkout metadata disagrees with the opened checkout")
				return OutcomeIgnored, nil
			}
			if planID == "" {
				planID = local.PlanID
			} else if canonical, ok := r.catalog.Canonical(planID); !ok || canonical != local.PlanID {
				r.logg.Warn(r.logg.WithField(ctx, "plan_id", planID), "checkout plan disagrees with the opened checkout")
				return OutcomeIgnored, nil
			}
		}
	}
	if planID == "" {
		r.logg.Warn(ctx, "checkout session without plan metadata")
		return OutcomeIgnored, nil
	}

	return r.apply(ctx, subscriptions.Transition{
		OrganizationID:    orgID,
		Kind:              subscriptions.KindCheckoutCompleted,
		Source:            enums.TransitionSourceWebhook,
		IdempotencyKey:    subscriptions.CheckoutKey(result.SessionID),
		EventID:           event.ID,
		OccurredAt:        result.Created,
		PlanID:            planID,
		CustomerRef:       result.CustomerRef,
		SubscriptionRef:   result.SubscriptionRef,
		CheckoutSessionID: result.SessionID,
	})
}

func (r *Reconciler) subscriptionChanged(ctx context.Context, event *stripe.Event, sub *stripe.Subscription) (Outcome, error) {
	state := gateway.SubscriptionStateFrom(sub)
	ctx = r.logg.WithField(ctx, "subscription_ref", state.Ref)
	orgID, err := r.organizationFor(ctx, state.OrganizationID, func() (*models.OrgSubscription, error) {
		return r.subs.FindBySubscriptionRef(ctx, state.Ref)
	})
	if err != nil {
		return OutcomeFailed, err
	}
	if orgID == uuid.Nil {
		r.logg.Info(ctx, "subscription event for an unknown organization")
		return OutcomeIgnored, nil
	}

	t := subscriptions.Transition{
		OrganizationID:  orgID,
		Kind:            subscriptions.KindSubscriptionUpdated,
		Source:          enums.TransitionSourceWebhook,
		IdempotencyKey:  subscriptions.EventKey(event.ID),
		EventID:         event.ID,
		OccurredAt:      eventTime(event),
		SubscriptionRef: state.Ref,
		Status:          state.Status,
		PeriodEnd:       state.PeriodEnd,
	}
	if event.Type == stripe.EventTypeCustomerSubscriptionDeleted || state.Status == enums.SubscriptionStatusCancelled {
		t.Kind = subscriptions.KindSubscriptionEnded
		t.Status = ""
		t.PeriodEnd = nil
	} else {
		t.PlanID = r.planForPrice(ctx, state.PriceRef)
	}
	return r.apply(ctx, t)
}

// planForPrice maps the subscription's current price back to a plan. An
// unknown or missing price keeps the stored plan.
func (r *Reconciler) planForPrice(ctx context.Context, priceRef string) string {
	if priceRef == "" {
		return ""
	}
	plan, err := r.catalog.ResolveByPriceRef(priceRef)
	if err != nil {
		r.logg.Warn(r.logg.WithField(ctx, "price_ref", priceRef), "subscription price is not in the plan catalog")
		return ""
	}
	return plan.ID
}

func (r *Reconciler) paymentFailed(ctx context.Context, event *stripe.Event, intent *stripe.PaymentIntent) (Outcome, error) {
	var customerRef string
	if intent.Customer != nil {
		customerRef = intent.Customer.ID
	}
	orgID, err := r.organizationFor(ctx, intent.Metadata[gateway.MetadataOrganizationID], func() (*models.OrgSubscription, error) {
		return r.subs.FindByCustomerRef(ctx, customerRef)
	})
	if err != nil {
		return OutcomeFailed, err
	}
	if orgID == uuid.Nil {
		r.logg.Info(r.logg.WithField(ctx, "customer_ref", customerRef), "payment failure for an unknown organization")
		return OutcomeIgnored, nil
	}
	return r.apply(ctx, subscriptions.Transition{
		OrganizationID: orgID,
		Kind:           subscriptions.KindPaymentFailed,
		Source:         enums.TransitionSourceWebhook,
		IdempotencyKey: subscriptions.EventKey(event.ID),
		EventID:        event.ID,
		OccurredAt:     eventTime(event),
	})
}

// organizationFor prefers the organization stamped in metadata and falls back to a stored reference.
func (r *Reconciler) organizationFor(ctx context.Context, metadataOrg string, fallback func() (*models.OrgSubscription, error)) (uuid.UUID, error) {
	if id, err := uuid.Parse(strings.TrimSpace(metadataOrg)); err == nil {
		return id, nil
	}
	sub, err := fallback()
	if err != nil {
		return uuid.Nil, fmt.Errorf("resolve organization: %w", err)
	}
	if sub == nil {
		return uuid.Nil, nil
	}
	return sub.OrganizationID, nil
}

func (r *Reconciler) apply(ctx context.Context, t subscriptions.Transition) (Outcome, error) {
	result, err := r.applier.Apply(ctx, t)
	if err != nil {
		if pkgerrors.CodeOf(err) == pkgerrors.CodeDataIntegrity {
			// redelivery cannot fix stored data; acknowledge and leave it to an operator
			r.logg.Error(ctx, "stripe event references data the service cannot interpret", err)
			return OutcomeIgnored, nil
		}
		return OutcomeFailed, err
	}
	switch result.Outcome {
	case subscriptions.OutcomeApplied:
		return OutcomeApplied, nil
	case subscriptions.OutcomeAlreadyApplied:
		return OutcomeDuplicate, nil
	}
	return OutcomeSkipped, nil
}

func (r *Reconciler) undecodable(ctx context.Context, err error) (Outcome, error) {
	r.logg.Error(ctx, "stripe event payload not decodable", err)
	return OutcomeIgnored, nil
}

func (r *Reconciler) record(eventType string, outcome Outcome) {
	if r.metrics == nil {
		return
	}
	r.metrics.IncWebhook(eventType, string(outcome))
}

func eventTime(event *stripe.Event) time.Time {
	if event.Created <= 0 {
		return time.Time{}
	}
	return time.Unix(event.Created, 0).UTC()
}
