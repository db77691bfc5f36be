package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/orgplans-backend/internal/plans"
	"github.com/angelmondragon/orgplans-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orgplans-backend/pkg/errors"
	"github.com/angelmondragon/orgplans-backend/pkg/logger"
)

const (
	defaultCallTimeout = 8 * time.Second
	maxCallAttempts    = 2

	// SessionIDPlaceholder is substituted by Stripe in the success URL.
	SessionIDPlaceholder = "{CHECKOUT_SESSION_ID}"
)

type callMetrics interface {
	ObserveGatewayCall(operation, result string, took time.Duration)
}

// CheckoutRequest describes a hosted checkout page for one plan purchase.
type CheckoutRequest struct {
	OrganizationID uuid.UUID
	Plan           plans.Plan
	CustomerRef    string
	SuccessURL     string
	CancelURL      string
	ExpiresAt      time.Time
	IdempotencyKey string
}

// CheckoutSession is the redirect target handed back to the client.
type CheckoutSession struct {
	ID        string
	URL       string
	ExpiresAt time.Time
}

// CheckoutResult is a checkout session as Stripe currently reports it.
type CheckoutResult struct {
	SessionID       string
	Complete        bool
	Paid            bool
	OrganizationID  string
	PlanID          string
	CustomerRef     string
	SubscriptionRef string
	Created         time.Time
}

// SubscriptionState is a recurring subscription as Stripe currently reports it.
type SubscriptionState struct {
	Ref            string
	CustomerRef    string
	OrganizationID string
	Status         enums.SubscriptionStatus
	PeriodEnd      *time.Time
	PriceRef       string
}

// StripeParams groups dependencies for the Stripe gateway.
type StripeParams struct {
	Logger  *logger.Logger
	Metrics callMetrics
	Timeout time.Duration
}

// Stripe talks to the Stripe API with a bounded timeout and one retry per call.
type Stripe struct {
	api     stripeAPI
	logg    *logger.Logger
	metrics callMetrics
	timeout time.Duration
}

// NewStripe returns a gateway backed by the SDK configured in pkg/stripe.
func NewStripe(params StripeParams) *Stripe {
	return newStripe(sdkAPI{}, params)
}

func newStripe(api stripeAPI, params StripeParams) *Stripe {
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &Stripe{api: api, logg: logg, metrics: params.Metrics, timeout: timeout}
}

// call runs fn with a per-attempt deadline and retries once on transient failures.
func (s *Stripe) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= maxCallAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return mapError(op, ctxErr)
		}
		start := time.Now()
		attemptCtx, cancel := context.WithTimeout(ctx, s.timeout)
		err = fn(attemptCtx)
		cancel()
		s.observe(op, err, time.Since(start))
		if err == nil {
			return nil
		}
		if !retryable(err) {
			break
		}
		if attempt < maxCallAttempts {
			s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
				"operation": op,
				"attempt":   attempt,
				"error":     err.Error(),
			}), "stripe call failed, retrying")
		}
	}
	return mapError(op, err)
}

func (s *Stripe) observe(op string, err error, took time.Duration) {
	if s.metrics == nil {
		return
	}
	result := "ok"
	switch {
	case err == nil:
	case retryable(err):
		result = "transient"
	default:
		result = "error"
	}
	s.metrics.ObserveGatewayCall(op, result, took)
}

// EnsureCustomer returns the Stripe customer for the organization, creating
// it once. An existing ref wins; otherwise a metadata search runs before
// creation so a retried request never produces a second customer.
func (s *Stripe) EnsureCustomer(ctx context.Context, orgID uuid.UUID, existingRef string) (string, error) {
	if ref := strings.TrimSpace(existingRef); ref != "" {
		return ref, nil
	}

	var found string
	err := s.call(ctx, "customer.search", func(ctx context.Context) error {
		params := &stripe.CustomerSearchParams{}
		params.Context = ctx
		params.Query = fmt.Sprintf("metadata['%s']:'%s'", MetadataOrganizationID, orgID.String())
		customers, err := s.api.SearchCustomers(params)
		if err != nil {
			return err
		}
		for _, c := range customers {
			if c != nil && !c.Deleted {
				found = c.ID
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if found != "" {
		return found, nil
	}

	var created *stripe.Customer
	err = s.call(ctx, "customer.create", func(ctx context.Context) error {
		params := &stripe.CustomerParams{}
		params.Context = ctx
		params.AddMetadata(MetadataOrganizationID, orgID.String())
		params.SetIdempotencyKey("org-customer-" + orgID.String())
		c, err := s.api.NewCustomer(params)
		if err != nil {
			return err
		}
		created = c
		return nil
	})
	if err != nil {
		return "", err
	}
	return customerID(created), nil
}

// CreateCheckoutSession opens a hosted checkout page tagged with the
// organization and plan. The same idempotency key is sent on the retry.
func (s *Stripe) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if req.Plan.ExternalPriceRef == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "plan has no configured price").
			WithDetails(map[string]any{"plan_id": req.Plan.ID})
	}
	metadata := map[string]string{
		MetadataOrganizationID: req.OrganizationID.String(),
		MetadataPlanID:         req.Plan.ID,
	}

	var session *stripe.CheckoutSession
	err := s.call(ctx, "checkout_session.create", func(ctx context.Context) error {
		params := &stripe.CheckoutSessionParams{
			Customer:          stripe.String(req.CustomerRef),
			ClientReferenceID: stripe.String(req.OrganizationID.String()),
			SuccessURL:        stripe.String(req.SuccessURL),
			CancelURL:         stripe.String(req.CancelURL),
			LineItems: []*stripe.CheckoutSessionLineItemParams{{
				Price:    stripe.String(req.Plan.ExternalPriceRef),
				Quantity: stripe.Int64(1),
			}},
		}
		params.Context = ctx
		for k, v := range metadata {
			params.AddMetadata(k, v)
		}
		if req.Plan.IsRecurring() {
			params.Mode = stripe.String(string(stripe.CheckoutSessionModeSubscription))
			params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{Metadata: metadata}
		} else {
			params.Mode = stripe.String(string(stripe.CheckoutSessionModePayment))
			params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{Metadata: metadata}
		}
		if !req.ExpiresAt.IsZero() {
			params.ExpiresAt = stripe.Int64(req.ExpiresAt.Unix())
		}
		if req.IdempotencyKey != "" {
			params.SetIdempotencyKey(req.IdempotencyKey)
		}
		created, err := s.api.NewCheckoutSession(params)
		if err != nil {
			return err
		}
		session = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := &CheckoutSession{ID: session.ID, URL: session.URL}
	if session.ExpiresAt > 0 {
		out.ExpiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}
	return out, nil
}

// GetCheckoutSession reads a checkout session back from Stripe.
func (s *Stripe) GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutResult, error) {
	var session *stripe.CheckoutSession
	err := s.call(ctx, "checkout_session.get", func(ctx context.Context) error {
		params := &stripe.CheckoutSessionParams{}
		params.Context = ctx
		got, err := s.api.GetCheckoutSession(sessionID, params)
		if err != nil {
			return err
		}
		session = got
		return nil
	})
	if err != nil {
		return nil, err
	}
	return CheckoutResultFrom(session), nil
}

// CheckoutResultFrom flattens a checkout session, including one decoded from a webhook.
func CheckoutResultFrom(session *stripe.CheckoutSession) *CheckoutResult {
	if session == nil {
		return nil
	}
	out := &CheckoutResult{
		SessionID:      session.ID,
		Complete:       session.Status == stripe.CheckoutSessionStatusComplete,
		Paid:           session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		OrganizationID: strings.TrimSpace(session.Metadata[MetadataOrganizationID]),
		PlanID:         strings.TrimSpace(session.Metadata[MetadataPlanID]),
		CustomerRef:    customerID(session.Customer),
	}
	if session.Subscription != nil {
		out.SubscriptionRef = session.Subscription.ID
	}
	if session.Created > 0 {
		out.Created = time.Unix(session.Created, 0).UTC()
	}
	return out
}

// GetSubscription reads a recurring subscription back from Stripe.
func (s *Stripe) GetSubscription(ctx context.Context, subscriptionRef string) (*SubscriptionState, error) {
	var sub *stripe.Subscription
	err := s.call(ctx, "subscription.get", func(ctx context.Context) error {
		params := &stripe.SubscriptionParams{}
		params.Context = ctx
		got, err := s.api.GetSubscription(subscriptionRef, params)
		if err != nil {
			return err
		}
		sub = got
		return nil
	})
	if err != nil {
		return nil, err
	}
	return SubscriptionStateFrom(sub), nil
}

// SubscriptionStateFrom flattens a subscription, including one decoded from a webhook.
func SubscriptionStateFrom(sub *stripe.Subscription) *SubscriptionState {
	if sub == nil {
		return nil
	}
	return &SubscriptionState{
		Ref:            sub.ID,
		CustomerRef:    customerID(sub.Customer),
		OrganizationID: strings.TrimSpace(sub.Metadata[MetadataOrganizationID]),
		Status:         MapSubscriptionStatus(sub.Status),
		PeriodEnd:      PeriodEndOf(sub),
		PriceRef:       PriceRefOf(sub),
	}
}

// CancelSubscription stops billing immediately. A subscription Stripe no
// longer knows about is already cancelled.
func (s *Stripe) CancelSubscription(ctx context.Context, subscriptionRef string) error {
	err := s.call(ctx, "subscription.cancel", func(ctx context.Context) error {
		params := &stripe.SubscriptionCancelParams{}
		params.Context = ctx
		_, err := s.api.CancelSubscription(subscriptionRef, params)
		if isResourceMissing(err) {
			s.logg.Warn(s.logg.WithField(ctx, "subscription_ref", subscriptionRef), "stripe subscription already gone")
			return nil
		}
		return err
	})
	return err
}

// CreatePortalSession opens the Stripe billing portal for a customer.
func (s *Stripe) CreatePortalSession(ctx context.Context, customerRef, returnURL string) (string, error) {
	var url string
	err := s.call(ctx, "portal_session.create", func(ctx context.Context) error {
		params := &stripe.BillingPortalSessionParams{
			Customer:  stripe.String(customerRef),
			ReturnURL: stripe.String(returnURL),
		}
		params.Context = ctx
		session, err := s.api.NewPortalSession(params)
		if err != nil {
			return err
		}
		url = session.URL
		return nil
	})
	return url, err
}
