package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/orgplans-backend/internal/entitlements"
	"github.com/angelmondragon/orgplans-backend/internal/gateway"
	"github.com/angelmondragon/orgplans-backend/internal/plans"
	"github.com/angelmondragon/orgplans-backend/internal/subscriptions"
	pkgdb "github.com/angelmondragon/orgplans-backend/pkg/db"
	"github.com/angelmondragon/orgplans-backend/pkg/db/models"
	"github.com/angelmondragon/orgplans-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orgplans-backend/pkg/errors"
	"github.com/angelmondragon/orgplans-backend/pkg/logger"
)

const defaultSessionTTL = time.Hour

var (
	ErrNoPaymentRequired    = pkgerrors.New(pkgerrors.CodeValidation, "the free plan does not require a payment")
	ErrActiveSubscription   = pkgerrors.New(pkgerrors.CodeStateConflict, "organization already has a gateway subscription, cancel it first")
	ErrPaymentNotConfirmed  = pkgerrors.New(pkgerrors.CodeStateConflict, "payment not confirmed")
	ErrSessionNotAuthorized = pkgerrors.New(pkgerrors.CodeForbidden, "checkout session belongs to another organization")
	ErrMissingCorrelation   = pkgerrors.New(pkgerrors.CodeDataIntegrity, "checkout session carries no usable correlation metadata")
)

type paymentGateway interface {
	EnsureCustomer(ctx context.Context, orgID uuid.UUID, existingRef string) (string, error)
	CreateCheckoutSession(ctx context.Context, req gateway.CheckoutRequest) (*gateway.CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (*gateway.CheckoutResult, error)
}

type subscriptionStore interface {
	FindOrCreateDefault(ctx context.Context, orgID uuid.UUID, freePlanID string) (*models.OrgSubscription, error)
	SetCustomerRef(ctx context.Context, orgID uuid.UUID, customerRef string) (bool, error)
}

type transitionApplier interface {
	Apply(ctx context.Context, t subscriptions.Transition) (*subscriptions.Result, error)
}

type checkoutMetrics interface {
	IncCheckout(plan string)
}

// StartRequest asks for a hosted checkout page for one plan.
type StartRequest struct {
	OrganizationID uuid.UUID
	PlanID         string
	SuccessURL     string
	CancelURL      string
	// IdempotencyKey, when set, makes a retried start return the same gateway session.
	IdempotencyKey string
}

// StartResult is the redirect target for the client.
type StartResult struct {
	SessionID   string    `json:"sessionId"`
	RedirectURL string    `json:"redirectUrl"`
	PlanID      string    `json:"planId"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Service starts checkouts and confirms them on the client's return.
type Service interface {
	StartCheckout(ctx context.Context, req StartRequest) (*StartResult, error)
	VerifyPayment(ctx context.Context, orgID uuid.UUID, sessionID string) (*subscriptions.Snapshot, error)
}

// ServiceParams groups dependencies for the checkout service.
type ServiceParams struct {
	Repo              Repository
	Subscriptions     subscriptionStore
	Applier           transitionApplier
	Gateway           paymentGateway
	Catalog           *plans.Catalog
	Metrics           checkoutMetrics
	Logger            *logger.Logger
	SessionTTL        time.Duration
	DefaultSuccessURL string
	DefaultCancelURL  string
	Now               func() time.Time
}

type service struct {
	repo       Repository
	subs       subscriptionStore
	applier    transitionApplier
	gateway    paymentGateway
	catalog    *plans.Catalog
	evaluator  *entitlements.Evaluator
	metrics    checkoutMetrics
	logg       *logger.Logger
	ttl        time.Duration
	successURL string
	cancelURL  string
	now        func() time.Time
}

// NewService builds the checkout orchestrator.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("checkout repository required")
	}
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscription store required")
	}
	if params.Applier == nil {
		return nil, fmt.Errorf("transition applier required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
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
	ttl := params.SessionTTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &service{
		repo:       params.Repo,
		subs:       params.Subscriptions,
		applier:    params.Applier,
		gateway:    params.Gateway,
		catalog:    params.Catalog,
		evaluator:  entitlements.NewEvaluator(params.Catalog, now),
		metrics:    params.Metrics,
		logg:       logg,
		ttl:        ttl,
		successURL: params.DefaultSuccessURL,
		cancelURL:  params.DefaultCancelURL,
		now:        now,
	}, nil
}

// StartCheckout opens a gateway checkout for a paid plan. It never changes
// subscription state; that happens when the payment is reconciled.
func (s *service) StartCheckout(ctx context.Context, req StartRequest) (*StartResult, error) {
	if req.OrganizationID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "organization id required")
	}
	plan, err := s.catalog.Resolve(req.PlanID)
	if err != nil {
		return nil, err
	}
	if plan.IsFree() {
		return nil, ErrNoPaymentRequired
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"organization_id": req.OrganizationID.String(),
		"plan_id":         plan.ID,
	})

	sub, err := s.subs.FindOrCreateDefault(ctx, req.OrganizationID, s.catalog.Free().ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	if sub.ExternalSubscriptionRef != nil && sub.Status.BillingLive() {
		return nil, ErrActiveSubscription.WithDetails(map[string]any{"plan_id": sub.PlanID})
	}

	existingCustomer := ""
	if sub.ExternalCustomerRef != nil {
		existingCustomer = *sub.ExternalCustomerRef
	}
	customerRef, err := s.gateway.EnsureCustomer(ctx, req.OrganizationID, existingCustomer)
	if err != nil {
		return nil, err
	}
	if customerRef != existingCustomer {
		if _, err := s.subs.SetCustomerRef(ctx, req.OrganizationID, customerRef); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store customer reference")
		}
	}

	gatewayKey := uuid.NewString()
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		gatewayKey = fmt.Sprintf("checkout-%s-%s", req.OrganizationID, key)
	}
	expiresAt := s.now().UTC().Add(s.ttl)
	session, err := s.gateway.CreateCheckoutSession(ctx, gateway.CheckoutRequest{
		OrganizationID: req.OrganizationID,
		Plan:           plan,
		CustomerRef:    customerRef,
		SuccessURL:     withSessionPlaceholder(firstNonEmpty(req.SuccessURL, s.successURL)),
		CancelURL:      firstNonEmpty(req.CancelURL, s.cancelURL),
		ExpiresAt:      expiresAt,
		IdempotencyKey: gatewayKey,
	})
	if err != nil {
		return nil, err
	}
	if !session.ExpiresAt.IsZero() {
		expiresAt = session.ExpiresAt
	}

	record := &models.CheckoutSession{
		SessionID:      session.ID,
		OrganizationID: req.OrganizationID,
		PlanID:         plan.ID,
		Status:         enums.CheckoutSessionStatusOpen,
		ExpiresAt:      expiresAt,
	}
	if err := s.repo.Create(ctx, record); err != nil && !pkgdb.IsUniqueViolation(err, "") {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist checkout session")
	}

	if s.metrics != nil {
		s.metrics.IncCheckout(plan.ID)
	}
	s.logg.Info(s.logg.WithField(ctx, "session_id", session.ID), "checkout session opened")
	return &StartResult{
		SessionID:   session.ID,
		RedirectURL: session.URL,
		PlanID:      plan.ID,
		ExpiresAt:   expiresAt,
	}, nil
}

// VerifyPayment applies a paid checkout on the client's return. It shares
// the webhook's idempotency key, so whichever path arrives second is a no-op.
func (s *service) VerifyPayment(ctx context.Context, orgID uuid.UUID, sessionID string) (*subscriptions.Snapshot, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session id required")
	}
	if orgID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "organization id required")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"organization_id": orgID.String(),
		"session_id":      sessionID,
	})

	local, err := s.repo.FindBySessionID(ctx, sessionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load checkout session")
	}
	if local != nil && local.OrganizationID != orgID {
		s.logg.Warn(ctx, "checkout session claimed by another organization")
		return nil, ErrSessionNotAuthorized
	}

	result, err := s.gateway.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	correlated, err := uuid.Parse(result.OrganizationID)
	if err != nil {
		s.logg.Warn(ctx, "checkout session without organization metadata")
		return nil, ErrMissingCorrelation
	}
	if correlated != orgID {
		s.logg.Warn(ctx, "checkout session claimed by another organization")
		return nil, ErrSessionNotAuthorized
	}
	if local != nil {
		if canonical, ok := s.catalog.Canonical(result.PlanID); !ok || canonical != local.PlanID {
			return nil, ErrMissingCorrelation.WithDetails(map[string]any{"reason": "plan differs from the opened checkout"})
		}
	}
	if !result.Paid {
		return nil, ErrPaymentNotConfirmed.WithDetails(map[string]any{"complete": result.Complete})
	}

	applied, err := s.applier.Apply(ctx, subscriptions.Transition{
		OrganizationID:    orgID,
		Kind:              subscriptions.KindCheckoutCompleted,
		Source:            enums.TransitionSourceVerify,
		IdempotencyKey:    subscriptions.CheckoutKey(sessionID),
		OccurredAt:        result.Created,
		PlanID:            result.PlanID,
		CustomerRef:       result.CustomerRef,
		SubscriptionRef:   result.SubscriptionRef,
		CheckoutSessionID: sessionID,
	})
	if err != nil {
		return nil, err
	}
	snapshot := subscriptions.BuildSnapshot(applied.Subscription, s.evaluator)
	return &snapshot, nil
}

func withSessionPlaceholder(successURL string) string {
	if successURL == "" || strings.Contains(successURL, gateway.SessionIDPlaceholder) {
		return successURL
	}
	sep := "?"
	if strings.Contains(successURL, "?") {
		sep = "&"
	}
	return successURL + sep + "session_id=" + gateway.SessionIDPlaceholder
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
