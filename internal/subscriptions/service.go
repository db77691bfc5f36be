package subscriptions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/orgplans-backend/internal/entitlements"
	"github.com/angelmondragon/orgplans-backend/pkg/db/models"
	"github.com/angelmondragon/orgplans-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orgplans-backend/pkg/errors"
	"github.com/angelmondragon/orgplans-backend/pkg/logger"
	"github.com/angelmondragon/orgplans-backend/pkg/pagination"
)

var (
	ErrEntitlementInvalid = pkgerrors.New(pkgerrors.CodeStateConflict, "entitlement is not valid")
	ErrPackExhausted      = pkgerrors.New(pkgerrors.CodeStateConflict, "no pack units remaining")
	ErrNoBillingCustomer  = pkgerrors.New(pkgerrors.CodeStateConflict, "organization has no billing customer yet")
)

// BillingGateway is the part of the payment gateway the organization-facing
// surface needs: stopping recurring billing and opening the self-service portal.
type BillingGateway interface {
	CancelSubscription(ctx context.Context, subscriptionRef string) error
	CreatePortalSession(ctx context.Context, customerRef, returnURL string) (string, error)
}

// Service defines the organization-facing subscription surface.
type Service interface {
	Snapshot(ctx context.Context, orgID uuid.UUID) (*Snapshot, error)
	Cancel(ctx context.Context, orgID uuid.UUID) (*Snapshot, error)
	ConsumeUnit(ctx context.Context, orgID uuid.UUID) (*Snapshot, error)
	History(ctx context.Context, orgID uuid.UUID, params pagination.Params) (*HistoryPage, error)
	Portal(ctx context.Context, orgID uuid.UUID, returnURL string) (string, error)
}

// ServiceParams groups dependencies for the subscription service.
type ServiceParams struct {
	DB      txRunner
	Repo    Repository
	Catalog planResolver
	Applier *Applier
	Gateway BillingGateway
	Logger  *logger.Logger
	Now     func() time.Time
}

type service struct {
	db        txRunner
	repo      Repository
	catalog   planResolver
	applier   *Applier
	gateway   BillingGateway
	evaluator *entitlements.Evaluator
	logg      *logger.Logger
	now       func() time.Time
}

// NewService builds a subscription service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("subscription repository required")
	}
	if params.Catalog == nil {
		return nil, fmt.Errorf("plan catalog required")
	}
	if params.Applier == nil {
		return nil, fmt.Errorf("transition applier required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		db:        params.DB,
		repo:      params.Repo,
		catalog:   params.Catalog,
		applier:   params.Applier,
		gateway:   params.Gateway,
		evaluator: entitlements.NewEvaluator(params.Catalog, now),
		logg:      logg,
		now:       now,
	}, nil
}

func (s *service) Snapshot(ctx context.Context, orgID uuid.UUID) (*Snapshot, error) {
	sub, err := s.repo.FindOrCreateDefault(ctx, orgID, s.catalog.Free().ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	snapshot := BuildSnapshot(*sub, s.evaluator)
	return &snapshot, nil
}

// Cancel stops gateway billing first and only then downgrades locally, so a
// gateway failure leaves the organization on its paid plan.
func (s *service) Cancel(ctx context.Context, orgID uuid.UUID) (*Snapshot, error) {
	ctx = s.logg.WithOrganizationID(ctx, orgID.String())
	sub, err := s.repo.FindOrCreateDefault(ctx, orgID, s.catalog.Free().ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}

	ref := ""
	if sub.ExternalSubscriptionRef != nil {
		ref = *sub.ExternalSubscriptionRef
	}
	if ref != "" {
		if err := s.gateway.CancelSubscription(ctx, ref); err != nil {
			s.logg.Error(s.logg.WithField(ctx, "subscription_ref", ref), "gateway cancellation failed", err)
			return nil, err
		}
	}

	result, err := s.applier.Apply(ctx, Transition{
		OrganizationID:  orgID,
		Kind:            KindSubscriptionEnded,
		Source:          enums.TransitionSourceCancel,
		IdempotencyKey:  CancelKey(ref, sub.Version),
		SubscriptionRef: ref,
	})
	if err != nil {
		return nil, err
	}
	snapshot := BuildSnapshot(result.Subscription, s.evaluator)
	return &snapshot, nil
}

// ConsumeUnit uses one billable unit. Pack plans decrement atomically;
// other plans only require a valid entitlement.
func (s *service) ConsumeUnit(ctx context.Context, orgID uuid.UUID) (*Snapshot, error) {
	var out models.OrgSubscription
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		sub, err := repo.FindOrCreateDefault(ctx, orgID, s.catalog.Free().ID)
		if err != nil {
			return err
		}
		plan, err := s.catalog.Resolve(sub.PlanID)
		if err != nil {
			return ErrEntitlementInvalid.WithDetails(entitlements.Verdict{Reason: entitlements.ReasonUnknownPlan})
		}
		now := s.now().UTC()
		verdict := entitlements.Evaluate(*sub, plan, now)
		if !verdict.Valid {
			if verdict.Reason == entitlements.ReasonPackExhausted {
				return ErrPackExhausted.WithDetails(verdict)
			}
			return ErrEntitlementInvalid.WithDetails(verdict)
		}
		if !plan.IsPack() {
			out = *sub
			return nil
		}
		ok, err := repo.DecrementPackUnit(ctx, orgID, now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrPackExhausted.WithDetails(entitlements.Verdict{Reason: entitlements.ReasonPackExhausted, NeedsRenewal: true})
		}
		updated, err := repo.FindByOrganization(ctx, orgID)
		if err != nil {
			return err
		}
		out = *updated
		return nil
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "consume unit")
	}
	snapshot := BuildSnapshot(out, s.evaluator)
	return &snapshot, nil
}

// HistoryPage is one page of applied transition keys, newest first.
type HistoryPage struct {
	Entries    []models.AppliedBillingEvent
	NextCursor string
}

func (s *service) History(ctx context.Context, orgID uuid.UUID, params pagination.Params) (*HistoryPage, error) {
	rows, next, err := s.repo.ListApplied(ctx, orgID, params)
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			return nil, typed
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list billing history")
	}
	return &HistoryPage{Entries: rows, NextCursor: next}, nil
}

// Portal returns a billing portal URL for organizations that already reached the gateway.
func (s *service) Portal(ctx context.Context, orgID uuid.UUID, returnURL string) (string, error) {
	sub, err := s.repo.FindOrCreateDefault(ctx, orgID, s.catalog.Free().ID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	if sub.ExternalCustomerRef == nil || *sub.ExternalCustomerRef == "" {
		return "", ErrNoBillingCustomer
	}
	url, err := s.gateway.CreatePortalSession(ctx, *sub.ExternalCustomerRef, returnURL)
	if err != nil {
		return "", err
	}
	s.logg.Info(s.logg.WithOrganizationID(ctx, orgID.String()), "billing portal session opened")
	return url, nil
}
