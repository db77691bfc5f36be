package subscriptions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/orgplans-backend/pkg/db/models"
	"github.com/angelmondragon/orgplans-backend/pkg/enums"
	"github.com/angelmondragon/orgplans-backend/pkg/pagination"
)

const appliedEventsUniqueIndex = "ux_applied_billing_events_org_key"

// Repository is the subscription store. Every state change goes through
// CompareAndUpdate so concurrent writers cannot lose each other's updates.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByOrganization(ctx context.Context, orgID uuid.UUID) (*models.OrgSubscription, error)
	FindOrCreateDefault(ctx context.Context, orgID uuid.UUID, freePlanID string) (*models.OrgSubscription, error)
	FindByCustomerRef(ctx context.Context, customerRef string) (*models.OrgSubscription, error)
	FindBySubscriptionRef(ctx context.Context, subscriptionRef string) (*models.OrgSubscription, error)
	CompareAndUpdate(ctx context.Context, next *models.OrgSubscription, expectedVersion int64) (bool, error)
	SetCustomerRef(ctx context.Context, orgID uuid.UUID, customerRef string) (bool, error)
	DecrementPackUnit(ctx context.Context, orgID uuid.UUID, now time.Time) (bool, error)
	ListForResync(ctx context.Context, limit int, updatedBefore time.Time) ([]models.OrgSubscription, error)
	HasApplied(ctx context.Context, orgID uuid.UUID, idempotencyKey string) (bool, error)
	RecordApplied(ctx context.Context, entry *models.AppliedBillingEvent) error
	ListApplied(ctx context.Context, orgID uuid.UUID, params pagination.Params) ([]models.AppliedBillingEvent, string, error)
	ConsumeCheckoutSession(ctx context.Context, sessionID string, at time.Time) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a subscription repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) findOne(ctx context.Context, query string, args ...any) (*models.OrgSubscription, error) {
	var sub models.OrgSubscription
	if err := r.db.WithContext(ctx).Where(query, args...).First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) FindByOrganization(ctx context.Context, orgID uuid.UUID) (*models.OrgSubscription, error) {
	return r.findOne(ctx, "organization_id = ?", orgID)
}

// FindOrCreateDefault lazily provisions the free-plan record the first time an organization is seen.
func (r *repository) FindOrCreateDefault(ctx context.Context, orgID uuid.UUID, freePlanID string) (*models.OrgSubscription, error) {
	existing, err := r.FindByOrganization(ctx, orgID)
	if err != nil || existing != nil {
		return existing, err
	}
	seed := models.OrgSubscription{
		OrganizationID: orgID,
		PlanID:         freePlanID,
		Status:         enums.SubscriptionStatusActive,
	}
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "organization_id"}}, DoNothing: true}).
		Create(&seed).Error; err != nil {
		return nil, err
	}
	return r.FindByOrganization(ctx, orgID)
}

func (r *repository) FindByCustomerRef(ctx context.Context, customerRef string) (*models.OrgSubscription, error) {
	if customerRef == "" {
		return nil, nil
	}
	return r.findOne(ctx, "external_customer_ref = ?", customerRef)
}

func (r *repository) FindBySubscriptionRef(ctx context.Context, subscriptionRef string) (*models.OrgSubscription, error) {
	if subscriptionRef == "" {
		return nil, nil
	}
	return r.findOne(ctx, "external_subscription_ref = ?", subscriptionRef)
}

// CompareAndUpdate writes next only when the stored version still equals expectedVersion.
func (r *repository) CompareAndUpdate(ctx context.Context, next *models.OrgSubscription, expectedVersion int64) (bool, error) {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).
		Model(&models.OrgSubscription{}).
		Where("organization_id = ? AND version = ?", next.OrganizationID, expectedVersion).
		Updates(map[string]any{
			"plan_id":                   next.PlanID,
			"status":                    next.Status,
			"external_customer_ref":     next.ExternalCustomerRef,
			"external_subscription_ref": next.ExternalSubscriptionRef,
			"current_period_end":        next.CurrentPeriodEnd,
			"package_expiry":            next.PackageExpiry,
			"remaining_pack_units":      next.RemainingPackUnits,
			"last_applied_event_id":     next.LastAppliedEventID,
			"last_gateway_event_at":     next.LastGatewayEventAt,
			"version":                   expectedVersion + 1,
			"updated_at":                now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	next.Version = expectedVersion + 1
	next.UpdatedAt = now
	return true, nil
}

// SetCustomerRef records the gateway customer once; an existing ref is never overwritten.
func (r *repository) SetCustomerRef(ctx context.Context, orgID uuid.UUID, customerRef string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.OrgSubscription{}).
		Where("organization_id = ? AND external_customer_ref IS NULL", orgID).
		Updates(map[string]any{
			"external_customer_ref": customerRef,
			"version":               gorm.Expr("version + 1"),
			"updated_at":            time.Now().UTC(),
		})
	return res.RowsAffected > 0, res.Error
}

// DecrementPackUnit atomically uses one pack unit while the pack is unexpired and not exhausted.
func (r *repository) DecrementPackUnit(ctx context.Context, orgID uuid.UUID, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.OrgSubscription{}).
		Where("organization_id = ?", orgID).
		Where("remaining_pack_units > 0").
		Where("package_expiry IS NULL OR package_expiry > ?", now).
		Updates(map[string]any{
			"remaining_pack_units": gorm.Expr("remaining_pack_units - 1"),
			"version":              gorm.Expr("version + 1"),
			"updated_at":           now,
		})
	return res.RowsAffected > 0, res.Error
}

// ListForResync returns gateway-backed subscriptions not touched since updatedBefore, oldest first.
func (r *repository) ListForResync(ctx context.Context, limit int, updatedBefore time.Time) ([]models.OrgSubscription, error) {
	if limit <= 0 {
		limit = 200
	}
	var subs []models.OrgSubscription
	err := r.db.WithContext(ctx).
		Where("external_subscription_ref IS NOT NULL AND external_subscription_ref <> ''").
		Where("status IN ?", enums.BillingLiveStatuses()).
		Where("updated_at < ?", updatedBefore).
		Order("updated_at ASC").
		Limit(limit).
		Find(&subs).Error
	return subs, err
}

func (r *repository) HasApplied(ctx context.Context, orgID uuid.UUID, idempotencyKey string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.AppliedBillingEvent{}).
		Where("organization_id = ? AND idempotency_key = ?", orgID, idempotencyKey).
		Count(&count).Error
	return count > 0, err
}

func (r *repository) RecordApplied(ctx context.Context, entry *models.AppliedBillingEvent) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// ListApplied pages through applied keys newest first and returns the next cursor.
func (r *repository) ListApplied(ctx context.Context, orgID uuid.UUID, params pagination.Params) ([]models.AppliedBillingEvent, string, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, "", err
	}
	query := r.db.WithContext(ctx).Where("organization_id = ?", orgID)
	if cursor != nil {
		query = query.Where("applied_at < ? OR (applied_at = ? AND id < ?)", cursor.At, cursor.At, cursor.ID)
	}
	var rows []models.AppliedBillingEvent
	if err := query.
		Order("applied_at DESC").
		Order("id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit)).
		Find(&rows).Error; err != nil {
		return nil, "", err
	}
	rows, next := pagination.Trim(rows, params.Limit, func(e models.AppliedBillingEvent) pagination.Cursor {
		return pagination.Cursor{At: e.AppliedAt, ID: e.ID}
	})
	return rows, next, nil
}

// ConsumeCheckoutSession closes the correlation record; unknown sessions are ignored.
func (r *repository) ConsumeCheckoutSession(ctx context.Context, sessionID string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.CheckoutSession{}).
		Where("session_id = ? AND status <> ?", sessionID, enums.CheckoutSessionStatusConsumed).
		Updates(map[string]any{
			"status":      enums.CheckoutSessionStatusConsumed,
			"consumed_at": at,
		}).Error
}
