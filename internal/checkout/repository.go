package checkout

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/orgplans-backend/pkg/db/models"
	"github.com/angelmondragon/orgplans-backend/pkg/enums"
)

// Repository persists the correlation records written when a checkout starts.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, session *models.CheckoutSession) error
	FindBySessionID(ctx context.Context, sessionID string) (*models.CheckoutSession, error)
	ExpireOpenBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
	DeleteClosedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a checkout session repository backed by the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, session *models.CheckoutSession) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *repository) FindBySessionID(ctx context.Context, sessionID string) (*models.CheckoutSession, error) {
	var session models.CheckoutSession
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &session, nil
}

// ExpireOpenBefore marks up to limit open sessions past their gateway expiry as expired.
func (r *repository) ExpireOpenBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = 500
	}
	ids := r.db.WithContext(ctx).
		Model(&models.CheckoutSession{}).
		Select("session_id").
		Where("status = ? AND expires_at < ?", enums.CheckoutSessionStatusOpen, cutoff).
		Order("expires_at ASC").
		Limit(limit)

	res := r.db.WithContext(ctx).
		Model(&models.CheckoutSession{}).
		Where("session_id IN (?)", ids).
		Update("status", enums.CheckoutSessionStatusExpired)
	return res.RowsAffected, res.Error
}

// DeleteClosedBefore drops consumed or expired sessions created before cutoff.
func (r *repository) DeleteClosedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status <> ? AND created_at < ?", enums.CheckoutSessionStatusOpen, cutoff).
		Delete(&models.CheckoutSession{})
	return res.RowsAffected, res.Error
}
