package gormrepo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	domain "github.com/feastline/api/internal/domain"
	"github.com/feastline/api/internal/repositories"
)

// CouponRepository implements coupon storage with conditional counter updates.
type CouponRepository struct {
	db *gorm.DB
}

// NewCouponRepository wires the MySQL coupon repository.
func NewCouponRepository(db *gorm.DB) (*CouponRepository, error) {
	if db == nil {
		return nil, errors.New("gormrepo: db is required")
	}
	return &CouponRepository{db: db}, nil
}

// FindByCode loads a coupon by its redemption code.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	var model couponModel
	err := dbFrom(ctx, r.db).Where("code = ?", code).First(&model).Error
	if err != nil {
		return domain.Coupon{}, translate("coupons.find_by_code", err)
	}
	return toDomainCoupon(model), nil
}

// FindByID loads a coupon by id.
func (r *CouponRepository) FindByID(ctx context.Context, couponID string) (domain.Coupon, error) {
	var model couponModel
	err := dbFrom(ctx, r.db).Where("id = ?", couponID).First(&model).Error
	if err != nil {
		return domain.Coupon{}, translate("coupons.find", err)
	}
	return toDomainCoupon(model), nil
}

// ReserveUsage increments used_count only while it is below max_usage. The
// guarded update is the race arbiter: zero rows affected means another request
// took the last slot.
func (r *CouponRepository) ReserveUsage(ctx context.Context, couponID string) (bool, error) {
	res := dbFrom(ctx, r.db).Model(&couponModel{}).
		Where("id = ? AND used_count < max_usage", couponID).
		UpdateColumn("used_count", gorm.Expr("used_count + 1"))
	if res.Error != nil {
		return false, translate("coupons.reserve", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ReleaseUsage decrements used_count, never below zero.
func (r *CouponRepository) ReleaseUsage(ctx context.Context, couponID string) error {
	res := dbFrom(ctx, r.db).Model(&couponModel{}).
		Where("id = ? AND used_count > 0", couponID).
		UpdateColumn("used_count", gorm.Expr("used_count - 1"))
	if res.Error != nil {
		return translate("coupons.release", res.Error)
	}
	return nil
}

// MarkExpired flips active coupons whose window has closed. Used by the sweeper;
// eligibility checks never trust the cached status alone.
func (r *CouponRepository) MarkExpired(ctx context.Context, now time.Time) (int64, error) {
	res := dbFrom(ctx, r.db).Model(&couponModel{}).
		Where("status = ? AND ends_at < ?", string(domain.CouponStatusActive), now).
		UpdateColumn("status", string(domain.CouponStatusExpired))
	if res.Error != nil {
		return 0, translate("coupons.mark_expired", res.Error)
	}
	return res.RowsAffected, nil
}

// MarkUsedOut flips active coupons whose counter reached max_usage.
func (r *CouponRepository) MarkUsedOut(ctx context.Context) (int64, error) {
	res := dbFrom(ctx, r.db).Model(&couponModel{}).
		Where("status = ? AND used_count >= max_usage", string(domain.CouponStatusActive)).
		UpdateColumn("status", string(domain.CouponStatusUsedOut))
	if res.Error != nil {
		return 0, translate("coupons.mark_used_out", res.Error)
	}
	return res.RowsAffected, nil
}

// CouponUsageRepository records committed coupon applications.
type CouponUsageRepository struct {
	db *gorm.DB
}

// NewCouponUsageRepository wires the MySQL coupon usage repository.
func NewCouponUsageRepository(db *gorm.DB) (*CouponUsageRepository, error) {
	if db == nil {
		return nil, errors.New("gormrepo: db is required")
	}
	return &CouponUsageRepository{db: db}, nil
}

// Insert appends a usage row. The unique (coupon_id, order_id) index makes a
// replayed commit surface as a conflict.
func (r *CouponUsageRepository) Insert(ctx context.Context, usage domain.CouponUsage) error {
	model := couponUsageModel{
		ID:             usage.ID,
		CouponID:       usage.CouponID,
		OrderID:        usage.OrderID,
		UserID:         usage.UserID,
		DiscountAmount: usage.DiscountAmount,
		CreatedAt:      usage.CreatedAt,
	}
	if err := dbFrom(ctx, r.db).Create(&model).Error; err != nil {
		return translate("coupon_usages.insert", err)
	}
	return nil
}

// FindByOrder loads the usage row for a (coupon, order) pair.
func (r *CouponUsageRepository) FindByOrder(ctx context.Context, couponID, orderID string) (domain.CouponUsage, error) {
	var model couponUsageModel
	err := dbFrom(ctx, r.db).Where("coupon_id = ? AND order_id = ?", couponID, orderID).First(&model).Error
	if err != nil {
		return domain.CouponUsage{}, translate("coupon_usages.find", err)
	}
	return domain.CouponUsage{
		ID:             model.ID,
		CouponID:       model.CouponID,
		UserID:         model.UserID,
		OrderID:        model.OrderID,
		DiscountAmount: model.DiscountAmount,
		CreatedAt:      model.CreatedAt,
	}, nil
}

// CountByUser counts committed usages of a coupon by one user.
func (r *CouponUsageRepository) CountByUser(ctx context.Context, couponID, userID string) (int64, error) {
	var count int64
	err := dbFrom(ctx, r.db).Model(&couponUsageModel{}).
		Where("coupon_id = ? AND user_id = ?", couponID, userID).
		Count(&count).Error
	if err != nil {
		return 0, translate("coupon_usages.count", err)
	}
	return count, nil
}

var _ repositories.CouponRepository = (*CouponRepository)(nil)
var _ repositories.CouponUsageRepository = (*CouponUsageRepository)(nil)
