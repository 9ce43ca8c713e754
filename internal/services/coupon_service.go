package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/feastline/api/internal/domain"
	"github.com/feastline/api/internal/repositories"
)

const couponUsageIDPrefix = "use_"

// CouponServiceDeps bundles collaborators required to construct the coupon service.
type CouponServiceDeps struct {
	Coupons     repositories.CouponRepository
	Usages      repositories.CouponUsageRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type couponService struct {
	coupons repositories.CouponRepository
	usages  repositories.CouponUsageRepository
	clock   func() time.Time
	newID   func() string
	logger  func(context.Context, string, map[string]any)
}

// NewCouponService wires dependencies into a concrete CouponService implementation.
func NewCouponService(deps CouponServiceDeps) (CouponService, error) {
	if deps.Coupons == nil {
		return nil, errors.New("coupon service: coupon repository is required")
	}
	if deps.Usages == nil {
		return nil, errors.New("coupon service: usage repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &couponService{
		coupons: deps.Coupons,
		usages:  deps.Usages,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// Quote validates eligibility and computes the discount without mutating the
// usage counter. Checks run against the date window and counters directly, so a
// stale swept status never produces an incorrect accept.
func (s *couponService) Quote(ctx context.Context, cmd CouponQuoteCommand) (CouponQuote, error) {
	code := strings.TrimSpace(cmd.Code)
	if code == "" {
		return CouponQuote{}, fmt.Errorf("%w: code is required", ErrCouponInvalidInput)
	}
	if strings.TrimSpace(cmd.UserID) == "" {
		return CouponQuote{}, fmt.Errorf("%w: user id is required", ErrCouponInvalidInput)
	}
	if cmd.OrderAmount <= 0 {
		return CouponQuote{}, fmt.Errorf("%w: order amount must be positive", ErrCouponInvalidInput)
	}

	coupon, err := s.coupons.FindByCode(ctx, code)
	if err != nil {
		return CouponQuote{}, s.mapRepositoryError(err)
	}

	if coupon.Status == domain.CouponStatusDisabled {
		return CouponQuote{}, fmt.Errorf("%w: %s", ErrCouponNotFound, code)
	}

	now := s.clock()
	if now.Before(coupon.StartsAt) || !now.Before(coupon.EndsAt) {
		return CouponQuote{}, fmt.Errorf("%w: %s", ErrCouponExpired, code)
	}
	if coupon.UsedCount >= coupon.MaxUsage {
		return CouponQuote{}, fmt.Errorf("%w: %s", ErrCouponUsedOut, code)
	}
	if cmd.OrderAmount < coupon.MinOrderAmount {
		return CouponQuote{}, fmt.Errorf("%w: requires at least %d", ErrCouponMinOrderNotMet, coupon.MinOrderAmount)
	}
	if !couponApplies(coupon, cmd.FoodIDs, cmd.CategoryIDs) {
		return CouponQuote{}, fmt.Errorf("%w: %s", ErrCouponNotApplicable, code)
	}
	if coupon.Type == domain.CouponTypePrivate && !slices.Contains(coupon.UserIDs, cmd.UserID) {
		return CouponQuote{}, fmt.Errorf("%w: %s", ErrCouponNotAllowedForUser, code)
	}

	if coupon.MaxUsagePerUser > 0 {
		used, err := s.usages.CountByUser(ctx, coupon.ID, cmd.UserID)
		if err != nil {
			return CouponQuote{}, s.mapRepositoryError(err)
		}
		if used >= int64(coupon.MaxUsagePerUser) {
			return CouponQuote{}, fmt.Errorf("%w: %s", ErrCouponPerUserLimitReached, code)
		}
	}

	return CouponQuote{
		CouponID:       coupon.ID,
		Code:           coupon.Code,
		DiscountAmount: discountFor(coupon, cmd.OrderAmount),
	}, nil
}

// Reserve takes one usage slot via a compare-and-increment update. A false
// result from the repository means a concurrent checkout won the last slot.
func (s *couponService) Reserve(ctx context.Context, couponID string) error {
	couponID = strings.TrimSpace(couponID)
	if couponID == "" {
		return fmt.Errorf("%w: coupon id is required", ErrCouponInvalidInput)
	}

	reserved, err := s.coupons.ReserveUsage(ctx, couponID)
	if err != nil {
		return s.mapRepositoryError(err)
	}
	if !reserved {
		return fmt.Errorf("%w: %s", ErrCouponRaceLost, couponID)
	}
	return nil
}

// Commit records the settled application. A duplicate (couponID, orderID) pair
// is a replay and reports success without a second row.
func (s *couponService) Commit(ctx context.Context, cmd CouponCommitCommand) error {
	if strings.TrimSpace(cmd.CouponID) == "" || strings.TrimSpace(cmd.OrderID) == "" {
		return fmt.Errorf("%w: coupon id and order id are required", ErrCouponInvalidInput)
	}

	usage := domain.CouponUsage{
		ID:             couponUsageIDPrefix + s.newID(),
		CouponID:       cmd.CouponID,
		UserID:         cmd.UserID,
		OrderID:        cmd.OrderID,
		DiscountAmount: cmd.DiscountAmount,
		CreatedAt:      s.clock(),
	}

	err := s.usages.Insert(ctx, usage)
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsConflict() {
		s.logger(ctx, "coupon.commit.replayed", map[string]any{
			"coupon": cmd.CouponID,
			"order":  cmd.OrderID,
		})
		return nil
	}
	return s.mapRepositoryError(err)
}

// Release returns a reserved slot. Once the reservation was committed for the
// order it is a no-op; the counter never drops below zero.
func (s *couponService) Release(ctx context.Context, couponID, orderID string) error {
	couponID = strings.TrimSpace(couponID)
	if couponID == "" {
		return fmt.Errorf("%w: coupon id is required", ErrCouponInvalidInput)
	}

	if orderID != "" {
		_, err := s.usages.FindByOrder(ctx, couponID, orderID)
		if err == nil {
			s.logger(ctx, "coupon.release.skipped_committed", map[string]any{
				"coupon": couponID,
				"order":  orderID,
			})
			return nil
		}
		var repoErr repositories.RepositoryError
		if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
			return s.mapRepositoryError(err)
		}
	}

	if err := s.coupons.ReleaseUsage(ctx, couponID); err != nil {
		return s.mapRepositoryError(err)
	}
	return nil
}

func (s *couponService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCouponNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("coupon: repository unavailable: %w", err)
		}
	}
	return err
}

// discountFor computes the discount in the currency's smallest unit. Percent
// discounts round half-to-even and cap at the coupon's maximum; the result never
// exceeds the order amount.
func discountFor(coupon domain.Coupon, orderAmount int64) int64 {
	var discount int64
	switch coupon.DiscountType {
	case domain.DiscountTypePercent:
		discount = domain.PercentOf(orderAmount, coupon.DiscountValue)
		if coupon.MaxDiscountAmount > 0 && discount > coupon.MaxDiscountAmount {
			discount = coupon.MaxDiscountAmount
		}
	case domain.DiscountTypeFixed:
		discount = coupon.DiscountValue
	}
	return domain.ClampDiscount(discount, orderAmount)
}

// couponApplies checks the food/category restriction lists. Empty lists mean no
// restriction.
func couponApplies(coupon domain.Coupon, foodIDs, categoryIDs []string) bool {
	if len(coupon.FoodIDs) == 0 && len(coupon.CategoryIDs) == 0 {
		return true
	}
	for _, id := range foodIDs {
		if slices.Contains(coupon.FoodIDs, id) {
			return true
		}
	}
	for _, id := range categoryIDs {
		if slices.Contains(coupon.CategoryIDs, id) {
			return true
		}
	}
	return false
}
