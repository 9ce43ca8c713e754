package services

import "errors"

var (
	// ErrCouponInvalidInput signals the caller provided invalid coupon data.
	ErrCouponInvalidInput = errors.New("coupon: invalid input")
	// ErrCouponNotFound indicates no redeemable coupon exists for the code.
	ErrCouponNotFound = errors.New("coupon: not found")
	// ErrCouponExpired indicates the current time is outside the coupon's window.
	ErrCouponExpired = errors.New("coupon: expired")
	// ErrCouponUsedOut indicates the global usage cap has been reached.
	ErrCouponUsedOut = errors.New("coupon: used out")
	// ErrCouponMinOrderNotMet indicates the order amount is below the coupon's floor.
	ErrCouponMinOrderNotMet = errors.New("coupon: minimum order amount not met")
	// ErrCouponNotApplicable indicates no order item matches the coupon's restrictions.
	ErrCouponNotApplicable = errors.New("coupon: not applicable to order items")
	// ErrCouponNotAllowedForUser indicates a private coupon excludes this user.
	ErrCouponNotAllowedForUser = errors.New("coupon: not allowed for user")
	// ErrCouponPerUserLimitReached indicates the user exhausted their personal cap.
	ErrCouponPerUserLimitReached = errors.New("coupon: per-user limit reached")
	// ErrCouponRaceLost indicates a concurrent checkout took the last usage slot.
	ErrCouponRaceLost = errors.New("coupon: lost reservation race")
)
