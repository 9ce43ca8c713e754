package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/feastline/api/internal/payments"
	"github.com/feastline/api/internal/platform/httpx"
	"github.com/feastline/api/internal/services"
)

// serviceErrorMapping pins each service sentinel to its wire code and HTTP status.
// The upper-snake codes are part of the public API contract with mobile clients.
var serviceErrorMapping = []struct {
	err     error
	code    string
	message string
	status  int
}{
	{services.ErrForbidden, "forbidden", "actor may not perform this operation", http.StatusForbidden},
	{services.ErrOrderNotFound, "order_not_found", "order not found", http.StatusNotFound},
	{services.ErrOrderEmpty, "EMPTY_ORDER", "order must contain at least one item", http.StatusUnprocessableEntity},
	{services.ErrFoodNotAvailable, "FOOD_NOT_AVAILABLE", "one or more items are not available", http.StatusUnprocessableEntity},
	{services.ErrOrderInvalidState, "INVALID_STATUS_TRANSITION", "order status does not allow this operation", http.StatusConflict},
	{services.ErrOrderConflict, "order_conflict", "order was modified concurrently; retry", http.StatusConflict},
	{services.ErrUnsupportedPaymentMethod, "UNSUPPORTED_PAYMENT_METHOD", "payment method is not supported", http.StatusUnprocessableEntity},
	{services.ErrInvalidCallbackSignature, "INVALID_CALLBACK_SIGNATURE", "callback signature verification failed", http.StatusUnauthorized},
	{services.ErrCouponNotFound, "COUPON_NOT_FOUND", "coupon not found", http.StatusNotFound},
	{services.ErrCouponExpired, "COUPON_EXPIRED", "coupon is outside its validity window", http.StatusUnprocessableEntity},
	{services.ErrCouponUsedOut, "COUPON_USED_OUT", "coupon has no remaining uses", http.StatusUnprocessableEntity},
	{services.ErrCouponMinOrderNotMet, "COUPON_MIN_ORDER_NOT_MET", "order amount is below the coupon minimum", http.StatusUnprocessableEntity},
	{services.ErrCouponNotApplicable, "COUPON_NOT_APPLICABLE", "coupon does not apply to these items", http.StatusUnprocessableEntity},
	{services.ErrCouponNotAllowedForUser, "COUPON_NOT_ALLOWED_FOR_USER", "coupon is not available to this user", http.StatusUnprocessableEntity},
	{services.ErrCouponPerUserLimitReached, "COUPON_PER_USER_LIMIT_REACHED", "coupon per-user limit reached", http.StatusUnprocessableEntity},
	{services.ErrCouponRaceLost, "COUPON_RACE_LOST", "coupon was exhausted concurrently; retry without it", http.StatusConflict},
	{services.ErrPointsInvalidAmount, "INVALID_POINT_AMOUNT", "points amount must be positive", http.StatusUnprocessableEntity},
	{services.ErrPointsInsufficient, "INSUFFICIENT_POINTS", "not enough points for this operation", http.StatusUnprocessableEntity},
	{payments.ErrGatewayUnavailable, "gateway_unavailable", "payment gateway is unavailable; retry", http.StatusBadGateway},
	{services.ErrOrderInvalidInput, "invalid_request", "request is invalid", http.StatusBadRequest},
	{services.ErrCouponInvalidInput, "invalid_request", "request is invalid", http.StatusBadRequest},
	{services.ErrPointsInvalidInput, "invalid_request", "request is invalid", http.StatusBadRequest},
}

func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	for _, mapping := range serviceErrorMapping {
		if errors.Is(err, mapping.err) {
			wireErr := httpx.NewError(mapping.code, mapping.message, mapping.status)
			// Sentinel wrappers carry the offending value (coupon code,
			// status name); surface it so clients can show it.
			if detail := err.Error(); detail != mapping.err.Error() {
				wireErr = wireErr.WithDetails(map[string]any{"detail": detail})
			}
			httpx.WriteError(ctx, w, wireErr)
			return
		}
	}
	httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to process request", http.StatusInternalServerError))
}
