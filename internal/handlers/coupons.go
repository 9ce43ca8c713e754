package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/feastline/api/internal/platform/auth"
	"github.com/feastline/api/internal/platform/httpx"
	"github.com/feastline/api/internal/services"
)

// CouponHandlers exposes coupon eligibility checks to authenticated users.
type CouponHandlers struct {
	authn   *auth.Authenticator
	coupons services.CouponService
}

// NewCouponHandlers constructs a new CouponHandlers instance.
func NewCouponHandlers(authn *auth.Authenticator, coupons services.CouponService) *CouponHandlers {
	return &CouponHandlers{
		authn:   authn,
		coupons: coupons,
	}
}

// Routes registers the /coupons endpoints.
func (h *CouponHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth())
	}
	r.Post("/quote", h.quote)
}

type couponQuoteRequest struct {
	Code        string   `json:"code"`
	OrderAmount int64    `json:"order_amount"`
	FoodIDs     []string `json:"food_ids"`
	CategoryIDs []string `json:"category_ids"`
}

type couponQuoteResponse struct {
	CouponID       string `json:"coupon_id"`
	Code           string `json:"code"`
	DiscountAmount int64  `json:"discount_amount"`
}

// quote evaluates a coupon against a prospective order without consuming a use.
func (h *CouponHandlers) quote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	body, err := readJSONBody(r, maxRequestBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req couponQuoteRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	code := strings.TrimSpace(req.Code)
	if code == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "code is required", http.StatusBadRequest))
		return
	}

	quote, err := h.coupons.Quote(ctx, services.CouponQuoteCommand{
		Code:        code,
		UserID:      identity.UID,
		OrderAmount: req.OrderAmount,
		FoodIDs:     req.FoodIDs,
		CategoryIDs: req.CategoryIDs,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, couponQuoteResponse{
		CouponID:       quote.CouponID,
		Code:           quote.Code,
		DiscountAmount: quote.DiscountAmount,
	})
}
