package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/feastline/api/internal/domain"
	"github.com/feastline/api/internal/platform/auth"
	"github.com/feastline/api/internal/platform/httpx"
	"github.com/feastline/api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
)

// OrderHandlers exposes the order lifecycle endpoints for authenticated users.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth())
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Get("/{orderID}/tracking", h.listTracking)
	r.Put("/{orderID}/status", h.advanceStatus)
	r.Post("/{orderID}/cancel", h.cancelOrder)
	r.Post("/{orderID}/reject", h.rejectOrder)
}

type createOrderItemRequest struct {
	FoodID   string `json:"food_id"`
	Quantity int    `json:"quantity"`
}

type createOrderRequest struct {
	ReceiverName    string                   `json:"receiver_name"`
	ReceiverPhone   string                   `json:"receiver_phone"`
	DeliveryAddress string                   `json:"delivery_address"`
	DeliveryZone    string                   `json:"delivery_zone"`
	DeliveryType    string                   `json:"delivery_type"`
	PaymentMethod   string                   `json:"payment_method"`
	Items           []createOrderItemRequest `json:"items"`
	CouponCode      string                   `json:"coupon_code"`
	PointsToUse     int64                    `json:"points_to_use"`
	DeliveryFee     int64                    `json:"delivery_fee"`
	Note            string                   `json:"note"`
}

type advanceStatusRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type rejectOrderRequest struct {
	Reason string `json:"reason"`
}

type orderItemResponse struct {
	FoodID    string `json:"food_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	Total     int64  `json:"total"`
}

type orderResponse struct {
	ID                   string              `json:"id"`
	UserID               string              `json:"user_id"`
	Status               string              `json:"status"`
	PaymentMethod        string              `json:"payment_method"`
	ReceiverName         string              `json:"receiver_name"`
	ReceiverPhone        string              `json:"receiver_phone"`
	DeliveryAddress      string              `json:"delivery_address"`
	DeliveryZone         string              `json:"delivery_zone,omitempty"`
	DeliveryType         string              `json:"delivery_type,omitempty"`
	Items                []orderItemResponse `json:"items"`
	Subtotal             int64               `json:"subtotal"`
	DeliveryFee          int64               `json:"delivery_fee"`
	DiscountAmount       int64               `json:"discount_amount"`
	PointsUsed           int64               `json:"points_used"`
	TotalPrice           int64               `json:"total_price"`
	CouponID             *string             `json:"coupon_id,omitempty"`
	GatewayTransactionID *string             `json:"gateway_transaction_id,omitempty"`
	RefundFlagged        bool                `json:"refund_flagged,omitempty"`
	Note                 *string             `json:"note,omitempty"`
	CancelReason         *string             `json:"cancel_reason,omitempty"`
	CreatedAt            time.Time           `json:"created_at"`
	UpdatedAt            time.Time           `json:"updated_at"`
	PaidAt               *time.Time          `json:"paid_at,omitempty"`
	CompletedAt          *time.Time          `json:"completed_at,omitempty"`
	CancelledAt          *time.Time          `json:"cancelled_at,omitempty"`
}

type trackingResponse struct {
	ID         string    `json:"id"`
	OrderID    string    `json:"order_id"`
	FromStatus string    `json:"from_status,omitempty"`
	ToStatus   string    `json:"to_status"`
	ActorID    string    `json:"actor_id,omitempty"`
	Note       string    `json:"note,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func toOrderResponse(order domain.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemResponse{
			FoodID:    item.FoodID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Total:     item.Total,
		})
	}
	return orderResponse{
		ID:                   order.ID,
		UserID:               order.UserID,
		Status:               string(order.Status),
		PaymentMethod:        string(order.PaymentMethod),
		ReceiverName:         order.ReceiverName,
		ReceiverPhone:        order.ReceiverPhone,
		DeliveryAddress:      order.DeliveryAddress,
		DeliveryZone:         order.DeliveryZone,
		DeliveryType:         order.DeliveryType,
		Items:                items,
		Subtotal:             order.Subtotal,
		DeliveryFee:          order.DeliveryFee,
		DiscountAmount:       order.DiscountAmount,
		PointsUsed:           order.PointsUsed,
		TotalPrice:           order.TotalPrice,
		CouponID:             order.CouponID,
		GatewayTransactionID: order.GatewayTransactionID,
		RefundFlagged:        order.RefundFlagged,
		Note:                 order.Note,
		CancelReason:         order.CancelReason,
		CreatedAt:            order.CreatedAt,
		UpdatedAt:            order.UpdatedAt,
		PaidAt:               order.PaidAt,
		CompletedAt:          order.CompletedAt,
		CancelledAt:          order.CancelledAt,
	}
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
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

	var req createOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	items := make([]services.CreateOrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.CreateOrderItem{
			FoodID:   strings.TrimSpace(item.FoodID),
			Quantity: item.Quantity,
		})
	}

	cmd := services.CreateOrderCommand{
		Actor:           actorFor(identity),
		UserID:          identity.UID,
		ReceiverName:    strings.TrimSpace(req.ReceiverName),
		ReceiverPhone:   strings.TrimSpace(req.ReceiverPhone),
		DeliveryAddress: strings.TrimSpace(req.DeliveryAddress),
		DeliveryZone:    strings.TrimSpace(req.DeliveryZone),
		DeliveryType:    strings.TrimSpace(req.DeliveryType),
		PaymentMethod:   domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(req.PaymentMethod))),
		Items:           items,
		CouponCode:      strings.TrimSpace(req.CouponCode),
		PointsToUse:     req.PointsToUse,
		DeliveryFee:     req.DeliveryFee,
		Note:            strings.TrimSpace(req.Note),
	}

	order, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, toOrderResponse(order))
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	query := r.URL.Query()

	var statuses []domain.OrderStatus
	for _, raw := range query["status"] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				statuses = append(statuses, domain.OrderStatus(part))
			}
		}
	}

	limit := defaultOrderPageSize
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be a positive integer", http.StatusBadRequest))
			return
		}
		if parsed > maxOrderPageSize {
			parsed = maxOrderPageSize
		}
		limit = parsed
	}

	q := services.ListOrdersQuery{
		Actor:  actorFor(identity),
		UserID: strings.TrimSpace(query.Get("user_id")),
		Status: statuses,
		Limit:  limit,
	}

	orders, err := h.orders.ListOrders(ctx, q)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	out := make([]orderResponse, 0, len(orders))
	for _, order := range orders {
		out = append(out, toOrderResponse(order))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"orders": out})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, services.GetOrderQuery{Actor: actorFor(identity), OrderID: orderID})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, toOrderResponse(order))
}

func (h *OrderHandlers) rejectOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	body, err := readJSONBody(r, maxRequestBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req rejectOrderRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
			return
		}
	}

	order, err := h.orders.Reject(ctx, services.RejectOrderCommand{
		Actor:   actorFor(identity),
		OrderID: orderID,
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, toOrderResponse(order))
}

func (h *OrderHandlers) listTracking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	entries, err := h.orders.ListTracking(ctx, services.GetOrderQuery{Actor: actorFor(identity), OrderID: orderID})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	out := make([]trackingResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, trackingResponse{
			ID:         entry.ID,
			OrderID:    entry.OrderID,
			FromStatus: string(entry.FromStatus),
			ToStatus:   string(entry.ToStatus),
			ActorID:    entry.Actor,
			Note:       entry.Note,
			CreatedAt:  entry.CreatedAt,
		})
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"tracking": out})
}

func (h *OrderHandlers) advanceStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	body, err := readJSONBody(r, maxRequestBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req advanceStatusRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	status := domain.OrderStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if status == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.AdvanceStatus(ctx, services.AdvanceStatusCommand{
		Actor:   actorFor(identity),
		OrderID: orderID,
		Status:  status,
		Note:    strings.TrimSpace(req.Note),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, toOrderResponse(order))
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	body, err := readJSONBody(r, maxRequestBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req cancelOrderRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
			return
		}
	}

	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		Actor:   actorFor(identity),
		OrderID: orderID,
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, toOrderResponse(order))
}
