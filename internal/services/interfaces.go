package services

import (
	"context"

	domain "github.com/feastline/api/internal/domain"
	"github.com/feastline/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order         = domain.Order
	OrderItem     = domain.OrderItem
	OrderStatus   = domain.OrderStatus
	OrderTracking = domain.OrderTracking
	Coupon        = domain.Coupon
	CouponUsage   = domain.CouponUsage
	RewardPoint   = domain.RewardPoint
	PointHistory  = domain.PointHistory
	PaymentMethod = domain.PaymentMethod
)

// CouponService is the coupon ledger: eligibility checks, discount quoting, and
// the reserve/commit/release usage protocol.
type CouponService interface {
	Quote(ctx context.Context, cmd CouponQuoteCommand) (CouponQuote, error)
	Reserve(ctx context.Context, couponID string) error
	Commit(ctx context.Context, cmd CouponCommitCommand) error
	Release(ctx context.Context, couponID, orderID string) error
}

// CouponQuoteCommand carries the order context a coupon is evaluated against.
type CouponQuoteCommand struct {
	Code        string
	UserID      string
	OrderAmount int64
	FoodIDs     []string
	CategoryIDs []string
}

// CouponQuote is the result of a successful eligibility check.
type CouponQuote struct {
	CouponID       string
	Code           string
	DiscountAmount int64
}

// CouponCommitCommand records a settled coupon application.
type CouponCommitCommand struct {
	CouponID       string
	UserID         string
	OrderID        string
	DiscountAmount int64
}

// PointsService is the reward points ledger: cached balance plus append-only
// history, with per-user serialization and per-operation idempotency.
type PointsService interface {
	GetBalance(ctx context.Context, userID string) (RewardPoint, error)
	History(ctx context.Context, userID string, limit int) ([]PointHistory, error)
	Earn(ctx context.Context, cmd PointsCommand) (PointHistory, error)
	Use(ctx context.Context, cmd PointsCommand) (PointHistory, error)
	Refund(ctx context.Context, cmd PointsCommand) (PointHistory, error)
}

// PointsCommand identifies one balance movement. OrderID doubles as the
// idempotency key together with the operation type.
type PointsCommand struct {
	UserID      string
	OrderID     string
	Amount      int64
	Description string
}

// OrderService owns the order lifecycle state machine and coordinates the
// coupon ledger, points ledger, and payment gateway adapter.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, q GetOrderQuery) (Order, error)
	ListOrders(ctx context.Context, q ListOrdersQuery) ([]Order, error)
	ListTracking(ctx context.Context, q GetOrderQuery) ([]OrderTracking, error)
	InitiatePayment(ctx context.Context, cmd InitiatePaymentCommand) (PaymentInitiation, error)
	HandlePaymentCallback(ctx context.Context, cmd PaymentCallbackCommand) (CallbackOutcome, error)
	AdvanceStatus(ctx context.Context, cmd AdvanceStatusCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	Reject(ctx context.Context, cmd RejectOrderCommand) (Order, error)
}

// CreateOrderCommand captures a checkout request.
type CreateOrderCommand struct {
	Actor           Actor
	UserID          string
	ReceiverName    string
	ReceiverPhone   string
	DeliveryAddress string
	DeliveryZone    string
	DeliveryType    string
	PaymentMethod   PaymentMethod
	Items           []CreateOrderItem
	CouponCode      string
	PointsToUse     int64
	DeliveryFee     int64
	Note            string
}

// CreateOrderItem is one requested line item; the unit price is snapshotted
// from the catalog, never taken from the client.
type CreateOrderItem struct {
	FoodID   string
	Quantity int
}

// GetOrderQuery addresses a single order on behalf of an actor.
type GetOrderQuery struct {
	Actor   Actor
	OrderID string
}

// ListOrdersQuery narrows an order listing. Customers are always scoped to
// their own orders regardless of UserID.
type ListOrdersQuery struct {
	Actor  Actor
	UserID string
	Status []OrderStatus
	Limit  int
}

// InitiatePaymentCommand starts payment collection for an order.
type InitiatePaymentCommand struct {
	Actor   Actor
	OrderID string
}

// PaymentInitiation is returned to the client to continue payment.
type PaymentInitiation struct {
	OrderID              string
	Status               OrderStatus
	Gateway              string
	PaymentURL           string
	GatewayTransactionID string
}

// PaymentCallbackCommand carries a raw gateway webhook for settlement.
type PaymentCallbackCommand struct {
	Gateway string
	Payload []byte
}

// CallbackOutcome reports how a webhook was settled.
type CallbackOutcome struct {
	OrderID string
	Status  OrderStatus
	Replay  bool
}

// AdvanceStatusCommand is the staff-driven linear progression request.
type AdvanceStatusCommand struct {
	Actor   Actor
	OrderID string
	Status  OrderStatus
	Note    string
}

// CancelOrderCommand cancels a non-terminal order.
type CancelOrderCommand struct {
	Actor   Actor
	OrderID string
	Reason  string
}

// RejectOrderCommand is the staff refusal of an order that has not been paid.
type RejectOrderCommand struct {
	Actor   Actor
	OrderID string
	Reason  string
}

// UnitOfWork re-exports the repository transaction boundary for dependency wiring.
type UnitOfWork = repositories.UnitOfWork
