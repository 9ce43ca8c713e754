package domain

import "time"

// PaymentMethod enumerates the payment instruments a customer may choose at checkout.
type PaymentMethod string

const (
	PaymentMethodCOD     PaymentMethod = "COD"
	PaymentMethodMoMo    PaymentMethod = "MOMO"
	PaymentMethodZaloPay PaymentMethod = "ZALOPAY"
	PaymentMethodATM     PaymentMethod = "ATM"
	PaymentMethodVisa    PaymentMethod = "VISA"
)

// OrderStatus captures the order lifecycle state machine.
type OrderStatus string

const (
	OrderStatusCreated         OrderStatus = "created"
	OrderStatusAwaitingPayment OrderStatus = "awaiting_payment"
	OrderStatusPaid            OrderStatus = "paid"
	OrderStatusPaymentFailed   OrderStatus = "payment_failed"
	OrderStatusPreparing       OrderStatus = "preparing"
	OrderStatusDelivering      OrderStatus = "delivering"
	OrderStatusCompleted       OrderStatus = "completed"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
)

// IsTerminal reports whether the status admits no further transitions.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusCancelled, OrderStatusRejected:
		return true
	}
	return false
}

// DiscountType selects the coupon discount formula.
type DiscountType string

const (
	DiscountTypePercent DiscountType = "percent"
	DiscountTypeFixed   DiscountType = "fixed"
)

// CouponType distinguishes publicly redeemable coupons from user-restricted ones.
type CouponType string

const (
	CouponTypePublic  CouponType = "public"
	CouponTypePrivate CouponType = "private"
)

// CouponStatus is the cached lifecycle state maintained by the sweeper. Reserve
// correctness never depends on it; eligibility is checked against the date window
// and usage counters directly.
type CouponStatus string

const (
	CouponStatusActive   CouponStatus = "active"
	CouponStatusExpired  CouponStatus = "expired"
	CouponStatusUsedOut  CouponStatus = "used_out"
	CouponStatusDisabled CouponStatus = "disabled"
)

// CouponHoldState records what became of the usage slot an order reserved.
// It is the idempotency marker for release: only a held slot may be handed
// back, no matter how many cancellation or failure paths run.
type CouponHoldState string

const (
	CouponHoldNone      CouponHoldState = ""
	CouponHoldHeld      CouponHoldState = "held"
	CouponHoldReleased  CouponHoldState = "released"
	CouponHoldCommitted CouponHoldState = "committed"
)

// PointEntryType classifies reward point ledger entries.
type PointEntryType string

const (
	PointEntryEarn   PointEntryType = "earn"
	PointEntryUse    PointEntryType = "use"
	PointEntryRefund PointEntryType = "refund"
	PointEntryExpire PointEntryType = "expire"
)

// Order is the aggregate root of the checkout lifecycle. Items live and die with
// the order; coupon and points state are referenced by id only.
type Order struct {
	ID                   string
	UserID               string
	ReceiverName         string
	ReceiverPhone        string
	DeliveryAddress      string
	DeliveryZone         string
	DeliveryType         string
	PaymentMethod        PaymentMethod
	Status               OrderStatus
	Items                []OrderItem
	Subtotal             int64
	DeliveryFee          int64
	DiscountAmount       int64
	PointsUsed           int64
	TotalPrice           int64
	CouponID             *string
	CouponHold           CouponHoldState
	GatewayTransactionID *string
	RefundFlagged        bool
	Note                 *string
	CancelReason         *string
	CreatedAt            time.Time
	UpdatedAt            time.Time
	PaidAt               *time.Time
	CompletedAt          *time.Time
	CancelledAt          *time.Time
}

// OrderItem is an immutable line item with the unit price snapshotted at order time.
type OrderItem struct {
	ID        string
	OrderID   string
	FoodID    string
	Name      string
	Quantity  int
	UnitPrice int64
	Total     int64
}

// Food is the minimal catalog projection the order flow needs for validation and
// price snapshots. The full catalog surface lives outside this service.
type Food struct {
	ID         string
	Name       string
	Price      int64
	CategoryID string
	Available  bool
}

// Coupon holds the discount definition plus the shared usage counter. UsedCount
// moves only through conditional reserve/release updates.
type Coupon struct {
	ID                string
	Code              string
	DiscountType      DiscountType
	DiscountValue     int64
	MinOrderAmount    int64
	MaxDiscountAmount int64
	MaxUsage          int64
	UsedCount         int64
	MaxUsagePerUser   int
	Type              CouponType
	Status            CouponStatus
	StartsAt          time.Time
	EndsAt            time.Time
	FoodIDs           []string
	CategoryIDs       []string
	UserIDs           []string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CouponUsage is the append-only record of a committed coupon application.
// One row per (coupon, order); the unique pair makes commit idempotent.
type CouponUsage struct {
	ID             string
	CouponID       string
	UserID         string
	OrderID        string
	DiscountAmount int64
	CreatedAt      time.Time
}

// RewardPoint is the cached per-user balance, one row per user. It is the
// materialised sum of the user's PointHistory entries.
type RewardPoint struct {
	UserID    string
	Balance   int64
	UpdatedAt time.Time
}

// PointHistory is an append-only ledger entry. Amount carries the sign of the
// balance movement (negative for use, positive for earn/refund).
type PointHistory struct {
	ID          string
	UserID      string
	Type        PointEntryType
	Amount      int64
	OrderID     *string
	Description string
	CreatedAt   time.Time
}

// OrderTracking is the append-only audit row written for every status transition,
// including failure paths.
type OrderTracking struct {
	ID         string
	OrderID    string
	FromStatus OrderStatus
	ToStatus   OrderStatus
	Actor      string
	Note       string
	CreatedAt  time.Time
}
