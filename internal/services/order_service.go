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
	"github.com/feastline/api/internal/payments"
	"github.com/feastline/api/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"
	orderEventSettled       = "order.payment.settled"

	orderIDPrefix    = "ord_"
	trackingIDPrefix = "trk_"

	defaultPointsEarnDivisor = 1000
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderEmpty indicates a checkout without line items.
	ErrOrderEmpty = errors.New("order: no items")
	// ErrFoodNotAvailable indicates a requested food is missing or inactive.
	ErrFoodNotAvailable = errors.New("order: food not available")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates concurrent mutation conflicts or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrUnsupportedPaymentMethod mirrors the gateway adapter rejection.
	ErrUnsupportedPaymentMethod = errors.New("order: unsupported payment method")
	// ErrInvalidCallbackSignature marks a webhook whose MAC did not verify.
	ErrInvalidCallbackSignature = errors.New("order: invalid callback signature")
)

// orderStateTransitions is the directed edge set of the lifecycle graph.
// payment_failed keeps an edge back to awaiting_payment so a customer can retry
// payment collection without a new order.
var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusCreated: {
		domain.OrderStatusAwaitingPayment, domain.OrderStatusPaid,
		domain.OrderStatusCancelled, domain.OrderStatusRejected,
	},
	domain.OrderStatusAwaitingPayment: {
		domain.OrderStatusPaid, domain.OrderStatusPaymentFailed,
		domain.OrderStatusCancelled, domain.OrderStatusRejected,
	},
	domain.OrderStatusPaymentFailed: {
		domain.OrderStatusAwaitingPayment, domain.OrderStatusCancelled,
	},
	domain.OrderStatusPaid: {
		domain.OrderStatusPreparing, domain.OrderStatusCancelled,
	},
	domain.OrderStatusPreparing: {
		domain.OrderStatusDelivering, domain.OrderStatusCancelled,
	},
	domain.OrderStatusDelivering: {
		domain.OrderStatusCompleted, domain.OrderStatusCancelled,
	},
}

// advanceEdges is the staff-driven linear progression.
var advanceEdges = map[domain.OrderStatus]domain.OrderStatus{
	domain.OrderStatusPaid:       domain.OrderStatusPreparing,
	domain.OrderStatusPreparing:  domain.OrderStatusDelivering,
	domain.OrderStatusDelivering: domain.OrderStatusCompleted,
}

// rejectableStatuses bounds staff refusal to orders no money has settled on.
var rejectableStatuses = []domain.OrderStatus{
	domain.OrderStatusCreated,
	domain.OrderStatusAwaitingPayment,
}

// cancellableStatuses is the cancellation policy cutoff.
var cancellableStatuses = []domain.OrderStatus{
	domain.OrderStatusCreated,
	domain.OrderStatusAwaitingPayment,
	domain.OrderStatusPaymentFailed,
	domain.OrderStatusPaid,
	domain.OrderStatusPreparing,
}

func canTransition(from, to domain.OrderStatus) bool {
	for _, next := range orderStateTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// KeyedLocker serializes callback settlement and staff transitions per order.
type KeyedLocker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// OrderEventPublisher publishes order lifecycle events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order lifecycle events.
type OrderEvent struct {
	Type           string
	OrderID        string
	UserID         string
	PreviousStatus string
	CurrentStatus  string
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders            repositories.OrderRepository
	Tracking          repositories.OrderTrackingRepository
	Foods             repositories.FoodRepository
	Coupons           CouponService
	Points            PointsService
	Gateways          *payments.Manager
	UnitOfWork        repositories.UnitOfWork
	Locks             KeyedLocker
	Clock             func() time.Time
	IDGenerator       func() string
	Events            OrderEventPublisher
	Logger            func(ctx context.Context, event string, fields map[string]any)
	PointsEarnDivisor int64
}

type orderService struct {
	orders      repositories.OrderRepository
	tracking    repositories.OrderTrackingRepository
	foods       repositories.FoodRepository
	coupons     CouponService
	points      PointsService
	gateways    *payments.Manager
	unitOfWork  repositories.UnitOfWork
	locks       KeyedLocker
	clock       func() time.Time
	newID       func() string
	events      OrderEventPublisher
	logger      func(context.Context, string, map[string]any)
	earnDivisor int64
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Tracking == nil {
		return nil, errors.New("order service: tracking repository is required")
	}
	if deps.Foods == nil {
		return nil, errors.New("order service: food repository is required")
	}
	if deps.Coupons == nil {
		return nil, errors.New("order service: coupon service is required")
	}
	if deps.Points == nil {
		return nil, errors.New("order service: points service is required")
	}
	if deps.Gateways == nil {
		return nil, errors.New("order service: gateway manager is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	locks := deps.Locks
	if locks == nil {
		locks = noopLocker{}
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
	earnDivisor := deps.PointsEarnDivisor
	if earnDivisor <= 0 {
		earnDivisor = defaultPointsEarnDivisor
	}

	return &orderService{
		orders:     deps.Orders,
		tracking:   deps.Tracking,
		foods:      deps.Foods,
		coupons:    deps.Coupons,
		points:     deps.Points,
		gateways:   deps.Gateways,
		unitOfWork: unit,
		locks:      locks,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:       idGen,
		events:      deps.Events,
		logger:      logger,
		earnDivisor: earnDivisor,
	}, nil
}

// CreateOrder validates the checkout, snapshots catalog prices, reserves the
// coupon, debits requested points, and persists the order in CREATED.
func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	if err := Authorize(cmd.Actor, ActionOrderCreate); err != nil {
		return Order{}, err
	}
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if cmd.Actor.Role == RoleCustomer && cmd.Actor.ID != userID {
		return Order{}, fmt.Errorf("%w: cannot order for another user", ErrForbidden)
	}
	if len(cmd.Items) == 0 {
		return Order{}, fmt.Errorf("%w: at least one item is required", ErrOrderEmpty)
	}
	if _, err := payments.ResolveConfig(cmd.PaymentMethod); err != nil {
		return Order{}, fmt.Errorf("%w: %s", ErrUnsupportedPaymentMethod, cmd.PaymentMethod)
	}
	if cmd.PointsToUse < 0 {
		return Order{}, fmt.Errorf("%w: points to use must not be negative", ErrOrderInvalidInput)
	}

	foodIDs := make([]string, 0, len(cmd.Items))
	for _, item := range cmd.Items {
		if item.Quantity <= 0 {
			return Order{}, fmt.Errorf("%w: quantity must be positive for food %s", ErrOrderInvalidInput, item.FoodID)
		}
		foodIDs = append(foodIDs, item.FoodID)
	}

	foods, err := s.foods.FindByIDs(ctx, foodIDs)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	foodByID := make(map[string]domain.Food, len(foods))
	categoryIDs := make([]string, 0, len(foods))
	for _, f := range foods {
		foodByID[f.ID] = f
		categoryIDs = append(categoryIDs, f.CategoryID)
	}

	now := s.clock()
	orderID := orderIDPrefix + s.newID()

	var subtotal int64
	items := make([]domain.OrderItem, 0, len(cmd.Items))
	for _, item := range cmd.Items {
		food, ok := foodByID[item.FoodID]
		if !ok || !food.Available {
			return Order{}, fmt.Errorf("%w: %s", ErrFoodNotAvailable, item.FoodID)
		}
		lineTotal := food.Price * int64(item.Quantity)
		items = append(items, domain.OrderItem{
			ID:        s.newID(),
			OrderID:   orderID,
			FoodID:    food.ID,
			Name:      food.Name,
			Quantity:  item.Quantity,
			UnitPrice: food.Price,
			Total:     lineTotal,
		})
		subtotal += lineTotal
	}

	var couponID *string
	var discount int64
	if code := strings.TrimSpace(cmd.CouponCode); code != "" {
		quote, err := s.coupons.Quote(ctx, CouponQuoteCommand{
			Code:        code,
			UserID:      userID,
			OrderAmount: subtotal,
			FoodIDs:     foodIDs,
			CategoryIDs: categoryIDs,
		})
		if err != nil {
			return Order{}, err
		}
		if err := s.coupons.Reserve(ctx, quote.CouponID); err != nil {
			return Order{}, err
		}
		couponID = &quote.CouponID
		discount = quote.DiscountAmount
	}
	couponHold := domain.CouponHoldNone
	if couponID != nil {
		couponHold = domain.CouponHoldHeld
	}

	pointsUsed := cmd.PointsToUse
	if remaining := subtotal + cmd.DeliveryFee - discount; pointsUsed > remaining {
		pointsUsed = remaining
	}

	order := domain.Order{
		ID:              orderID,
		UserID:          userID,
		ReceiverName:    strings.TrimSpace(cmd.ReceiverName),
		ReceiverPhone:   strings.TrimSpace(cmd.ReceiverPhone),
		DeliveryAddress: strings.TrimSpace(cmd.DeliveryAddress),
		DeliveryZone:    strings.TrimSpace(cmd.DeliveryZone),
		DeliveryType:    strings.TrimSpace(cmd.DeliveryType),
		PaymentMethod:   cmd.PaymentMethod,
		Status:          domain.OrderStatusCreated,
		Items:           items,
		Subtotal:        subtotal,
		DeliveryFee:     cmd.DeliveryFee,
		DiscountAmount:  discount,
		PointsUsed:      pointsUsed,
		TotalPrice:      subtotal + cmd.DeliveryFee - discount - pointsUsed,
		CouponID:        couponID,
		CouponHold:      couponHold,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if note := strings.TrimSpace(cmd.Note); note != "" {
		order.Note = &note
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if pointsUsed > 0 {
			if _, err := s.points.Use(txCtx, PointsCommand{
				UserID:      userID,
				OrderID:     orderID,
				Amount:      pointsUsed,
				Description: "points applied at checkout",
			}); err != nil {
				return err
			}
		}
		if err := s.orders.Insert(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return s.appendTracking(txCtx, order.ID, "", domain.OrderStatusCreated, cmd.Actor.ID, "order created", now)
	})
	if err != nil {
		// The reservation was taken outside the transaction; hand the slot back.
		if couponID != nil {
			if releaseErr := s.coupons.Release(ctx, *couponID, ""); releaseErr != nil {
				s.logger(ctx, "order.coupon.release.failed", map[string]any{
					"order":  orderID,
					"coupon": *couponID,
					"error":  releaseErr.Error(),
				})
			}
		}
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		UserID:        order.UserID,
		CurrentStatus: string(order.Status),
		ActorID:       cmd.Actor.ID,
		OccurredAt:    now,
	})

	return order, nil
}

// GetOrder loads one order. Customers may only read their own orders.
func (s *orderService) GetOrder(ctx context.Context, q GetOrderQuery) (Order, error) {
	if err := Authorize(q.Actor, ActionOrderRead); err != nil {
		return Order{}, err
	}
	order, err := s.loadOrder(ctx, q.OrderID)
	if err != nil {
		return Order{}, err
	}
	if !isElevated(q.Actor.Role) && order.UserID != q.Actor.ID {
		return Order{}, fmt.Errorf("%w: not the order owner", ErrForbidden)
	}
	return order, nil
}

// ListOrders returns orders visible to the actor, newest first.
func (s *orderService) ListOrders(ctx context.Context, q ListOrdersQuery) ([]Order, error) {
	if err := Authorize(q.Actor, ActionOrderRead); err != nil {
		return nil, err
	}
	filter := repositories.OrderListFilter{
		UserID: strings.TrimSpace(q.UserID),
		Status: q.Status,
		Limit:  q.Limit,
	}
	if !isElevated(q.Actor.Role) {
		filter.UserID = q.Actor.ID
	}
	orders, err := s.orders.List(ctx, filter)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return orders, nil
}

// ListTracking returns the audit trail for one order.
func (s *orderService) ListTracking(ctx context.Context, q GetOrderQuery) ([]OrderTracking, error) {
	if _, err := s.GetOrder(ctx, q); err != nil {
		return nil, err
	}
	rows, err := s.tracking.List(ctx, q.OrderID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return rows, nil
}

// InitiatePayment starts payment collection. COD settles directly to PAID;
// gateway methods move to AWAITING_PAYMENT and open an intent. A retry after a
// gateway timeout reuses the order-keyed intent.
func (s *orderService) InitiatePayment(ctx context.Context, cmd InitiatePaymentCommand) (PaymentInitiation, error) {
	if err := Authorize(cmd.Actor, ActionOrderPay); err != nil {
		return PaymentInitiation{}, err
	}

	var initiation PaymentInitiation
	err := s.locks.WithLock(ctx, cmd.OrderID, func(ctx context.Context) error {
		order, err := s.loadOrder(ctx, cmd.OrderID)
		if err != nil {
			return err
		}
		if !isElevated(cmd.Actor.Role) && order.UserID != cmd.Actor.ID {
			return fmt.Errorf("%w: not the order owner", ErrForbidden)
		}

		cfg, err := s.gateways.ConfigFor(order.PaymentMethod)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrUnsupportedPaymentMethod, order.PaymentMethod)
		}

		if !payments.RequiresGateway(cfg) {
			if order.Status != domain.OrderStatusCreated {
				return fmt.Errorf("%w: %s cannot start COD settlement", ErrOrderInvalidState, order.Status)
			}
			settled, err := s.settle(ctx, order, cmd.Actor.ID, "cash on delivery accepted")
			if err != nil {
				return err
			}
			initiation = PaymentInitiation{
				OrderID: settled.ID,
				Status:  settled.Status,
				Gateway: cfg.Gateway,
			}
			return nil
		}

		now := s.clock()
		switch order.Status {
		case domain.OrderStatusCreated:
			prev := order.Status
			order.Status = domain.OrderStatusAwaitingPayment
			order.UpdatedAt = now
			err = s.runInTx(ctx, func(txCtx context.Context) error {
				if err := s.orders.Update(txCtx, order); err != nil {
					return s.mapRepositoryError(err)
				}
				return s.appendTracking(txCtx, order.ID, prev, order.Status, cmd.Actor.ID, "payment initiated", now)
			})
			if err != nil {
				return err
			}
			s.publishStatusChange(ctx, order, prev, cmd.Actor.ID, now)
		case domain.OrderStatusPaymentFailed:
			// Retry after a definitive gateway failure. The coupon slot was
			// handed back when the payment failed, so it has to be won again
			// before re-entering awaiting_payment.
			if order.CouponID != nil && order.CouponHold == domain.CouponHoldReleased {
				if err := s.coupons.Reserve(ctx, *order.CouponID); err != nil {
					return err
				}
				order.CouponHold = domain.CouponHoldHeld
			}
			prev := order.Status
			order.Status = domain.OrderStatusAwaitingPayment
			order.GatewayTransactionID = nil
			order.UpdatedAt = now
			err = s.runInTx(ctx, func(txCtx context.Context) error {
				if err := s.orders.Update(txCtx, order); err != nil {
					return s.mapRepositoryError(err)
				}
				return s.appendTracking(txCtx, order.ID, prev, order.Status, cmd.Actor.ID, "payment retry initiated", now)
			})
			if err != nil {
				return err
			}
			s.publishStatusChange(ctx, order, prev, cmd.Actor.ID, now)
		case domain.OrderStatusAwaitingPayment:
			// A prior intent that never produced a transaction id may be retried.
			if order.GatewayTransactionID != nil {
				return fmt.Errorf("%w: payment already pending for %s", ErrOrderInvalidState, order.ID)
			}
		default:
			return fmt.Errorf("%w: payment cannot start from %s", ErrOrderInvalidState, order.Status)
		}

		intent, err := s.gateways.CreateIntent(ctx, order.PaymentMethod, payments.IntentRequest{
			OrderID:     order.ID,
			UserID:      order.UserID,
			Amount:      order.TotalPrice,
			Description: fmt.Sprintf("order %s", order.ID),
		})
		if err != nil {
			// Intent creation is retryable; the order stays in awaiting_payment
			// with no transaction id recorded.
			return err
		}

		order.GatewayTransactionID = &intent.TransactionID
		order.UpdatedAt = s.clock()
		if err := s.orders.Update(ctx, order); err != nil {
			return s.mapRepositoryError(err)
		}

		initiation = PaymentInitiation{
			OrderID:              order.ID,
			Status:               order.Status,
			Gateway:              cfg.Gateway,
			PaymentURL:           intent.PaymentURL,
			GatewayTransactionID: intent.TransactionID,
		}
		return nil
	})
	if err != nil {
		return PaymentInitiation{}, err
	}
	return initiation, nil
}

// HandlePaymentCallback verifies and settles a gateway webhook. Redelivery of a
// settled transaction is a logged no-op; a signature mismatch never touches state.
func (s *orderService) HandlePaymentCallback(ctx context.Context, cmd PaymentCallbackCommand) (CallbackOutcome, error) {
	result, err := s.gateways.VerifyCallback(cmd.Gateway, cmd.Payload)
	if err != nil {
		if errors.Is(err, payments.ErrInvalidSignature) {
			s.logger(ctx, "order.callback.signature_rejected", map[string]any{
				"gateway": cmd.Gateway,
			})
			return CallbackOutcome{}, fmt.Errorf("%w: %v", ErrInvalidCallbackSignature, err)
		}
		return CallbackOutcome{}, err
	}

	order, err := s.orders.FindByGatewayTransactionID(ctx, result.TransactionID)
	if err != nil {
		return CallbackOutcome{}, s.mapRepositoryError(err)
	}

	var outcome CallbackOutcome
	err = s.locks.WithLock(ctx, order.ID, func(ctx context.Context) error {
		// Re-read under the lock; a concurrent delivery may have settled it.
		order, err := s.loadOrder(ctx, order.ID)
		if err != nil {
			return err
		}

		switch order.Status {
		case domain.OrderStatusPaid, domain.OrderStatusPaymentFailed:
			s.logger(ctx, "order.callback.replayed", map[string]any{
				"order":   order.ID,
				"status":  string(order.Status),
				"gateway": cmd.Gateway,
			})
			outcome = CallbackOutcome{OrderID: order.ID, Status: order.Status, Replay: true}
			return nil
		case domain.OrderStatusAwaitingPayment:
		default:
			return fmt.Errorf("%w: callback for order in %s", ErrOrderInvalidState, order.Status)
		}

		succeeded := result.Succeeded
		note := "payment confirmed by gateway"
		if succeeded && result.Amount != order.TotalPrice {
			s.logger(ctx, "order.callback.amount_mismatch", map[string]any{
				"order":    order.ID,
				"expected": order.TotalPrice,
				"got":      result.Amount,
			})
			succeeded = false
			note = fmt.Sprintf("gateway amount %d does not match order total %d", result.Amount, order.TotalPrice)
		}

		if succeeded {
			settled, err := s.settle(ctx, order, "gateway:"+cmd.Gateway, note)
			if err != nil {
				return err
			}
			outcome = CallbackOutcome{OrderID: settled.ID, Status: settled.Status}
			return nil
		}

		if !result.Succeeded {
			note = "payment failed at gateway"
		}
		failed, err := s.failPayment(ctx, order, "gateway:"+cmd.Gateway, note)
		if err != nil {
			return err
		}
		outcome = CallbackOutcome{OrderID: failed.ID, Status: failed.Status}
		return nil
	})
	if err != nil {
		return CallbackOutcome{}, err
	}
	return outcome, nil
}

// AdvanceStatus is the staff-driven linear progression PAID → PREPARING →
// DELIVERING → COMPLETED.
func (s *orderService) AdvanceStatus(ctx context.Context, cmd AdvanceStatusCommand) (Order, error) {
	if err := Authorize(cmd.Actor, ActionOrderAdvance); err != nil {
		return Order{}, err
	}

	var updated Order
	err := s.locks.WithLock(ctx, cmd.OrderID, func(ctx context.Context) error {
		order, err := s.loadOrder(ctx, cmd.OrderID)
		if err != nil {
			return err
		}

		if next, ok := advanceEdges[order.Status]; !ok || next != cmd.Status {
			return fmt.Errorf("%w: %s to %s", ErrOrderInvalidState, order.Status, cmd.Status)
		}

		now := s.clock()
		prev := order.Status
		order.Status = cmd.Status
		order.UpdatedAt = now
		if cmd.Status == domain.OrderStatusCompleted {
			order.CompletedAt = &now
		}

		err = s.runInTx(ctx, func(txCtx context.Context) error {
			if err := s.orders.Update(txCtx, order); err != nil {
				return s.mapRepositoryError(err)
			}
			return s.appendTracking(txCtx, order.ID, prev, order.Status, cmd.Actor.ID, cmd.Note, now)
		})
		if err != nil {
			return err
		}

		s.publishStatusChange(ctx, order, prev, cmd.Actor.ID, now)
		updated = order
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	return updated, nil
}

// Cancel moves a non-terminal order to CANCELLED within the policy cutoff,
// releasing an uncommitted coupon reservation, refunding debited points, and
// flagging settled payments for external refund.
func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	if err := Authorize(cmd.Actor, ActionOrderCancel); err != nil {
		return Order{}, err
	}

	var updated Order
	err := s.locks.WithLock(ctx, cmd.OrderID, func(ctx context.Context) error {
		order, err := s.loadOrder(ctx, cmd.OrderID)
		if err != nil {
			return err
		}
		if !isElevated(cmd.Actor.Role) && order.UserID != cmd.Actor.ID {
			return fmt.Errorf("%w: not the order owner", ErrForbidden)
		}
		if !slices.Contains(cancellableStatuses, order.Status) {
			return fmt.Errorf("%w: %s cannot be cancelled", ErrOrderInvalidState, order.Status)
		}

		now := s.clock()
		prev := order.Status
		reason := strings.TrimSpace(cmd.Reason)

		order.Status = domain.OrderStatusCancelled
		order.CancelReason = &reason
		order.CancelledAt = &now
		order.UpdatedAt = now
		if prev == domain.OrderStatusPaid || prev == domain.OrderStatusPreparing {
			order.RefundFlagged = true
		}
		releaseCoupon := order.CouponID != nil && order.CouponHold == domain.CouponHoldHeld
		if releaseCoupon {
			order.CouponHold = domain.CouponHoldReleased
		}

		err = s.runInTx(ctx, func(txCtx context.Context) error {
			if order.PointsUsed > 0 {
				if _, err := s.points.Refund(txCtx, PointsCommand{
					UserID:      order.UserID,
					OrderID:     order.ID,
					Amount:      order.PointsUsed,
					Description: "points returned for cancelled order",
				}); err != nil {
					return err
				}
			}
			if err := s.orders.Update(txCtx, order); err != nil {
				return s.mapRepositoryError(err)
			}
			return s.appendTracking(txCtx, order.ID, prev, order.Status, cmd.Actor.ID, reason, now)
		})
		if err != nil {
			return err
		}

		// Only a held slot is handed back. A slot already released on payment
		// failure stays released; a committed usage row survives cancellation.
		if releaseCoupon {
			if err := s.coupons.Release(ctx, *order.CouponID, order.ID); err != nil {
				s.logger(ctx, "order.coupon.release.failed", map[string]any{
					"order":  order.ID,
					"coupon": *order.CouponID,
					"error":  err.Error(),
				})
			}
		}

		s.publishStatusChange(ctx, order, prev, cmd.Actor.ID, now)
		updated = order
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	return updated, nil
}

// Reject is the staff refusal of an unpaid order. It mirrors Cancel for the
// ledgers but lands on REJECTED and is only reachable before settlement.
func (s *orderService) Reject(ctx context.Context, cmd RejectOrderCommand) (Order, error) {
	if err := Authorize(cmd.Actor, ActionOrderReject); err != nil {
		return Order{}, err
	}

	var updated Order
	err := s.locks.WithLock(ctx, cmd.OrderID, func(ctx context.Context) error {
		order, err := s.loadOrder(ctx, cmd.OrderID)
		if err != nil {
			return err
		}
		if !slices.Contains(rejectableStatuses, order.Status) {
			return fmt.Errorf("%w: %s cannot be rejected", ErrOrderInvalidState, order.Status)
		}

		now := s.clock()
		prev := order.Status
		reason := strings.TrimSpace(cmd.Reason)

		order.Status = domain.OrderStatusRejected
		order.CancelReason = &reason
		order.CancelledAt = &now
		order.UpdatedAt = now
		releaseCoupon := order.CouponID != nil && order.CouponHold == domain.CouponHoldHeld
		if releaseCoupon {
			order.CouponHold = domain.CouponHoldReleased
		}

		err = s.runInTx(ctx, func(txCtx context.Context) error {
			if order.PointsUsed > 0 {
				if _, err := s.points.Refund(txCtx, PointsCommand{
					UserID:      order.UserID,
					OrderID:     order.ID,
					Amount:      order.PointsUsed,
					Description: "points returned for rejected order",
				}); err != nil {
					return err
				}
			}
			if err := s.orders.Update(txCtx, order); err != nil {
				return s.mapRepositoryError(err)
			}
			return s.appendTracking(txCtx, order.ID, prev, order.Status, cmd.Actor.ID, reason, now)
		})
		if err != nil {
			return err
		}

		if releaseCoupon {
			if err := s.coupons.Release(ctx, *order.CouponID, order.ID); err != nil {
				s.logger(ctx, "order.coupon.release.failed", map[string]any{
					"order":  order.ID,
					"coupon": *order.CouponID,
					"error":  err.Error(),
				})
			}
		}

		s.publishStatusChange(ctx, order, prev, cmd.Actor.ID, now)
		updated = order
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	return updated, nil
}

// settle commits a successful payment: status to PAID, coupon usage recorded,
// points earned on the amount actually charged. Runs in one transaction.
func (s *orderService) settle(ctx context.Context, order Order, actorID, note string) (Order, error) {
	if !canTransition(order.Status, domain.OrderStatusPaid) {
		return Order{}, fmt.Errorf("%w: %s to %s", ErrOrderInvalidState, order.Status, domain.OrderStatusPaid)
	}

	now := s.clock()
	prev := order.Status
	order.Status = domain.OrderStatusPaid
	order.PaidAt = &now
	order.UpdatedAt = now
	if order.CouponID != nil {
		order.CouponHold = domain.CouponHoldCommitted
	}

	err := s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		if order.CouponID != nil {
			if err := s.coupons.Commit(txCtx, CouponCommitCommand{
				CouponID:       *order.CouponID,
				UserID:         order.UserID,
				OrderID:        order.ID,
				DiscountAmount: order.DiscountAmount,
			}); err != nil {
				return err
			}
		}
		if earned := order.TotalPrice / s.earnDivisor; earned > 0 {
			if _, err := s.points.Earn(txCtx, PointsCommand{
				UserID:      order.UserID,
				OrderID:     order.ID,
				Amount:      earned,
				Description: "points earned for paid order",
			}); err != nil {
				return err
			}
		}
		return s.appendTracking(txCtx, order.ID, prev, order.Status, actorID, note, now)
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventSettled,
		OrderID:        order.ID,
		UserID:         order.UserID,
		PreviousStatus: string(prev),
		CurrentStatus:  string(order.Status),
		ActorID:        actorID,
		OccurredAt:     now,
	})

	return order, nil
}

// failPayment records a definitive gateway failure and hands back the coupon slot.
func (s *orderService) failPayment(ctx context.Context, order Order, actorID, note string) (Order, error) {
	now := s.clock()
	prev := order.Status
	order.Status = domain.OrderStatusPaymentFailed
	order.UpdatedAt = now
	releaseCoupon := order.CouponID != nil && order.CouponHold == domain.CouponHoldHeld
	if releaseCoupon {
		order.CouponHold = domain.CouponHoldReleased
	}

	err := s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return s.appendTracking(txCtx, order.ID, prev, order.Status, actorID, note, now)
	})
	if err != nil {
		return Order{}, err
	}

	if releaseCoupon {
		if err := s.coupons.Release(ctx, *order.CouponID, order.ID); err != nil {
			s.logger(ctx, "order.coupon.release.failed", map[string]any{
				"order":  order.ID,
				"coupon": *order.CouponID,
				"error":  err.Error(),
			})
		}
	}

	s.publishStatusChange(ctx, order, prev, actorID, now)
	return order, nil
}

func (s *orderService) loadOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) appendTracking(ctx context.Context, orderID string, from, to domain.OrderStatus, actorID, note string, now time.Time) error {
	row := domain.OrderTracking{
		ID:         trackingIDPrefix + s.newID(),
		OrderID:    orderID,
		FromStatus: from,
		ToStatus:   to,
		Actor:      actorID,
		Note:       note,
		CreatedAt:  now,
	}
	if err := s.tracking.Append(ctx, row); err != nil {
		return s.mapRepositoryError(err)
	}
	return nil
}

func (s *orderService) publishStatusChange(ctx context.Context, order Order, prev domain.OrderStatus, actorID string, now time.Time) {
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		UserID:         order.UserID,
		PreviousStatus: string(prev),
		CurrentStatus:  string(order.Status),
		ActorID:        actorID,
		OccurredAt:     now,
	})
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}
	return err
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

type noopLocker struct{}

func (noopLocker) WithLock(ctx context.Context, _ string, fn func(context.Context) error) error {
	return fn(ctx)
}
