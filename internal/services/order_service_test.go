package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	domain "github.com/feastline/api/internal/domain"
	"github.com/feastline/api/internal/payments"
)

type fakeProvider struct {
	intent      payments.Intent
	intentErr   error
	result      payments.CallbackResult
	verifyErr   error
	intentCalls int
}

func (f *fakeProvider) Gateway() string { return payments.GatewayZaloPay }

func (f *fakeProvider) CreateIntent(_ context.Context, req payments.IntentRequest) (payments.Intent, error) {
	f.intentCalls++
	if f.intentErr != nil {
		return payments.Intent{}, f.intentErr
	}
	intent := f.intent
	if intent.TransactionID == "" {
		intent.TransactionID = "txn_" + req.OrderID
	}
	return intent, nil
}

func (f *fakeProvider) VerifyCallback([]byte) (payments.CallbackResult, error) {
	if f.verifyErr != nil {
		return payments.CallbackResult{}, f.verifyErr
	}
	return f.result, nil
}

type orderFixture struct {
	orders   *stubOrderRepository
	tracking *stubTrackingRepository
	foods    *stubFoodRepository
	coupons  *stubCouponRepository
	usages   *stubCouponUsageRepository
	balances *stubRewardPointRepository
	history  *stubPointHistoryRepository
	provider *fakeProvider
	events   *capturedEvents
	locks    *countingLocker
	now      time.Time
	svc      OrderService
}

func newOrderFixture(t *testing.T) *orderFixture {
	t.Helper()
	now := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

	f := &orderFixture{
		orders:   newStubOrderRepository(),
		tracking: &stubTrackingRepository{},
		foods: &stubFoodRepository{foods: []domain.Food{
			{ID: "food_1", Name: "Pho Bo", Price: 40000, CategoryID: "cat_1", Available: true},
			{ID: "food_2", Name: "Tra Da", Price: 10000, CategoryID: "cat_2", Available: true},
			{ID: "food_off", Name: "Seasonal", Price: 50000, CategoryID: "cat_1", Available: false},
		}},
		coupons:  newStubCouponRepository(activeCoupon(now)),
		usages:   &stubCouponUsageRepository{},
		balances: newStubRewardPointRepository(),
		history:  &stubPointHistoryRepository{},
		provider: &fakeProvider{},
		events:   &capturedEvents{},
		locks:    &countingLocker{},
		now:      now,
	}

	clock := func() time.Time { return f.now }
	seq := 0
	idGen := func() string {
		seq++
		return fmt.Sprintf("%08d", seq)
	}

	couponSvc, err := NewCouponService(CouponServiceDeps{
		Coupons: f.coupons, Usages: f.usages, Clock: clock, IDGenerator: idGen,
	})
	if err != nil {
		t.Fatalf("NewCouponService: %v", err)
	}
	pointsSvc, err := NewPointsService(PointsServiceDeps{
		Balances: f.balances, History: f.history, Clock: clock, IDGenerator: idGen,
	})
	if err != nil {
		t.Fatalf("NewPointsService: %v", err)
	}
	manager, err := payments.NewManager(map[string]payments.Provider{
		"zalopay": f.provider,
		"momo":    f.provider,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	svc, err := NewOrderService(OrderServiceDeps{
		Orders:      f.orders,
		Tracking:    f.tracking,
		Foods:       f.foods,
		Coupons:     couponSvc,
		Points:      pointsSvc,
		Gateways:    manager,
		Locks:       f.locks,
		Clock:       clock,
		IDGenerator: idGen,
		Events:      f.events,
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	f.svc = svc
	return f
}

func customer(id string) Actor { return Actor{ID: id, Role: RoleCustomer} }

func baseCreateCommand() CreateOrderCommand {
	return CreateOrderCommand{
		Actor:           customer("usr_1"),
		UserID:          "usr_1",
		ReceiverName:    "Nguyen Van A",
		ReceiverPhone:   "0900000001",
		DeliveryAddress: "1 Ly Thuong Kiet",
		DeliveryZone:    "district-1",
		DeliveryType:    "standard",
		PaymentMethod:   domain.PaymentMethodZaloPay,
		DeliveryFee:     15000,
		Items: []CreateOrderItem{
			{FoodID: "food_1", Quantity: 2},
			{FoodID: "food_2", Quantity: 1},
		},
	}
}

func TestOrderService_CreateOrder_WithCouponAndPoints(t *testing.T) {
	f := newOrderFixture(t)
	f.balances.balances["usr_1"] = domain.RewardPoint{UserID: "usr_1", Balance: 10000}

	cmd := baseCreateCommand()
	cmd.CouponCode = "SAVE10"
	cmd.PointsToUse = 5000

	order, err := f.svc.CreateOrder(context.Background(), cmd)
	if err != nil {
		t.Fatalf("CreateOrder returned error: %v", err)
	}
	if order.Status != domain.OrderStatusCreated {
		t.Fatalf("expected status created got %s", order.Status)
	}
	if order.Subtotal != 90000 {
		t.Fatalf("expected subtotal 90000 got %d", order.Subtotal)
	}
	if order.DiscountAmount != 9000 {
		t.Fatalf("expected discount 9000 got %d", order.DiscountAmount)
	}
	if order.PointsUsed != 5000 {
		t.Fatalf("expected points used 5000 got %d", order.PointsUsed)
	}
	if order.TotalPrice != 91000 {
		t.Fatalf("expected total 91000 got %d", order.TotalPrice)
	}
	if len(order.Items) != 2 || order.Items[0].UnitPrice != 40000 {
		t.Fatalf("unexpected item snapshot %+v", order.Items)
	}

	if got := f.coupons.coupons["cpn_1"].UsedCount; got != 1 {
		t.Fatalf("expected coupon reserved, used count %d", got)
	}
	balance, _ := f.balances.Get(context.Background(), "usr_1")
	if balance.Balance != 5000 {
		t.Fatalf("expected points debited to 5000 got %d", balance.Balance)
	}
	if len(f.tracking.rows) != 1 || f.tracking.rows[0].ToStatus != domain.OrderStatusCreated {
		t.Fatalf("expected one creation tracking row, got %+v", f.tracking.rows)
	}
	if len(f.events.events) != 1 || f.events.events[0].Type != "order.created" {
		t.Fatalf("expected order.created event, got %+v", f.events.events)
	}
}

func TestOrderService_CreateOrder_Validation(t *testing.T) {
	f := newOrderFixture(t)

	empty := baseCreateCommand()
	empty.Items = nil
	if _, err := f.svc.CreateOrder(context.Background(), empty); !errors.Is(err, ErrOrderEmpty) {
		t.Fatalf("expected ErrOrderEmpty got %v", err)
	}

	unavailable := baseCreateCommand()
	unavailable.Items = []CreateOrderItem{{FoodID: "food_off", Quantity: 1}}
	if _, err := f.svc.CreateOrder(context.Background(), unavailable); !errors.Is(err, ErrFoodNotAvailable) {
		t.Fatalf("expected ErrFoodNotAvailable got %v", err)
	}

	missing := baseCreateCommand()
	missing.Items = []CreateOrderItem{{FoodID: "food_unknown", Quantity: 1}}
	if _, err := f.svc.CreateOrder(context.Background(), missing); !errors.Is(err, ErrFoodNotAvailable) {
		t.Fatalf("expected ErrFoodNotAvailable for unknown food got %v", err)
	}

	badQty := baseCreateCommand()
	badQty.Items = []CreateOrderItem{{FoodID: "food_1", Quantity: 0}}
	if _, err := f.svc.CreateOrder(context.Background(), badQty); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput got %v", err)
	}

	badMethod := baseCreateCommand()
	badMethod.PaymentMethod = domain.PaymentMethod("CRYPTO")
	if _, err := f.svc.CreateOrder(context.Background(), badMethod); !errors.Is(err, ErrUnsupportedPaymentMethod) {
		t.Fatalf("expected ErrUnsupportedPaymentMethod got %v", err)
	}
}

func TestOrderService_CreateOrder_CouponErrorAborts(t *testing.T) {
	f := newOrderFixture(t)
	f.coupons.coupons["cpn_1"].UsedCount = 1

	cmd := baseCreateCommand()
	cmd.CouponCode = "SAVE10"

	_, err := f.svc.CreateOrder(context.Background(), cmd)
	if !errors.Is(err, ErrCouponUsedOut) {
		t.Fatalf("expected ErrCouponUsedOut got %v", err)
	}
	if len(f.orders.orders) != 0 {
		t.Fatalf("failed checkout must not persist an order")
	}
}

func TestOrderService_CreateOrder_InsertFailureReleasesCoupon(t *testing.T) {
	f := newOrderFixture(t)
	f.orders.insertErr = &stubRepoError{unavailable: true}

	cmd := baseCreateCommand()
	cmd.CouponCode = "SAVE10"

	if _, err := f.svc.CreateOrder(context.Background(), cmd); err == nil {
		t.Fatalf("expected insert failure to propagate")
	}
	if got := f.coupons.coupons["cpn_1"].UsedCount; got != 0 {
		t.Fatalf("expected reservation returned after failed insert, used count %d", got)
	}
}

func TestOrderService_InitiatePayment_CODSettlesDirectly(t *testing.T) {
	f := newOrderFixture(t)
	f.balances.balances["usr_1"] = domain.RewardPoint{UserID: "usr_1", Balance: 0}

	cmd := baseCreateCommand()
	cmd.PaymentMethod = domain.PaymentMethodCOD
	cmd.CouponCode = "SAVE10"
	order, err := f.svc.CreateOrder(context.Background(), cmd)
	if err != nil {
		t.Fatalf("CreateOrder returned error: %v", err)
	}

	initiation, err := f.svc.InitiatePayment(context.Background(), InitiatePaymentCommand{
		Actor: customer("usr_1"), OrderID: order.ID,
	})
	if err != nil {
		t.Fatalf("InitiatePayment returned error: %v", err)
	}
	if initiation.Status != domain.OrderStatusPaid {
		t.Fatalf("expected COD order settled as paid got %s", initiation.Status)
	}
	if initiation.Gateway != payments.GatewayNone {
		t.Fatalf("expected gateway NONE got %s", initiation.Gateway)
	}
	if f.provider.intentCalls != 0 {
		t.Fatalf("COD must not call the gateway")
	}

	if len(f.usages.rows) != 1 {
		t.Fatalf("expected committed coupon usage, got %d rows", len(f.usages.rows))
	}
	// 96000 total at 1 point per 1000.
	balance, _ := f.balances.Get(context.Background(), "usr_1")
	if balance.Balance != 96 {
		t.Fatalf("expected 96 earned points got %d", balance.Balance)
	}
}

func TestOrderService_InitiatePayment_GatewayFlow(t *testing.T) {
	f := newOrderFixture(t)
	f.provider.intent = payments.Intent{PaymentURL: "https://gateway.example/pay"}

	order, err := f.svc.CreateOrder(context.Background(), baseCreateCommand())
	if err != nil {
		t.Fatalf("CreateOrder returned error: %v", err)
	}

	initiation, err := f.svc.InitiatePayment(context.Background(), InitiatePaymentCommand{
		Actor: customer("usr_1"), OrderID: order.ID,
	})
	if err != nil {
		t.Fatalf("InitiatePayment returned error: %v", err)
	}
	if initiation.Status != domain.OrderStatusAwaitingPayment {
		t.Fatalf("expected awaiting_payment got %s", initiation.Status)
	}
	if initiation.PaymentURL == "" || initiation.GatewayTransactionID == "" {
		t.Fatalf("expected payment url and transaction id, got %+v", initiation)
	}

	stored, _ := f.orders.FindByID(context.Background(), order.ID)
	if stored.GatewayTransactionID == nil || *stored.GatewayTransactionID != initiation.GatewayTransactionID {
		t.Fatalf("transaction id not recorded on order")
	}
}

func TestOrderService_InitiatePayment_RetryAfterTimeout(t *testing.T) {
	f := newOrderFixture(t)
	f.provider.intentErr = payments.ErrGatewayUnavailable

	order, err := f.svc.CreateOrder(context.Background(), baseCreateCommand())
	if err != nil {
		t.Fatalf("CreateOrder returned error: %v", err)
	}

	if _, err := f.svc.InitiatePayment(context.Background(), InitiatePaymentCommand{
		Actor: customer("usr_1"), OrderID: order.ID,
	}); !errors.Is(err, payments.ErrGatewayUnavailable) {
		t.Fatalf("expected gateway error got %v", err)
	}

	stored, _ := f.orders.FindByID(context.Background(), order.ID)
	if stored.Status != domain.OrderStatusAwaitingPayment || stored.GatewayTransactionID != nil {
		t.Fatalf("timed out intent must leave awaiting_payment without transaction id, got %+v", stored)
	}

	// The retry succeeds and reuses the order-keyed intent.
	f.provider.intentErr = nil
	initiation, err := f.svc.InitiatePayment(context.Background(), InitiatePaymentCommand{
		Actor: customer("usr_1"), OrderID: order.ID,
	})
	if err != nil {
		t.Fatalf("retried InitiatePayment returned error: %v", err)
	}
	if initiation.GatewayTransactionID == "" {
		t.Fatalf("expected transaction id after retry")
	}
}

func TestOrderService_InitiatePayment_WrongState(t *testing.T) {
	f := newOrderFixture(t)
	txn := "txn_1"
	f.orders.orders["ord_1"] = domain.Order{
		ID: "ord_1", UserID: "usr_1", PaymentMethod: domain.PaymentMethodZaloPay,
		Status: domain.OrderStatusPaid, GatewayTransactionID: &txn,
	}

	_, err := f.svc.InitiatePayment(context.Background(), InitiatePaymentCommand{
		Actor: customer("usr_1"), OrderID: "ord_1",
	})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState got %v", err)
	}
}

func awaitingOrder(f *orderFixture, couponID string) domain.Order {
	txn := "txn_1"
	order := domain.Order{
		ID:            "ord_1",
		UserID:        "usr_1",
		PaymentMethod: domain.PaymentMethodZaloPay,
		Status:        domain.OrderStatusAwaitingPayment,
		Subtotal:      90000, DeliveryFee: 15000, DiscountAmount: 9000,
		TotalPrice:           96000,
		GatewayTransactionID: &txn,
	}
	if couponID != "" {
		order.CouponID = &couponID
		order.CouponHold = domain.CouponHoldHeld
	}
	f.orders.orders[order.ID] = order
	return order
}

func TestOrderService_HandlePaymentCallback_Success(t *testing.T) {
	f := newOrderFixture(t)
	f.coupons.coupons["cpn_1"].UsedCount = 1
	awaitingOrder(f, "cpn_1")
	f.provider.result = payments.CallbackResult{
		Gateway: payments.GatewayZaloPay, TransactionID: "txn_1", Amount: 96000, Succeeded: true,
	}

	outcome, err := f.svc.HandlePaymentCallback(context.Background(), PaymentCallbackCommand{
		Gateway: "zalopay", Payload: []byte(`{}`),
	})
	if err != nil {
		t.Fatalf("HandlePaymentCallback returned error: %v", err)
	}
	if outcome.Status != domain.OrderStatusPaid || outcome.Replay {
		t.Fatalf("unexpected outcome %+v", outcome)
	}

	stored, _ := f.orders.FindByID(context.Background(), "ord_1")
	if stored.Status != domain.OrderStatusPaid || stored.PaidAt == nil {
		t.Fatalf("expected paid order got %+v", stored)
	}
	if len(f.usages.rows) != 1 {
		t.Fatalf("expected one coupon usage row got %d", len(f.usages.rows))
	}
	balance, _ := f.balances.Get(context.Background(), "usr_1")
	if balance.Balance != 96 {
		t.Fatalf("expected 96 earned points got %d", balance.Balance)
	}
	if len(f.history.entries) != 1 || f.history.entries[0].Type != domain.PointEntryEarn {
		t.Fatalf("expected one EARN entry got %+v", f.history.entries)
	}
	if len(f.locks.calls) == 0 || f.locks.calls[0] != "ord_1" {
		t.Fatalf("settlement must run under the order lock, calls %v", f.locks.calls)
	}
}

func TestOrderService_HandlePaymentCallback_ReplayIsNoop(t *testing.T) {
	f := newOrderFixture(t)
	f.coupons.coupons["cpn_1"].UsedCount = 1
	awaitingOrder(f, "cpn_1")
	f.provider.result = payments.CallbackResult{
		Gateway: payments.GatewayZaloPay, TransactionID: "txn_1", Amount: 96000, Succeeded: true,
	}

	if _, err := f.svc.HandlePaymentCallback(context.Background(), PaymentCallbackCommand{
		Gateway: "zalopay", Payload: []byte(`{}`),
	}); err != nil {
		t.Fatalf("first callback returned error: %v", err)
	}
	outcome, err := f.svc.HandlePaymentCallback(context.Background(), PaymentCallbackCommand{
		Gateway: "zalopay", Payload: []byte(`{}`),
	})
	if err != nil {
		t.Fatalf("replayed callback returned error: %v", err)
	}
	if !outcome.Replay || outcome.Status != domain.OrderStatusPaid {
		t.Fatalf("expected replay no-op got %+v", outcome)
	}

	if len(f.usages.rows) != 1 {
		t.Fatalf("replay must not double-commit coupon, got %d rows", len(f.usages.rows))
	}
	balance, _ := f.balances.Get(context.Background(), "usr_1")
	if balance.Balance != 96 {
		t.Fatalf("replay must not double-credit points, balance %d", balance.Balance)
	}
	if len(f.tracking.rows) != 1 {
		t.Fatalf("replay must not append tracking, got %d rows", len(f.tracking.rows))
	}
}

func TestOrderService_HandlePaymentCallback_InvalidSignature(t *testing.T) {
	f := newOrderFixture(t)
	awaitingOrder(f, "")
	f.provider.verifyErr = payments.ErrInvalidSignature

	_, err := f.svc.HandlePaymentCallback(context.Background(), PaymentCallbackCommand{
		Gateway: "zalopay", Payload: []byte(`{}`),
	})
	if !errors.Is(err, ErrInvalidCallbackSignature) {
		t.Fatalf("expected ErrInvalidCallbackSignature got %v", err)
	}

	stored, _ := f.orders.FindByID(context.Background(), "ord_1")
	if stored.Status != domain.OrderStatusAwaitingPayment {
		t.Fatalf("rejected callback must not change state, got %s", stored.Status)
	}
	if len(f.history.entries) != 0 || len(f.usages.rows) != 0 {
		t.Fatalf("rejected callback must not touch ledgers")
	}
}

func TestOrderService_HandlePaymentCallback_FailureReleasesCoupon(t *testing.T) {
	f := newOrderFixture(t)
	f.coupons.coupons["cpn_1"].UsedCount = 1
	awaitingOrder(f, "cpn_1")
	f.provider.result = payments.CallbackResult{
		Gateway: payments.GatewayZaloPay, TransactionID: "txn_1", Amount: 96000, Succeeded: false,
	}

	outcome, err := f.svc.HandlePaymentCallback(context.Background(), PaymentCallbackCommand{
		Gateway: "zalopay", Payload: []byte(`{}`),
	})
	if err != nil {
		t.Fatalf("HandlePaymentCallback returned error: %v", err)
	}
	if outcome.Status != domain.OrderStatusPaymentFailed {
		t.Fatalf("expected payment_failed got %s", outcome.Status)
	}
	if got := f.coupons.coupons["cpn_1"].UsedCount; got != 0 {
		t.Fatalf("expected coupon reservation released, used count %d", got)
	}
	if len(f.usages.rows) != 0 {
		t.Fatalf("failed payment must not commit coupon usage")
	}
}

func TestOrderService_HandlePaymentCallback_AmountMismatchFails(t *testing.T) {
	f := newOrderFixture(t)
	awaitingOrder(f, "")
	f.provider.result = payments.CallbackResult{
		Gateway: payments.GatewayZaloPay, TransactionID: "txn_1", Amount: 1, Succeeded: true,
	}

	outcome, err := f.svc.HandlePaymentCallback(context.Background(), PaymentCallbackCommand{
		Gateway: "zalopay", Payload: []byte(`{}`),
	})
	if err != nil {
		t.Fatalf("HandlePaymentCallback returned error: %v", err)
	}
	if outcome.Status != domain.OrderStatusPaymentFailed {
		t.Fatalf("expected payment_failed on amount mismatch got %s", outcome.Status)
	}
}

func TestOrderService_AdvanceStatus_LinearProgression(t *testing.T) {
	f := newOrderFixture(t)
	f.orders.orders["ord_1"] = domain.Order{
		ID: "ord_1", UserID: "usr_1", Status: domain.OrderStatusPaid,
	}
	staff := Actor{ID: "stf_1", Role: RoleStaff}

	for _, next := range []domain.OrderStatus{
		domain.OrderStatusPreparing,
		domain.OrderStatusDelivering,
		domain.OrderStatusCompleted,
	} {
		order, err := f.svc.AdvanceStatus(context.Background(), AdvanceStatusCommand{
			Actor: staff, OrderID: "ord_1", Status: next,
		})
		if err != nil {
			t.Fatalf("AdvanceStatus to %s returned error: %v", next, err)
		}
		if order.Status != next {
			t.Fatalf("expected %s got %s", next, order.Status)
		}
	}

	stored, _ := f.orders.FindByID(context.Background(), "ord_1")
	if stored.CompletedAt == nil {
		t.Fatalf("expected completion timestamp")
	}
	if len(f.tracking.rows) != 3 {
		t.Fatalf("expected three tracking rows got %d", len(f.tracking.rows))
	}
}

func TestOrderService_AdvanceStatus_RejectsOutOfOrder(t *testing.T) {
	f := newOrderFixture(t)
	f.orders.orders["ord_1"] = domain.Order{
		ID: "ord_1", UserID: "usr_1", Status: domain.OrderStatusPaid,
	}
	staff := Actor{ID: "stf_1", Role: RoleStaff}

	_, err := f.svc.AdvanceStatus(context.Background(), AdvanceStatusCommand{
		Actor: staff, OrderID: "ord_1", Status: domain.OrderStatusCompleted,
	})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState got %v", err)
	}
	if len(f.tracking.rows) != 0 {
		t.Fatalf("rejected transition must not append tracking")
	}
}

func TestOrderService_Cancel_RefundsPointsAndFlags(t *testing.T) {
	f := newOrderFixture(t)
	f.balances.balances["usr_1"] = domain.RewardPoint{UserID: "usr_1", Balance: 0}
	f.history.entries = append(f.history.entries, domain.PointHistory{
		ID: "pts_prior", UserID: "usr_1", Type: domain.PointEntryUse, Amount: -3000,
		OrderID: strPtr("ord_1"),
	})
	f.orders.orders["ord_1"] = domain.Order{
		ID: "ord_1", UserID: "usr_1", Status: domain.OrderStatusPreparing,
		PointsUsed: 3000, TotalPrice: 90000,
	}
	staff := Actor{ID: "stf_1", Role: RoleStaff}

	order, err := f.svc.Cancel(context.Background(), CancelOrderCommand{
		Actor: staff, OrderID: "ord_1", Reason: "out of stock",
	})
	if err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}
	if order.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled got %s", order.Status)
	}
	if !order.RefundFlagged {
		t.Fatalf("paid order must be flagged for external refund")
	}
	if order.CancelReason == nil || *order.CancelReason != "out of stock" {
		t.Fatalf("expected cancel reason recorded, got %+v", order.CancelReason)
	}

	balance, _ := f.balances.Get(context.Background(), "usr_1")
	if balance.Balance != 3000 {
		t.Fatalf("expected points refunded, balance %d", balance.Balance)
	}
	var refunds int
	for _, e := range f.history.entries {
		if e.Type == domain.PointEntryRefund {
			refunds++
		}
	}
	if refunds != 1 {
		t.Fatalf("expected one REFUND ledger entry got %d", refunds)
	}
	if len(f.tracking.rows) != 1 || f.tracking.rows[0].Note != "out of stock" {
		t.Fatalf("expected tracking row with reason, got %+v", f.tracking.rows)
	}
}

func TestOrderService_Cancel_RejectedPastCutoff(t *testing.T) {
	f := newOrderFixture(t)
	f.orders.orders["ord_1"] = domain.Order{
		ID: "ord_1", UserID: "usr_1", Status: domain.OrderStatusDelivering,
	}

	_, err := f.svc.Cancel(context.Background(), CancelOrderCommand{
		Actor: Actor{ID: "stf_1", Role: RoleStaff}, OrderID: "ord_1", Reason: "late",
	})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState got %v", err)
	}
}

func TestOrderService_Authorization(t *testing.T) {
	f := newOrderFixture(t)
	f.orders.orders["ord_1"] = domain.Order{
		ID: "ord_1", UserID: "usr_1", Status: domain.OrderStatusPaid,
	}

	// Staff cannot place orders.
	cmd := baseCreateCommand()
	cmd.Actor = Actor{ID: "stf_1", Role: RoleStaff}
	if _, err := f.svc.CreateOrder(context.Background(), cmd); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for staff create got %v", err)
	}

	// Customers cannot advance status.
	if _, err := f.svc.AdvanceStatus(context.Background(), AdvanceStatusCommand{
		Actor: customer("usr_1"), OrderID: "ord_1", Status: domain.OrderStatusPreparing,
	}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for customer advance got %v", err)
	}

	// Customers cannot read other users' orders.
	if _, err := f.svc.GetOrder(context.Background(), GetOrderQuery{
		Actor: customer("usr_2"), OrderID: "ord_1",
	}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for foreign read got %v", err)
	}
}

func TestOrderService_Cancel_AfterFailedPaymentReleasesOnce(t *testing.T) {
	f := newOrderFixture(t)
	// Two slots taken: one by another checkout, one by this order.
	f.coupons.coupons["cpn_1"].MaxUsage = 3
	f.coupons.coupons["cpn_1"].UsedCount = 2
	awaitingOrder(f, "cpn_1")
	f.provider.result = payments.CallbackResult{
		Gateway: payments.GatewayZaloPay, TransactionID: "txn_1", Amount: 96000, Succeeded: false,
	}

	if _, err := f.svc.HandlePaymentCallback(context.Background(), PaymentCallbackCommand{
		Gateway: "zalopay", Payload: []byte(`{}`),
	}); err != nil {
		t.Fatalf("HandlePaymentCallback returned error: %v", err)
	}
	if got := f.coupons.coupons["cpn_1"].UsedCount; got != 1 {
		t.Fatalf("after failed payment: used count %d, want 1", got)
	}

	if _, err := f.svc.Cancel(context.Background(), CancelOrderCommand{
		Actor: customer("usr_1"), OrderID: "ord_1", Reason: "giving up",
	}); err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}
	// The other checkout's slot must survive the cancellation.
	if got := f.coupons.coupons["cpn_1"].UsedCount; got != 1 {
		t.Fatalf("after cancel: used count %d, want 1", got)
	}
	if f.coupons.releaseCalls != 1 {
		t.Fatalf("release calls = %d, want 1", f.coupons.releaseCalls)
	}
}

func TestOrderService_Cancel_CommittedCouponIsNotReleased(t *testing.T) {
	f := newOrderFixture(t)
	f.coupons.coupons["cpn_1"].UsedCount = 1
	couponID := "cpn_1"
	f.orders.orders["ord_1"] = domain.Order{
		ID: "ord_1", UserID: "usr_1", Status: domain.OrderStatusPaid,
		TotalPrice: 96000, CouponID: &couponID, CouponHold: domain.CouponHoldCommitted,
	}

	if _, err := f.svc.Cancel(context.Background(), CancelOrderCommand{
		Actor: customer("usr_1"), OrderID: "ord_1", Reason: "changed my mind",
	}); err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}
	if f.coupons.releaseCalls != 0 {
		t.Fatalf("committed usage must not be released, release calls = %d", f.coupons.releaseCalls)
	}
	if got := f.coupons.coupons["cpn_1"].UsedCount; got != 1 {
		t.Fatalf("used count = %d, want 1", got)
	}
}

func TestOrderService_InitiatePayment_RetryAfterFailureReservesAgain(t *testing.T) {
	f := newOrderFixture(t)
	f.coupons.coupons["cpn_1"].MaxUsage = 2
	f.coupons.coupons["cpn_1"].UsedCount = 1
	awaitingOrder(f, "cpn_1")
	f.provider.result = payments.CallbackResult{
		Gateway: payments.GatewayZaloPay, TransactionID: "txn_1", Amount: 96000, Succeeded: false,
	}

	if _, err := f.svc.HandlePaymentCallback(context.Background(), PaymentCallbackCommand{
		Gateway: "zalopay", Payload: []byte(`{}`),
	}); err != nil {
		t.Fatalf("HandlePaymentCallback returned error: %v", err)
	}
	if got := f.coupons.coupons["cpn_1"].UsedCount; got != 0 {
		t.Fatalf("after failed payment: used count %d, want 0", got)
	}

	initiation, err := f.svc.InitiatePayment(context.Background(), InitiatePaymentCommand{
		Actor: customer("usr_1"), OrderID: "ord_1",
	})
	if err != nil {
		t.Fatalf("retried InitiatePayment returned error: %v", err)
	}
	if initiation.Status != domain.OrderStatusAwaitingPayment {
		t.Fatalf("expected awaiting_payment got %s", initiation.Status)
	}
	if initiation.GatewayTransactionID == "" {
		t.Fatalf("expected a fresh transaction id")
	}
	if got := f.coupons.coupons["cpn_1"].UsedCount; got != 1 {
		t.Fatalf("retry must win the slot back, used count %d", got)
	}
	stored, _ := f.orders.FindByID(context.Background(), "ord_1")
	if stored.CouponHold != domain.CouponHoldHeld {
		t.Fatalf("coupon hold = %q, want held", stored.CouponHold)
	}
}

func TestOrderService_InitiatePayment_RetryFailsWhenCouponGone(t *testing.T) {
	f := newOrderFixture(t)
	f.coupons.coupons["cpn_1"].UsedCount = 1 // max usage 1, slot lost to another checkout
	order := awaitingOrder(f, "cpn_1")
	order.Status = domain.OrderStatusPaymentFailed
	order.CouponHold = domain.CouponHoldReleased
	f.orders.orders[order.ID] = order

	_, err := f.svc.InitiatePayment(context.Background(), InitiatePaymentCommand{
		Actor: customer("usr_1"), OrderID: "ord_1",
	})
	if !errors.Is(err, ErrCouponRaceLost) {
		t.Fatalf("expected ErrCouponRaceLost got %v", err)
	}
	stored, _ := f.orders.FindByID(context.Background(), "ord_1")
	if stored.Status != domain.OrderStatusPaymentFailed {
		t.Fatalf("order must stay payment_failed, got %s", stored.Status)
	}
}

func TestOrderService_Reject_ReturnsLedgerHoldings(t *testing.T) {
	f := newOrderFixture(t)
	f.coupons.coupons["cpn_1"].UsedCount = 1
	f.balances.balances["usr_1"] = domain.RewardPoint{UserID: "usr_1", Balance: 0}
	couponID := "cpn_1"
	f.orders.orders["ord_1"] = domain.Order{
		ID: "ord_1", UserID: "usr_1", Status: domain.OrderStatusAwaitingPayment,
		PointsUsed: 2000, TotalPrice: 88000,
		CouponID: &couponID, CouponHold: domain.CouponHoldHeld,
	}

	order, err := f.svc.Reject(context.Background(), RejectOrderCommand{
		Actor: Actor{ID: "stf_1", Role: RoleStaff}, OrderID: "ord_1", Reason: "kitchen closed",
	})
	if err != nil {
		t.Fatalf("Reject returned error: %v", err)
	}
	if order.Status != domain.OrderStatusRejected {
		t.Fatalf("expected rejected got %s", order.Status)
	}
	if got := f.coupons.coupons["cpn_1"].UsedCount; got != 0 {
		t.Fatalf("expected coupon slot released, used count %d", got)
	}
	balance, _ := f.balances.Get(context.Background(), "usr_1")
	if balance.Balance != 2000 {
		t.Fatalf("expected points refunded, balance %d", balance.Balance)
	}
	if len(f.tracking.rows) != 1 || f.tracking.rows[0].ToStatus != domain.OrderStatusRejected {
		t.Fatalf("expected tracking row to rejected, got %+v", f.tracking.rows)
	}
}

func TestOrderService_Reject_Guards(t *testing.T) {
	f := newOrderFixture(t)
	f.orders.orders["ord_1"] = domain.Order{
		ID: "ord_1", UserID: "usr_1", Status: domain.OrderStatusPaid,
	}

	// Settled money is a cancellation, not a rejection.
	if _, err := f.svc.Reject(context.Background(), RejectOrderCommand{
		Actor: Actor{ID: "stf_1", Role: RoleStaff}, OrderID: "ord_1",
	}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState got %v", err)
	}

	if _, err := f.svc.Reject(context.Background(), RejectOrderCommand{
		Actor: customer("usr_1"), OrderID: "ord_1",
	}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for customer reject got %v", err)
	}
}

func strPtr(s string) *string { return &s }
