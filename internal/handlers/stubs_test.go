package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/feastline/api/internal/platform/auth"
	"github.com/feastline/api/internal/services"
)

var testJWTSecret = []byte("handler-test-secret")

func testAuthenticator() *auth.Authenticator {
	return auth.NewAuthenticator(testJWTSecret)
}

func bearerToken(t *testing.T, uid, role string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": uid,
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	if role != "" {
		claims["role"] = role
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(testJWTSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return "Bearer " + signed
}

func authorize(t *testing.T, req *http.Request, uid, role string) {
	t.Helper()
	req.Header.Set("Authorization", bearerToken(t, uid, role))
}

type stubOrderService struct {
	createCmd   *services.CreateOrderCommand
	createOrder services.Order
	createErr   error

	getQuery *services.GetOrderQuery
	getOrder services.Order
	getErr   error

	listQuery  *services.ListOrdersQuery
	listOrders []services.Order
	listErr    error

	trackingQuery   *services.GetOrderQuery
	trackingEntries []services.OrderTracking
	trackingErr     error

	initiateCmd    *services.InitiatePaymentCommand
	initiateResult services.PaymentInitiation
	initiateErr    error

	callbackCmd     *services.PaymentCallbackCommand
	callbackOutcome services.CallbackOutcome
	callbackErr     error

	advanceCmd   *services.AdvanceStatusCommand
	advanceOrder services.Order
	advanceErr   error

	cancelCmd   *services.CancelOrderCommand
	cancelOrder services.Order
	cancelErr   error

	rejectCmd   *services.RejectOrderCommand
	rejectOrder services.Order
	rejectErr   error
}

func (s *stubOrderService) CreateOrder(_ context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	s.createCmd = &cmd
	return s.createOrder, s.createErr
}

func (s *stubOrderService) GetOrder(_ context.Context, q services.GetOrderQuery) (services.Order, error) {
	s.getQuery = &q
	return s.getOrder, s.getErr
}

func (s *stubOrderService) ListOrders(_ context.Context, q services.ListOrdersQuery) ([]services.Order, error) {
	s.listQuery = &q
	return s.listOrders, s.listErr
}

func (s *stubOrderService) ListTracking(_ context.Context, q services.GetOrderQuery) ([]services.OrderTracking, error) {
	s.trackingQuery = &q
	return s.trackingEntries, s.trackingErr
}

func (s *stubOrderService) InitiatePayment(_ context.Context, cmd services.InitiatePaymentCommand) (services.PaymentInitiation, error) {
	s.initiateCmd = &cmd
	return s.initiateResult, s.initiateErr
}

func (s *stubOrderService) HandlePaymentCallback(_ context.Context, cmd services.PaymentCallbackCommand) (services.CallbackOutcome, error) {
	s.callbackCmd = &cmd
	return s.callbackOutcome, s.callbackErr
}

func (s *stubOrderService) AdvanceStatus(_ context.Context, cmd services.AdvanceStatusCommand) (services.Order, error) {
	s.advanceCmd = &cmd
	return s.advanceOrder, s.advanceErr
}

func (s *stubOrderService) Cancel(_ context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	s.cancelCmd = &cmd
	return s.cancelOrder, s.cancelErr
}

func (s *stubOrderService) Reject(_ context.Context, cmd services.RejectOrderCommand) (services.Order, error) {
	s.rejectCmd = &cmd
	return s.rejectOrder, s.rejectErr
}

type stubCouponService struct {
	quoteCmd   *services.CouponQuoteCommand
	quote      services.CouponQuote
	quoteErr   error
	reserveErr error
	commitErr  error
	releaseErr error
}

func (s *stubCouponService) Quote(_ context.Context, cmd services.CouponQuoteCommand) (services.CouponQuote, error) {
	s.quoteCmd = &cmd
	return s.quote, s.quoteErr
}

func (s *stubCouponService) Reserve(context.Context, string) error { return s.reserveErr }

func (s *stubCouponService) Commit(context.Context, services.CouponCommitCommand) error {
	return s.commitErr
}

func (s *stubCouponService) Release(context.Context, string, string) error { return s.releaseErr }

type stubPointsService struct {
	balance    services.RewardPoint
	balanceErr error

	history      []services.PointHistory
	historyLimit int
	historyErr   error
}

func (s *stubPointsService) GetBalance(_ context.Context, userID string) (services.RewardPoint, error) {
	return s.balance, s.balanceErr
}

func (s *stubPointsService) History(_ context.Context, userID string, limit int) ([]services.PointHistory, error) {
	s.historyLimit = limit
	return s.history, s.historyErr
}

func (s *stubPointsService) Earn(context.Context, services.PointsCommand) (services.PointHistory, error) {
	return services.PointHistory{}, nil
}

func (s *stubPointsService) Use(context.Context, services.PointsCommand) (services.PointHistory, error) {
	return services.PointHistory{}, nil
}

func (s *stubPointsService) Refund(context.Context, services.PointsCommand) (services.PointHistory, error) {
	return services.PointHistory{}, nil
}
