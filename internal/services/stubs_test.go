package services

import (
	"context"
	"sync"
	"time"

	domain "github.com/feastline/api/internal/domain"
	"github.com/feastline/api/internal/repositories"
)

type stubRepoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *stubRepoError) Error() string       { return "stub repository error" }
func (e *stubRepoError) IsNotFound() bool    { return e.notFound }
func (e *stubRepoError) IsConflict() bool    { return e.conflict }
func (e *stubRepoError) IsUnavailable() bool { return e.unavailable }

type stubCouponRepository struct {
	mu      sync.Mutex
	coupons map[string]*domain.Coupon

	reserveCalls int
	releaseCalls int
	expiredSwept int64
	usedOutSwept int64
	sweepErr     error
}

func newStubCouponRepository(coupons ...domain.Coupon) *stubCouponRepository {
	repo := &stubCouponRepository{coupons: map[string]*domain.Coupon{}}
	for i := range coupons {
		c := coupons[i]
		repo.coupons[c.ID] = &c
	}
	return repo
}

func (r *stubCouponRepository) FindByCode(_ context.Context, code string) (domain.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.coupons {
		if c.Code == code {
			return *c, nil
		}
	}
	return domain.Coupon{}, &stubRepoError{notFound: true}
}

func (r *stubCouponRepository) FindByID(_ context.Context, couponID string) (domain.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.coupons[couponID]; ok {
		return *c, nil
	}
	return domain.Coupon{}, &stubRepoError{notFound: true}
}

func (r *stubCouponRepository) ReserveUsage(_ context.Context, couponID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reserveCalls++
	c, ok := r.coupons[couponID]
	if !ok {
		return false, &stubRepoError{notFound: true}
	}
	if c.UsedCount >= c.MaxUsage {
		return false, nil
	}
	c.UsedCount++
	return true, nil
}

func (r *stubCouponRepository) ReleaseUsage(_ context.Context, couponID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releaseCalls++
	if c, ok := r.coupons[couponID]; ok && c.UsedCount > 0 {
		c.UsedCount--
	}
	return nil
}

func (r *stubCouponRepository) MarkExpired(_ context.Context, now time.Time) (int64, error) {
	if r.sweepErr != nil {
		return 0, r.sweepErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, c := range r.coupons {
		if c.Status == domain.CouponStatusActive && c.EndsAt.Before(now) {
			c.Status = domain.CouponStatusExpired
			count++
		}
	}
	r.expiredSwept += count
	return count, nil
}

func (r *stubCouponRepository) MarkUsedOut(_ context.Context) (int64, error) {
	if r.sweepErr != nil {
		return 0, r.sweepErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, c := range r.coupons {
		if c.Status == domain.CouponStatusActive && c.UsedCount >= c.MaxUsage {
			c.Status = domain.CouponStatusUsedOut
			count++
		}
	}
	r.usedOutSwept += count
	return count, nil
}

type stubCouponUsageRepository struct {
	mu   sync.Mutex
	rows []domain.CouponUsage
	err  error
}

func (r *stubCouponUsageRepository) Insert(_ context.Context, usage domain.CouponUsage) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.CouponID == usage.CouponID && row.OrderID == usage.OrderID {
			return &stubRepoError{conflict: true}
		}
	}
	r.rows = append(r.rows, usage)
	return nil
}

func (r *stubCouponUsageRepository) FindByOrder(_ context.Context, couponID, orderID string) (domain.CouponUsage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.CouponID == couponID && row.OrderID == orderID {
			return row, nil
		}
	}
	return domain.CouponUsage{}, &stubRepoError{notFound: true}
}

func (r *stubCouponUsageRepository) CountByUser(_ context.Context, couponID, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, row := range r.rows {
		if row.CouponID == couponID && row.UserID == userID {
			count++
		}
	}
	return count, nil
}

type stubRewardPointRepository struct {
	mu       sync.Mutex
	balances map[string]domain.RewardPoint
}

func newStubRewardPointRepository() *stubRewardPointRepository {
	return &stubRewardPointRepository{balances: map[string]domain.RewardPoint{}}
}

func (r *stubRewardPointRepository) GetForUpdate(_ context.Context, userID string) (domain.RewardPoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if balance, ok := r.balances[userID]; ok {
		return balance, nil
	}
	balance := domain.RewardPoint{UserID: userID}
	r.balances[userID] = balance
	return balance, nil
}

func (r *stubRewardPointRepository) Get(_ context.Context, userID string) (domain.RewardPoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if balance, ok := r.balances[userID]; ok {
		return balance, nil
	}
	return domain.RewardPoint{UserID: userID}, nil
}

func (r *stubRewardPointRepository) Save(_ context.Context, balance domain.RewardPoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balances[balance.UserID] = balance
	return nil
}

type stubPointHistoryRepository struct {
	mu      sync.Mutex
	entries []domain.PointHistory
}

func (r *stubPointHistoryRepository) Insert(_ context.Context, entry domain.PointHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.UserID == entry.UserID && e.Type == entry.Type && sameOrderRef(e.OrderID, entry.OrderID) {
			return &stubRepoError{conflict: true}
		}
	}
	r.entries = append(r.entries, entry)
	return nil
}

func (r *stubPointHistoryRepository) FindByOperation(_ context.Context, userID, orderID string, entryType domain.PointEntryType) (domain.PointHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.UserID == userID && e.Type == entryType && e.OrderID != nil && *e.OrderID == orderID {
			return e, nil
		}
	}
	return domain.PointHistory{}, &stubRepoError{notFound: true}
}

func (r *stubPointHistoryRepository) ListByUser(_ context.Context, userID string, _ int) ([]domain.PointHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var entries []domain.PointHistory
	for _, e := range r.entries {
		if e.UserID == userID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func sameOrderRef(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

type stubOrderRepository struct {
	mu     sync.Mutex
	orders map[string]domain.Order

	insertErr error
	updateErr error
}

func newStubOrderRepository(orders ...domain.Order) *stubOrderRepository {
	repo := &stubOrderRepository{orders: map[string]domain.Order{}}
	for _, o := range orders {
		repo.orders[o.ID] = o
	}
	return repo
}

func (r *stubOrderRepository) Insert(_ context.Context, order domain.Order) error {
	if r.insertErr != nil {
		return r.insertErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[order.ID]; ok {
		return &stubRepoError{conflict: true}
	}
	r.orders[order.ID] = order
	return nil
}

func (r *stubOrderRepository) Update(_ context.Context, order domain.Order) error {
	if r.updateErr != nil {
		return r.updateErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[order.ID]; !ok {
		return &stubRepoError{notFound: true}
	}
	r.orders[order.ID] = order
	return nil
}

func (r *stubOrderRepository) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if order, ok := r.orders[orderID]; ok {
		return order, nil
	}
	return domain.Order{}, &stubRepoError{notFound: true}
}

func (r *stubOrderRepository) FindByGatewayTransactionID(_ context.Context, transactionID string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, order := range r.orders {
		if order.GatewayTransactionID != nil && *order.GatewayTransactionID == transactionID {
			return order, nil
		}
	}
	return domain.Order{}, &stubRepoError{notFound: true}
}

func (r *stubOrderRepository) List(_ context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var orders []domain.Order
	for _, order := range r.orders {
		if filter.UserID != "" && order.UserID != filter.UserID {
			continue
		}
		if len(filter.Status) > 0 {
			match := false
			for _, s := range filter.Status {
				if order.Status == s {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		orders = append(orders, order)
	}
	return orders, nil
}

type stubTrackingRepository struct {
	mu   sync.Mutex
	rows []domain.OrderTracking
	err  error
}

func (r *stubTrackingRepository) Append(_ context.Context, row domain.OrderTracking) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, row)
	return nil
}

func (r *stubTrackingRepository) List(_ context.Context, orderID string) ([]domain.OrderTracking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var rows []domain.OrderTracking
	for _, row := range r.rows {
		if row.OrderID == orderID {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

type stubFoodRepository struct {
	foods []domain.Food
}

func (r *stubFoodRepository) FindByIDs(_ context.Context, foodIDs []string) ([]domain.Food, error) {
	var found []domain.Food
	for _, id := range foodIDs {
		for _, f := range r.foods {
			if f.ID == id {
				found = append(found, f)
				break
			}
		}
	}
	return found, nil
}

type capturedEvents struct {
	mu     sync.Mutex
	events []OrderEvent
	err    error
}

func (c *capturedEvents) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	if c.err != nil {
		return c.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

type countingLocker struct {
	mu    sync.Mutex
	calls []string
}

func (l *countingLocker) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	l.mu.Lock()
	l.calls = append(l.calls, key)
	l.mu.Unlock()
	return fn(ctx)
}
