package repositories

import (
	"context"
	"time"

	domain "github.com/feastline/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations in a transactional boundary. Repository
// methods invoked with the context produced inside RunInTx share the transaction.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists order headers together with their line items.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByGatewayTransactionID(ctx context.Context, transactionID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) ([]domain.Order, error)
}

// OrderListFilter narrows order listings for users and staff.
type OrderListFilter struct {
	UserID string
	Status []domain.OrderStatus
	Limit  int
}

// OrderTrackingRepository stores the append-only transition audit trail.
type OrderTrackingRepository interface {
	Append(ctx context.Context, row domain.OrderTracking) error
	List(ctx context.Context, orderID string) ([]domain.OrderTracking, error)
}

// FoodRepository exposes the catalog projection needed for order validation.
type FoodRepository interface {
	FindByIDs(ctx context.Context, foodIDs []string) ([]domain.Food, error)
}

// CouponRepository maintains coupon definitions and the shared usage counter.
//
// ReserveUsage and ReleaseUsage must be single conditional updates; ReserveUsage
// reports false when the counter was already at max_usage (the lost race).
type CouponRepository interface {
	FindByCode(ctx context.Context, code string) (domain.Coupon, error)
	FindByID(ctx context.Context, couponID string) (domain.Coupon, error)
	ReserveUsage(ctx context.Context, couponID string) (bool, error)
	ReleaseUsage(ctx context.Context, couponID string) error
	MarkExpired(ctx context.Context, now time.Time) (int64, error)
	MarkUsedOut(ctx context.Context) (int64, error)
}

// CouponUsageRepository records committed coupon applications. Insert must fail
// with a conflict RepositoryError when the (couponID, orderID) pair already exists.
type CouponUsageRepository interface {
	Insert(ctx context.Context, usage domain.CouponUsage) error
	FindByOrder(ctx context.Context, couponID, orderID string) (domain.CouponUsage, error)
	CountByUser(ctx context.Context, couponID, userID string) (int64, error)
}

// RewardPointRepository owns the cached per-user balance row.
//
// GetForUpdate must take a row-level lock when running inside a transaction and
// lazily create a zero-balance row for unseen users.
type RewardPointRepository interface {
	GetForUpdate(ctx context.Context, userID string) (domain.RewardPoint, error)
	Get(ctx context.Context, userID string) (domain.RewardPoint, error)
	Save(ctx context.Context, balance domain.RewardPoint) error
}

// PointHistoryRepository stores the append-only point ledger. Insert must fail
// with a conflict RepositoryError on a duplicate (userID, orderID, type) triple.
type PointHistoryRepository interface {
	Insert(ctx context.Context, entry domain.PointHistory) error
	FindByOperation(ctx context.Context, userID, orderID string, entryType domain.PointEntryType) (domain.PointHistory, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.PointHistory, error)
}
