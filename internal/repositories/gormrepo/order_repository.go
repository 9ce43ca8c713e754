package gormrepo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	domain "github.com/feastline/api/internal/domain"
	"github.com/feastline/api/internal/repositories"
)

// OrderRepository persists orders and their line items in MySQL.
type OrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository wires the MySQL order repository.
func NewOrderRepository(db *gorm.DB) (*OrderRepository, error) {
	if db == nil {
		return nil, errors.New("gormrepo: db is required")
	}
	return &OrderRepository{db: db}, nil
}

// Insert stores a new order header with its items.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	model := toOrderModel(order)
	if err := dbFrom(ctx, r.db).Create(&model).Error; err != nil {
		return translate("orders.insert", err)
	}
	return nil
}

// Update rewrites the mutable order header columns. Items are immutable after
// insert and are left untouched.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	model := toOrderModel(order)
	model.Items = nil
	res := dbFrom(ctx, r.db).Model(&orderModel{}).Where("id = ?", order.ID).Select(
		"status", "discount_amount", "points_used", "total_price", "coupon_id",
		"coupon_hold", "gateway_transaction_id", "refund_flagged", "cancel_reason",
		"updated_at", "paid_at", "completed_at", "cancelled_at",
	).Updates(&model)
	if res.Error != nil {
		return translate("orders.update", res.Error)
	}
	if res.RowsAffected == 0 {
		return repositories.NewError(repositories.ErrorKindNotFound, "orders.update", "order not found", nil)
	}
	return nil
}

// FindByID loads an order with its items.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	var model orderModel
	err := dbFrom(ctx, r.db).Preload("Items").Where("id = ?", orderID).First(&model).Error
	if err != nil {
		return domain.Order{}, translate("orders.find", err)
	}
	return toDomainOrder(model), nil
}

// FindByGatewayTransactionID resolves the order a gateway callback refers to.
func (r *OrderRepository) FindByGatewayTransactionID(ctx context.Context, transactionID string) (domain.Order, error) {
	var model orderModel
	err := dbFrom(ctx, r.db).Preload("Items").Where("gateway_transaction_id = ?", transactionID).First(&model).Error
	if err != nil {
		return domain.Order{}, translate("orders.find_by_txn", err)
	}
	return toDomainOrder(model), nil
}

// List returns orders matching the filter, newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	q := dbFrom(ctx, r.db).Preload("Items").Order("created_at DESC")
	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, s := range filter.Status {
			statuses = append(statuses, string(s))
		}
		q = q.Where("status IN ?", statuses)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var models []orderModel
	if err := q.Limit(limit).Find(&models).Error; err != nil {
		return nil, translate("orders.list", err)
	}
	orders := make([]domain.Order, 0, len(models))
	for _, m := range models {
		orders = append(orders, toDomainOrder(m))
	}
	return orders, nil
}
