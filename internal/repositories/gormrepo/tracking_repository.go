package gormrepo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	domain "github.com/feastline/api/internal/domain"
	"github.com/feastline/api/internal/repositories"
)

// OrderTrackingRepository stores the status transition audit trail.
type OrderTrackingRepository struct {
	db *gorm.DB
}

// NewOrderTrackingRepository wires the MySQL tracking repository.
func NewOrderTrackingRepository(db *gorm.DB) (*OrderTrackingRepository, error) {
	if db == nil {
		return nil, errors.New("gormrepo: db is required")
	}
	return &OrderTrackingRepository{db: db}, nil
}

// Append adds one audit row.
func (r *OrderTrackingRepository) Append(ctx context.Context, row domain.OrderTracking) error {
	model := orderTrackingModel{
		ID:         row.ID,
		OrderID:    row.OrderID,
		FromStatus: string(row.FromStatus),
		ToStatus:   string(row.ToStatus),
		Actor:      row.Actor,
		Note:       row.Note,
		CreatedAt:  row.CreatedAt,
	}
	if err := dbFrom(ctx, r.db).Create(&model).Error; err != nil {
		return translate("order_trackings.append", err)
	}
	return nil
}

// List returns an order's audit trail in write order.
func (r *OrderTrackingRepository) List(ctx context.Context, orderID string) ([]domain.OrderTracking, error) {
	var models []orderTrackingModel
	err := dbFrom(ctx, r.db).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, translate("order_trackings.list", err)
	}
	rows := make([]domain.OrderTracking, 0, len(models))
	for _, m := range models {
		rows = append(rows, domain.OrderTracking{
			ID:         m.ID,
			OrderID:    m.OrderID,
			FromStatus: domain.OrderStatus(m.FromStatus),
			ToStatus:   domain.OrderStatus(m.ToStatus),
			Actor:      m.Actor,
			Note:       m.Note,
			CreatedAt:  m.CreatedAt,
		})
	}
	return rows, nil
}

// FoodRepository reads the catalog projection used for order validation.
type FoodRepository struct {
	db *gorm.DB
}

// NewFoodRepository wires the MySQL food repository.
func NewFoodRepository(db *gorm.DB) (*FoodRepository, error) {
	if db == nil {
		return nil, errors.New("gormrepo: db is required")
	}
	return &FoodRepository{db: db}, nil
}

// FindByIDs loads the foods present in the catalog; absent ids are simply not
// returned, callers detect them by comparing lengths.
func (r *FoodRepository) FindByIDs(ctx context.Context, foodIDs []string) ([]domain.Food, error) {
	if len(foodIDs) == 0 {
		return nil, nil
	}
	var models []foodModel
	err := dbFrom(ctx, r.db).Where("id IN ?", foodIDs).Find(&models).Error
	if err != nil {
		return nil, translate("foods.find", err)
	}
	foods := make([]domain.Food, 0, len(models))
	for _, m := range models {
		foods = append(foods, domain.Food{
			ID:         m.ID,
			Name:       m.Name,
			Price:      m.Price,
			CategoryID: m.CategoryID,
			Available:  m.Available,
		})
	}
	return foods, nil
}

var _ repositories.OrderTrackingRepository = (*OrderTrackingRepository)(nil)
var _ repositories.FoodRepository = (*FoodRepository)(nil)
var _ repositories.OrderRepository = (*OrderRepository)(nil)
