package gormrepo

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/feastline/api/internal/domain"
	"github.com/feastline/api/internal/repositories"
)

// RewardPointRepository stores the cached per-user point balance.
type RewardPointRepository struct {
	db *gorm.DB
}

// NewRewardPointRepository wires the MySQL reward point repository.
func NewRewardPointRepository(db *gorm.DB) (*RewardPointRepository, error) {
	if db == nil {
		return nil, errors.New("gormrepo: db is required")
	}
	return &RewardPointRepository{db: db}, nil
}

// GetForUpdate loads the balance row under FOR UPDATE and creates a zero row
// for users without one. Must run inside RunInTx so the lock holds until commit.
func (r *RewardPointRepository) GetForUpdate(ctx context.Context, userID string) (domain.RewardPoint, error) {
	db := dbFrom(ctx, r.db)
	var model rewardPointModel
	err := db.Clauses(clause.Locking{Strength: "UPDATE"}).Where("user_id = ?", userID).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		model = rewardPointModel{UserID: userID, Balance: 0}
		if err := db.Create(&model).Error; err != nil && !errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.RewardPoint{}, translate("reward_points.create", err)
		}
		err = db.Clauses(clause.Locking{Strength: "UPDATE"}).Where("user_id = ?", userID).First(&model).Error
	}
	if err != nil {
		return domain.RewardPoint{}, translate("reward_points.lock", err)
	}
	return domain.RewardPoint{UserID: model.UserID, Balance: model.Balance, UpdatedAt: model.UpdatedAt}, nil
}

// Get loads the balance row without locking. Unseen users read as zero.
func (r *RewardPointRepository) Get(ctx context.Context, userID string) (domain.RewardPoint, error) {
	var model rewardPointModel
	err := dbFrom(ctx, r.db).Where("user_id = ?", userID).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.RewardPoint{UserID: userID, Balance: 0}, nil
	}
	if err != nil {
		return domain.RewardPoint{}, translate("reward_points.get", err)
	}
	return domain.RewardPoint{UserID: model.UserID, Balance: model.Balance, UpdatedAt: model.UpdatedAt}, nil
}

// Save writes the balance back.
func (r *RewardPointRepository) Save(ctx context.Context, balance domain.RewardPoint) error {
	model := rewardPointModel{UserID: balance.UserID, Balance: balance.Balance, UpdatedAt: balance.UpdatedAt}
	err := dbFrom(ctx, r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"balance", "updated_at"}),
	}).Create(&model).Error
	if err != nil {
		return translate("reward_points.save", err)
	}
	return nil
}

// PointHistoryRepository stores the append-only point ledger.
type PointHistoryRepository struct {
	db *gorm.DB
}

// NewPointHistoryRepository wires the MySQL point history repository.
func NewPointHistoryRepository(db *gorm.DB) (*PointHistoryRepository, error) {
	if db == nil {
		return nil, errors.New("gormrepo: db is required")
	}
	return &PointHistoryRepository{db: db}, nil
}

// Insert appends a ledger entry. The unique (user_id, order_id, type) index
// makes a replayed settlement surface as a conflict.
func (r *PointHistoryRepository) Insert(ctx context.Context, entry domain.PointHistory) error {
	model := pointHistoryModel{
		ID:          entry.ID,
		UserID:      entry.UserID,
		OrderID:     entry.OrderID,
		Type:        string(entry.Type),
		Amount:      entry.Amount,
		Description: entry.Description,
		CreatedAt:   entry.CreatedAt,
	}
	if err := dbFrom(ctx, r.db).Create(&model).Error; err != nil {
		return translate("point_histories.insert", err)
	}
	return nil
}

// FindByOperation loads the ledger entry for one (user, order, type) triple.
func (r *PointHistoryRepository) FindByOperation(ctx context.Context, userID, orderID string, entryType domain.PointEntryType) (domain.PointHistory, error) {
	var model pointHistoryModel
	err := dbFrom(ctx, r.db).
		Where("user_id = ? AND order_id = ? AND type = ?", userID, orderID, string(entryType)).
		First(&model).Error
	if err != nil {
		return domain.PointHistory{}, translate("point_histories.find", err)
	}
	return toDomainPointHistory(model), nil
}

// ListByUser returns a user's ledger entries, newest first.
func (r *PointHistoryRepository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.PointHistory, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var models []pointHistoryModel
	err := dbFrom(ctx, r.db).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, translate("point_histories.list", err)
	}
	entries := make([]domain.PointHistory, 0, len(models))
	for _, m := range models {
		entries = append(entries, toDomainPointHistory(m))
	}
	return entries, nil
}

func toDomainPointHistory(m pointHistoryModel) domain.PointHistory {
	return domain.PointHistory{
		ID:          m.ID,
		UserID:      m.UserID,
		Type:        domain.PointEntryType(m.Type),
		Amount:      m.Amount,
		OrderID:     m.OrderID,
		Description: m.Description,
		CreatedAt:   m.CreatedAt,
	}
}

var _ repositories.RewardPointRepository = (*RewardPointRepository)(nil)
var _ repositories.PointHistoryRepository = (*PointHistoryRepository)(nil)
