package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/feastline/api/internal/domain"
	"github.com/feastline/api/internal/repositories"
)

const pointHistoryIDPrefix = "pts_"

// PointsServiceDeps bundles collaborators required to construct the points service.
type PointsServiceDeps struct {
	Balances    repositories.RewardPointRepository
	History     repositories.PointHistoryRepository
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type pointsService struct {
	balances   repositories.RewardPointRepository
	history    repositories.PointHistoryRepository
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

// NewPointsService wires dependencies into a concrete PointsService implementation.
func NewPointsService(deps PointsServiceDeps) (PointsService, error) {
	if deps.Balances == nil {
		return nil, errors.New("points service: balance repository is required")
	}
	if deps.History == nil {
		return nil, errors.New("points service: history repository is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
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

	return &pointsService{
		balances:   deps.Balances,
		history:    deps.History,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// GetBalance reads the cached balance row; unseen users read as zero.
func (s *pointsService) GetBalance(ctx context.Context, userID string) (RewardPoint, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return RewardPoint{}, fmt.Errorf("%w: user id is required", ErrPointsInvalidInput)
	}

	balance, err := s.balances.Get(ctx, userID)
	if err != nil {
		return RewardPoint{}, s.mapRepositoryError(err)
	}
	return balance, nil
}

// History returns a user's ledger entries, newest first.
func (s *pointsService) History(ctx context.Context, userID string, limit int) ([]PointHistory, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrPointsInvalidInput)
	}

	entries, err := s.history.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return entries, nil
}

// Earn credits points for a settled order.
func (s *pointsService) Earn(ctx context.Context, cmd PointsCommand) (PointHistory, error) {
	return s.apply(ctx, cmd, domain.PointEntryEarn, cmd.Amount)
}

// Use debits points against an order being placed.
func (s *pointsService) Use(ctx context.Context, cmd PointsCommand) (PointHistory, error) {
	return s.apply(ctx, cmd, domain.PointEntryUse, -cmd.Amount)
}

// Refund restores points debited for an order that was later cancelled.
func (s *pointsService) Refund(ctx context.Context, cmd PointsCommand) (PointHistory, error) {
	return s.apply(ctx, cmd, domain.PointEntryRefund, cmd.Amount)
}

// apply runs one ledger movement: lock the balance row, detect a replay of the
// same (user, order, type), append the history entry, write the new balance.
// The row lock is the single-writer-per-user discipline.
func (s *pointsService) apply(ctx context.Context, cmd PointsCommand, entryType domain.PointEntryType, signedAmount int64) (PointHistory, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return PointHistory{}, fmt.Errorf("%w: user id is required", ErrPointsInvalidInput)
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return PointHistory{}, fmt.Errorf("%w: order id is required", ErrPointsInvalidInput)
	}
	if cmd.Amount <= 0 {
		return PointHistory{}, fmt.Errorf("%w: amount must be positive", ErrPointsInvalidAmount)
	}

	var result PointHistory
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		balance, err := s.balances.GetForUpdate(txCtx, userID)
		if err != nil {
			return s.mapRepositoryError(err)
		}

		prior, err := s.history.FindByOperation(txCtx, userID, orderID, entryType)
		if err == nil {
			s.logger(txCtx, "points.operation.replayed", map[string]any{
				"user":  userID,
				"order": orderID,
				"type":  string(entryType),
			})
			result = prior
			return nil
		}
		var repoErr repositories.RepositoryError
		if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
			return s.mapRepositoryError(err)
		}

		if entryType == domain.PointEntryUse && cmd.Amount > balance.Balance {
			return fmt.Errorf("%w: have %d, need %d", ErrPointsInsufficient, balance.Balance, cmd.Amount)
		}

		now := s.clock()
		entry := domain.PointHistory{
			ID:          pointHistoryIDPrefix + s.newID(),
			UserID:      userID,
			Type:        entryType,
			Amount:      signedAmount,
			OrderID:     &orderID,
			Description: cmd.Description,
			CreatedAt:   now,
		}
		if err := s.history.Insert(txCtx, entry); err != nil {
			return s.mapRepositoryError(err)
		}

		balance.Balance += signedAmount
		balance.UpdatedAt = now
		if err := s.balances.Save(txCtx, balance); err != nil {
			return s.mapRepositoryError(err)
		}

		result = entry
		return nil
	})
	if err != nil {
		return PointHistory{}, err
	}
	return result, nil
}

func (s *pointsService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsConflict():
			return fmt.Errorf("points: conflict: %w", err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("points: repository unavailable: %w", err)
		}
	}
	return err
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}
