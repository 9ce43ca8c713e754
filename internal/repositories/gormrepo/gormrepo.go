// Package gormrepo implements the repository contracts on MySQL through GORM.
package gormrepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/feastline/api/internal/repositories"
)

type txContextKey struct{}

// Open connects to MySQL and prepares the schema. TranslateError is required so
// duplicate-key violations surface as gorm.ErrDuplicatedKey.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("gormrepo: open mysql: %w", err)
	}
	return db, nil
}

// Migrate creates or updates the tables owned by this service.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&orderModel{},
		&orderItemModel{},
		&foodModel{},
		&couponModel{},
		&couponUsageModel{},
		&rewardPointModel{},
		&pointHistoryModel{},
		&orderTrackingModel{},
	)
}

// UnitOfWork runs repository operations inside a single database transaction.
// The transactional handle travels in the context, so the same repositories work
// inside and outside RunInTx.
type UnitOfWork struct {
	db *gorm.DB
}

// NewUnitOfWork wires a transactional boundary over the shared connection pool.
func NewUnitOfWork(db *gorm.DB) (*UnitOfWork, error) {
	if db == nil {
		return nil, errors.New("gormrepo: db is required")
	}
	return &UnitOfWork{db: db}, nil
}

// RunInTx implements repositories.UnitOfWork. A nested call joins the
// transaction already carried in the context instead of opening a second one.
func (u *UnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txContextKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	return u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txContextKey{}, tx))
	})
}

// dbFrom returns the transactional handle when running under RunInTx, the pool
// otherwise.
func dbFrom(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txContextKey{}).(*gorm.DB); ok {
		return tx
	}
	return db.WithContext(ctx)
}

func translate(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return repositories.NewError(repositories.ErrorKindNotFound, op, "record not found", err)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return repositories.NewError(repositories.ErrorKindConflict, op, "duplicate record", err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return repositories.NewError(repositories.ErrorKindUnavailable, op, "database unavailable", err)
	default:
		return repositories.NewError(repositories.ErrorKindUnknown, op, err.Error(), err)
	}
}
