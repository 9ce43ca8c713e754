package services

import (
	"context"
	"errors"
	"time"

	"github.com/feastline/api/internal/repositories"
)

// CouponSweeperDeps bundles collaborators for the periodic coupon status sweep.
type CouponSweeperDeps struct {
	Coupons  repositories.CouponRepository
	Interval time.Duration
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

// CouponSweeper periodically flips stale ACTIVE coupons to EXPIRED or USED_OUT.
// The swept status is advisory: reservation correctness checks the window and
// counters directly, so running concurrently with reserve is safe.
type CouponSweeper struct {
	coupons  repositories.CouponRepository
	interval time.Duration
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewCouponSweeper wires dependencies into a CouponSweeper.
func NewCouponSweeper(deps CouponSweeperDeps) (*CouponSweeper, error) {
	if deps.Coupons == nil {
		return nil, errors.New("coupon sweeper: coupon repository is required")
	}

	interval := deps.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &CouponSweeper{
		coupons:  deps.Coupons,
		interval: interval,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *CouponSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single sweep pass.
func (s *CouponSweeper) SweepOnce(ctx context.Context) {
	expired, err := s.coupons.MarkExpired(ctx, s.clock())
	if err != nil {
		s.logger(ctx, "coupon.sweep.expire.failed", map[string]any{"error": err.Error()})
	} else if expired > 0 {
		s.logger(ctx, "coupon.sweep.expired", map[string]any{"count": expired})
	}

	usedOut, err := s.coupons.MarkUsedOut(ctx)
	if err != nil {
		s.logger(ctx, "coupon.sweep.used_out.failed", map[string]any{"error": err.Error()})
	} else if usedOut > 0 {
		s.logger(ctx, "coupon.sweep.used_out", map[string]any{"count": usedOut})
	}
}
