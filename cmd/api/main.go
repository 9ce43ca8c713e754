package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/feastline/api/internal/handlers"
	"github.com/feastline/api/internal/payments"
	"github.com/feastline/api/internal/platform/auth"
	"github.com/feastline/api/internal/platform/config"
	"github.com/feastline/api/internal/platform/idempotency"
	"github.com/feastline/api/internal/platform/lock"
	"github.com/feastline/api/internal/platform/notify"
	"github.com/feastline/api/internal/platform/observability"
	"github.com/feastline/api/internal/repositories/gormrepo"
	"github.com/feastline/api/internal/services"
)

const shutdownTimeout = 10 * time.Second

func main() {
	baseLogger, err := observability.NewLogger()
	if err != nil {
		log.Fatalf("failed to initialise logger: %v", err)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("api")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	db, err := gormrepo.Open(cfg.Database.DSN)
	if err != nil {
		logger.Fatal("failed to connect to mysql", zap.Error(err))
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("failed to access sql connection pool", zap.Error(err))
	}
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	defer func() {
		_ = sqlDB.Close()
	}()

	if cfg.Database.AutoMigrate {
		if err := gormrepo.Migrate(db); err != nil {
			logger.Fatal("failed to run schema migration", zap.Error(err))
		}
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() {
		_ = redisClient.Close()
	}()

	locker, err := lock.NewRedisLocker(redisClient, lock.WithTTL(cfg.Locks.TTL))
	if err != nil {
		logger.Fatal("failed to initialise order locker", zap.Error(err))
	}

	idempotencyStore, err := idempotency.NewRedisStore(redisClient)
	if err != nil {
		logger.Fatal("failed to initialise idempotency store", zap.Error(err))
	}
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	kafkaWriter := notify.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	defer func() {
		_ = kafkaWriter.Close()
	}()
	orderEvents, err := notify.NewKafkaOrderEventPublisher(kafkaWriter)
	if err != nil {
		logger.Fatal("failed to initialise order event publisher", zap.Error(err))
	}

	gatewayClient := &http.Client{Timeout: cfg.Payments.HTTPTimeout}
	zalopayProvider, err := payments.NewZaloPayProvider(payments.ZaloPayProviderConfig{
		AppID:      cfg.Payments.ZaloPay.AppID,
		Key1:       cfg.Payments.ZaloPay.Key1,
		Key2:       cfg.Payments.ZaloPay.Key2,
		Endpoint:   cfg.Payments.ZaloPay.Endpoint,
		HTTPClient: gatewayClient,
		Logger:     eventLogger(logger.Named("zalopay")),
	})
	if err != nil {
		logger.Fatal("failed to initialise zalopay provider", zap.Error(err))
	}
	momoProvider, err := payments.NewMoMoProvider(payments.MoMoProviderConfig{
		PartnerCode: cfg.Payments.MoMo.PartnerCode,
		AccessKey:   cfg.Payments.MoMo.AccessKey,
		SecretKey:   cfg.Payments.MoMo.SecretKey,
		Endpoint:    cfg.Payments.MoMo.Endpoint,
		RedirectURL: cfg.Payments.MoMo.RedirectURL,
		NotifyURL:   cfg.Payments.MoMo.NotifyURL,
		HTTPClient:  gatewayClient,
		Logger:      eventLogger(logger.Named("momo")),
	})
	if err != nil {
		logger.Fatal("failed to initialise momo provider", zap.Error(err))
	}
	gateways, err := payments.NewManager(map[string]payments.Provider{
		"zalopay": zalopayProvider,
		"momo":    momoProvider,
	})
	if err != nil {
		logger.Fatal("failed to initialise payment gateway manager", zap.Error(err))
	}

	authenticator := auth.NewAuthenticator(
		[]byte(cfg.Auth.JWTSecret),
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithAudience(cfg.Auth.Audience),
		auth.WithLeeway(cfg.Auth.Leeway),
	)

	unitOfWork, err := gormrepo.NewUnitOfWork(db)
	if err != nil {
		logger.Fatal("failed to initialise unit of work", zap.Error(err))
	}
	orderRepo, err := gormrepo.NewOrderRepository(db)
	if err != nil {
		logger.Fatal("failed to initialise order repository", zap.Error(err))
	}
	trackingRepo, err := gormrepo.NewOrderTrackingRepository(db)
	if err != nil {
		logger.Fatal("failed to initialise tracking repository", zap.Error(err))
	}
	foodRepo, err := gormrepo.NewFoodRepository(db)
	if err != nil {
		logger.Fatal("failed to initialise food repository", zap.Error(err))
	}
	couponRepo, err := gormrepo.NewCouponRepository(db)
	if err != nil {
		logger.Fatal("failed to initialise coupon repository", zap.Error(err))
	}
	couponUsageRepo, err := gormrepo.NewCouponUsageRepository(db)
	if err != nil {
		logger.Fatal("failed to initialise coupon usage repository", zap.Error(err))
	}
	rewardPointRepo, err := gormrepo.NewRewardPointRepository(db)
	if err != nil {
		logger.Fatal("failed to initialise reward point repository", zap.Error(err))
	}
	pointHistoryRepo, err := gormrepo.NewPointHistoryRepository(db)
	if err != nil {
		logger.Fatal("failed to initialise point history repository", zap.Error(err))
	}

	couponService, err := services.NewCouponService(services.CouponServiceDeps{
		Coupons: couponRepo,
		Usages:  couponUsageRepo,
		Logger:  eventLogger(logger.Named("coupons")),
	})
	if err != nil {
		logger.Fatal("failed to initialise coupon service", zap.Error(err))
	}
	pointsService, err := services.NewPointsService(services.PointsServiceDeps{
		Balances:   rewardPointRepo,
		History:    pointHistoryRepo,
		UnitOfWork: unitOfWork,
		Logger:     eventLogger(logger.Named("points")),
	})
	if err != nil {
		logger.Fatal("failed to initialise points service", zap.Error(err))
	}
	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:            orderRepo,
		Tracking:          trackingRepo,
		Foods:             foodRepo,
		Coupons:           couponService,
		Points:            pointsService,
		Gateways:          gateways,
		UnitOfWork:        unitOfWork,
		Locks:             locker,
		Events:            orderEvents,
		Logger:            eventLogger(logger.Named("orders")),
		PointsEarnDivisor: cfg.Points.EarnDivisor,
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	sweeper, err := services.NewCouponSweeper(services.CouponSweeperDeps{
		Coupons:  couponRepo,
		Interval: cfg.Coupons.SweepInterval,
		Logger:   eventLogger(logger.Named("coupon_sweeper")),
	})
	if err != nil {
		logger.Fatal("failed to initialise coupon sweeper", zap.Error(err))
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithReadinessCheck("database", func(ctx context.Context) error {
			return sqlDB.PingContext(ctx)
		}),
		handlers.WithReadinessCheck("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}),
	)

	orderHandlers := handlers.NewOrderHandlers(authenticator, orderService)
	paymentHandlers := handlers.NewPaymentHandlers(authenticator, orderService)
	couponHandlers := handlers.NewCouponHandlers(authenticator, couponService)
	pointsHandlers := handlers.NewPointsHandlers(authenticator, pointsService)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger),
			observability.TraceMiddleware(),
			observability.RecoveryMiddleware(logger),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithOrderMiddlewares(idempotencyMiddleware),
		handlers.WithPaymentRoutes(paymentHandlers.Routes),
		handlers.WithCouponRoutes(couponHandlers.Routes),
		handlers.WithPointsRoutes(pointsHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()

	go func() {
		logger.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server terminated unexpectedly", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutdown signal received")

	cancel()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	logger.Info("server stopped")
}

// eventLogger adapts a zap logger to the event callback shape the services use.
func eventLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Debug(event, zFields...)
	}
}
