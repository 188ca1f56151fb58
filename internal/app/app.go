package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/marketplace-settlement/internal/domain/coupon"
	"github.com/xenking/marketplace-settlement/internal/domain/fee"
	"github.com/xenking/marketplace-settlement/internal/domain/order"
	"github.com/xenking/marketplace-settlement/internal/domain/seller"
	"github.com/xenking/marketplace-settlement/internal/domain/settlement"
	"github.com/xenking/marketplace-settlement/internal/handler"
	"github.com/xenking/marketplace-settlement/internal/payple"
	"github.com/xenking/marketplace-settlement/internal/storage/postgres"
	"github.com/xenking/marketplace-settlement/internal/storage/redis"
	"github.com/xenking/marketplace-settlement/pkg/health"
	"github.com/xenking/marketplace-settlement/pkg/httpmiddleware"
	"github.com/xenking/marketplace-settlement/pkg/resilience"
)

const meterName = "github.com/xenking/marketplace-settlement/internal/app"

// Run creates all dependencies, starts the HTTP server and the aggregation
// scheduler, and handles graceful shutdown. It is the single wiring point
// for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	loc, err := cfg.Settlement.Location()
	if err != nil {
		return err
	}

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc_pause", time.Second, health.GCMaxPauseCheck(time.Second), health.NonCritical())

	// PG partner client behind the circuit breaker.
	var tokens payple.TokenCache = payple.NewMemoryTokenCache()
	if cfg.RedisURL != "" {
		rdb, err := redis.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return errors.Wrap(err, "connect redis")
		}
		defer func() { _ = rdb.Close() }()

		cache := redis.NewTokenCache(rdb, redis.DefaultTokenKey)
		healthSvc.AddReadinessCheck("redis", 2*time.Second, health.PingCheck(cache))
		tokens = cache
	}

	onStateChange, err := breakerObserver(lg, m.MeterProvider())
	if err != nil {
		return err
	}
	exec := payple.NewExecutor(cfg.Breaker, cfg.Retry, resilience.WithStateChange(onStateChange))
	pg := payple.NewClient(cfg.Payple,
		payple.WithExecutor(exec),
		payple.WithTokenCache(tokens),
	)
	healthSvc.AddReadinessCheck("payple_breaker", time.Second, func(context.Context) error {
		if s := exec.Breaker().State(); s == resilience.StateOpen {
			return errors.Errorf("circuit breaker %s", s)
		}
		return nil
	}, health.NonCritical())

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	svc, err := newServices(ctx, pool, pg, cfg, loc, m.MeterProvider())
	if err != nil {
		return err
	}

	scheduler, err := NewScheduler(lg, m.TracerProvider(), svc.aggregator, cfg.Settlement, loc)
	if err != nil {
		return errors.Wrap(err, "create scheduler")
	}

	// Router: health endpoints + API routes on one server.
	mux := chi.NewRouter()
	mux.Get("/livez", healthSvc.LiveEndpoint)
	mux.Get("/readyz", healthSvc.ReadyEndpoint)
	mux.Mount("/api", svc.api.Routes())

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		// Approvals with PG transfers wait on the bank.
		WriteTimeout:   2 * time.Minute,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		Addr:           cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.Routes(),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("settlement-api", m.MeterProvider(), m.TracerProvider()),
			httpmiddleware.LogRequests(),
			httpmiddleware.Labeler(),
		),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	// Graceful shutdown: wait for cancellation, drain, then stop.
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		return nil
	})
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	return g.Wait()
}

// services are the domain services behind the API and the scheduler.
type services struct {
	api        *handler.Handler
	aggregator *settlement.Aggregator
}

func newServices(ctx context.Context, pool *pgxpool.Pool, pg *payple.Client, cfg *Config, loc *time.Location, mp metric.MeterProvider) (*services, error) {
	// Repositories.
	contentRepo := postgres.NewContentRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	paymentRepo := postgres.NewPaymentRepository(pool)
	purchaseRepo := postgres.NewPurchaseRepository(pool)
	couponRepo := postgres.NewCouponRepository(pool)
	sellerRepo := postgres.NewSellerRepository(pool)
	feeRepo := postgres.NewFeePolicyRepository(pool)
	saleRepo := postgres.NewSaleRepository(pool)
	settlementRepo := postgres.NewSettlementRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	// Domain services.
	orderService := order.NewService(
		contentRepo,
		orderRepo,
		paymentRepo,
		purchaseRepo,
		coupon.NewSelector(couponRepo),
		couponRepo,
	)
	sellerService := seller.NewService(sellerRepo, payple.NewSellerGateway(pg))
	aggregator := settlement.NewAggregator(settlementRepo, saleRepo, fee.NewResolver(feeRepo), sellerRepo)
	approver, err := settlement.NewApprover(settlementRepo, sellerRepo, payple.NewPayoutGateway(pg),
		settlement.WithMeterProvider(mp),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create approver")
	}

	// HTTP handlers.
	h := handler.NewHandler(handler.Config{
		APIKeyPepper: []byte(cfg.APIKeyPepper),
		WebhookToken: cfg.Payple.WebhookToken,
		ScheduledDay: cfg.Settlement.ScheduledDay,
		Location:     loc,
		OrderLimit: httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
			Rate:    cfg.OrderLimit.Rate,
			Burst:   cfg.OrderLimit.Burst,
			KeyFunc: handler.BuyerKey,
		}),
	}, handler.Deps{
		Orders:     orderService,
		Approver:   approver,
		Aggregator: aggregator,
		Sellers:    sellerService,
		Policies:   fee.NewPublisher(feeRepo),
		Balance:    pg,
		APIKeys:    apikeyRepo,
	})

	return &services{api: h, aggregator: aggregator}, nil
}

// breakerObserver logs breaker transitions and counts them per target state.
func breakerObserver(lg *zap.Logger, mp metric.MeterProvider) (resilience.StateChangeFunc, error) {
	transitions, err := mp.Meter(meterName).Int64Counter("payple.breaker.transitions",
		metric.WithDescription("Circuit breaker state transitions"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create breaker counter")
	}

	return func(name string, from, to resilience.State) {
		lg.Warn("Circuit breaker state changed",
			zap.String("breaker", name),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
		transitions.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("breaker", name),
			attribute.String("state", to.String()),
		))
	}, nil
}
