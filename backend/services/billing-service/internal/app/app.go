package app

import (
	"context"
	"database/sql"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	libhttp "vacstation/backend/libs/httpserver"
	"vacstation/backend/libs/ledger"
	libredis "vacstation/backend/libs/redis"
	"vacstation/backend/services/billing-service/internal/config"
	"vacstation/backend/services/billing-service/internal/db"
	"vacstation/backend/services/billing-service/internal/gateway"
	httpserver "vacstation/backend/services/billing-service/internal/http"
	"vacstation/backend/services/billing-service/internal/http/handlers"
	"vacstation/backend/services/billing-service/internal/metrics"
	"vacstation/backend/services/billing-service/internal/repository"
	"vacstation/backend/services/billing-service/internal/service"
	"vacstation/backend/services/billing-service/internal/webhook"
)

// App wires billing service dependencies.
type App struct {
	server *libhttp.Server
	db     *sql.DB
	redis  *goredis.Client
	logger *zap.Logger
}

// New constructs application graph.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	sqlDB, err := db.NewPostgres(cfg.Database.DSN, cfg.Database.MaxOpenConns)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}

	redisClient, err := libredis.NewRedisClient(libredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		sqlDB.Close()
		return nil, err
	}

	m := metrics.New()
	wallet := ledger.New(ledger.NewPostgresStore(sqlDB), logger.Named("ledger"),
		ledger.WithNotifier(ledger.NewRedisNotifier(redisClient, logger)),
		ledger.WithRetry(cfg.LedgerRetry()),
		ledger.WithMetrics(ledger.NewMetrics(m.Registerer())),
	)

	mp := gateway.NewMercadoPago(gateway.Config{
		BaseURL:         cfg.MercadoPago.BaseURL,
		AccessToken:     cfg.MercadoPago.AccessToken,
		NotificationURL: cfg.MercadoPago.NotificationURL,
		SuccessURL:      cfg.MercadoPago.SuccessURL,
		FailureURL:      cfg.MercadoPago.FailureURL,
		Currency:        cfg.MercadoPago.Currency,
		Timeout:         cfg.MercadoPago.Timeout,
	}, logger.Named("mercadopago"))

	intentRepo := repository.NewIntentRepository(sqlDB)
	paymentRepo := repository.NewPaymentRepository(sqlDB)
	verifier := webhook.NewVerifier(cfg.Webhook.Secret, cfg.Webhook.Tolerance)
	if verifier == nil {
		logger.Warn("webhook signature verification disabled")
	}

	reconciler := service.NewReconciler(intentRepo, paymentRepo, mp, wallet, verifier, m, logger.Named("reconciler"))
	checkout := service.NewCheckoutService(intentRepo, paymentRepo, mp, wallet, cfg.TopUp.MaxAmount, m, logger.Named("checkout"))

	account := handlers.NewAccountHandlers(checkout, logger)
	routes := httpserver.Routes{
		Webhook:            handlers.NewWebhookHandler(reconciler, logger),
		Balance:            account.Balance,
		Transactions:       account.Transactions,
		Payments:           account.Payments,
		TopUps:             account.Intents,
		CreateTopUp:        handlers.NewTopUpHandler(checkout, logger),
		CancelSubscription: account.CancelSubscription,
		Health:             handlers.NewHealthHandler(sqlDB),
		Metrics:            m.Handler(),
	}

	router := httpserver.NewRouter(routes)
	server := libhttp.NewServer(cfg.HTTPAddress(), router, logger,
		libhttp.Recovery(logger),
		libhttp.Logging(logger),
	)

	return &App{
		server: server,
		db:     sqlDB,
		redis:  redisClient,
		logger: logger,
	}, nil
}

// Run starts HTTP server.
func (a *App) Run(ctx context.Context) error {
	return a.server.Run(ctx)
}

// Close releases resources.
func (a *App) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
}
