package app

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	libhttp "vacstation/backend/libs/httpserver"
	"vacstation/backend/libs/ledger"
	libredis "vacstation/backend/libs/redis"
	"vacstation/backend/services/api-gateway/internal/clients"
	"vacstation/backend/services/api-gateway/internal/config"
	httpserver "vacstation/backend/services/api-gateway/internal/http"
	"vacstation/backend/services/api-gateway/internal/http/handlers"
	"vacstation/backend/services/api-gateway/internal/http/middleware"
)

// App wires API gateway dependencies.
type App struct {
	server      *libhttp.Server
	redisClient *redis.Client
	logger      *zap.Logger
}

// New constructs application graph.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	redisClient, err := libredis.NewRedisClient(libredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, err
	}

	httpClient := clients.NewDefaultHTTPClient(cfg.HTTPTimeout())
	sessionsClient := clients.NewSessionsClient(cfg.Services.SessionsURL, httpClient)
	billingClient := clients.NewBillingClient(cfg.Services.BillingURL, httpClient)

	notifier := ledger.NewRedisNotifier(redisClient, logger.Named("balance"))

	router := httpserver.NewRouter(httpserver.RouterDeps{
		SessionsHandlers: handlers.NewSessionsHandlers(sessionsClient, logger),
		BillingHandlers:  handlers.NewBillingHandlers(billingClient, logger),
		BalanceStream:    handlers.NewBalanceStream(notifier, cfg.PingInterval(), cfg.Stream.AllowedOrigins, logger),
		Webhook:          handlers.NewWebhookHandler(billingClient, logger),
		HealthHandler: handlers.NewHealthHandler(map[string]handlers.Check{
			"redis": func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		}),
	}, middleware.AuthMiddleware(cfg.JWT.Secret))

	server := libhttp.NewServer(
		cfg.HTTPAddress(),
		router,
		logger,
		libhttp.Recovery(logger),
		libhttp.Logging(logger),
	)
	server.DisableWriteTimeout()

	return &App{
		server:      server,
		redisClient: redisClient,
		logger:      logger,
	}, nil
}

// Run starts serving HTTP traffic.
func (a *App) Run(ctx context.Context) error {
	return a.server.Run(ctx)
}

// Close releases resources.
func (a *App) Close() {
	if err := a.redisClient.Close(); err != nil {
		a.logger.Warn("failed to close redis", zap.Error(err))
	}
}
