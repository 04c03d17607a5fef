package app

import (
	"context"
	"database/sql"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	libhttp "vacstation/backend/libs/httpserver"
	"vacstation/backend/libs/ledger"
	libredis "vacstation/backend/libs/redis"
	"vacstation/backend/services/sessions-service/internal/config"
	"vacstation/backend/services/sessions-service/internal/db"
	httpserver "vacstation/backend/services/sessions-service/internal/http"
	"vacstation/backend/services/sessions-service/internal/http/handlers"
	"vacstation/backend/services/sessions-service/internal/metrics"
	"vacstation/backend/services/sessions-service/internal/models"
	redisstore "vacstation/backend/services/sessions-service/internal/redis"
	"vacstation/backend/services/sessions-service/internal/repository"
	"vacstation/backend/services/sessions-service/internal/service"
)

// App wires sessions-service dependencies.
type App struct {
	cfg         *config.Config
	server      *libhttp.Server
	coordinator *service.Coordinator
	sweeper     *service.Sweeper
	channel     *redisstore.DeviceChannel
	db          *sql.DB
	redisClient *redis.Client
	logger      *zap.Logger
}

// New constructs the application graph.
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

	sessionRepo := repository.NewSessionRepository(sqlDB)
	historyRepo := repository.NewHistoryRepository(sqlDB)
	deviceRepo := repository.NewDeviceRepository(sqlDB)
	activeStore := redisstore.NewStore(redisClient, cfg.ActiveSessionTTL())
	channel := redisstore.NewDeviceChannel(redisClient, logger.Named("devices"))

	coordinator := service.NewCoordinator(
		sessionRepo,
		historyRepo,
		deviceRepo,
		service.NewRateService(deviceRepo, cfg.Sessions.DefaultRate),
		wallet,
		channel,
		m,
		logger.Named("coordinator"),
		service.WithMaxMinutes(cfg.Sessions.MaxMinutes),
		service.WithRejectWindow(cfg.Sessions.RejectWindow),
		service.WithActiveCache(activeStore),
	)
	sweeper := service.NewSweeper(coordinator, cfg.Sweeper.Interval, cfg.Sweeper.StaleAfter, logger.Named("sweeper"))

	activation := handlers.NewActivationHandlers(coordinator, logger)
	devices := handlers.NewDeviceHandlers(coordinator, sweeper, logger)
	routes := httpserver.Routes{
		Activate:       activation.Activate,
		Deactivate:     activation.Deactivate,
		SessionsMe:     handlers.NewSessionsMeHandler(coordinator),
		ActiveSessions: handlers.NewActiveSessionsHandler(coordinator),
		DeviceStatus:   devices.Status,
		DeviceEvents:   devices.Event,
		RegisterDevice: devices.Register,
		DeviceHistory:  devices.History,
		StaleSessions:  handlers.NewStaleSessionsHandler(coordinator),
		Sweep:          devices.Sweep,
		Health: handlers.NewHealthHandler(map[string]handlers.Check{
			"database": sqlDB.PingContext,
			"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		}),
		Metrics: m.Handler(),
	}

	router := httpserver.NewRouter(routes)
	server := libhttp.NewServer(cfg.HTTPAddress(), router, logger,
		libhttp.Recovery(logger),
		libhttp.Logging(logger),
	)

	return &App{
		cfg:         cfg,
		server:      server,
		coordinator: coordinator,
		sweeper:     sweeper,
		channel:     channel,
		db:          sqlDB,
		redisClient: redisClient,
		logger:      logger,
	}, nil
}

// Run resumes countdowns, starts background workers and serves HTTP until
// ctx is done.
func (a *App) Run(ctx context.Context) error {
	if err := a.coordinator.Resume(ctx); err != nil {
		a.logger.Error("failed to resume countdowns", zap.Error(err))
	}
	defer a.coordinator.Shutdown()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if a.cfg.Sweeper.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.sweeper.Run(ctx)
		}()
	}
	if a.cfg.Sessions.ListenForEvents {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := a.channel.Listen(ctx, func(ctx context.Context, event models.DeviceEvent) {
				if err := a.coordinator.HandleDeviceEvent(ctx, event); err != nil {
					a.logger.Warn("device event not applied",
						zap.String("device_id", event.DeviceID),
						zap.String("type", string(event.Type)),
						zap.Error(err),
					)
				}
			})
			if err != nil {
				a.logger.Error("device event listener stopped", zap.Error(err))
			}
		}()
	}

	err := a.server.Run(ctx)
	cancel()
	wg.Wait()
	return err
}

// Close releases resources.
func (a *App) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
}
