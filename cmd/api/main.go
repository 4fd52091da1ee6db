package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shareit/internal/api"
	"shareit/internal/clock"
	"shareit/internal/config"
	"shareit/internal/database"
	"shareit/internal/domain"
	"shareit/internal/events"
	"shareit/internal/google"
	"shareit/internal/logging"
	"shareit/internal/metrics"
	"shareit/internal/models"
	"shareit/internal/postgres"
	"shareit/internal/repository"
	"shareit/internal/service"
	"shareit/internal/worker"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

// backend is the selected reservation store plus what only some drivers provide.
type backend struct {
	store   domain.BookingStore
	items   service.ItemSource
	sqlite  *database.DB
	closers []func()
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer func() { _ = closer.Close() }()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	be, err := initBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer be.Close()

	redisClient := initRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer func() { _ = repository.Close(redisClient) }()
	}

	bus := events.NewEventBus(logging.Component(logger, "events"))
	if redisClient != nil {
		bus.SubscribeAll(events.BookingEventTypes, events.NewRedisForwarder(redisClient, models.BookingEventsChannel).Handle)
	}
	initTelegram(ctx, cfg, bus, logger)
	if err := initSheets(ctx, cfg, be, bus, redisClient, logger); err != nil {
		logger.Warn().Err(err).Msg("google sheets disabled")
	}

	items := service.NewItemService(be.items, cfg.Items, logging.Component(logger, "items"))
	if err := items.Refresh(ctx); err != nil {
		logger.Warn().Err(err).Msg("using configured item catalog")
	}

	clk := clock.System{Loc: cfg.Location()}
	bookings := service.NewBookingService(be.store, clk, bus, logging.Component(logger, "bookings"))

	if be.sqlite != nil && cfg.Backup.Enabled {
		backup := database.NewBackupService(be.sqlite, cfg.Backup, logging.Component(logger, "backup"))
		go backup.Start(ctx)
	}

	startMetrics(ctx, cfg, logger)

	httpServer := api.NewHTTPServer(cfg.API, api.Services{
		Bookings: bookings,
		Items:    items,
		Throttle: initThrottle(redisClient, logger),
		Store:    be.store,
		Booking:  cfg.Booking,
		Location: cfg.Location(),
	}, logger)

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		grpcServer, err = api.NewGRPCServer(cfg.API, be.store, logger)
		if err != nil {
			return fmt.Errorf("create grpc server: %w", err)
		}
	}

	return startServers(ctx, cfg, grpcServer, httpServer, logger)
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logging.Component(baseLogger, "main"), closer, nil
}

func initBackend(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*backend, error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		store, err := postgres.Connect(ctx, cfg.Database.Postgres, logging.Component(logger, "postgres"))
		if err != nil {
			return nil, err
		}
		return &backend{store: store, closers: []func(){store.Close}}, nil

	case config.DriverMemory:
		logger.Warn().Msg("using in-memory store, bookings are lost on restart")
		return &backend{store: repository.NewMemoryBookingStore()}, nil

	default:
		db, err := database.NewDB(cfg.Database.Path, logging.Component(logger, "database"))
		if err != nil {
			return nil, fmt.Errorf("init database: %w", err)
		}
		if err := db.SyncItems(ctx, cfg.Items); err != nil {
			_ = db.Close()
			return nil, err
		}
		return &backend{
			store:   db,
			items:   db,
			sqlite:  db,
			closers: []func(){func() { _ = db.Close() }},
		}, nil
	}
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := repository.Ping(pingCtx, client); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = client.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return client
}

func initThrottle(redisClient *redis.Client, logger *zerolog.Logger) domain.RateLimiter {
	memory := repository.NewMemoryRateLimiter()
	if redisClient == nil {
		return memory
	}
	return repository.NewFailoverRateLimiter(
		repository.NewRedisRateLimiter(redisClient, ""),
		memory,
		logging.Component(logger, "throttle"),
	)
}

func initTelegram(ctx context.Context, cfg *config.Config, bus *events.EventBus, logger *zerolog.Logger) {
	if cfg.Telegram.BotToken == "" || len(cfg.Telegram.NotifyChatIDs) == 0 {
		return
	}

	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		logger.Warn().Err(err).Msg("telegram init failed, continuing without notifications")
		return
	}
	bot.Debug = cfg.Telegram.Debug

	notifier := service.NewTelegramNotifier(bot, cfg.Telegram.NotifyChatIDs, logging.Component(logger, "telegram"))
	bus.SubscribeAll(events.BookingEventTypes, notifier.Handle)
	go notifier.Run(ctx)

	logger.Info().Str("bot", bot.Self.UserName).Int("chats", len(cfg.Telegram.NotifyChatIDs)).Msg("telegram notifications enabled")
}

// initSheets needs a SQLite sync queue; non-SQLite drivers get one at database.path.
func initSheets(
	ctx context.Context,
	cfg *config.Config,
	be *backend,
	bus *events.EventBus,
	redisClient *redis.Client,
	logger *zerolog.Logger,
) error {
	if !cfg.Google.Enabled() {
		return nil
	}

	queue := be.sqlite
	if queue == nil {
		path := cfg.Database.Path
		if path == "" {
			path = "data/sync_queue.db"
		}
		db, err := database.NewDB(path, logging.Component(logger, "sync-queue"))
		if err != nil {
			return fmt.Errorf("open sync queue: %w", err)
		}
		be.closers = append(be.closers, func() { _ = db.Close() })
		queue = db
	}

	sheet, err := google.NewBookingSheet(ctx, cfg.Google.CredentialsFile, cfg.Google.BookingsSpreadsheetID,
		cfg.Google.SheetName, logging.Component(logger, "sheets"))
	if err != nil {
		return err
	}
	if err := sheet.TestConnection(ctx); err != nil {
		return err
	}
	if cfg.Google.ResyncOnStart {
		all, err := be.store.FindBookings(ctx, models.BookingFilter{Order: models.StartAsc})
		if err != nil {
			return fmt.Errorf("load bookings for resync: %w", err)
		}
		if err := sheet.ReplaceAll(ctx, all); err != nil {
			return fmt.Errorf("resync sheet: %w", err)
		}
		logger.Info().Int("bookings", len(all)).Msg("sheet resynced")
	}
	go sheet.RefreshCachePeriodically(ctx, time.Hour)

	w := worker.NewSheetsWorker(queue, sheet, redisClient, worker.RetryPolicy{}, logging.Component(logger, "sheets-worker"))
	bus.SubscribeAll(events.BookingEventTypes, w.HandleEvent)
	go w.Start(ctx)

	if failed, err := queue.GetFailedSyncTasks(ctx); err != nil {
		logger.Warn().Err(err).Msg("failed to count dead sync tasks")
	} else if len(failed) > 0 {
		logger.Warn().Int("tasks", len(failed)).Msg("sheets sync has failed tasks")
	}

	logger.Info().Str("sheet", cfg.Google.SheetName).Msg("google sheets mirror enabled")
	return nil
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}
	metrics.Register()
	go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}

func startServers(
	ctx context.Context,
	cfg *config.Config,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	logger *zerolog.Logger,
) error {
	if grpcServer != nil {
		go grpcServer.WatchHealth(ctx, 15*time.Second)
		go func() {
			if err := grpcServer.Serve(); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
			}
		}()
	}

	if cfg.API.HTTP.Enabled {
		go func() {
			if err := httpServer.Start(); err != nil {
				logger.Error().Err(err).Msg("http server stopped")
			}
		}()
	}

	logger.Info().
		Bool("http", cfg.API.HTTP.Enabled).
		Int("http_port", cfg.API.HTTP.Port).
		Bool("grpc", grpcServer != nil).
		Str("driver", cfg.Database.Driver).
		Msg("shareit started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}

	logger.Info().Msg("shareit stopped")
	return nil
}
