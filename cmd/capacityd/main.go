package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Freeeeeet/capacity_scheduler/internal/app"
	"github.com/Freeeeeet/capacity_scheduler/internal/capacity"
	"github.com/Freeeeeet/capacity_scheduler/internal/config"
	"github.com/Freeeeeet/capacity_scheduler/internal/controller/api"
	"github.com/Freeeeeet/capacity_scheduler/internal/lock"
	"github.com/Freeeeeet/capacity_scheduler/internal/notify"
	"github.com/Freeeeeet/capacity_scheduler/internal/repository"
	"github.com/Freeeeeet/capacity_scheduler/internal/repository/memory"
	"github.com/Freeeeeet/capacity_scheduler/internal/repository/migrations"
	"github.com/Freeeeeet/capacity_scheduler/internal/service"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type storage struct {
	store    service.ReservationStore
	channels interface {
		capacity.ChannelCatalog
		app.ChannelWriter
	}
	slots interface {
		capacity.SlotCatalog
		app.SlotWriter
	}
	pool  *pgxpool.Pool
	ready []api.ReadinessCheck
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := app.NewLogger(cfg.Environment, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting capacity scheduler",
		zap.String("environment", cfg.Environment),
		zap.String("storage", cfg.Storage),
		zap.String("lock_backend", cfg.LockBackend),
		zap.Strings("split_slots", cfg.SplitSlots))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open storage", zap.Error(err))
	}
	if st.pool != nil {
		defer st.pool.Close()
	}

	channelSeed, err := app.ParseChannelSeed(cfg.SeedChannels)
	if err != nil {
		logger.Fatal("Invalid SEED_CHANNELS", zap.Error(err))
	}
	seed := app.CatalogSeed{Channels: channelSeed, CatalogID: cfg.SeedCatalogID, Slots: cfg.SeedSlots}
	if !seed.Empty() {
		if err := app.SeedCatalog(ctx, st.channels, st.slots, seed, logger); err != nil {
			logger.Fatal("Failed to seed catalog", zap.Error(err))
		}
	}

	locker, closeLocker, err := openLocker(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to init lock backend", zap.Error(err))
	}
	defer closeLocker()

	split := capacity.DefaultSplitRule()
	if len(cfg.SplitSlots) == 2 {
		split = capacity.NewSplitRule(cfg.SplitSlots...)
	}

	allocatorOpts := []capacity.AllocatorOption{capacity.WithMaxPasses(cfg.AllocatorMaxPasses)}
	if cfg.AlertsEnabled() {
		tg, err := notify.NewTelegramBot(cfg.TelegramToken)
		if err != nil {
			logger.Fatal("Failed to create Telegram bot", zap.Error(err))
		}
		notifier := notify.NewTelegramNotifier(tg, cfg.TelegramAlertChatID, logger)
		notifier.Start(ctx)
		defer notifier.Stop()

		allocatorOpts = append(allocatorOpts, capacity.WithDropReporter(notifier))
		logger.Info("Telegram drop alerts enabled", zap.Int64("chat_id", cfg.TelegramAlertChatID))
	}

	validator := capacity.NewValidator(st.channels, st.store, split, logger)
	allocator := capacity.NewAllocator(st.channels, st.slots, st.store, split, logger, allocatorOpts...)
	reservationService := service.NewReservationService(st.store, st.channels, st.slots, validator, allocator, locker, logger)

	var limiter *api.RateLimiter
	if cfg.RateLimitRPS > 0 {
		limiter = api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		limiter.StartJanitor(ctx, time.Minute)
	}

	router := api.NewRouter(api.NewReservationHandler(reservationService, logger), limiter, st.ready...)
	server := app.NewServer(router, cfg.HTTPAddr, logger)
	server.Start()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-server.Errors():
		logger.Error("Server terminated", zap.Error(err))
	}

	if err := server.Stop(15 * time.Second); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}
	logger.Info("✅ Capacity scheduler stopped")
}

func openStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*storage, error) {
	if cfg.Storage == config.StorageMemory {
		logger.Warn("Using in-memory storage, data is lost on restart")
		mem := memory.NewStore()
		return &storage{store: mem, channels: mem, slots: mem}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.GetDBDSN())
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("✅ Connected to database")

	if cfg.MigrationsEnabled {
		migrator, err := app.NewMigrator(pool, migrations.FS, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		err = migrator.Run(ctx)
		migrator.Close()
		if err != nil {
			pool.Close()
			return nil, err
		}
	}

	reservations := repository.NewReservationRepository(pool)
	return &storage{
		store:    reservations,
		channels: repository.NewChannelRepository(pool),
		slots:    repository.NewTimeSlotRepository(pool),
		pool:     pool,
		ready:    []api.ReadinessCheck{{Name: "postgres", Check: reservations.Ping}},
	}, nil
}

func openLocker(ctx context.Context, cfg *config.Config, logger *zap.Logger) (lock.Locker, func(), error) {
	switch cfg.LockBackend {
	case config.LockRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, err
		}
		logger.Info("✅ Connected to Redis", zap.String("addr", cfg.RedisAddr))
		return lock.NewRedisLocker(client, cfg.LockTTL, logger), func() { client.Close() }, nil
	case config.LockPostgres:
		// Свой пул: держатель блокировки не конкурирует с ожидающими за соединения репозиториев
		locker, err := lock.NewPostgresLockerPool(ctx, cfg.GetDBDSN(), cfg.LockPoolSize, cfg.LockTTL, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("✅ Advisory lock pool opened", zap.Int32("max_conns", cfg.LockPoolSize))
		return locker, locker.Close, nil
	default:
		return lock.NewMemoryLocker(), func() {}, nil
	}
}
