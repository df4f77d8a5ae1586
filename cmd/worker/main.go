package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Domenick1991/farmrent/config"
	"github.com/Domenick1991/farmrent/internal/bootstrap"
	"github.com/Domenick1991/farmrent/internal/cache"
	"github.com/Domenick1991/farmrent/internal/kafka"
	"github.com/Domenick1991/farmrent/internal/logger"
	"github.com/Domenick1991/farmrent/internal/notify"
	"github.com/Domenick1991/farmrent/internal/tracing"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	zl, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()
	zl = zl.Named("worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, zl)
	if err != nil {
		zl.Fatal("init tracing", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		zl.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	redisClient := cache.NewClient(cfg.Redis)
	defer redisClient.Close()
	redisCache := cache.NewRedisCache(redisClient, cfg.Booking.MachinesCacheTTL, cfg.Booking.LockTTL)

	emitter, err := bootstrap.NewEmitter(cfg, zl)
	if err != nil {
		zl.Fatal("init event emitter", zap.Error(err))
	}
	defer emitter.Close()

	core, err := bootstrap.NewCore(cfg, zl, pool, redisCache, emitter)
	if err != nil {
		zl.Fatal("init services", zap.Error(err))
	}

	sender := notify.NewSender(zl)
	if cfg.Events.Transport == "kafka" {
		handler := kafka.NotificationHandler(zl, sender.Send)
		go func() {
			// each run opens a fresh reader so uncommitted messages are redelivered
			_ = kafka.Supervise(ctx, zl, cfg.Worker.ConsumerBackoff, cfg.Worker.ConsumerBackoffMax, func(ctx context.Context) error {
				consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.NotificationsTopic, zl)
				defer consumer.Close()
				return consumer.Consume(ctx, handler)
			})
		}()
	}

	expireTicker := time.NewTicker(cfg.Worker.ExpirationSweep)
	defer expireTicker.Stop()

	for {
		select {
		case <-expireTicker.C:
			expired, err := core.Bookings.ExpireUnarrivedBookings(ctx)
			if err != nil {
				zl.Error("expire bookings", zap.Error(err))
				continue
			}
			if len(expired) > 0 {
				zl.Info("auto-cancelled bookings", zap.Int("count", len(expired)))
			}
		case <-ctx.Done():
			zl.Info("shutting down")
			return
		}
	}
}
