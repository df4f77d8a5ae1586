package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Domenick1991/farmrent/api"
	"github.com/Domenick1991/farmrent/config"
	"github.com/Domenick1991/farmrent/internal/bootstrap"
	"github.com/Domenick1991/farmrent/internal/cache"
	"github.com/Domenick1991/farmrent/internal/kafka"
	"github.com/Domenick1991/farmrent/internal/logger"
	"github.com/Domenick1991/farmrent/internal/service/machines"
	"github.com/Domenick1991/farmrent/internal/service/review"
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
	if core.OTPStore != nil {
		go core.OTPStore.RunSweeper(ctx, cfg.Worker.OTPSweep, zl.Named("otp"))
	}

	machineService := machines.NewMachineService(core.Repositories.Machines, redisCache, zl)
	reviewService := review.NewReviewService(core.Repositories.Bookings, core.Repositories.Reviews, zl)

	checks := map[string]bootstrap.HealthCheck{
		"postgres": pool.Ping,
		"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
	}
	if p, ok := emitter.(*kafka.Producer); ok {
		checks["kafka"] = p.CheckConnection
	}

	handlers := bootstrap.Handlers{
		Machines: api.NewMachineHandler(machineService),
		Bookings: api.NewBookingHandler(core.Bookings),
		Reviews:  api.NewReviewHandler(reviewService),
		Checks:   checks,
	}

	if err := bootstrap.Run(ctx, cfg, zl, handlers); err != nil {
		zl.Fatal("server error", zap.Error(err))
	}
}
