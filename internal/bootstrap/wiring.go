package bootstrap

import (
	"fmt"

	"github.com/Domenick1991/farmrent/config"
	"github.com/Domenick1991/farmrent/internal/cache"
	"github.com/Domenick1991/farmrent/internal/gateway"
	"github.com/Domenick1991/farmrent/internal/ids"
	"github.com/Domenick1991/farmrent/internal/kafka"
	"github.com/Domenick1991/farmrent/internal/notify"
	"github.com/Domenick1991/farmrent/internal/otp"
	"github.com/Domenick1991/farmrent/internal/rabbit"
	"github.com/Domenick1991/farmrent/internal/repository"
	"github.com/Domenick1991/farmrent/internal/service/booking"
	"github.com/Domenick1991/farmrent/internal/service/dispute"
	"github.com/Domenick1991/farmrent/internal/service/payment"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Emitter is a booking event sink that owns a connection.
type Emitter interface {
	booking.Emitter
	Close() error
}

type nopCloser struct {
	booking.Emitter
}

func (nopCloser) Close() error { return nil }

// NewEmitter picks the event transport named in cfg.Events.Transport.
func NewEmitter(cfg *config.Config, log *zap.Logger) (Emitter, error) {
	switch cfg.Events.Transport {
	case "kafka":
		return kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.NotificationsTopic, log, kafka.WithRetries(cfg.Kafka.PublishRetries)), nil
	case "rabbitmq":
		p, err := rabbit.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, log)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "log":
		return nopCloser{notify.NewLogEmitter(notify.NewSender(log))}, nil
	}
	return nil, fmt.Errorf("unknown events transport %q", cfg.Events.Transport)
}

// Core holds the services shared by the API process and the worker.
type Core struct {
	Bookings     *booking.BookingService
	Cache        *cache.RedisCache
	OTPStore     *otp.MemoryStore
	Repositories Repositories
}

type Repositories struct {
	Bookings     repository.BookingRepository
	Machines     repository.MachineRepository
	Transactions repository.TransactionRepository
	Reviews      repository.ReviewRepository
}

func NewCore(cfg *config.Config, log *zap.Logger, pool *pgxpool.Pool, redisCache *cache.RedisCache, emitter booking.Emitter) (*Core, error) {
	repos := Repositories{
		Bookings:     repository.NewBookingRepository(pool),
		Machines:     repository.NewMachineRepository(pool),
		Transactions: repository.NewTransactionRepository(pool),
		Reviews:      repository.NewReviewRepository(pool),
	}

	node, err := ids.NewSnowflake(cfg.Snowflake.Node)
	if err != nil {
		return nil, err
	}

	core := &Core{Cache: redisCache, Repositories: repos}

	var store otp.Store
	switch cfg.OTP.Store {
	case "redis":
		store = otp.NewRedisStore(redisCache.Client(), "farmrent:")
	default:
		core.OTPStore = otp.NewMemoryStore()
		store = core.OTPStore
	}
	authority := otp.NewAuthority(store, otp.WithLength(cfg.OTP.Length), otp.WithDefaultTTL(cfg.Booking.ArrivalOTPTTL))

	opts := []booking.BookingServiceOption{
		booking.WithLogger(log),
		booking.WithTransactions(repos.Transactions),
		booking.WithOTPTTL(cfg.Booking.ArrivalOTPTTL, cfg.Booking.CompletionOTPTTL),
		booking.WithDisputeResolver(dispute.NewResolver(repos.Bookings, node, log)),
	}
	if cfg.Booking.DistributedLocker {
		opts = append(opts, booking.WithLocker(redisCache))
	}

	switch cfg.Payment.Provider {
	case "omise":
		gw, err := gateway.NewOmise(cfg.Payment.PublicKey, cfg.Payment.SecretKey, cfg.Payment.Currency, cfg.Payment.SourceType, log)
		if err != nil {
			return nil, err
		}
		reconciler := payment.NewReconciler(repos.Bookings, node, payment.WithLogger(log))
		opts = append(opts, booking.WithPayments(gw, repos.Transactions, reconciler, node))
	case "", "none":
		log.Warn("payments disabled")
	default:
		return nil, fmt.Errorf("unknown payment provider %q", cfg.Payment.Provider)
	}

	core.Bookings = booking.NewBookingService(repos.Bookings, repos.Machines, authority, emitter, cfg.Booking.ArrivalWindow, opts...)
	return core, nil
}
