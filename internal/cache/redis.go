package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Domenick1991/farmrent/config"
	"github.com/Domenick1991/farmrent/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrLockTimeout = errors.New("booking lock not acquired")

const lockRetryInterval = 25 * time.Millisecond

// releaseScript deletes the lock only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisCache struct {
	client      *redis.Client
	machinesTTL time.Duration
	lockTTL     time.Duration
}

func NewClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
}

func NewRedisCache(client *redis.Client, machinesTTL, lockTTL time.Duration) *RedisCache {
	if lockTTL <= 0 {
		lockTTL = 10 * time.Second
	}
	return &RedisCache{
		client:      client,
		machinesTTL: machinesTTL,
		lockTTL:     lockTTL,
	}
}

func (c *RedisCache) Client() *redis.Client {
	return c.client
}

func (c *RedisCache) GetMachines(ctx context.Context) ([]domain.Machine, error) {
	data, err := c.client.Get(ctx, machinesKey()).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var machines []domain.Machine
	if err := json.Unmarshal(data, &machines); err != nil {
		return nil, err
	}
	return machines, nil
}

func (c *RedisCache) SetMachines(ctx context.Context, machines []domain.Machine) error {
	payload, err := json.Marshal(machines)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, machinesKey(), payload, c.machinesTTL).Err()
}

// Lock takes the per-booking lock, retrying until ctx is done. The lock
// expires on its own after lockTTL so a crashed holder cannot wedge a booking.
func (c *RedisCache) Lock(ctx context.Context, bookingID string) (func(), error) {
	key := bookingLockKey(bookingID)
	token := uuid.NewString()

	for {
		ok, err := c.client.SetNX(ctx, key, token, c.lockTTL).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrLockTimeout, ctx.Err())
		case <-time.After(lockRetryInterval):
		}
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, c.client, []string{key}, token).Err()
	}, nil
}

func machinesKey() string {
	return "cache:machines"
}

func bookingLockKey(bookingID string) string {
	return fmt.Sprintf("lock:booking:%s", bookingID)
}
