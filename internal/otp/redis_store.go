package otp

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// consumeScript compares and deletes in one step. The stored value is
// "<digest>|<expiresAt unix ms>" so expiry holds even if the key TTL lags.
var consumeScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then
	return 'NOT_FOUND'
end
local sep = string.find(v, '|', 1, true)
if not sep then
	redis.call('DEL', KEYS[1])
	return 'NOT_FOUND'
end
local stored = string.sub(v, 1, sep - 1)
local expires = tonumber(string.sub(v, sep + 1))
if expires == nil or expires <= tonumber(ARGV[2]) then
	redis.call('DEL', KEYS[1])
	return 'EXPIRED'
end
if stored ~= ARGV[1] then
	return 'MISMATCH'
end
redis.call('DEL', KEYS[1])
return 'OK'
`)

type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Put(ctx context.Context, key, digest string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	value := digest + "|" + strconv.FormatInt(expiresAt.UnixMilli(), 10)
	return s.client.Set(ctx, s.key(key), value, ttl).Err()
}

func (s *RedisStore) ConsumeIfMatch(ctx context.Context, key, digest string, now time.Time) (Reason, error) {
	res, err := consumeScript.Run(ctx, s.client, []string{s.key(key)}, digest, now.UnixMilli()).Text()
	if err != nil {
		return "", fmt.Errorf("consume otp: %w", err)
	}
	switch res {
	case "OK":
		return ReasonNone, nil
	case string(ReasonNotFound), string(ReasonExpired), string(ReasonMismatch):
		return Reason(res), nil
	default:
		return "", fmt.Errorf("consume otp: unexpected script result %q", res)
	}
}

func (s *RedisStore) key(key string) string {
	if s.prefix == "" {
		return key
	}
	return strings.TrimSuffix(s.prefix, ":") + ":" + key
}

var _ Store = (*RedisStore)(nil)
