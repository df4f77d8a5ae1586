package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_YAML(t *testing.T) {
	path := writeConfig(t, `
http:
  address: ":8081"
database:
  host: db
  port: 6432
  user: app
  password: secret
  name: farmrent
  ssl_mode: require
booking:
  arrival_window: 45m
  completion_otp_ttl: 6h
events:
  transport: rabbitmq
otp:
  store: redis
  length: 6
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":8081", cfg.HTTP.Address)
	assert.Equal(t, 45*time.Minute, cfg.Booking.ArrivalWindow)
	assert.Equal(t, 6*time.Hour, cfg.Booking.CompletionOTPTTL)
	assert.Equal(t, "rabbitmq", cfg.Events.Transport)
	assert.Equal(t, "redis", cfg.OTP.Store)
	assert.Equal(t, "host=db port=6432 user=app password=secret dbname=farmrent sslmode=require", cfg.Database.DSN())
	// untouched sections keep defaults
	assert.Equal(t, "farmrent.notifications", cfg.Kafka.NotificationsTopic)
	assert.Equal(t, time.Second, cfg.Worker.ConsumerBackoff)
	assert.Equal(t, 30*time.Second, cfg.Worker.ConsumerBackoffMax)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "database:\n  host: db\n")

	t.Setenv("FARMRENT_DATABASE_HOST", "pg.internal")
	t.Setenv("FARMRENT_PAYMENT_SECRET_KEY", "skey_test_123")
	t.Setenv("FARMRENT_BOOKING_ARRIVAL_OTP_TTL", "30m")
	t.Setenv("FARMRENT_KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "pg.internal", cfg.Database.Host)
	assert.Equal(t, "skey_test_123", cfg.Payment.SecretKey)
	assert.Equal(t, 30*time.Minute, cfg.Booking.ArrivalOTPTTL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestLoadConfig_Invalid(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "events:\n  transport: carrier-pigeon\n"))
	assert.ErrorContains(t, err, "unknown events transport")

	_, err = LoadConfig(writeConfig(t, "otp:\n  length: 2\n"))
	assert.ErrorContains(t, err, "otp.length")

	_, err = LoadConfig(writeConfig(t, "http: [\n"))
	assert.ErrorContains(t, err, "failed to parse config")
}
