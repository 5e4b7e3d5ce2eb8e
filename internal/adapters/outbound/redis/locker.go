// Package redis provides a Redis implementation of the AccountLocker port.
//
// Each lock is a key set with NX and a lease TTL, holding a random token.
// Release deletes the key only while it still holds the caller's token, so
// a holder whose lease expired cannot free a lock another process took over.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/archon-research/dca/internal/ports/outbound"
)

// Compile-time check that AccountLocker implements outbound.AccountLocker
var _ outbound.AccountLocker = (*AccountLocker)(nil)

// releaseScript deletes KEYS[1] if it holds ARGV[1].
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Config holds Redis locker configuration.
type Config struct {
	// Addr is the Redis server address (e.g., "localhost:6379")
	Addr string
	// Password for Redis authentication (empty for no auth)
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// LeaseTTL bounds how long a crashed holder blocks the key.
	// It must exceed the time a signer takes to broadcast one batch.
	LeaseTTL time.Duration
	// RetryInterval is the wait between acquisition attempts.
	RetryInterval time.Duration
	// KeyPrefix is prepended to all lock keys
	KeyPrefix string
}

// ConfigDefaults returns default Redis locker configuration.
func ConfigDefaults() Config {
	return Config{
		Addr:          "localhost:6379",
		LeaseTTL:      30 * time.Second,
		RetryInterval: 50 * time.Millisecond,
		KeyPrefix:     "dca:lock",
	}
}

// AccountLocker serializes signer submissions across processes.
type AccountLocker struct {
	client        *redis.Client
	leaseTTL      time.Duration
	retryInterval time.Duration
	keyPrefix     string
	logger        *slog.Logger
}

// NewAccountLocker creates a locker connected to cfg.Addr.
func NewAccountLocker(cfg Config, logger *slog.Logger) (*AccountLocker, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	defaults := ConfigDefaults()
	if cfg.LeaseTTL == 0 {
		cfg.LeaseTTL = defaults.LeaseTTL
	}
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = defaults.RetryInterval
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaults.KeyPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &AccountLocker{
		client:        client,
		leaseTTL:      cfg.LeaseTTL,
		retryInterval: cfg.RetryInterval,
		keyPrefix:     cfg.KeyPrefix,
		logger:        logger.With("component", "redis-locker"),
	}, nil
}

// Ping checks the Redis connection.
func (l *AccountLocker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (l *AccountLocker) Close() error {
	return l.client.Close()
}

func (l *AccountLocker) key(name string) string {
	return l.keyPrefix + ":" + name
}

// Lock polls until key is acquired or ctx is done.
func (l *AccountLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.key(key)
	token := uuid.NewString()

	ticker := time.NewTicker(l.retryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.leaseTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("acquiring lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	acquired := time.Now()
	var once sync.Once
	return func() {
		once.Do(func() { l.release(redisKey, token, acquired) })
	}, nil
}

func (l *AccountLocker) release(redisKey, token string, acquired time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	deleted, err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Int()
	if err != nil {
		l.logger.Error("failed to release lock", "key", redisKey, "error", err)
		return
	}
	if deleted == 0 {
		l.logger.Warn("lock lease expired before release", "key", redisKey, "held", time.Since(acquired))
	}
}
