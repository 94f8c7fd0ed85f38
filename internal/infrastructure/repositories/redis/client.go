package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"sidescreen/pkg/retry"
)

// ClientOptions selects the redis server backing the trust store and the
// event channel.
type ClientOptions struct {
	Address  string
	Password string
	DB       int
	PoolSize int

	// Connect governs the startup ping. A zero value pings once.
	Connect retry.Config
}

func (o ClientOptions) redisOptions() *redis.Options {
	pool := o.PoolSize
	if pool <= 0 {
		pool = 10
	}
	return &redis.Options{
		Addr:         o.Address,
		Password:     o.Password,
		DB:           o.DB,
		PoolSize:     pool,
		MinIdleConns: 1,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	}
}

// Connect dials redis, waits for it to answer PING and brings the key schema
// up to date. The client is closed again on any failure.
func Connect(ctx context.Context, opts ClientOptions, logger *zap.SugaredLogger) (*redis.Client, error) {
	client := redis.NewClient(opts.redisOptions())

	err := retry.Retry(ctx, opts.Connect, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return client.Ping(pingCtx).Err()
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis %s unreachable: %w", opts.Address, err)
	}

	if err := Migrate(ctx, client, logger); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis schema migration: %w", err)
	}

	if logger != nil {
		logger.Infow("redis connected", "address", opts.Address, "db", opts.DB)
	}
	return client, nil
}

// Close tolerates a nil client.
func Close(client *redis.Client) error {
	if client == nil {
		return nil
	}
	return client.Close()
}
