package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"sidescreen/internal/core/ports"
	"sidescreen/internal/infrastructure/repositories/memory"
	redisrepo "sidescreen/internal/infrastructure/repositories/redis"
	"sidescreen/internal/infrastructure/repositories/sqlite"
	"sidescreen/pkg/config"
	"sidescreen/pkg/retry"
)

// RepositoryFactory creates the trust repository for the configured driver.
// A redis connection is opened when either storage or the event bus needs it.
type RepositoryFactory struct {
	driver      string
	redisClient *redis.Client
	sqliteStore *sqlite.Store
	cacheTTL    time.Duration
	caches      []*CachedTrustRepository
	logger      *zap.SugaredLogger
}

// NewRepositoryFactory connects the configured backends. When redis is the
// storage driver but unreachable, the factory falls back to memory storage.
func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	factory := &RepositoryFactory{
		driver:   cfg.Storage.Driver,
		cacheTTL: cfg.Storage.CacheTTL,
		logger:   logger,
	}

	if cfg.Storage.Driver == "redis" || cfg.Redis.PublishEvents {
		connect := retry.DefaultConfig()
		connect.MaxAttempts = 2
		client, err := redisrepo.Connect(context.Background(), redisrepo.ClientOptions{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
			Connect:  connect,
		}, logger)
		if err != nil {
			logger.Warnw("failed to connect to Redis",
				"error", err,
			)
			if factory.driver == "redis" {
				logger.Warn("falling back to memory trust store")
				factory.driver = "memory"
			}
		} else {
			factory.redisClient = client
		}
	}

	if factory.driver == "sqlite" {
		store, err := sqlite.Open(cfg.Storage.SQLitePath)
		if err != nil {
			factory.Close()
			return nil, fmt.Errorf("failed to open sqlite store %s: %w", cfg.Storage.SQLitePath, err)
		}
		factory.sqliteStore = store
	}

	logger.Infow("trust store ready", "driver", factory.driver)
	return factory, nil
}

// Driver reports the storage driver in use after fallbacks.
func (f *RepositoryFactory) Driver() string {
	return f.driver
}

// CreateTrustRepository returns the store for the active driver. Redis and
// sqlite stores are fronted by a read cache when storage.cache_ttl is set.
func (f *RepositoryFactory) CreateTrustRepository() ports.TrustRepository {
	var repo ports.TrustRepository
	switch {
	case f.driver == "redis" && f.redisClient != nil:
		repo = redisrepo.NewRedisTrustRepository(f.redisClient)
	case f.driver == "sqlite" && f.sqliteStore != nil:
		repo = sqlite.NewTrustRepository(f.sqliteStore)
	default:
		return memory.NewMemoryTrustRepository()
	}

	if f.cacheTTL <= 0 {
		return repo
	}
	cached := NewCachedTrustRepository(repo, f.cacheTTL)
	f.caches = append(f.caches, cached)
	return cached
}

// RedisClient is nil when no redis connection was established.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	return f.redisClient
}

func (f *RepositoryFactory) Close() error {
	for _, c := range f.caches {
		c.Close()
	}
	f.caches = nil

	var firstErr error
	if f.redisClient != nil {
		firstErr = redisrepo.Close(f.redisClient)
	}
	if f.sqliteStore != nil {
		if err := f.sqliteStore.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// HealthCheck pings whichever backend holds the trust records.
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	switch {
	case f.driver == "redis" && f.redisClient != nil:
		return f.redisClient.Ping(ctx).Err()
	case f.sqliteStore != nil:
		return f.sqliteStore.Ping()
	}
	return nil
}
