package repositories

import (
	"mpcomm/internal/core/ports"
	"mpcomm/internal/infrastructure/reliability"
	"mpcomm/internal/infrastructure/repositories/memory"
	redisrepo "mpcomm/internal/infrastructure/repositories/redis"
	"mpcomm/pkg/config"
	"mpcomm/pkg/retry"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory creates repositories with fallback support
type RepositoryFactory struct {
	useRedis    bool
	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

// NewRepositoryFactory creates a new repository factory
func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	factory := &RepositoryFactory{
		useRedis: cfg.Redis.Enabled,
		logger:   logger,
	}

	// Try to connect to Redis if enabled
	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory repositories",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis repositories")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory repositories")
	}

	return factory, nil
}

// CreatePresenceRepository creates a presence repository (Redis or memory
// with fallback). The Redis variant is wrapped with retries since a dropped
// busy check over the network would otherwise reject a valid call.
func (f *RepositoryFactory) CreatePresenceRepository() ports.PresenceRepository {
	if f.useRedis && f.redisClient != nil {
		repo := redisrepo.NewRedisPresenceRepository(f.redisClient)
		return reliability.NewPresenceWrapper(repo, retry.DefaultConfig(), f.logger)
	}
	return memory.NewMemoryPresenceRepository()
}

// RedisClient exposes the shared Redis connection for components that need
// raw access, like the pub/sub event bus. Nil when running on memory
// repositories.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	if !f.useRedis {
		return nil
	}
	return f.redisClient
}

// Close releases the shared Redis connection when one was established.
func (f *RepositoryFactory) Close() error {
	if f.redisClient != nil {
		return redisrepo.CloseRedisClient(f.redisClient)
	}
	return nil
}
