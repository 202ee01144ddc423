package repositories

import (
	"context"
	"time"

	"voxsfu/internal/core/ports"
	"voxsfu/internal/infrastructure/distributed"
	"voxsfu/internal/infrastructure/reliability"
	"voxsfu/internal/infrastructure/repositories/memory"
	redisrepo "voxsfu/internal/infrastructure/repositories/redis"
	"voxsfu/pkg/circuitbreaker"
	"voxsfu/pkg/config"
	"voxsfu/pkg/retry"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	profileLookupTimeout = 2 * time.Second
	profileCacheTTL      = time.Minute
)

// RepositoryFactory creates repositories with fallback support
type RepositoryFactory struct {
	cfg         *config.Config
	nodeID      string
	useRedis    bool
	redisClient *redis.Client
	directory   *distributed.RoomDirectory
	cached      []*CachedProfileRepository
	logger      *zap.SugaredLogger
}

// NewRepositoryFactory connects to Redis when enabled. A failed connection
// falls back to in-memory profiles and a no-op event publisher.
func NewRepositoryFactory(cfg *config.Config, nodeID string, logger *zap.SugaredLogger) *RepositoryFactory {
	factory := &RepositoryFactory{
		cfg:    cfg,
		nodeID: nodeID,
		logger: logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.Connect(context.Background(), redisrepo.ClientOptions{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			PoolSize:  cfg.Redis.PoolSize,
			OpTimeout: profileLookupTimeout,
		}, logger)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory repositories",
				"error", err,
			)
		} else {
			factory.useRedis = true
			factory.redisClient = client
			factory.directory = distributed.NewRoomDirectory(client, nodeID, cfg.Redis.RoomTTL, logger)
			logger.Info("using Redis repositories")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory repositories")
	}
	return factory
}

// CreateProfileRepository returns the profile store wrapped with retries
// and a circuit breaker. Redis lookups are additionally cached in process.
func (f *RepositoryFactory) CreateProfileRepository() ports.ProfileRepository {
	if !f.useRedis {
		return f.wrap(memory.NewProfileRepository())
	}
	cached := NewCachedProfileRepository(
		f.wrap(redisrepo.NewProfileRepository(f.redisClient, f.cfg.Redis.ProfileTTL)),
		profileCacheTTL,
	)
	f.cached = append(f.cached, cached)
	return cached
}

func (f *RepositoryFactory) wrap(repo ports.ProfileRepository) ports.ProfileRepository {
	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = 2
	return reliability.NewProfileRepositoryWrapper(
		repo,
		retryCfg,
		circuitbreaker.DefaultConfig(),
		profileLookupTimeout,
		f.logger,
	)
}

// CreateEventPublisher returns the room event sink: the Redis bus plus the
// room directory, or a no-op without Redis.
func (f *RepositoryFactory) CreateEventPublisher() ports.RoomEventPublisher {
	if !f.useRedis {
		return distributed.NoopPublisher{}
	}
	return distributed.Publishers{
		f.directory,
		distributed.NewEventBus(f.redisClient, f.nodeID, f.cfg.Redis.EventsChannel, f.logger),
	}
}

// RoomDirectory is nil when Redis is not in use.
func (f *RepositoryFactory) RoomDirectory() *distributed.RoomDirectory {
	return f.directory
}

// Close closes Redis connection if used
func (f *RepositoryFactory) Close() error {
	for _, c := range f.cached {
		c.Close()
	}
	if f.redisClient != nil {
		return redisrepo.Close(f.redisClient)
	}
	return nil
}

// HealthCheck checks Redis connection health
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.useRedis && f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}

// UsingRedis reports whether Redis-backed repositories are active.
func (f *RepositoryFactory) UsingRedis() bool {
	return f.useRedis
}
