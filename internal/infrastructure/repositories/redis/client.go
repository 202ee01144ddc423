package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultPoolSize       = 10
	defaultConnectTimeout = 5 * time.Second
	defaultOpTimeout      = 2 * time.Second
)

// ClientOptions configures the connection shared by the profile store, the
// room directory and the event bus.
type ClientOptions struct {
	Address        string
	Password       string
	DB             int
	PoolSize       int
	// ConnectTimeout bounds the startup ping and keyspace migration.
	ConnectTimeout time.Duration
	// OpTimeout is the per-command read/write deadline.
	OpTimeout time.Duration
}

func (o ClientOptions) withDefaults() ClientOptions {
	if o.PoolSize <= 0 {
		o.PoolSize = defaultPoolSize
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = defaultConnectTimeout
	}
	if o.OpTimeout <= 0 {
		o.OpTimeout = defaultOpTimeout
	}
	return o
}

func (o ClientOptions) redisOptions() *redis.Options {
	return &redis.Options{
		Addr:         o.Address,
		Password:     o.Password,
		DB:           o.DB,
		PoolSize:     o.PoolSize,
		MinIdleConns: max(1, o.PoolSize/4),
		DialTimeout:  o.ConnectTimeout,
		ReadTimeout:  o.OpTimeout,
		WriteTimeout: o.OpTimeout,
		// Waiting for a pooled connection counts against the op timeout.
		PoolTimeout:  o.OpTimeout,
	}
}

// Connect opens the client, checks that Redis answers and brings the
// profile keyspace up to the current schema version.
func Connect(ctx context.Context, opts ClientOptions, logger *zap.SugaredLogger) (*redis.Client, error) {
	opts = opts.withDefaults()
	client := redis.NewClient(opts.redisOptions())

	ctx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", opts.Address, err)
	}
	if err := Migrate(ctx, client, logger); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("migrate profile keyspace: %w", err)
	}

	if logger != nil {
		version, _ := getSchemaVersion(ctx, client)
		logger.Infow("connected to Redis",
			"address", opts.Address,
			"db", opts.DB,
			"pool_size", opts.PoolSize,
			"op_timeout", opts.OpTimeout,
			"schema_version", version,
		)
	}
	return client, nil
}

// Close is a nil-safe client.Close.
func Close(client *redis.Client) error {
	if client == nil {
		return nil
	}
	return client.Close()
}
