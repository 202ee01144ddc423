package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voxsfu/internal/core/domain"
	"voxsfu/internal/core/ports"
	"voxsfu/pkg/tracing"

	"github.com/redis/go-redis/v9"
)

const (
	profileKeyPrefix = "voxsfu:profile:"
	displayNameField = "display_name"
)

// ProfileRepository reads display names from hashes the chat backend keeps
// under voxsfu:profile:<userId>.
type ProfileRepository struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewProfileRepository(client redis.Cmdable, ttl time.Duration) *ProfileRepository {
	return &ProfileRepository{client: client, ttl: ttl}
}

func (r *ProfileRepository) profileKey(id domain.UserID) string {
	return profileKeyPrefix + string(id)
}

func (r *ProfileRepository) GetDisplayName(ctx context.Context, userID domain.UserID) (string, error) {
	key := r.profileKey(userID)
	ctx, span := tracing.TraceRedisOperation(ctx, "HGET", key)
	defer span.End()

	name, err := r.client.HGet(ctx, key, displayNameField).Result()
	if errors.Is(err, redis.Nil) {
		return "", domain.ErrProfileNotFound
	}
	if err != nil {
		tracing.RecordError(ctx, err)
		return "", fmt.Errorf("failed to get profile from Redis: %w", err)
	}
	return name, nil
}

// SetDisplayName writes a profile that expires after the configured TTL.
func (r *ProfileRepository) SetDisplayName(ctx context.Context, userID domain.UserID, name string) error {
	key := r.profileKey(userID)
	ctx, span := tracing.TraceRedisOperation(ctx, "HSET", key)
	defer span.End()

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, displayNameField, name)
		if r.ttl > 0 {
			pipe.Expire(ctx, key, r.ttl)
		}
		return nil
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to set profile in Redis: %w", err)
	}
	return nil
}

var (
	_ ports.ProfileRepository = (*ProfileRepository)(nil)
	_ ports.ProfileWriter     = (*ProfileRepository)(nil)
)
