package repositories

import (
	"context"
	"time"

	"voxsfu/internal/core/domain"
	"voxsfu/internal/core/ports"
	"voxsfu/pkg/cache"
)

// CachedProfileRepository keeps recently resolved display names in process
// so that a burst of joins does not fan out to Redis. Missing profiles are
// not cached.
type CachedProfileRepository struct {
	base  ports.ProfileRepository
	names *cache.Cache[string]
}

func NewCachedProfileRepository(base ports.ProfileRepository, ttl time.Duration) *CachedProfileRepository {
	return &CachedProfileRepository{
		base:  base,
		names: cache.New[string](ttl),
	}
}

func (r *CachedProfileRepository) GetDisplayName(ctx context.Context, userID domain.UserID) (string, error) {
	return r.names.GetOrLoad(ctx, string(userID), func(ctx context.Context) (string, error) {
		return r.base.GetDisplayName(ctx, userID)
	})
}

// Forget drops a cached name, e.g. after the profile changed.
func (r *CachedProfileRepository) Forget(userID domain.UserID) {
	r.names.Delete(string(userID))
}

func (r *CachedProfileRepository) Close() {
	r.names.Stop()
}

var _ ports.ProfileRepository = (*CachedProfileRepository)(nil)
