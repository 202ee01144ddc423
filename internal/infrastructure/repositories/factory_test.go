package repositories

import (
	"context"
	"testing"

	"voxsfu/internal/core/domain"
	"voxsfu/internal/infrastructure/distributed"
	"voxsfu/pkg/config"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestRepositoryFactory_MemoryFallback(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Redis.Enabled = true
	cfg.Redis.Address = "127.0.0.1:1"

	f := NewRepositoryFactory(cfg, "node-a", zap.NewNop().Sugar())
	defer f.Close()

	assert.False(t, f.UsingRedis())
	assert.Nil(t, f.RoomDirectory())
	assert.IsType(t, distributed.NoopPublisher{}, f.CreateEventPublisher())
	assert.NoError(t, f.HealthCheck(context.Background()))

	_, err := f.CreateProfileRepository().GetDisplayName(context.Background(), "u1")
	assert.ErrorIs(t, err, domain.ErrProfileNotFound)
}
