package repositories

import (
	"context"
	"testing"
	"time"

	"voxsfu/internal/core/domain"
	"voxsfu/internal/infrastructure/repositories/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProfiles struct {
	*memory.ProfileRepository
	calls int
}

func (c *countingProfiles) GetDisplayName(ctx context.Context, id domain.UserID) (string, error) {
	c.calls++
	return c.ProfileRepository.GetDisplayName(ctx, id)
}

func TestCachedProfileRepository(t *testing.T) {
	ctx := context.Background()
	base := &countingProfiles{ProfileRepository: memory.NewProfileRepository()}
	require.NoError(t, base.SetDisplayName(ctx, "u1", "Alice"))

	repo := NewCachedProfileRepository(base, time.Minute)
	defer repo.Close()

	for i := 0; i < 3; i++ {
		name, err := repo.GetDisplayName(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "Alice", name)
	}
	assert.Equal(t, 1, base.calls)

	require.NoError(t, base.SetDisplayName(ctx, "u1", "Alicia"))
	repo.Forget("u1")
	name, err := repo.GetDisplayName(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Alicia", name)
	assert.Equal(t, 2, base.calls)

	_, err = repo.GetDisplayName(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrProfileNotFound)
	_, err = repo.GetDisplayName(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrProfileNotFound)
	assert.Equal(t, 4, base.calls)
}
