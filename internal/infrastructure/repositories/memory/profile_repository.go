package memory

import (
	"context"
	"sync"

	"voxsfu/internal/core/domain"
	"voxsfu/internal/core/ports"
)

// ProfileRepository keeps display names in process. Used when Redis is
// disabled; names can be seeded through SetDisplayName.
type ProfileRepository struct {
	names map[domain.UserID]string
	mu    sync.RWMutex
}

func NewProfileRepository() *ProfileRepository {
	return &ProfileRepository{
		names: make(map[domain.UserID]string),
	}
}

func (r *ProfileRepository) GetDisplayName(ctx context.Context, userID domain.UserID) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name, ok := r.names[userID]
	if !ok {
		return "", domain.ErrProfileNotFound
	}
	return name, nil
}

func (r *ProfileRepository) SetDisplayName(ctx context.Context, userID domain.UserID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.names[userID] = name
	return nil
}

var (
	_ ports.ProfileRepository = (*ProfileRepository)(nil)
	_ ports.ProfileWriter     = (*ProfileRepository)(nil)
)
