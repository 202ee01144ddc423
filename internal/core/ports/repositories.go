package ports

import (
	"context"

	"voxsfu/internal/core/domain"
)

// ProfileRepository resolves user profile data owned by the chat backend.
type ProfileRepository interface {
	GetDisplayName(ctx context.Context, userID domain.UserID) (string, error)
}

// ProfileWriter is implemented by repositories that can be seeded locally.
type ProfileWriter interface {
	SetDisplayName(ctx context.Context, userID domain.UserID, name string) error
}
