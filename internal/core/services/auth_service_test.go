package services

import (
	"context"
	"testing"
	"time"

	"voxsfu/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthService_RoundTrip(t *testing.T) {
	auth := NewAuthService("secret", time.Hour)

	token, err := auth.GenerateToken("u1", "alice")
	require.NoError(t, err)

	identity, err := auth.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, domain.Identity{UserID: "u1", Username: "alice"}, identity)
}

func TestAuthService_Rejects(t *testing.T) {
	auth := NewAuthService("secret", time.Hour)
	expired, err := NewAuthService("secret", -time.Minute).GenerateToken("u1", "alice")
	require.NoError(t, err)
	foreign, err := NewAuthService("other", time.Hour).GenerateToken("u1", "alice")
	require.NoError(t, err)

	_, err = auth.ValidateToken(expired)
	assert.ErrorIs(t, err, ErrExpiredToken)

	for name, token := range map[string]string{
		"empty":   "",
		"garbage": "a.b.c",
		"expired": expired,
		"foreign": foreign,
	} {
		_, err := auth.Verify(context.Background(), token)
		assert.ErrorIs(t, err, domain.ErrAuthenticationFailed, name)
	}
}
