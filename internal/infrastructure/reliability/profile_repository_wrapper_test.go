package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"voxsfu/internal/core/domain"
	"voxsfu/pkg/circuitbreaker"
	"voxsfu/pkg/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockProfileRepository struct {
	mock.Mock
}

func (m *MockProfileRepository) GetDisplayName(ctx context.Context, userID domain.UserID) (string, error) {
	args := m.Called(ctx, userID)
	return args.String(0), args.Error(1)
}

func fastRetry() retry.Config {
	return retry.Config{Enabled: true, MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

func TestProfileWrapper_RetriesTransientErrors(t *testing.T) {
	repo := &MockProfileRepository{}
	repo.On("GetDisplayName", mock.Anything, domain.UserID("u1")).Return("", errors.New("timeout")).Once()
	repo.On("GetDisplayName", mock.Anything, domain.UserID("u1")).Return("Ada", nil).Once()

	w := NewProfileRepositoryWrapper(repo, fastRetry(), circuitbreaker.DefaultConfig(), time.Second, zap.NewNop().Sugar())
	name, err := w.GetDisplayName(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", name)
	repo.AssertExpectations(t)
}

func TestProfileWrapper_NotFoundIsNotRetried(t *testing.T) {
	repo := &MockProfileRepository{}
	repo.On("GetDisplayName", mock.Anything, domain.UserID("u1")).Return("", domain.ErrProfileNotFound).Once()

	cb := circuitbreaker.DefaultConfig()
	cb.FailureThreshold = 1
	w := NewProfileRepositoryWrapper(repo, fastRetry(), cb, time.Second, zap.NewNop().Sugar())

	_, err := w.GetDisplayName(context.Background(), "u1")
	assert.ErrorIs(t, err, domain.ErrProfileNotFound)
	assert.Equal(t, circuitbreaker.StateClosed, w.State())
	repo.AssertNumberOfCalls(t, "GetDisplayName", 1)
}

func TestProfileWrapper_OpensBreaker(t *testing.T) {
	repo := &MockProfileRepository{}
	repo.On("GetDisplayName", mock.Anything, mock.Anything).Return("", errors.New("connection refused"))

	cb := circuitbreaker.DefaultConfig()
	cb.FailureThreshold = 2
	cb.Timeout = time.Hour
	w := NewProfileRepositoryWrapper(repo, fastRetry(), cb, time.Second, zap.NewNop().Sugar())

	_, err := w.GetDisplayName(context.Background(), "u1")
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, circuitbreaker.StateOpen, w.State())
	repo.AssertNumberOfCalls(t, "GetDisplayName", 2)

	_, err = w.GetDisplayName(context.Background(), "u2")
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	repo.AssertNumberOfCalls(t, "GetDisplayName", 2)
}
