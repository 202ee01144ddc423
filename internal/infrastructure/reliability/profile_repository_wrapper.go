package reliability

import (
	"context"
	"errors"
	"time"

	"voxsfu/internal/core/domain"
	"voxsfu/internal/core/ports"
	"voxsfu/pkg/circuitbreaker"
	"voxsfu/pkg/retry"

	"go.uber.org/zap"
)

// ProfileRepositoryWrapper wraps a ProfileRepository with retry logic and a
// circuit breaker so that a slow profile store cannot stall joins.
type ProfileRepositoryWrapper struct {
	repo    ports.ProfileRepository
	logger  *zap.SugaredLogger
	timeout time.Duration

	retryConfig    retry.Config
	circuitBreaker *circuitbreaker.CircuitBreaker
}

// NewProfileRepositoryWrapper creates a new wrapper. timeout bounds one
// lookup including retries.
func NewProfileRepositoryWrapper(
	repo ports.ProfileRepository,
	retryConfig retry.Config,
	cbConfig circuitbreaker.Config,
	timeout time.Duration,
	logger *zap.SugaredLogger,
) *ProfileRepositoryWrapper {
	retryConfig.Permanent = append(retryConfig.Permanent, domain.ErrProfileNotFound, circuitbreaker.ErrOpen)

	w := &ProfileRepositoryWrapper{
		repo:           repo,
		logger:         logger,
		timeout:        timeout,
		retryConfig:    retryConfig,
		circuitBreaker: circuitbreaker.New(cbConfig),
	}
	w.circuitBreaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Infow("profile store circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})
	return w
}

type lookup struct {
	name     string
	notFound bool
}

// GetDisplayName looks a profile up. A missing profile is a normal answer
// and does not count against the breaker.
func (w *ProfileRepositoryWrapper) GetDisplayName(ctx context.Context, userID domain.UserID) (string, error) {
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	res, err := retry.RetryWithResult(ctx, w.retryConfig, func() (lookup, error) {
		return circuitbreaker.Call(ctx, w.circuitBreaker, func() (lookup, error) {
			name, err := w.repo.GetDisplayName(ctx, userID)
			if errors.Is(err, domain.ErrProfileNotFound) {
				return lookup{notFound: true}, nil
			}
			return lookup{name: name}, err
		})
	})
	if err != nil {
		w.logger.Debugw("profile lookup failed", "user_id", userID, "error", err)
		return "", err
	}
	if res.notFound {
		return "", domain.ErrProfileNotFound
	}
	return res.name, nil
}

// State reports the breaker state for health checks.
func (w *ProfileRepositoryWrapper) State() circuitbreaker.State {
	return w.circuitBreaker.GetState()
}

var _ ports.ProfileRepository = (*ProfileRepositoryWrapper)(nil)
