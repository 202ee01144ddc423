package monitoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"voxsfu/internal/core/ports"
)

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
)

// CheckFunc reports whether a dependency is usable. A non-nil error is shown
// as the check's status.
type CheckFunc func(ctx context.Context) (bool, error)

type check struct {
	name    string
	fn      CheckFunc
	timeout time.Duration
}

// HealthChecker backs the readiness endpoint. Checks run concurrently, each
// under its own timeout.
type HealthChecker struct {
	mu     sync.RWMutex
	checks []check
}

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{}
}

func (h *HealthChecker) AddCheck(name string, fn CheckFunc, timeout time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check{name: name, fn: fn, timeout: timeout})
}

// WorkerSource exposes the media workers for liveness checks.
type WorkerSource interface {
	Workers() []ports.MediaWorker
	Live() int
}

// AddWorkerCheck fails when any media worker has died.
func (h *HealthChecker) AddWorkerCheck(pool WorkerSource, timeout time.Duration) {
	h.AddCheck("media_workers", func(ctx context.Context) (bool, error) {
		total := len(pool.Workers())
		if live := pool.Live(); live < total {
			return false, fmt.Errorf("%d of %d media workers dead", total-live, total)
		}
		return true, nil
	}, timeout)
}

// AddPingCheck adds a check backed by a ping function such as a Redis PING.
func (h *HealthChecker) AddPingCheck(name string, ping func(ctx context.Context) error, timeout time.Duration) {
	h.AddCheck(name, func(ctx context.Context) (bool, error) {
		if err := ping(ctx); err != nil {
			return false, err
		}
		return true, nil
	}, timeout)
}

func (c check) run(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type outcome struct {
		ok  bool
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		ok, err := c.fn(ctx)
		done <- outcome{ok, err}
	}()

	select {
	case o := <-done:
		switch {
		case o.err != nil:
			return o.err.Error()
		case !o.ok:
			return "check failed"
		}
		return statusHealthy
	case <-ctx.Done():
		return fmt.Sprintf("timed out after %s", c.timeout)
	}
}

func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := append([]check(nil), h.checks...)
	h.mu.RUnlock()

	results := make([]string, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func(i int, c check) {
			defer wg.Done()
			results[i] = c.run(ctx)
		}(i, c)
	}
	wg.Wait()

	status := HealthStatus{
		Status:    statusHealthy,
		Timestamp: time.Now(),
		Checks:    make(map[string]string, len(checks)),
	}
	for i, c := range checks {
		status.Checks[c.name] = results[i]
		if results[i] != statusHealthy {
			status.Status = statusUnhealthy
		}
	}
	return status
}

func (h *HealthChecker) IsReady(ctx context.Context) bool {
	return h.CheckAll(ctx).Status == statusHealthy
}
