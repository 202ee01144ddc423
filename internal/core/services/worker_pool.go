package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"voxsfu/internal/core/domain"
	"voxsfu/internal/core/ports"

	"go.uber.org/zap"
)

// WorkerPool hands out media workers round-robin. It holds no session state.
type WorkerPool struct {
	workers []ports.MediaWorker
	next    atomic.Uint64
	logger  *zap.SugaredLogger

	closing   atomic.Bool
	closeOnce sync.Once
}

func NewWorkerPool(workers []ports.MediaWorker, logger *zap.SugaredLogger) (*WorkerPool, error) {
	if len(workers) == 0 {
		return nil, errors.New("worker pool needs at least one worker")
	}
	return &WorkerPool{workers: workers, logger: logger}, nil
}

func isDead(w ports.MediaWorker) bool {
	select {
	case <-w.Done():
		return true
	default:
		return false
	}
}

// Acquire returns the next live worker. Dead workers are skipped; with
// none left the caller gets domain.ErrRoomUnavailable.
func (p *WorkerPool) Acquire() (ports.MediaWorker, error) {
	n := uint64(len(p.workers))
	start := p.next.Add(1) - 1
	for i := uint64(0); i < n; i++ {
		w := p.workers[(start+i)%n]
		if !isDead(w) {
			return w, nil
		}
	}
	return nil, fmt.Errorf("%w: no live media workers", domain.ErrRoomUnavailable)
}

func (p *WorkerPool) Workers() []ports.MediaWorker {
	out := make([]ports.MediaWorker, len(p.workers))
	copy(out, p.workers)
	return out
}

// Live returns the number of workers that have not died.
func (p *WorkerPool) Live() int {
	live := 0
	for _, w := range p.workers {
		if !isDead(w) {
			live++
		}
	}
	return live
}

// Watch calls onDeath once for the first worker that dies. Worker death is
// unrecoverable for the process; the caller is expected to exit.
func (p *WorkerPool) Watch(ctx context.Context, onDeath func(w ports.MediaWorker, err error)) {
	var once sync.Once
	for _, w := range p.workers {
		go func(w ports.MediaWorker) {
			select {
			case <-ctx.Done():
			case <-w.Done():
				if p.closing.Load() || ctx.Err() != nil {
					return
				}
				once.Do(func() {
					p.logger.Errorw("media worker died", "worker_id", w.ID(), "error", w.Err())
					onDeath(w, w.Err())
				})
			}
		}(w)
	}
}

func (p *WorkerPool) Close() {
	p.closeOnce.Do(func() {
		p.closing.Store(true)
		for _, w := range p.workers {
			if err := w.Close(); err != nil {
				p.logger.Warnw("failed to close media worker", "worker_id", w.ID(), "error", err)
			}
		}
	})
}
