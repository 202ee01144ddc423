// Package memory is an in-process media engine that moves no packets. It
// backs the "memory" engine setting and the session tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"voxsfu/internal/core/domain"
	"voxsfu/internal/core/ports"

	"github.com/google/uuid"
)

type Worker struct {
	id domain.WorkerID

	mu         sync.Mutex
	routers    map[string]*Router
	failRouter error
	done       chan struct{}
	err        error
	closeOnce  sync.Once
}

func NewWorker(id domain.WorkerID) *Worker {
	return &Worker{
		id:      id,
		routers: make(map[string]*Router),
		done:    make(chan struct{}),
	}
}

// NewWorkers builds n workers with ids 0..n-1.
func NewWorkers(n int) []ports.MediaWorker {
	out := make([]ports.MediaWorker, n)
	for i := range out {
		out[i] = NewWorker(domain.WorkerID(i))
	}
	return out
}

func (w *Worker) ID() domain.WorkerID    { return w.id }
func (w *Worker) Done() <-chan struct{} { return w.done }

func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// FailNextRouter makes the next CreateRouter call return err.
func (w *Worker) FailNextRouter(err error) {
	w.mu.Lock()
	w.failRouter = err
	w.mu.Unlock()
}

func (w *Worker) CreateRouter(ctx context.Context, codecs []domain.RtpCodecCapability) (ports.MediaRouter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return nil, domain.ErrWorkerClosed
	}
	if err := w.failRouter; err != nil {
		w.failRouter = nil
		return nil, err
	}
	r := &Router{
		id:         uuid.NewString(),
		worker:     w,
		caps:       domain.RtpCapabilities{Codecs: append([]domain.RtpCodecCapability(nil), codecs...)},
		transports: make(map[domain.TransportID]*Transport),
	}
	w.routers[r.id] = r
	return r, nil
}

func (w *Worker) RouterCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.routers)
}

func (w *Worker) removeRouter(id string) {
	w.mu.Lock()
	delete(w.routers, id)
	w.mu.Unlock()
}

// Kill simulates the worker process dying.
func (w *Worker) Kill(err error) {
	if err == nil {
		err = errors.New("worker killed")
	}
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.err = err
		w.mu.Unlock()
		close(w.done)
	})
}

func (w *Worker) Close() error {
	w.Kill(domain.ErrWorkerClosed)
	return nil
}

type Router struct {
	id     string
	worker *Worker
	caps   domain.RtpCapabilities

	mu         sync.Mutex
	transports map[domain.TransportID]*Transport
	closed     bool
}

func (r *Router) ID() string                              { return r.id }
func (r *Router) RtpCapabilities() domain.RtpCapabilities { return r.caps }

func (r *Router) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Router) CreateTransport(ctx context.Context, id domain.TransportID, dir domain.Direction) (ports.MediaTransport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, domain.ErrClosed
	}
	t := &Transport{
		id:  id,
		dir: dir,
		params: domain.TransportParams{
			ID: id,
			IceParameters: domain.IceParameters{
				UsernameFragment: uuid.NewString()[:8],
				Password:         uuid.NewString(),
				IceLite:          true,
			},
			IceCandidates: []domain.IceCandidate{{
				Foundation: "memory", Priority: 1, IP: "127.0.0.1", Protocol: "udp", Port: 40000, Type: "host",
			}},
			DtlsParameters: domain.DtlsParameters{
				Role:         "auto",
				Fingerprints: []domain.DtlsFingerprint{{Algorithm: "sha-256", Value: "00"}},
			},
		},
		router: r,
	}
	r.transports[id] = t
	return t, nil
}

func (r *Router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	transports := make([]*Transport, 0, len(r.transports))
	for _, t := range r.transports {
		transports = append(transports, t)
	}
	r.transports = nil
	r.mu.Unlock()

	for _, t := range transports {
		_ = t.Close()
	}
	r.worker.removeRouter(r.id)
	return nil
}

type Transport struct {
	id     domain.TransportID
	dir    domain.Direction
	params domain.TransportParams
	router *Router

	mu        sync.Mutex
	onState   func(domain.TransportState)
	connected bool
	closed    bool
}

func (t *Transport) ID() domain.TransportID          { return t.id }
func (t *Transport) Params() domain.TransportParams { return t.params }

func (t *Transport) OnStateChange(fn func(domain.TransportState)) {
	t.mu.Lock()
	t.onState = fn
	t.mu.Unlock()
}

func (t *Transport) emit(s domain.TransportState) {
	t.mu.Lock()
	fn := t.onState
	t.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (t *Transport) Connect(ctx context.Context, remote domain.RemoteTransportParams) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return domain.ErrClosed
	}
	t.connected = true
	t.mu.Unlock()
	t.emit(domain.TransportConnected)
	return nil
}

// Fail simulates an ICE or DTLS failure.
func (t *Transport) Fail() {
	t.emit(domain.TransportClosed)
}

func (t *Transport) Produce(ctx context.Context, opts ports.ProduceOptions) (ports.MediaProducer, error) {
	if t.isClosed() {
		return nil, domain.ErrClosed
	}
	return &Producer{id: opts.ID, kind: opts.Kind}, nil
}

func (t *Transport) Consume(ctx context.Context, opts ports.ConsumeOptions) (ports.MediaConsumer, error) {
	if t.isClosed() {
		return nil, domain.ErrClosed
	}
	p, ok := opts.Producer.(*Producer)
	if !ok {
		return nil, fmt.Errorf("memory transport cannot consume %T", opts.Producer)
	}
	c := &Consumer{id: opts.ID, producer: p}
	c.paused.Store(opts.Paused)
	return c, nil
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

type Producer struct {
	id        domain.ProducerID
	kind      domain.MediaKind
	paused    atomic.Bool
	closed    atomic.Bool
	keyFrames atomic.Int32
}

func (p *Producer) ID() domain.ProducerID { return p.id }
func (p *Producer) Kind() domain.MediaKind { return p.kind }
func (p *Producer) Pause() error           { p.paused.Store(true); return nil }
func (p *Producer) Resume() error          { p.paused.Store(false); return nil }
func (p *Producer) RequestKeyFrame()       { p.keyFrames.Add(1) }
func (p *Producer) Close() error           { p.closed.Store(true); return nil }
func (p *Producer) Paused() bool           { return p.paused.Load() }
func (p *Producer) Closed() bool           { return p.closed.Load() }
func (p *Producer) KeyFrameRequests() int  { return int(p.keyFrames.Load()) }

type Consumer struct {
	id       domain.ConsumerID
	producer *Producer
	paused   atomic.Bool
	closed   atomic.Bool
}

func (c *Consumer) ID() domain.ConsumerID { return c.id }
func (c *Consumer) Pause() error          { c.paused.Store(true); return nil }

func (c *Consumer) Resume() error {
	if c.closed.Load() {
		return domain.ErrClosed
	}
	c.paused.Store(false)
	c.producer.RequestKeyFrame()
	return nil
}

func (c *Consumer) Close() error { c.closed.Store(true); return nil }
func (c *Consumer) Paused() bool { return c.paused.Load() }
func (c *Consumer) Closed() bool { return c.closed.Load() }

// Flowing reports whether media would reach the remote endpoint.
func (c *Consumer) Flowing() bool {
	return !c.closed.Load() && !c.paused.Load() && !c.producer.Paused()
}
