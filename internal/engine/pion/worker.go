// Package pion runs media workers on pion/webrtc's ORTC API: one API
// instance per worker, one ICE/DTLS pair per transport and RTP forwarded
// from each producer's receiver to its consumers' local tracks.
package pion

import (
	"context"
	"fmt"
	"sync"

	"voxsfu/internal/core/domain"
	"voxsfu/internal/core/ports"
	"voxsfu/pkg/optimize"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const packetBufferSize = 1500

type Options struct {
	ICEServers      []webrtc.ICEServer
	PortMin         uint16
	PortMax         uint16
	AnnouncedIPs    []string
	ICELite         bool
	// IncludeLoopback adds loopback host candidates.
	IncludeLoopback bool
	// Codecs are registered with each worker's media engine. Routers may
	// only use codecs from this set.
	Codecs []domain.RtpCodecCapability
}

type Worker struct {
	id         domain.WorkerID
	api        *webrtc.API
	iceServers []webrtc.ICEServer
	supported  map[uint8]domain.RtpCodecCapability
	buffers    *optimize.BytePool
	logger     *zap.SugaredLogger

	mu        sync.Mutex
	routers   map[string]*Router
	done      chan struct{}
	err       error
	closeOnce sync.Once
}

func NewWorker(id domain.WorkerID, opts Options, logger *zap.SugaredLogger) (*Worker, error) {
	m := &webrtc.MediaEngine{}
	supported := make(map[uint8]domain.RtpCodecCapability, len(opts.Codecs))
	for _, c := range opts.Codecs {
		if err := m.RegisterCodec(toCodecParameters(c), codecType(c.Kind)); err != nil {
			return nil, fmt.Errorf("register codec %s: %w", c.MimeType, err)
		}
		supported[c.PreferredPayloadType] = c
	}

	s := webrtc.SettingEngine{LoggerFactory: newLoggerFactory(logger.Named("pion"))}
	if opts.PortMin != 0 || opts.PortMax != 0 {
		if err := s.SetEphemeralUDPPortRange(opts.PortMin, opts.PortMax); err != nil {
			return nil, fmt.Errorf("set port range: %w", err)
		}
	}
	if len(opts.AnnouncedIPs) > 0 {
		s.SetNAT1To1IPs(opts.AnnouncedIPs, webrtc.ICECandidateTypeHost)
	}
	s.SetLite(opts.ICELite)
	s.SetIncludeLoopbackCandidate(opts.IncludeLoopback)

	return &Worker{
		id:         id,
		api:        webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(s)),
		iceServers: opts.ICEServers,
		supported:  supported,
		buffers:    optimize.NewBytePool(packetBufferSize),
		logger:     logger.With("worker_id", id),
		routers:    make(map[string]*Router),
		done:       make(chan struct{}),
	}, nil
}

func (w *Worker) ID() domain.WorkerID    { return w.id }
func (w *Worker) Done() <-chan struct{} { return w.done }

func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *Worker) RouterCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.routers)
}

func (w *Worker) CreateRouter(ctx context.Context, codecs []domain.RtpCodecCapability) (ports.MediaRouter, error) {
	for _, c := range codecs {
		reg, ok := w.supported[c.PreferredPayloadType]
		if !ok || reg.MimeType != c.MimeType {
			return nil, fmt.Errorf("codec %s/%d is not registered with worker %d", c.MimeType, c.PreferredPayloadType, w.id)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return nil, domain.ErrWorkerClosed
	}
	r := &Router{
		id:         uuid.NewString(),
		worker:     w,
		caps:       domain.RtpCapabilities{Codecs: append([]domain.RtpCodecCapability(nil), codecs...)},
		transports: make(map[domain.TransportID]*Transport),
	}
	w.routers[r.id] = r
	w.logger.Debugw("router created", "router_id", r.id)
	return r, nil
}

func (w *Worker) removeRouter(id string) {
	w.mu.Lock()
	delete(w.routers, id)
	w.mu.Unlock()
}

// Close stops every router on the worker and marks it dead.
func (w *Worker) Close() error {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.err = domain.ErrWorkerClosed
		routers := make([]*Router, 0, len(w.routers))
		for _, r := range w.routers {
			routers = append(routers, r)
		}
		w.mu.Unlock()

		for _, r := range routers {
			_ = r.Close()
		}
		close(w.done)
	})
	return nil
}

// Router groups the transports of one room on a worker.
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

func (r *Router) CreateTransport(ctx context.Context, id domain.TransportID, dir domain.Direction) (ports.MediaTransport, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, domain.ErrClosed
	}

	t, err := newTransport(ctx, r, id, dir)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = t.Close()
		return nil, domain.ErrClosed
	}
	r.transports[id] = t
	r.mu.Unlock()
	return t, nil
}

func (r *Router) removeTransport(id domain.TransportID) {
	r.mu.Lock()
	delete(r.transports, id)
	r.mu.Unlock()
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
	r.mu.Unlock()

	for _, t := range transports {
		_ = t.Close()
	}
	r.worker.removeRouter(r.id)
	r.worker.logger.Debugw("router closed", "router_id", r.id)
	return nil
}
