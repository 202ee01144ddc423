package pion

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"voxsfu/internal/core/domain"
	"voxsfu/internal/core/ports"

	"github.com/pion/webrtc/v3"
)

type Transport struct {
	id     domain.TransportID
	dir    domain.Direction
	router *Router
	params domain.TransportParams

	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport

	// ready is closed once DTLS is up; closed once the transport is gone.
	ready  chan struct{}
	closed chan struct{}

	mu        sync.Mutex
	onState   func(domain.TransportState)
	producers map[domain.ProducerID]*Producer
	consumers map[domain.ConsumerID]*Consumer
	closeOnce sync.Once
}

func newTransport(ctx context.Context, r *Router, id domain.TransportID, dir domain.Direction) (*Transport, error) {
	api := r.worker.api
	gatherer, err := api.NewICEGatherer(webrtc.ICEGatherOptions{ICEServers: r.worker.iceServers})
	if err != nil {
		return nil, fmt.Errorf("create ice gatherer: %w", err)
	}

	gathered := make(chan struct{})
	var gatherOnce sync.Once
	gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			gatherOnce.Do(func() { close(gathered) })
		}
	})
	if err := gatherer.Gather(); err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("gather candidates: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		_ = gatherer.Close()
		return nil, ctx.Err()
	}

	iceParams, err := gatherer.GetLocalParameters()
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("ice parameters: %w", err)
	}
	candidates, err := gatherer.GetLocalCandidates()
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("ice candidates: %w", err)
	}

	ice := api.NewICETransport(gatherer)
	dtls, err := api.NewDTLSTransport(ice, nil)
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("create dtls transport: %w", err)
	}
	dtlsParams, err := dtls.GetLocalParameters()
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("dtls parameters: %w", err)
	}

	t := &Transport{
		id:        id,
		dir:       dir,
		router:    r,
		gatherer:  gatherer,
		ice:       ice,
		dtls:      dtls,
		ready:     make(chan struct{}),
		closed:    make(chan struct{}),
		producers: make(map[domain.ProducerID]*Producer),
		consumers: make(map[domain.ConsumerID]*Consumer),
	}
	t.params = domain.TransportParams{
		ID:             id,
		IceParameters:  fromICEParameters(iceParams),
		DtlsParameters: fromDTLSParameters(dtlsParams),
	}
	t.params.IceParameters.IceLite = true
	for _, c := range candidates {
		t.params.IceCandidates = append(t.params.IceCandidates, fromICECandidate(c))
	}

	ice.OnConnectionStateChange(func(s webrtc.ICETransportState) {
		if s == webrtc.ICETransportStateFailed || s == webrtc.ICETransportStateClosed {
			t.fail(fmt.Errorf("ice %s", s))
		}
	})
	dtls.OnStateChange(func(s webrtc.DTLSTransportState) {
		if s == webrtc.DTLSTransportStateFailed || s == webrtc.DTLSTransportStateClosed {
			t.fail(fmt.Errorf("dtls %s", s))
		}
	})
	return t, nil
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

func (t *Transport) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

// Connect validates the remote parameters and starts ICE and DTLS in the
// background. The outcome is reported through OnStateChange.
func (t *Transport) Connect(ctx context.Context, remote domain.RemoteTransportParams) error {
	if t.isClosed() {
		return domain.ErrClosed
	}
	if remote.IceParameters == nil {
		return fmt.Errorf("%w: iceParameters are required by this media engine", domain.ErrInvalidRequest)
	}
	dtlsParams, err := toDTLSParameters(remote.DtlsParameters)
	if err != nil {
		return err
	}
	candidates := make([]webrtc.ICECandidate, 0, len(remote.IceCandidates))
	for _, c := range remote.IceCandidates {
		pc, err := toICECandidate(c)
		if err != nil {
			return err
		}
		candidates = append(candidates, pc)
	}
	if err := t.ice.SetRemoteCandidates(candidates); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}

	iceParams := toICEParameters(*remote.IceParameters)
	go func() {
		role := webrtc.ICERoleControlled
		if err := t.ice.Start(nil, iceParams, &role); err != nil {
			t.fail(fmt.Errorf("start ice: %w", err))
			return
		}
		if err := t.dtls.Start(dtlsParams); err != nil {
			t.fail(fmt.Errorf("start dtls: %w", err))
			return
		}
		close(t.ready)
		t.router.worker.logger.Debugw("transport connected", "transport_id", t.id)
		t.emit(domain.TransportConnected)
	}()
	return nil
}

// waitReady blocks until DTLS is up. It returns false if the transport
// closed first.
func (t *Transport) waitReady() bool {
	select {
	case <-t.ready:
		return true
	case <-t.closed:
		return false
	}
}

func (t *Transport) fail(err error) {
	if t.isClosed() {
		return
	}
	t.router.worker.logger.Warnw("transport failed", "transport_id", t.id, "error", err)
	t.emit(domain.TransportClosed)
	_ = t.Close()
}

func (t *Transport) Produce(ctx context.Context, opts ports.ProduceOptions) (ports.MediaProducer, error) {
	if t.isClosed() {
		return nil, domain.ErrClosed
	}
	var codec *domain.RtpCodecParameters
	for i := range opts.RtpParameters.Codecs {
		if !domain.IsRtx(opts.RtpParameters.Codecs[i].MimeType) {
			codec = &opts.RtpParameters.Codecs[i]
			break
		}
	}
	if codec == nil || codec.PayloadType != opts.RouterCodec.PreferredPayloadType {
		return nil, fmt.Errorf("%w: producer must use router payload type %d for %s",
			domain.ErrInvalidRequest, opts.RouterCodec.PreferredPayloadType, opts.RouterCodec.MimeType)
	}

	receiver, err := t.router.worker.api.NewRTPReceiver(codecType(opts.Kind), t.dtls)
	if err != nil {
		return nil, fmt.Errorf("create rtp receiver: %w", err)
	}
	p := newProducer(opts, t, receiver)

	t.mu.Lock()
	t.producers[p.id] = p
	t.mu.Unlock()

	go p.run()
	return p, nil
}

func (t *Transport) Consume(ctx context.Context, opts ports.ConsumeOptions) (ports.MediaConsumer, error) {
	if t.isClosed() {
		return nil, domain.ErrClosed
	}
	producer, ok := opts.Producer.(*Producer)
	if !ok {
		return nil, fmt.Errorf("pion transport cannot consume %T", opts.Producer)
	}
	if len(opts.RtpParameters.Codecs) == 0 || len(opts.RtpParameters.Encodings) == 0 {
		return nil, errors.New("consumer rtp parameters need a codec and an encoding")
	}

	c, err := newConsumer(opts, t, producer)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.consumers[c.id] = c
	t.mu.Unlock()

	producer.attach(c)
	go c.run()
	return c, nil
}

func (t *Transport) forgetProducer(id domain.ProducerID) {
	t.mu.Lock()
	delete(t.producers, id)
	t.mu.Unlock()
}

func (t *Transport) forgetConsumer(id domain.ConsumerID) {
	t.mu.Lock()
	delete(t.consumers, id)
	t.mu.Unlock()
}

func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)

		t.mu.Lock()
		producers := make([]*Producer, 0, len(t.producers))
		for _, p := range t.producers {
			producers = append(producers, p)
		}
		consumers := make([]*Consumer, 0, len(t.consumers))
		for _, c := range t.consumers {
			consumers = append(consumers, c)
		}
		t.mu.Unlock()

		for _, c := range consumers {
			_ = c.Close()
		}
		for _, p := range producers {
			_ = p.Close()
		}
		_ = t.dtls.Stop()
		_ = t.ice.Stop()
		_ = t.gatherer.Close()
		t.router.removeTransport(t.id)
	})
	return nil
}
