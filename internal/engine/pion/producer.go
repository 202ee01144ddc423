package pion

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"voxsfu/internal/core/domain"
	"voxsfu/internal/core/ports"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
)

const maxReadErrors = 32

// Producer reads RTP from one remote sender and copies it to every
// attached consumer.
type Producer struct {
	id        domain.ProducerID
	kind      domain.MediaKind
	ssrc      uint32
	pt        uint8
	transport *Transport
	receiver  *webrtc.RTPReceiver

	paused    atomic.Bool
	started   atomic.Bool
	closed    chan struct{}
	closeOnce sync.Once

	mu        sync.RWMutex
	consumers map[domain.ConsumerID]*Consumer
}

func newProducer(opts ports.ProduceOptions, t *Transport, receiver *webrtc.RTPReceiver) *Producer {
	return &Producer{
		id:        opts.ID,
		kind:      opts.Kind,
		ssrc:      opts.RtpParameters.Encodings[0].Ssrc,
		pt:        opts.RouterCodec.PreferredPayloadType,
		transport: t,
		receiver:  receiver,
		closed:    make(chan struct{}),
		consumers: make(map[domain.ConsumerID]*Consumer),
	}
}

func (p *Producer) ID() domain.ProducerID   { return p.id }
func (p *Producer) Kind() domain.MediaKind { return p.kind }

func (p *Producer) Pause() error {
	p.paused.Store(true)
	return nil
}

func (p *Producer) Resume() error {
	if p.paused.Swap(false) {
		p.RequestKeyFrame()
	}
	return nil
}

// RequestKeyFrame sends a PLI upstream. Audio producers ignore it.
func (p *Producer) RequestKeyFrame() {
	if p.kind != domain.KindVideo {
		return
	}
	select {
	case <-p.transport.ready:
	default:
		return
	}
	pli := &rtcp.PictureLossIndication{MediaSSRC: p.ssrc}
	if _, err := p.transport.dtls.WriteRTCP([]rtcp.Packet{pli}); err != nil {
		p.transport.router.worker.logger.Debugw("failed to send pli", "producer_id", p.id, "error", err)
	}
}

func (p *Producer) attach(c *Consumer) {
	p.mu.Lock()
	p.consumers[c.id] = c
	p.mu.Unlock()
}

func (p *Producer) detach(id domain.ConsumerID) {
	p.mu.Lock()
	delete(p.consumers, id)
	p.mu.Unlock()
}

func (p *Producer) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

func (p *Producer) run() {
	logger := p.transport.router.worker.logger.With("producer_id", p.id)
	if !p.transport.waitReady() {
		return
	}

	err := p.receiver.Receive(webrtc.RTPReceiveParameters{
		Encodings: []webrtc.RTPDecodingParameters{{
			RTPCodingParameters: webrtc.RTPCodingParameters{
				SSRC:        webrtc.SSRC(p.ssrc),
				PayloadType: webrtc.PayloadType(p.pt),
			},
		}},
	})
	if err != nil {
		logger.Errorw("failed to start receiver", "error", err)
		return
	}
	p.started.Store(true)
	go p.drainRTCP()

	track := p.receiver.Track()
	if track == nil {
		logger.Errorw("receiver has no track")
		return
	}

	buffers := p.transport.router.worker.buffers
	buf := buffers.Get()
	defer buffers.Put(buf)

	read := func(b []byte) (int, error) {
		n, _, err := track.Read(b)
		return n, err
	}
	if err := p.forward(read, buf); err != nil {
		logger.Warnw("stopped reading producer", "error", err)
	}
}

// forward copies packets from read to the attached consumers. It returns
// nil at EOF or once the producer is closed, and the last error after
// maxReadErrors failed reads in a row.
func (p *Producer) forward(read func([]byte) (int, error), buf []byte) error {
	var pkt rtp.Packet
	failures := 0
	for {
		n, err := read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) || p.isClosed() {
				return nil
			}
			if failures++; failures >= maxReadErrors {
				return err
			}
			continue
		}
		failures = 0
		if p.paused.Load() {
			continue
		}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}

		p.mu.RLock()
		for _, c := range p.consumers {
			c.write(&pkt)
		}
		p.mu.RUnlock()
	}
}

func (p *Producer) drainRTCP() {
	for {
		if _, _, err := p.receiver.ReadRTCP(); err != nil {
			return
		}
	}
}

func (p *Producer) Close() error {
	p.closeOnce.Do(func() {
		close(p.closed)
		_ = p.receiver.Stop()
		p.transport.forgetProducer(p.id)
	})
	return nil
}
