package pion

import (
	"fmt"
	"sync"
	"sync/atomic"

	"voxsfu/internal/core/domain"
	"voxsfu/internal/core/ports"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
)

// Consumer sends a producer's media to one remote receiver through a local
// static track.
type Consumer struct {
	id        domain.ConsumerID
	ssrc      uint32
	pt        uint8
	producer  *Producer
	transport *Transport
	track     *webrtc.TrackLocalStaticRTP
	sender    *webrtc.RTPSender

	paused    atomic.Bool
	started   atomic.Bool
	closed    chan struct{}
	closeOnce sync.Once
}

func newConsumer(opts ports.ConsumeOptions, t *Transport, producer *Producer) (*Consumer, error) {
	codec := opts.RtpParameters.Codecs[0]
	capability := toCodecCapability(domain.RtpCodecCapability{
		Kind:         opts.Kind,
		MimeType:     codec.MimeType,
		ClockRate:    codec.ClockRate,
		Channels:     codec.Channels,
		Parameters:   codec.Parameters,
		RtcpFeedback: codec.RtcpFeedback,
	})
	track, err := webrtc.NewTrackLocalStaticRTP(capability, string(opts.ID), string(producer.id))
	if err != nil {
		return nil, fmt.Errorf("create local track: %w", err)
	}
	sender, err := t.router.worker.api.NewRTPSender(track, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("create rtp sender: %w", err)
	}

	c := &Consumer{
		id:        opts.ID,
		ssrc:      opts.RtpParameters.Encodings[0].Ssrc,
		pt:        codec.PayloadType,
		producer:  producer,
		transport: t,
		track:     track,
		sender:    sender,
		closed:    make(chan struct{}),
	}
	c.paused.Store(opts.Paused)
	return c, nil
}

func (c *Consumer) ID() domain.ConsumerID { return c.id }

func (c *Consumer) Pause() error {
	c.paused.Store(true)
	return nil
}

// Resume lets media through and asks the producer for a key frame so the
// remote decoder can start immediately.
func (c *Consumer) Resume() error {
	if c.isClosed() {
		return domain.ErrClosed
	}
	if c.paused.Swap(false) {
		c.producer.RequestKeyFrame()
	}
	return nil
}

func (c *Consumer) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Consumer) write(pkt *rtp.Packet) {
	if c.paused.Load() || !c.started.Load() {
		return
	}
	_ = c.track.WriteRTP(pkt)
}

func (c *Consumer) run() {
	if !c.transport.waitReady() {
		return
	}
	err := c.sender.Send(webrtc.RTPSendParameters{
		Encodings: []webrtc.RTPEncodingParameters{{
			RTPCodingParameters: webrtc.RTPCodingParameters{
				SSRC:        webrtc.SSRC(c.ssrc),
				PayloadType: webrtc.PayloadType(c.pt),
			},
		}},
	})
	if err != nil {
		c.transport.router.worker.logger.Errorw("failed to start sender", "consumer_id", c.id, "error", err)
		return
	}
	c.started.Store(true)
	if !c.paused.Load() {
		c.producer.RequestKeyFrame()
	}

	for {
		pkts, _, err := c.sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range pkts {
			switch pkt.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				c.producer.RequestKeyFrame()
			}
		}
	}
}

func (c *Consumer) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.producer.detach(c.id)
		_ = c.sender.Stop()
		c.transport.forgetConsumer(c.id)
	})
	return nil
}
