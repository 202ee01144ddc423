package pion

import (
	"context"
	"sync"
	"testing"
	"time"

	"voxsfu/internal/core/domain"
	"voxsfu/internal/core/ports"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// remotePeer is the browser side of a transport, built on the same ORTC
// objects the worker uses.
type remotePeer struct {
	api      *webrtc.API
	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport
}

func newRemotePeer(t *testing.T) *remotePeer {
	t.Helper()
	m := &webrtc.MediaEngine{}
	require.NoError(t, m.RegisterCodec(toCodecParameters(opus()), webrtc.RTPCodecTypeAudio))
	s := webrtc.SettingEngine{}
	s.SetIncludeLoopbackCandidate(true)
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(s))

	gatherer, err := api.NewICEGatherer(webrtc.ICEGatherOptions{})
	require.NoError(t, err)
	gathered := make(chan struct{})
	var once sync.Once
	gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			once.Do(func() { close(gathered) })
		}
	})
	require.NoError(t, gatherer.Gather())
	select {
	case <-gathered:
	case <-time.After(10 * time.Second):
		t.Fatal("remote gathering timed out")
	}

	ice := api.NewICETransport(gatherer)
	dtls, err := api.NewDTLSTransport(ice, nil)
	require.NoError(t, err)
	p := &remotePeer{api: api, gatherer: gatherer, ice: ice, dtls: dtls}
	t.Cleanup(func() {
		_ = p.dtls.Stop()
		_ = p.ice.Stop()
		_ = p.gatherer.Close()
	})
	return p
}

// params is what the remote side sends in connect-transport. It takes the
// DTLS client role.
func (p *remotePeer) params(t *testing.T) domain.RemoteTransportParams {
	t.Helper()
	iceParams, err := p.gatherer.GetLocalParameters()
	require.NoError(t, err)
	candidates, err := p.gatherer.GetLocalCandidates()
	require.NoError(t, err)
	dtlsParams, err := p.dtls.GetLocalParameters()
	require.NoError(t, err)

	remote := domain.RemoteTransportParams{DtlsParameters: fromDTLSParameters(dtlsParams)}
	remote.DtlsParameters.Role = "client"
	ice := fromICEParameters(iceParams)
	remote.IceParameters = &ice
	for _, c := range candidates {
		remote.IceCandidates = append(remote.IceCandidates, fromICECandidate(c))
	}
	return remote
}

// start runs ICE as the controlling agent and DTLS as client against the
// transport's advertised parameters.
func (p *remotePeer) start(server domain.TransportParams) error {
	candidates := make([]webrtc.ICECandidate, 0, len(server.IceCandidates))
	for _, c := range server.IceCandidates {
		pc, err := toICECandidate(c)
		if err != nil {
			return err
		}
		candidates = append(candidates, pc)
	}
	if err := p.ice.SetRemoteCandidates(candidates); err != nil {
		return err
	}
	role := webrtc.ICERoleControlling
	if err := p.ice.Start(nil, toICEParameters(server.IceParameters), &role); err != nil {
		return err
	}
	dtlsParams, err := toDTLSParameters(server.DtlsParameters)
	if err != nil {
		return err
	}
	dtlsParams.Role = webrtc.DTLSRoleServer
	return p.dtls.Start(dtlsParams)
}

func TestTransportLoopback_ForwardsProducerToConsumer(t *testing.T) {
	if testing.Short() {
		t.Skip("opens UDP sockets")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	w, err := NewWorker(0, Options{Codecs: []domain.RtpCodecCapability{opus()}, IncludeLoopback: true}, zap.NewNop().Sugar())
	require.NoError(t, err)
	defer w.Close()
	router, err := w.CreateRouter(ctx, []domain.RtpCodecCapability{opus()})
	require.NoError(t, err)
	mt, err := router.CreateTransport(ctx, "t1", domain.DirectionSend)
	require.NoError(t, err)
	transport := mt.(*Transport)
	require.NotEmpty(t, transport.Params().IceCandidates)

	connected := make(chan struct{})
	var connectedOnce sync.Once
	transport.OnStateChange(func(s domain.TransportState) {
		if s == domain.TransportConnected {
			connectedOnce.Do(func() { close(connected) })
		}
	})

	remote := newRemotePeer(t)
	err = transport.Connect(ctx, domain.RemoteTransportParams{DtlsParameters: remote.params(t).DtlsParameters})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest, "ice parameters are required")
	require.NoError(t, transport.Connect(ctx, remote.params(t)))

	started := make(chan error, 1)
	go func() { started <- remote.start(transport.Params()) }()
	select {
	case err := <-started:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("remote ice/dtls did not come up")
	}
	select {
	case <-connected:
	case <-ctx.Done():
		t.Fatal("transport never reported connected")
	}

	producer, err := transport.Produce(ctx, ports.ProduceOptions{
		ID:   "p1",
		Kind: domain.KindAudio,
		RtpParameters: domain.RtpParameters{
			Codecs:    []domain.RtpCodecParameters{{MimeType: "audio/opus", PayloadType: 111, ClockRate: 48000, Channels: 2}},
			Encodings: []domain.RtpEncodingParameters{{Ssrc: 1111}},
		},
		RouterCodec: opus(),
	})
	require.NoError(t, err)
	consumer, err := transport.Consume(ctx, ports.ConsumeOptions{
		ID:       "c1",
		Producer: producer,
		Kind:     domain.KindAudio,
		RtpParameters: domain.RtpParameters{
			Codecs: []domain.RtpCodecParameters{{
				MimeType: "audio/opus", PayloadType: 111, ClockRate: 48000, Channels: 2,
				Parameters: opus().Parameters,
			}},
			Encodings: []domain.RtpEncodingParameters{{Ssrc: 2222}},
		},
	})
	require.NoError(t, err)

	// The remote only sends once both sides have their SRTP streams open.
	require.Eventually(t, func() bool {
		return producer.(*Producer).started.Load() && consumer.(*Consumer).started.Load()
	}, 10*time.Second, 10*time.Millisecond)

	receiver, err := remote.api.NewRTPReceiver(webrtc.RTPCodecTypeAudio, remote.dtls)
	require.NoError(t, err)
	defer receiver.Stop()
	require.NoError(t, receiver.Receive(webrtc.RTPReceiveParameters{Encodings: []webrtc.RTPDecodingParameters{{
		RTPCodingParameters: webrtc.RTPCodingParameters{SSRC: 2222, PayloadType: 111},
	}}}))
	received := make(chan *rtp.Packet, 1)
	go func() {
		pkt, _, err := receiver.Track().ReadRTP()
		if err == nil {
			received <- pkt
		}
	}()

	track, err := webrtc.NewTrackLocalStaticRTP(toCodecCapability(opus()), "audio", "remote")
	require.NoError(t, err)
	sender, err := remote.api.NewRTPSender(track, remote.dtls)
	require.NoError(t, err)
	defer sender.Stop()
	require.NoError(t, sender.Send(webrtc.RTPSendParameters{Encodings: []webrtc.RTPEncodingParameters{{
		RTPCodingParameters: webrtc.RTPCodingParameters{SSRC: 1111, PayloadType: 111},
	}}}))

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	var seq uint16
	var got *rtp.Packet
	for got == nil {
		select {
		case got = <-received:
		case <-ticker.C:
			seq++
			require.NoError(t, track.WriteRTP(&rtp.Packet{
				Header:  rtp.Header{Version: 2, SequenceNumber: seq, Timestamp: uint32(seq) * 960},
				Payload: []byte{0xAA, 0xBB},
			}))
		case <-ctx.Done():
			t.Fatal("no media forwarded to the consumer")
		}
	}
	assert.Equal(t, uint32(2222), got.SSRC)
	assert.Equal(t, uint8(111), got.PayloadType)
	assert.Equal(t, []byte{0xAA, 0xBB}, got.Payload)

	require.NoError(t, consumer.Close())
	require.NoError(t, producer.Close())
	require.NoError(t, transport.Close())
	r := router.(*Router)
	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Empty(t, r.transports)
}
