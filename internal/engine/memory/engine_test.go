package memory

import (
	"context"
	"errors"
	"testing"

	"voxsfu/internal/core/domain"
	"voxsfu/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerRouterLifecycle(t *testing.T) {
	w := NewWorker(3)
	ctx := context.Background()

	r, err := w.CreateRouter(ctx, []domain.RtpCodecCapability{{Kind: domain.KindAudio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2}})
	require.NoError(t, err)
	assert.Equal(t, 1, w.RouterCount())
	assert.Len(t, r.RtpCapabilities().Codecs, 1)

	require.NoError(t, r.Close())
	assert.Equal(t, 0, w.RouterCount())
	require.NoError(t, r.Close())
}

func TestWorkerKill(t *testing.T) {
	w := NewWorker(0)
	w.Kill(errors.New("segfault"))

	select {
	case <-w.Done():
	default:
		t.Fatal("done channel not closed")
	}
	assert.EqualError(t, w.Err(), "segfault")

	_, err := w.CreateRouter(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrWorkerClosed)
}

func TestFailNextRouter(t *testing.T) {
	w := NewWorker(0)
	boom := errors.New("boom")
	w.FailNextRouter(boom)

	_, err := w.CreateRouter(context.Background(), nil)
	assert.ErrorIs(t, err, boom)

	_, err = w.CreateRouter(context.Background(), nil)
	assert.NoError(t, err)
}

func TestConsumerFlow(t *testing.T) {
	ctx := context.Background()
	r, err := NewWorker(0).CreateRouter(ctx, nil)
	require.NoError(t, err)

	send, err := r.CreateTransport(ctx, "t-send", domain.DirectionSend)
	require.NoError(t, err)
	recv, err := r.CreateTransport(ctx, "t-recv", domain.DirectionRecv)
	require.NoError(t, err)

	var states []domain.TransportState
	send.OnStateChange(func(s domain.TransportState) { states = append(states, s) })
	require.NoError(t, send.Connect(ctx, domain.RemoteTransportParams{}))
	assert.Equal(t, []domain.TransportState{domain.TransportConnected}, states)

	mp, err := send.Produce(ctx, ports.ProduceOptions{ID: "p1", Kind: domain.KindAudio})
	require.NoError(t, err)
	mc, err := recv.Consume(ctx, ports.ConsumeOptions{ID: "c1", Producer: mp, Paused: true})
	require.NoError(t, err)

	consumer := mc.(*Consumer)
	producer := mp.(*Producer)
	assert.False(t, consumer.Flowing())

	require.NoError(t, consumer.Resume())
	assert.True(t, consumer.Flowing())
	assert.Equal(t, 1, producer.KeyFrameRequests())

	require.NoError(t, producer.Pause())
	assert.False(t, consumer.Flowing())
	require.NoError(t, producer.Resume())
	assert.True(t, consumer.Flowing())
}

func TestRouterCloseClosesTransports(t *testing.T) {
	ctx := context.Background()
	r, err := NewWorker(0).CreateRouter(ctx, nil)
	require.NoError(t, err)
	tr, err := r.CreateTransport(ctx, "t1", domain.DirectionSend)
	require.NoError(t, err)

	require.NoError(t, r.Close())
	_, err = tr.Produce(ctx, ports.ProduceOptions{ID: "p1"})
	assert.ErrorIs(t, err, domain.ErrClosed)

	_, err = r.CreateTransport(ctx, "t2", domain.DirectionRecv)
	assert.ErrorIs(t, err, domain.ErrClosed)
}
