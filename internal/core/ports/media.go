package ports

import (
	"context"

	"voxsfu/internal/core/domain"
)

// MediaWorker hosts routers. Workers are created at startup and never
// recreated; Done is closed when the worker dies.
type MediaWorker interface {
	ID() domain.WorkerID
	CreateRouter(ctx context.Context, codecs []domain.RtpCodecCapability) (MediaRouter, error)
	RouterCount() int
	Done() <-chan struct{}
	Err() error
	Close() error
}

// MediaRouter forwards media between the transports of one room.
type MediaRouter interface {
	ID() string
	RtpCapabilities() domain.RtpCapabilities
	CreateTransport(ctx context.Context, id domain.TransportID, dir domain.Direction) (MediaTransport, error)
	Close() error
}

type MediaTransport interface {
	ID() domain.TransportID
	Params() domain.TransportParams
	Connect(ctx context.Context, remote domain.RemoteTransportParams) error
	// OnStateChange must be registered before Connect.
	OnStateChange(fn func(domain.TransportState))
	Produce(ctx context.Context, opts ProduceOptions) (MediaProducer, error)
	Consume(ctx context.Context, opts ConsumeOptions) (MediaConsumer, error)
	Close() error
}

type ProduceOptions struct {
	ID            domain.ProducerID
	Kind          domain.MediaKind
	RtpParameters domain.RtpParameters
	RouterCodec   domain.RtpCodecCapability
}

type ConsumeOptions struct {
	ID            domain.ConsumerID
	Producer      MediaProducer
	Kind          domain.MediaKind
	RtpParameters domain.RtpParameters
	Paused        bool
}

type MediaProducer interface {
	ID() domain.ProducerID
	Kind() domain.MediaKind
	Pause() error
	Resume() error
	RequestKeyFrame()
	Close() error
}

type MediaConsumer interface {
	ID() domain.ConsumerID
	Pause() error
	Resume() error
	Close() error
}
