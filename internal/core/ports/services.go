package ports

import (
	"context"

	"voxsfu/internal/core/domain"
)

// IdentityVerifier turns an opaque client token into a user identity.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (domain.Identity, error)
}

// PeerNotifier delivers a server-pushed event to one peer of one room.
type PeerNotifier interface {
	NotifyPeer(roomID domain.RoomID, userID domain.UserID, event string, payload interface{})
}

// RoomEventPublisher announces room lifecycle changes outside the process.
type RoomEventPublisher interface {
	Publish(ctx context.Context, event domain.RoomEvent) error
}

// SessionService is the operation surface used by the signaling gateway.
type SessionService interface {
	Join(ctx context.Context, req JoinRequest) (*JoinResult, error)
	Leave(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error
	// LeaveSession leaves only while sessionID still owns the peer.
	LeaveSession(ctx context.Context, roomID domain.RoomID, userID domain.UserID, sessionID string) error
	CreateTransport(ctx context.Context, roomID domain.RoomID, userID domain.UserID, dir domain.Direction) (domain.TransportParams, error)
	ConnectTransport(ctx context.Context, roomID domain.RoomID, userID domain.UserID, transportID domain.TransportID, remote domain.RemoteTransportParams) error
	Produce(ctx context.Context, req ProduceRequest) (domain.ProducerID, error)
	Consume(ctx context.Context, req ConsumeRequest) (*ConsumeResult, error)
	ResumeConsumer(ctx context.Context, roomID domain.RoomID, userID domain.UserID, consumerID domain.ConsumerID) error
	PauseConsumer(ctx context.Context, roomID domain.RoomID, userID domain.UserID, consumerID domain.ConsumerID) error
	PauseProducer(ctx context.Context, roomID domain.RoomID, userID domain.UserID, producerID domain.ProducerID) error
	ResumeProducer(ctx context.Context, roomID domain.RoomID, userID domain.UserID, producerID domain.ProducerID) error
	CloseProducer(ctx context.Context, roomID domain.RoomID, userID domain.UserID, producerID domain.ProducerID) error
	// RoomExists reports whether the room is currently open.
	RoomExists(roomID domain.RoomID) bool
}

type JoinRequest struct {
	RoomID          domain.RoomID
	Identity        domain.Identity
	RtpCapabilities *domain.RtpCapabilities
	// SessionID identifies the signaling connection; a join from a different
	// session replaces the previous one.
	SessionID string
}

type JoinResult struct {
	RouterRtpCapabilities domain.RtpCapabilities `json:"routerRtpCapabilities"`
	Producers             []domain.ProducerInfo  `json:"producers"`
	DisplayName           string                 `json:"displayName"`
	// Replaced is the session id of a connection this join took over.
	Replaced string `json:"-"`
}

type ProduceRequest struct {
	RoomID        domain.RoomID
	UserID        domain.UserID
	TransportID   domain.TransportID
	Kind          domain.MediaKind
	RtpParameters domain.RtpParameters
}

type ConsumeRequest struct {
	RoomID          domain.RoomID
	UserID          domain.UserID
	TransportID     domain.TransportID
	ProducerID      domain.ProducerID
	RtpCapabilities domain.RtpCapabilities
}

type ConsumeResult struct {
	ID            domain.ConsumerID    `json:"id"`
	ProducerID    domain.ProducerID    `json:"producerId"`
	Kind          domain.MediaKind     `json:"kind"`
	RtpParameters domain.RtpParameters `json:"rtpParameters"`
	Paused        bool                 `json:"paused"`
}
