package domain

import "time"

// ProducerInfo announces a producer to room members.
type ProducerInfo struct {
	ProducerID ProducerID `json:"producerId"`
	UserID     UserID     `json:"userId"`
	Kind       MediaKind  `json:"kind"`
	Paused     bool       `json:"paused"`
}

type PeerSnapshot struct {
	UserID      UserID    `json:"userId"`
	DisplayName string    `json:"displayName"`
	JoinedAt    time.Time `json:"joinedAt"`
	Transports  int       `json:"transports"`
	Producers   int       `json:"producers"`
	Consumers   int       `json:"consumers"`
}

type RoomSnapshot struct {
	ID        RoomID         `json:"id"`
	WorkerID  WorkerID       `json:"workerId"`
	CreatedAt time.Time      `json:"createdAt"`
	Peers     []PeerSnapshot `json:"peers"`
}

type RoomEventType string

const (
	RoomEventCreated    RoomEventType = "room.created"
	RoomEventClosed     RoomEventType = "room.closed"
	RoomEventPeerJoined RoomEventType = "room.peer_joined"
	RoomEventPeerLeft   RoomEventType = "room.peer_left"
)

// RoomEvent is published to other services when room membership changes.
type RoomEvent struct {
	Type      RoomEventType `json:"type"`
	RoomID    RoomID        `json:"roomId"`
	UserID    UserID        `json:"userId,omitempty"`
	NodeID    string        `json:"nodeId,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// SessionStats is a point-in-time count of live session objects.
type SessionStats struct {
	Rooms            int
	Peers            int
	Transports       int
	Producers        int
	Consumers        int
	RoutersPerWorker map[WorkerID]int
}
