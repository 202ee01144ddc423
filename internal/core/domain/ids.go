package domain

type (
	RoomID      string
	PeerID      string // equals the authenticated user id
	UserID      = PeerID
	TransportID string
	ProducerID  string
	ConsumerID  string
	WorkerID    int
)

type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

func (k MediaKind) Valid() bool {
	return k == KindAudio || k == KindVideo
}

// Direction of a transport, seen from the client.
type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

func (d Direction) Valid() bool {
	return d == DirectionSend || d == DirectionRecv
}

type TransportState string

const (
	TransportNew        TransportState = "new"
	TransportConnecting TransportState = "connecting"
	TransportConnected  TransportState = "connected"
	TransportClosed     TransportState = "closed"
)

// Identity is the result of verifying a client token.
type Identity struct {
	UserID   UserID
	Username string
}
