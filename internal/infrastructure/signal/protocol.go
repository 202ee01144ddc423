package signal

import (
	"encoding/json"

	"voxsfu/internal/core/domain"
)

// Client operations.
const (
	OpIdentify         = "identify"
	OpJoin             = "join"
	OpLeave            = "leave"
	OpCreateTransport  = "create-transport"
	OpConnectTransport = "connect-transport"
	OpProduce          = "produce"
	OpConsume          = "consume"
	OpResumeConsumer   = "resume-consumer"
	OpPauseConsumer    = "pause-consumer"
	OpPauseProducer    = "pause-producer"
	OpResumeProducer   = "resume-producer"
	OpCloseProducer    = "close-producer"
	OpPing             = "ping"
)

// Server-only message types.
const (
	TypeError           = "error"
	TypePong            = "pong"
	EventSessionReplace = "session-replaced"
)

// ClientMessage is one request frame: {"op", "seq", "d"}.
type ClientMessage struct {
	Op  string          `json:"op"`
	Seq *uint64         `json:"seq,omitempty"`
	D   json.RawMessage `json:"d,omitempty"`
}

// ServerMessage is a reply or a pushed event: {"t", "seq", "d"}.
type ServerMessage struct {
	T   string      `json:"t"`
	Seq *uint64     `json:"seq,omitempty"`
	D   interface{} `json:"d"`
}

type ErrorPayload struct {
	Op      string `json:"op"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type identifyRequest struct {
	Token string `json:"token"`
}

type roomRequest struct {
	RoomID domain.RoomID `json:"roomId"`
}

type joinRequest struct {
	RoomID          domain.RoomID           `json:"roomId"`
	RtpCapabilities *domain.RtpCapabilities `json:"rtpCapabilities,omitempty"`
}

type createTransportRequest struct {
	RoomID    domain.RoomID    `json:"roomId"`
	Direction domain.Direction `json:"direction"`
}

type connectTransportRequest struct {
	RoomID         domain.RoomID         `json:"roomId"`
	TransportID    domain.TransportID    `json:"transportId"`
	DtlsParameters domain.DtlsParameters `json:"dtlsParameters"`
	IceParameters  *domain.IceParameters `json:"iceParameters,omitempty"`
	IceCandidates  []domain.IceCandidate `json:"iceCandidates,omitempty"`
}

type produceRequest struct {
	RoomID        domain.RoomID        `json:"roomId"`
	TransportID   domain.TransportID   `json:"transportId"`
	Kind          domain.MediaKind     `json:"kind"`
	RtpParameters domain.RtpParameters `json:"rtpParameters"`
}

type consumeRequest struct {
	RoomID          domain.RoomID          `json:"roomId"`
	TransportID     domain.TransportID     `json:"transportId"`
	ProducerID      domain.ProducerID      `json:"producerId"`
	RtpCapabilities domain.RtpCapabilities `json:"rtpCapabilities"`
}

type consumerRequest struct {
	RoomID     domain.RoomID     `json:"roomId"`
	ConsumerID domain.ConsumerID `json:"consumerId"`
}

type producerRequest struct {
	RoomID     domain.RoomID     `json:"roomId"`
	ProducerID domain.ProducerID `json:"producerId"`
}

type identifyResponse struct {
	UserID domain.UserID `json:"userId"`
}

type joinResponse struct {
	RouterRtpCapabilities domain.RtpCapabilities `json:"routerRtpCapabilities"`
	Producers             []domain.ProducerInfo  `json:"producers"`
	DisplayName           string                 `json:"displayName"`
}

type roomResponse struct {
	RoomID domain.RoomID `json:"roomId"`
}

type transportResponse struct {
	TransportID domain.TransportID `json:"transportId"`
}

type idResponse struct {
	ID domain.ProducerID `json:"id"`
}

type consumerResponse struct {
	ConsumerID domain.ConsumerID `json:"consumerId"`
}

type producerResponse struct {
	ProducerID domain.ProducerID `json:"producerId"`
}
