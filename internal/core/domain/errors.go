package domain

import "errors"

var (
	ErrRoomUnavailable          = errors.New("room unavailable")
	ErrRoomNotFound             = errors.New("room not found")
	ErrPeerNotFound             = errors.New("peer not found")
	ErrTransportNotFound        = errors.New("transport not found")
	ErrProducerNotFound         = errors.New("producer not found")
	ErrConsumerNotFound         = errors.New("consumer not found")
	ErrIncompatibleCapabilities = errors.New("incompatible rtp capabilities")
	ErrAuthenticationFailed     = errors.New("authentication failed")
	ErrInvalidRequest           = errors.New("invalid request")
	ErrWorkerClosed             = errors.New("media worker closed")
	ErrClosed                   = errors.New("object closed")
	ErrProfileNotFound          = errors.New("profile not found")
)
