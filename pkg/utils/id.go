package utils

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// NewTransportID returns a fresh transport id.
func NewTransportID() string { return uuid.NewString() }

// NewProducerID returns a fresh producer id.
func NewProducerID() string { return uuid.NewString() }

// NewConsumerID returns a fresh consumer id.
func NewConsumerID() string { return uuid.NewString() }

// NewConnectionID returns an id for a signaling connection, used in logs.
func NewConnectionID() string { return "conn_" + uuid.NewString()[:8] }

// GenerateTraceID generates a random 128-bit hex trace id.
func GenerateTraceID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
