package utils

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestNewIDs(t *testing.T) {
	a, b := NewTransportID(), NewTransportID()
	assert.NotEqual(t, a, b)
	_, err := uuid.Parse(a)
	assert.NoError(t, err)

	assert.NotEqual(t, NewProducerID(), NewConsumerID())
	assert.True(t, strings.HasPrefix(NewConnectionID(), "conn_"))
	assert.Len(t, GenerateTraceID(), 32)
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"normal string", "Alice", "Alice"},
		{"control chars", "Al\x00ice", "Alice"},
		{"newline dropped", "Al\nice", "Alice"},
		{"surrounding whitespace", "  Alice  ", "Alice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeString(tt.input))
		})
	}
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", TruncateString("short", 10))
	assert.Equal(t, "abcdefg...", TruncateString("abcdefghijklmnop", 10))
	assert.Equal(t, "ab", TruncateString("abcdef", 2))
	assert.Equal(t, "héllo...", TruncateString("héllo wörld", 8))
}

func TestMaskSensitive(t *testing.T) {
	assert.Equal(t, "eyJ*****", MaskSensitive("eyJhbGci", 3))
	assert.Equal(t, "***", MaskSensitive("abc", 5))
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "bob", FirstNonEmpty("", "  ", "bob", "carol"))
	assert.Equal(t, "", FirstNonEmpty("", " "))
}
