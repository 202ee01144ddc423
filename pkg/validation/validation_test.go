package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateRoomID(t *testing.T) {
	tests := []struct {
		name    string
		roomID  string
		wantErr bool
	}{
		{"snowflake", "1093847561029384756", false},
		{"slug", "general-voice", false},
		{"namespaced", "guild:42.voice_1", false},
		{"empty", "", true},
		{"spaces", "general voice", true},
		{"too long", strings.Repeat("a", MaxRoomIDLength+1), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRoomID(tt.roomID)
			assert.Equal(t, tt.wantErr, err != nil, "err = %v", err)
		})
	}
}

func TestValidateObjectID(t *testing.T) {
	assert.NoError(t, ValidateObjectID("transportId", "3f2b8c1e-9a7d-4e2f-b1c3-0d9e8f7a6b5c"))
	assert.Error(t, ValidateObjectID("transportId", ""))
	assert.Error(t, ValidateObjectID("producerId", "../../etc"))
}

func TestValidateUserID(t *testing.T) {
	assert.NoError(t, ValidateUserID("user-1"))
	assert.Error(t, ValidateUserID("  "))
	assert.Error(t, ValidateUserID(strings.Repeat("x", 129)))
}

func TestValidateDisplayName(t *testing.T) {
	assert.NoError(t, ValidateDisplayName("Alice"))
	assert.NoError(t, ValidateDisplayName("Zoë"))
	assert.Error(t, ValidateDisplayName("   "))
	assert.Error(t, ValidateDisplayName(strings.Repeat("n", MaxDisplayNameLength+1)))
}

func TestValidateOneOf(t *testing.T) {
	assert.NoError(t, ValidateOneOf("direction", "send", "send", "recv"))
	err := ValidateOneOf("direction", "both", "send", "recv")
	assert.EqualError(t, err, "direction must be one of send, recv")
}
