package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// RoomIDRegex matches room ids; channel snowflakes and slugs both qualify.
	RoomIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_:.-]+$`)

	// ObjectIDRegex matches transport, producer and consumer ids.
	ObjectIDRegex = regexp.MustCompile(`^[a-fA-F0-9-]{8,64}$`)
)

const (
	MaxRoomIDLength      = 128
	MaxDisplayNameLength = 64
)

// ValidateRoomID validates a room id received from a client.
func ValidateRoomID(roomID string) error {
	if roomID == "" {
		return fmt.Errorf("roomId is required")
	}
	if len(roomID) > MaxRoomIDLength {
		return fmt.Errorf("roomId is too long (max %d characters)", MaxRoomIDLength)
	}
	if !RoomIDRegex.MatchString(roomID) {
		return fmt.Errorf("invalid roomId format")
	}
	return nil
}

// ValidateObjectID validates a server-issued id echoed back by a client.
func ValidateObjectID(field, id string) error {
	if id == "" {
		return fmt.Errorf("%s is required", field)
	}
	if !ObjectIDRegex.MatchString(id) {
		return fmt.Errorf("invalid %s format", field)
	}
	return nil
}

// ValidateUserID validates the subject carried by an identity token.
func ValidateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}
	if len(userID) > 128 {
		return fmt.Errorf("user id is too long (max 128 characters)")
	}
	return nil
}

// ValidateDisplayName validates a name shown to other room members.
func ValidateDisplayName(name string) error {
	return ValidateStringLength(strings.TrimSpace(name), 1, MaxDisplayNameLength, "display name")
}

// ValidateOneOf validates that value is one of allowed.
func ValidateOneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s", field, strings.Join(allowed, ", "))
}

// ValidateStringLength validates string length
func ValidateStringLength(s string, min, max int, fieldName string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("%s contains invalid characters", fieldName)
	}
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
