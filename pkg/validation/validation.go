package validation

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	MaxIDLength    = 128
	MaxTopicLength = 64
)

var (
	// RoomIDRegex validates room ID format
	RoomIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

	// TopicRegex validates role request topics
	TopicRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_.-]*$`)
)

// ValidateRoomID validates room ID
func ValidateRoomID(roomID string) error {
	if roomID == "" {
		return fmt.Errorf("roomId is required")
	}
	if len(roomID) > MaxIDLength {
		return fmt.Errorf("roomId is too long (max %d characters)", MaxIDLength)
	}
	if !RoomIDRegex.MatchString(roomID) {
		return fmt.Errorf("invalid roomId format")
	}
	return nil
}

// ValidateMediaItemID accepts any printable identifier; media ids are opaque.
func ValidateMediaItemID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("mediaItemId is required")
	}
	if len(id) > MaxIDLength*4 {
		return fmt.Errorf("mediaItemId is too long (max %d bytes)", MaxIDLength*4)
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("mediaItemId contains invalid characters")
	}
	return nil
}

func ValidateConnectionID(id string) error {
	if id == "" {
		return fmt.Errorf("connection id is required")
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("connection id is too long (max %d characters)", MaxIDLength)
	}
	return nil
}

// ValidatePosition requires a finite, non-negative playback position in seconds.
func ValidatePosition(position *float64) error {
	if position == nil {
		return fmt.Errorf("position is required")
	}
	if math.IsNaN(*position) || math.IsInf(*position, 0) {
		return fmt.Errorf("position must be a finite number")
	}
	if *position < 0 {
		return fmt.Errorf("position must be >= 0")
	}
	return nil
}

// ValidateTopic validates a role request topic
func ValidateTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("topic is required")
	}
	if len(topic) > MaxTopicLength {
		return fmt.Errorf("topic is too long (max %d characters)", MaxTopicLength)
	}
	if !TopicRegex.MatchString(topic) {
		return fmt.Errorf("invalid topic format")
	}
	return nil
}

// ValidateOpaqueJSON checks that an optional relayed payload is well-formed JSON.
func ValidateOpaqueJSON(raw json.RawMessage, fieldName string, required bool) error {
	if len(raw) == 0 || string(raw) == "null" {
		if required {
			return fmt.Errorf("%s is required", fieldName)
		}
		return nil
	}
	if !json.Valid(raw) {
		return fmt.Errorf("%s must be valid JSON", fieldName)
	}
	return nil
}

// ValidateNonEmptyString validates that string is not empty after trimming
func ValidateNonEmptyString(s, fieldName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}
