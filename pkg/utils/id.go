package utils

import (
	"strings"

	"github.com/google/uuid"
)

// NewConnectionID returns a random v4 UUID string.
func NewConnectionID() string {
	return uuid.NewString()
}

// NewRequestID returns a compact request id for HTTP logging.
func NewRequestID() string {
	return "req_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// IsUUID reports whether s parses as a UUID.
func IsUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
