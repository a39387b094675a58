package pkg

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/google/uuid"
)

// GenerateSessionToken - generates a new opaque session token.
func GenerateSessionToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "error-generating-session-token"
	}

	return base64.RawURLEncoding.EncodeToString(b)
}

// GeneratePlayerID - generates a stable unique player identifier.
func GeneratePlayerID() string {
	return uuid.NewString()
}

// GenerateRoomID - generates a unique identifier for a room.
func GenerateRoomID() string {
	return uuid.NewString()
}
