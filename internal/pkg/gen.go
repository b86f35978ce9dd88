package pkg

import (
	"github.com/google/uuid"
)

// GenerateRoomID - generates a new unique room id.
func GenerateRoomID() string {
	return uuid.NewString()
}

// GenerateNewSessionID - generates a new unique client id for anonymous sessions.
func GenerateNewSessionID() string {
	return uuid.NewString()
}

// IsValidID - reports whether id looks like an id issued by this package.
func IsValidID(id string) bool {
	return uuid.Validate(id) == nil
}
