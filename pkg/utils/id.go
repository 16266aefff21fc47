package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// GenerateSessionID generates a unique call session ID.
func GenerateSessionID() string {
	return fmt.Sprintf("session_%s", uuid.New().String())
}

// GenerateFieldID generates a unique field ID.
func GenerateFieldID() string {
	return fmt.Sprintf("field_%s", uuid.New().String())
}

// GenerateCallID generates a unique call ID for the signaling path.
func GenerateCallID() string {
	return fmt.Sprintf("call_%s", uuid.New().String())
}

// GenerateTraceID generates a unique trace ID.
func GenerateTraceID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}
