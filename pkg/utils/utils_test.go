package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateIDs(t *testing.T) {
	tests := []struct {
		name   string
		gen    func() string
		prefix string
	}{
		{"session", GenerateSessionID, "session_"},
		{"field", GenerateFieldID, "field_"},
		{"call", GenerateCallID, "call_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := tt.gen(), tt.gen()
			assert.True(t, strings.HasPrefix(a, tt.prefix))
			assert.NotEqual(t, a, b)
		})
	}
}

func TestGenerateTraceID(t *testing.T) {
	id := GenerateTraceID()
	assert.Len(t, id, 32)
	assert.NotEqual(t, id, GenerateTraceID())
}
