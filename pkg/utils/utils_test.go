package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewConnectionID(t *testing.T) {
	a, b := NewConnectionID(), NewConnectionID()
	assert.NotEqual(t, a, b)
	assert.True(t, IsUUID(a))
	assert.False(t, IsUUID("not-a-uuid"))
}

func TestNewRequestID(t *testing.T) {
	id := NewRequestID()
	assert.Len(t, id, len("req_")+16)
	assert.NotEqual(t, id, NewRequestID())
}

func TestPreview(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is too long", 7, "this is..."},
		{"a\x00b\nc", 10, "abc"},
		{"héllo", 2, "hé..."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Preview([]byte(tt.in), tt.max))
	}
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "eyJhbG********", MaskToken("eyJhbGciOiJIUzI1NiJ9.payload.sig"))
	assert.Equal(t, "***", MaskToken("abc"))
	assert.Equal(t, "", MaskToken(""))
}
