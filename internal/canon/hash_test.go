package canon

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashCanonicalForm(t *testing.T) {
	h := Hash([]byte("payload"))

	require.Len(t, string(h), 66)
	assert.True(t, strings.HasPrefix(string(h), HashPrefix))
	assert.Equal(t, strings.ToLower(string(h)), string(h))
}

func TestHashKnownVector(t *testing.T) {
	// SHA-256 of the empty input.
	assert.Equal(t,
		ContentHash("0xe3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"),
		Hash(nil))
}

func TestHashDistinguishesPayloads(t *testing.T) {
	assert.NotEqual(t, Hash([]byte("a")), Hash([]byte("b")))
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected ContentHash
	}{
		{"already canonical", "0xabcd", "0xabcd"},
		{"uppercase hex", "ABCD", "0xabcd"},
		{"uppercase with prefix", "0xABCD", "0xabcd"},
		{"mixed case prefix", "0XabCD", "0xabcd"},
		{"bare lowercase", "abcd", "0xabcd"},
		{"surrounding whitespace", "  0xabcd\n", "0xabcd"},
		{"empty", "", ""},
		{"prefix only", "0x", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Normalize(tt.input))
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	once := Normalize("0xAbCd")
	assert.Equal(t, once, Normalize(string(once)))
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal("ABCD", "0xabcd"))
	assert.True(t, Equal("0xABCD", "abcd"))
	assert.False(t, Equal("0xabcd", "0xabce"))
	assert.True(t, Equal("", ""))
}
