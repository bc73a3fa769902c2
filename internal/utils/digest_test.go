package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashToken(t *testing.T) {
	a := HashToken("token-a")
	assert.Len(t, a, 64)
	assert.Equal(t, a, HashToken("token-a"))
	assert.NotEqual(t, a, HashToken("token-b"))
}

func TestDigestEqual(t *testing.T) {
	d := HashToken("token-a")

	assert.True(t, DigestEqual(d, HashToken("token-a")))
	assert.False(t, DigestEqual(d, HashToken("token-b")))
	assert.False(t, DigestEqual("", ""))
	assert.False(t, DigestEqual(d, ""))
}
