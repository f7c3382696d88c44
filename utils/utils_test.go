package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("s3cret-pass")
	require.NoError(t, err)
	assert.True(t, IsPasswordHash(hash))
	assert.True(t, CheckPasswordHash("s3cret-pass", hash))
	assert.False(t, CheckPasswordHash("wrong", hash))
	assert.False(t, IsPasswordHash("plain-text"))
	assert.False(t, IsPasswordHash("$2not-a-hash"))
}

func TestSanitizeInput(t *testing.T) {
	assert.Equal(t, "hello", SanitizeInput("  hel\x00lo \n"))
}

func TestValidateEmail(t *testing.T) {
	assert.True(t, ValidateEmail("oe@example.org"))
	assert.False(t, ValidateEmail("not-an-email"))
}

func TestValidatePassword(t *testing.T) {
	ok, reason := ValidatePassword("short")
	assert.False(t, ok)
	assert.NotEmpty(t, reason)

	ok, _ = ValidatePassword("long-enough")
	assert.True(t, ok)
}
