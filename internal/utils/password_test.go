package utils

import (
	"encoding/base64"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/argon2"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("coffeeman2024")
	require.NoError(t, err)
	assert.Contains(t, hash, "$argon2id$")

	ok, err := VerifyPassword("coffeeman2024", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassword("wrong-password", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashPassword_UniqueSalt(t *testing.T) {
	h1, err := HashPassword("same-password")
	require.NoError(t, err)
	h2, err := HashPassword("same-password")
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
}

// TestVerifyPassword_LegacyParams 旧配置里用别的参数生成的哈希照样能验
func TestVerifyPassword_LegacyParams(t *testing.T) {
	salt := []byte("saltsaltsaltsalt")
	hash := argon2.IDKey([]byte("admin123"), salt, 1, 64*1024, 4, 32)
	legacy := fmt.Sprintf("$argon2id$v=%d$m=65536,t=1,p=4$%s$%s",
		argon2.Version,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash))

	ok, err := VerifyPassword("admin123", legacy)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyPassword_BadFormat(t *testing.T) {
	_, err := VerifyPassword("anything", "not-an-encoded-hash")
	assert.Error(t, err)

	_, err = VerifyPassword("anything", "$bcrypt$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA")
	assert.Error(t, err)
}
