package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndVerify(t *testing.T) {
	m := NewJWTManager("secret", 1)
	tok, err := m.GenerateToken(42, "ada")
	require.NoError(t, err)

	claims, err := m.VerifyToken(tok)
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.UserID)
	assert.Equal(t, "ada", claims.Username)
}

func TestVerifyRejects(t *testing.T) {
	m := NewJWTManager("secret", 1)
	other := NewJWTManager("other", 1)
	expired := NewJWTManager("secret", -1)

	foreign, err := other.GenerateToken(1, "x")
	require.NoError(t, err)
	stale, err := expired.GenerateToken(1, "x")
	require.NoError(t, err)
	anonymous, err := m.GenerateToken(0, "x")
	require.NoError(t, err)

	for name, tok := range map[string]string{
		"wrong secret": foreign,
		"expired":      stale,
		"no user":      anonymous,
		"garbage":      "not-a-jwt",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := m.VerifyToken(tok)
			assert.Error(t, err)
		})
	}
}
