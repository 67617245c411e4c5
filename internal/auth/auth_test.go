package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretHashing(t *testing.T) {
	secret, err := GenerateSecret()
	require.NoError(t, err)
	assert.Len(t, secret, 32)

	hash, err := HashSecret(secret)
	require.NoError(t, err)
	assert.True(t, CheckSecret(secret, hash))
	assert.False(t, CheckSecret(secret+"x", hash))
	assert.False(t, CheckSecret(secret, "not a hash"))

	other, err := GenerateSecret()
	require.NoError(t, err)
	assert.NotEqual(t, secret, other)
}

func TestTokenRoundTrip(t *testing.T) {
	s := NewService("s3cret", time.Hour)

	token, err := s.GenerateToken(7, "discord-bot", true)
	require.NoError(t, err)

	claims, err := s.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(7), claims.ClientID)
	assert.Equal(t, "discord-bot", claims.ClientName)
	assert.True(t, claims.IsAdmin)
	assert.NotEmpty(t, claims.ID)
}

func TestTokenRejected(t *testing.T) {
	s := NewService("s3cret", time.Hour)
	token, err := s.GenerateToken(1, "bot", false)
	require.NoError(t, err)

	_, err = NewService("other", time.Hour).ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = s.ValidateToken(token + "x")
	assert.ErrorIs(t, err, ErrInvalidToken)

	// expired
	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = s.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenRejectsNoneAlgorithm(t *testing.T) {
	s := NewService("s3cret", time.Hour)
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		ClientID:         1,
		IsAdmin:          true,
		RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer},
	})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = s.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMissingSecret(t *testing.T) {
	s := NewService("", 0)
	_, err := s.GenerateToken(1, "bot", false)
	assert.ErrorIs(t, err, ErrNoSecret)
}
