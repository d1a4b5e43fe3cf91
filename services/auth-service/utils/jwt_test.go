package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"community-issue-feed/pkg/middleware"
	"community-issue-feed/services/auth-service/models"
)

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)

	assert.NotEqual(t, "correct horse", hash)
	assert.True(t, CheckPasswordHash("correct horse", hash))
	assert.False(t, CheckPasswordHash("battery staple", hash))
}

func TestGenerateJWT_RoundTrip(t *testing.T) {
	secret := []byte("s3cret")
	user := &models.User{ID: "7f1c", Email: "ana@example.com", Name: "Ana", IsVolunteer: true}

	token, err := GenerateJWT(user, secret, time.Now())
	require.NoError(t, err)

	claims, err := middleware.ParseToken(token, secret)
	require.NoError(t, err)
	assert.Equal(t, "7f1c", claims.UserID)
	assert.Equal(t, "ana@example.com", claims.Email)
	assert.Equal(t, "Ana", claims.Name)
	assert.True(t, claims.IsVolunteer)
	assert.WithinDuration(t, time.Now().Add(TokenTTL), claims.ExpiresAt.Time, time.Minute)
}

func TestGenerateJWT_Expired(t *testing.T) {
	secret := []byte("s3cret")
	user := &models.User{ID: "7f1c"}

	token, err := GenerateJWT(user, secret, time.Now().Add(-2*TokenTTL))
	require.NoError(t, err)

	_, err = middleware.ParseToken(token, secret)
	assert.Error(t, err)
}

func TestGenerateJWT_WrongSecret(t *testing.T) {
	token, err := GenerateJWT(&models.User{ID: "7f1c"}, []byte("one"), time.Now())
	require.NoError(t, err)

	_, err = middleware.ParseToken(token, []byte("two"))
	assert.Error(t, err)
}
