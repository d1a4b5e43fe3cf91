package utils

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"community-issue-feed/pkg/middleware"
	"community-issue-feed/services/auth-service/models"
)

// TokenTTL is how long an issued token stays valid.
const TokenTTL = 24 * time.Hour

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// GenerateJWT signs a token for user. The claims mirror what
// middleware.ParseToken expects.
func GenerateJWT(user *models.User, secret []byte, now time.Time) (string, error) {
	claims := middleware.UserClaims{
		UserID:      user.ID,
		Email:       user.Email,
		Name:        user.Name,
		IsVolunteer: user.IsVolunteer,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}
