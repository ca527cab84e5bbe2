package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/gdbrns/go-whatsapp-session-gateway/pkg/env"
)

// JWTSecretKey signs session tokens issued after OTP verification.
// REQUIRED: the application panics at startup when not configured.
var JWTSecretKey string

func init() {
	JWTSecretKey = env.MustGetEnvString("JWT_SECRET_KEY")
}

// SessionTokenTTL bounds how long a verified OTP grants config access.
const SessionTokenTTL = 24 * time.Hour

// SessionTokenClaims bind a token to one session identity.
type SessionTokenClaims struct {
	Identity string `json:"identity"`
	jwt.RegisteredClaims
}

// GenerateSessionToken creates a short-lived JWT proving the holder
// completed the OTP challenge for identity.
func GenerateSessionToken(identity string) (string, error) {
	if JWTSecretKey == "" {
		return "", errors.New("JWT_SECRET_KEY not configured")
	}

	now := time.Now()
	claims := SessionTokenClaims{
		Identity: identity,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(SessionTokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(JWTSecretKey))
}

// ValidateSessionToken validates a session JWT and returns its claims.
func ValidateSessionToken(tokenString string) (*SessionTokenClaims, error) {
	if JWTSecretKey == "" {
		return nil, errors.New("JWT_SECRET_KEY not configured")
	}

	token, err := jwt.ParseWithClaims(tokenString, &SessionTokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return []byte(JWTSecretKey), nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*SessionTokenClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token claims")
}
