package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// -----------------------------------------------------------------------------
// TokenVerifier checks HS256 session tokens issued by the collaborating
// account service. An empty secret disables checking.
// -----------------------------------------------------------------------------

type TokenVerifier struct {
	secret []byte
}

func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

func (v *TokenVerifier) Enabled() bool {
	return v != nil && len(v.secret) > 0
}

// -----------------------------------------------------------------------------

// Verify parses a token and returns its subject.
func (v *TokenVerifier) Verify(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return "", errors.New("invalid token claims")
	}
	return claims.Subject, nil
}

// -----------------------------------------------------------------------------

// Middleware rejects requests without a valid token when checking is enabled.
// Browsers cannot set headers on WebSocket upgrades, so the token may also
// come in the "token" query parameter.
func (v *TokenVerifier) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !v.Enabled() {
			c.Next()
			return
		}

		tokenString := c.Query("token")
		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			tokenString = strings.TrimPrefix(authHeader, "Bearer ")
		}
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "token is required"})
			return
		}

		subject, err := v.Verify(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": err.Error()})
			return
		}
		c.Set("subject", subject)
		c.Next()
	}
}
