package jwt

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackhunterking/legal-memo-backend/pkg/logger"
)

func ParseTokenFromHeader(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", fmt.Errorf("missing authorization header")
	}

	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", fmt.Errorf("malformed authorization header")
	}
	return token, nil
}

// ParseAccountID validates the HS256 token and returns the account id from
// its subject claim.
func ParseAccountID(ctx context.Context, tokenString, secret string) (uuid.UUID, error) {
	log := logger.FromContext(ctx)

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		log.Debug("token validation failed", "error", err)
		return uuid.Nil, fmt.Errorf("invalid token: %w", err)
	}

	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return uuid.Nil, fmt.Errorf("token has no subject")
	}

	accountID, err := uuid.Parse(subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("token subject is not an account id: %w", err)
	}
	return accountID, nil
}
