package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	pkgjson "github.com/jackhunterking/legal-memo-backend/pkg/json"
	"github.com/jackhunterking/legal-memo-backend/pkg/jwt"
)

type ctxKey string

const accountIDKey ctxKey = "account_id"

func AccountIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(accountIDKey).(uuid.UUID)
	return id, ok
}

// Auth validates the bearer token and puts the account id on the request
// context. The health endpoint is registered outside this middleware.
func Auth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := jwt.ParseTokenFromHeader(r)
			if err != nil {
				pkgjson.WriteError(w, http.StatusUnauthorized, errors.New("missing or malformed authorization header"))
				return
			}

			accountID, err := jwt.ParseAccountID(r.Context(), token, secret)
			if err != nil {
				pkgjson.WriteError(w, http.StatusUnauthorized, errors.New("invalid token"))
				return
			}

			ctx := context.WithValue(r.Context(), accountIDKey, accountID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
