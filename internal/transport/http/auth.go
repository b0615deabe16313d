package http

import (
	"context"
	"net/http"
	"strings"

	appErrors "cardledger/internal/errors"

	"github.com/golang-jwt/jwt/v5"
)

type callerKey struct{}

// CallerID returns the authenticated caller placed in the context by AuthMiddleware.
func CallerID(ctx context.Context) string {
	id, _ := ctx.Value(callerKey{}).(string)
	return id
}

// AuthMiddleware validates an HS256 bearer token and stores its subject as the caller id.
// Tokens are issued by the session service; this service only verifies them.
func AuthMiddleware(secret []byte) func(http.Handler) http.Handler {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" || parts[1] == "" {
				respondAppError(w, appErrors.ErrUnauthenticated.WithMessage("missing bearer token"))
				return
			}

			claims := &jwt.RegisteredClaims{}
			token, err := parser.ParseWithClaims(parts[1], claims, func(*jwt.Token) (interface{}, error) {
				return secret, nil
			})
			if err != nil || !token.Valid {
				respondAppError(w, appErrors.ErrUnauthenticated.WithMessage("invalid or expired token"))
				return
			}
			if claims.Subject == "" {
				respondAppError(w, appErrors.ErrUnauthenticated.WithMessage("token has no subject"))
				return
			}

			ctx := context.WithValue(r.Context(), callerKey{}, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
