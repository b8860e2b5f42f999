package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	identity "github.com/clinicore/identity"
)

type authResultContextKey struct{}

// AuthResultFromContext returns the claims stored by RequireAccess.
func AuthResultFromContext(ctx context.Context) (*identity.AuthResult, bool) {
	res, ok := ctx.Value(authResultContextKey{}).(*identity.AuthResult)
	return res, ok
}

// WithAuthResult attaches res to ctx the way RequireAccess does.
func WithAuthResult(ctx context.Context, res *identity.AuthResult) context.Context {
	return context.WithValue(ctx, authResultContextKey{}, res)
}

// RequireAccess rejects requests without a valid access token.
func RequireAccess(engine *identity.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				writeMessage(w, http.StatusServiceUnavailable, "service unavailable")
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeMessage(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			res, err := engine.ValidateAccess(r.Context(), token)
			if err != nil {
				if errors.Is(err, identity.ErrEngineNotReady) {
					writeMessage(w, http.StatusServiceUnavailable, "service unavailable")
					return
				}
				writeMessage(w, http.StatusUnauthorized, "invalid access token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAuthResult(r.Context(), res)))
		})
	}
}

func bearerToken(value string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(value), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}

	return token, true
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}
