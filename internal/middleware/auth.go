package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/dukerupert/stayvia/internal/auth"
)

// TokenParser verifies a bearer token and returns the user id it carries.
type TokenParser interface {
	Parse(token string) (string, error)
}

// RequireAuth validates the bearer token and populates AuthContext.
// Browsers cannot set headers on WebSocket upgrades, so an access_token
// query parameter is accepted as well.
func RequireAuth(tokens TokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				unauthorized(w)
				return
			}
			userID, err := tokens.Parse(token)
			if err != nil {
				unauthorized(w)
				return
			}
			ctx := auth.WithAuth(r.Context(), auth.AuthContext{UserID: userID})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return ""
		}
		return strings.TrimSpace(token)
	}
	return r.URL.Query().Get("access_token")
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="stayvia"`)
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
}

// UserKey keys rate limits by the authenticated user, falling back to the
// client IP.
func UserKey(r *http.Request) string {
	if id := auth.UserID(r.Context()); id != "" {
		return "user:" + id
	}
	return "ip:" + RealIP(r)
}
