package auth

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Middleware resolves the bearer token into a Principal. Requests without a
// valid token are rejected with 401.
func Middleware(issuer *Issuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				writeAuthError(w, http.StatusUnauthorized, "missing_token", "missing the authorization header")
				return
			}

			raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer"))
			p, err := issuer.ParseSession(raw)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "invalid_token", "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// RequireRole lets the request through only for the listed roles.
func RequireRole(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r.Context())
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "missing_token", "not authenticated")
				return
			}
			for _, role := range roles {
				if p.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeAuthError(w, http.StatusForbidden, "forbidden_role", "role not allowed for this endpoint")
		})
	}
}

func writeAuthError(w http.ResponseWriter, status int, code, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "details": details})
}
