package middleware

import (
	"net/http"
	"strings"

	"github.com/dukerupert/herald/internal/auth"
)

// HeaderUserID is set by the upstream gateway after it authenticated the caller.
const HeaderUserID = "X-User-ID"

// RequireUser populates AuthContext from the gateway header and rejects
// requests without one.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if userID == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"missing ` + HeaderUserID + ` header"}`))
			return
		}
		ctx := auth.WithAuth(r.Context(), auth.AuthContext{UserID: userID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
