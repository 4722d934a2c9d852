package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/hazyhaar/liseuse/kit"
)

// CookieName is the cookie carrying the reader token.
const CookieName = "liseuse_token"

type claimsKey struct{}

// Middleware extracts a JWT from the Authorization Bearer header or the
// CookieName cookie. Valid claims go into the context along with
// kit.UserIDKey. Missing or invalid tokens leave the request anonymous;
// use RequireAuth to enforce identity.
func Middleware(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var tokenStr string
			if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
				tokenStr = strings.TrimPrefix(h, "Bearer ")
			} else if c, err := r.Cookie(CookieName); err == nil {
				tokenStr = c.Value
			}

			if tokenStr == "" || len(secret) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := ValidateToken(secret, tokenStr)
			if err != nil {
				http.SetCookie(w, &http.Cookie{Name: CookieName, MaxAge: -1, Path: "/"})
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey{}, claims)
			ctx = kit.WithUserID(ctx, claims.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetClaims returns the claims stored by Middleware, or nil.
func GetClaims(ctx context.Context) *ReaderClaims {
	c, _ := ctx.Value(claimsKey{}).(*ReaderClaims)
	return c
}

// RequireAuth answers 401 to requests without valid claims.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetClaims(r.Context()) == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"authentication required"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
