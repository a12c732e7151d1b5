package api

import (
	"context"
	"net/http"
	"strings"
)

// Identity headers are set by the gateway after it has verified the caller's
// bearer token.
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserEmail = "X-User-Email"
)

type identity struct {
	UserID string
	Email  string
}

type identityKey struct{}

func (s *Server) requireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if id == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthenticated"})
			return
		}
		who := identity{UserID: id, Email: strings.TrimSpace(r.Header.Get(HeaderUserEmail))}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, who)))
	})
}

func identityFrom(ctx context.Context) identity {
	who, _ := ctx.Value(identityKey{}).(identity)
	return who
}
