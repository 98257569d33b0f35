package devserver

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

type principalKey struct{}

type principal struct {
	user   User
	claims *Claims
}

func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			unauthorized(w, r, "Not authenticated")
			return
		}
		claims, err := s.tokens.Parse(token)
		if err != nil {
			unauthorized(w, r, "Could not validate credentials")
			return
		}
		user, err := s.users.Get(claims.Subject)
		if err != nil {
			unauthorized(w, r, "Could not validate credentials")
			return
		}
		ctx := context.WithValue(r.Context(), principalKey{}, principal{user: user, claims: claims})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func principalFrom(ctx context.Context) (principal, bool) {
	p, ok := ctx.Value(principalKey{}).(principal)
	return p, ok
}

func unauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, r, http.StatusUnauthorized, detail)
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
