package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/ttskit/ttskit/pkg/types"
)

// principalKey carries the authenticated principal through the request
// context.
type principalKey struct{}

// principalFrom returns the request's principal, nil when unauthenticated.
func principalFrom(ctx context.Context) *types.Principal {
	p, _ := ctx.Value(principalKey{}).(*types.Principal)
	return p
}

// principalID returns the identity string handed to the rate limiter: the
// authenticated user id, or the remote host for anonymous calls.
func principalID(r *http.Request) string {
	if p := principalFrom(r.Context()); p != nil {
		return p.UserID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// authenticate verifies the bearer API key and stores the principal in the
// request context. With auth disabled the request passes through
// unauthenticated.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authEnabled {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		scheme, key, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || key == "" {
			writeKindError(w, r, types.KindUnauthorized, "missing bearer API key")
			return
		}

		p, err := s.identity.VerifyAPIKey(r.Context(), strings.TrimSpace(key))
		if err != nil {
			slog.Debug("api: key rejected", "path", r.URL.Path, "err", err)
			writeKindError(w, r, types.KindUnauthorized, "invalid API key")
			return
		}

		ctx := context.WithValue(r.Context(), principalKey{}, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requirePermission gates a route on one permission. A no-op when auth is
// disabled.
func (s *Server) requirePermission(perm types.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !s.authEnabled {
				next.ServeHTTP(w, r)
				return
			}
			p := principalFrom(r.Context())
			if p == nil {
				writeKindError(w, r, types.KindUnauthorized, "missing bearer API key")
				return
			}
			if !p.Can(perm) {
				writeKindError(w, r, types.KindForbidden,
					"key for %q lacks the %q permission", p.UserID, perm)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requireAdmin gates the admin surface. A no-op when auth is disabled.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return s.requirePermission(types.PermissionAdmin)(next)
}
