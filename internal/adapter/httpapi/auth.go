package httpapi

import (
	"context"
	"net/http"
	"strings"

	"askverse/internal/domain"
	"askverse/internal/usecase/auth"
)

type principalKey struct{}

// principalFrom returns the authenticated caller, or nil for anonymous
// requests.
func principalFrom(ctx context.Context) *auth.Principal {
	p, _ := ctx.Value(principalKey{}).(*auth.Principal)
	return p
}

// credentials extracts a "client_id:secret" token from the Authorization
// bearer header, the X-API-Key header or, for WebSocket upgrades, the token
// query parameter.
func credentials(r *http.Request) (string, bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token), true
		}
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key, true
	}
	if r.Header.Get("Upgrade") != "" {
		if token := r.URL.Query().Get("token"); token != "" {
			return token, true
		}
	}
	return "", false
}

// authenticate resolves the caller. Supplied credentials must be valid even
// when auth is optional; missing credentials fail only when it is required.
func (s *Server) authenticate(r *http.Request) (*auth.Principal, error) {
	token, ok := credentials(r)
	if !ok {
		if s.cfg.RequireAuth {
			return nil, domain.NewDomainError("httpapi.authenticate", domain.ErrAuthInvalid, "missing credentials")
		}
		return nil, nil
	}
	if s.deps.Auth == nil {
		return nil, domain.NewDomainError("httpapi.authenticate", domain.ErrAuthInvalid, "authentication unavailable")
	}
	clientID, secret, ok := auth.ParseToken(token)
	if !ok {
		return nil, domain.NewDomainError("httpapi.authenticate", domain.ErrAuthInvalid, "malformed credentials")
	}
	return s.deps.Auth.Authenticate(r.Context(), clientID, secret)
}

// requireAuth authenticates the request before calling next.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := s.authenticate(r)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if p != nil {
			r = r.WithContext(context.WithValue(r.Context(), principalKey{}, p))
		}
		next(w, r)
	}
}
