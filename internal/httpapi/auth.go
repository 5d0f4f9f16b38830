package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/12Perseus21/QueueTrack/internal/store"
)

// SessionStore resolves opaque session tokens. The core treats identity as an
// external collaborator: it receives a pre-validated user ID and role and
// never inspects credentials.
type SessionStore interface {
	GetSession(ctx context.Context, sessionID string) (store.Session, error)
}

type authContextKey struct{}

// AuthMiddleware resolves the caller's session and stashes it in the request
// context. Public endpoints (health, metrics, office listings and boards) pass
// through without a session.
func AuthMiddleware(sessions SessionStore, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicEndpoint(r) {
			next.ServeHTTP(w, r)
			return
		}
		sessionID := sessionIDFromRequest(r)
		if sessionID == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing session")
			return
		}
		session, err := sessions.GetSession(r.Context(), sessionID)
		if err != nil {
			if errors.Is(err, store.ErrSessionNotFound) {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session")
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}
		ctx := context.WithValue(r.Context(), authContextKey{}, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFromContext(ctx context.Context) (store.Session, bool) {
	session, ok := ctx.Value(authContextKey{}).(store.Session)
	return session, ok
}

func requireRole(w http.ResponseWriter, r *http.Request, role string) (store.Session, bool) {
	session, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return store.Session{}, false
	}
	if session.Role != role {
		writeError(w, http.StatusForbidden, "access_denied", "role does not allow this action")
		return store.Session{}, false
	}
	return session, true
}

func sessionIDFromRequest(r *http.Request) string {
	if token := bearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return strings.TrimSpace(r.Header.Get("X-Session-ID"))
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}

func isPublicEndpoint(r *http.Request) bool {
	switch r.URL.Path {
	case "/healthz", "/metrics":
		return true
	case "/api/offices":
		return r.Method == http.MethodGet
	default:
		if r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/api/offices/") {
			return true
		}
		return r.Method == http.MethodOptions
	}
}
