package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/AnshRaj112/appshelf-backend/internal/logger"
	"github.com/AnshRaj112/appshelf-backend/internal/models"
	"github.com/AnshRaj112/appshelf-backend/internal/services"
)

// SessionCookie carries the session token for browser clients.
const SessionCookie = "appshelf_session"

type ctxKey int

const (
	principalKey ctxKey = iota
	sessionKey
)

// Session is the authenticated session attached to a request.
type Session struct {
	Token string
	// ID identifies the session without exposing the token. It keys
	// per-session state such as edit mode.
	ID  string
	UID string
}

// Principals resolves a session's uid to the stored user.
type Principals interface {
	Get(ctx context.Context, uid string) (models.Principal, error)
}

// SessionID derives the stable session identifier for a token.
func SessionID(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:16])
}

// Authenticate attaches the session and principal when the request carries
// a valid token. Requests without one pass through anonymously.
func Authenticate(sessions services.SessionStore, users Principals, log logger.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = logger.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := SessionToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()

			uid, ok, err := sessions.Lookup(ctx, token)
			if err != nil {
				log.Warn("session lookup failed", logger.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			p, err := users.Get(ctx, uid)
			if err != nil {
				log.Warn("session user lookup failed", logger.String("uid", uid), logger.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			if err := sessions.Refresh(ctx, token); err != nil {
				log.Debug("session refresh failed", logger.Error(err))
			}

			sess := Session{Token: token, ID: SessionID(token), UID: uid}
			rctx := context.WithValue(r.Context(), sessionKey, sess)
			rctx = context.WithValue(rctx, principalKey, p)
			next.ServeHTTP(w, r.WithContext(rctx))
		})
	}
}

// RequireSession rejects requests without a session.
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := SessionFrom(r.Context()); !ok {
			unauthorized(w, "Sign in required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireMember rejects anonymous sessions.
func RequireMember(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := models.IsMember(PrincipalFrom(r.Context())); !ok {
			unauthorized(w, "Sign in with an account to continue")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"success":false,"message":"` + message + `"}`))
}

// PrincipalFrom returns the signed-in principal, or nil.
func PrincipalFrom(ctx context.Context) models.Principal {
	p, _ := ctx.Value(principalKey).(models.Principal)
	return p
}

// SessionFrom returns the request's session.
func SessionFrom(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey).(Session)
	return s, ok
}

// WithSession attaches a session and its principal to ctx.
func WithSession(ctx context.Context, s Session, p models.Principal) context.Context {
	ctx = context.WithValue(ctx, sessionKey, s)
	return context.WithValue(ctx, principalKey, p)
}

// SessionToken reads the token from the Authorization header, the session
// cookie, or, for WebSocket upgrades only, the token query parameter.
func SessionToken(r *http.Request) string {
	if token := extractBearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return strings.TrimSpace(r.URL.Query().Get("token"))
	}
	return ""
}

func extractBearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
