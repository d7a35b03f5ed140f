package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cymasphere/cymasphere-website-sub009/internal/config"
	"github.com/cymasphere/cymasphere-website-sub009/internal/pkg/httputil"
	"github.com/cymasphere/cymasphere-website-sub009/internal/pkg/logger"
)

// ErrNoSession is returned when a request carries no session token.
var ErrNoSession = errors.New("no session token")

// AdminChecker reports whether a user holds the admin role.
type AdminChecker interface {
	IsAdmin(ctx context.Context, userID string) (bool, error)
}

// Session represents an authenticated user session
type Session struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionClaims is the token payload issued by the account subsystem.
type SessionClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

type ctxKey struct{}

// AuthManager verifies session tokens and gates admin-only routes.
type AuthManager struct {
	secret     []byte
	cookieName string
	admins     AdminChecker
}

// NewAuthManager creates a new authentication manager
func NewAuthManager(cfg config.AuthConfig, admins AdminChecker) *AuthManager {
	return &AuthManager{
		secret:     []byte(cfg.SessionSecret),
		cookieName: cfg.CookieName,
		admins:     admins,
	}
}

// tokenFromRequest prefers the Authorization header over the session cookie.
func (am *AuthManager) tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if am.cookieName != "" {
		if cookie, err := r.Cookie(am.cookieName); err == nil {
			return cookie.Value
		}
	}
	return ""
}

// GetSession verifies the request's session token and returns its session.
func (am *AuthManager) GetSession(r *http.Request) (*Session, error) {
	raw := am.tokenFromRequest(r)
	if raw == "" {
		return nil, ErrNoSession
	}

	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return am.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("parse session token: %w", err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, errors.New("session token has no subject")
	}

	return &Session{
		UserID:    claims.Subject,
		Email:     claims.Email,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// RequireAdmin is middleware that admits only sessions whose user is an admin.
// Missing or invalid tokens get 401; non-admins get 403.
func (am *AuthManager) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, err := am.GetSession(r)
		if err != nil {
			logger.Debug("session rejected", "path", r.URL.Path, "error", err)
			httputil.Unauthorized(w)
			return
		}

		isAdmin, err := am.admins.IsAdmin(r.Context(), session.UserID)
		if err != nil {
			httputil.InternalError(w, fmt.Errorf("admin check: %w", err))
			return
		}
		if !isAdmin {
			logger.Info("non-admin request denied", "user_id", session.UserID, "path", r.URL.Path)
			httputil.Forbidden(w)
			return
		}

		ctx := context.WithValue(r.Context(), ctxKey{}, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SessionFromContext returns the session stored by RequireAdmin.
func SessionFromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(*Session)
	return s, ok
}
