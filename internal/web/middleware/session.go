package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/timezone"
)

const (
	sessionCookieName = "attendance_session"
	tokenIssuer       = "face-attendance"

	defaultSessionDuration = 30 * time.Minute
)

var errInvalidToken = errors.New("invalid token")

// Session represents an admin session
type Session struct {
	ID        string    `json:"-"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Claims are the JWT claims of a session token. The registered ID is the session ID.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// SessionManager issues signed session tokens and checks them against the session store
type SessionManager struct {
	secret   []byte
	duration time.Duration
	store    database.SessionStore
	now      func() time.Time
}

// NewSessionManager creates a new session manager
func NewSessionManager(secret string, duration time.Duration, store database.SessionStore) *SessionManager {
	// Use a default secret if none provided (for development)
	if secret == "" {
		secret = "face-attendance-dev-secret-change-in-production"
	}
	if duration <= 0 {
		duration = defaultSessionDuration
	}
	return &SessionManager{
		secret:   []byte(secret),
		duration: duration,
		store:    store,
		now:      timezone.Now,
	}
}

// CreateSession stores a new session for username and returns it with its signed token
func (sm *SessionManager) CreateSession(ctx context.Context, username string) (*Session, string, error) {
	now := sm.now()
	session := &Session{
		ID:        uuid.NewString(),
		Username:  username,
		CreatedAt: now,
		ExpiresAt: now.Add(sm.duration),
	}

	if err := sm.store.Save(ctx, &database.StoredSession{
		ID:        session.ID,
		Username:  session.Username,
		CreatedAt: session.CreatedAt,
		ExpiresAt: session.ExpiresAt,
	}); err != nil {
		return nil, "", fmt.Errorf("saving session: %w", err)
	}

	token, err := sm.sign(session)
	if err != nil {
		return nil, "", err
	}
	return session, token, nil
}

func (sm *SessionManager) sign(session *Session) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Username: session.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        session.ID,
			Subject:   session.Username,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(session.CreatedAt),
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
		},
	})
	signed, err := token.SignedString(sm.secret)
	if err != nil {
		return "", fmt.Errorf("signing session token: %w", err)
	}
	return signed, nil
}

// ValidateToken checks the signature and expiry of a session token
func (sm *SessionManager) ValidateToken(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return sm.secret, nil
	},
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(sm.now),
	)
	if err != nil || !parsed.Valid {
		return nil, errInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || claims.ID == "" {
		return nil, errInvalidToken
	}
	return claims, nil
}

// GetSession loads a session by ID; nil when missing or expired
func (sm *SessionManager) GetSession(ctx context.Context, sessionID string) *Session {
	stored, err := sm.store.Get(ctx, sessionID)
	if err != nil {
		slog.Warn("loading session failed", "error", err)
		return nil
	}
	if stored == nil || !sm.now().Before(stored.ExpiresAt) {
		return nil
	}
	return &Session{
		ID:        stored.ID,
		Username:  stored.Username,
		CreatedAt: stored.CreatedAt,
		ExpiresAt: stored.ExpiresAt,
	}
}

// DeleteSession removes a session
func (sm *SessionManager) DeleteSession(ctx context.Context, sessionID string) {
	if err := sm.store.Delete(ctx, sessionID); err != nil {
		slog.Warn("deleting session failed", "error", err)
	}
}

// SetSessionCookie sets the session cookie on the response
func (sm *SessionManager) SetSessionCookie(w http.ResponseWriter, r *http.Request, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https",
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(sm.duration.Seconds()),
	})
}

// ClearSessionCookie removes the session cookie
func (sm *SessionManager) ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

// tokenFromRequest returns the bearer token, falling back to the session cookie
func tokenFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// GetSessionFromRequest extracts and verifies the session of a request
func (sm *SessionManager) GetSessionFromRequest(r *http.Request) *Session {
	token := tokenFromRequest(r)
	if token == "" {
		return nil
	}
	claims, err := sm.ValidateToken(token)
	if err != nil {
		return nil
	}
	session := sm.GetSession(r.Context(), claims.ID)
	if session == nil || session.Username != claims.Username {
		return nil
	}
	return session
}

// RunCleanup deletes expired sessions every interval until ctx is cancelled
func (sm *SessionManager) RunCleanup(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := sm.store.DeleteExpired(ctx)
			if err != nil {
				slog.Warn("session cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Debug("expired sessions removed", "count", n)
			}
		}
	}
}
