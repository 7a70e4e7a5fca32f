package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database/mock"
)

func newTestManager(t *testing.T) (*SessionManager, *mock.MockSessionRepository) {
	t.Helper()
	store := mock.NewMockSessionRepository()
	return NewSessionManager("test-secret", time.Hour, store), store
}

func TestSessionManager_CreateSession(t *testing.T) {
	sm, _ := newTestManager(t)

	session, token, err := sm.CreateSession(context.Background(), "admin")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if session.ID == "" || token == "" {
		t.Fatal("session ID or token is empty")
	}
	if !session.ExpiresAt.After(session.CreatedAt) {
		t.Error("session expires before it was created")
	}

	claims, err := sm.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.ID != session.ID || claims.Username != "admin" {
		t.Errorf("claims = %+v, want session %s for admin", claims, session.ID)
	}
}

func TestSessionManager_GetAndDeleteSession(t *testing.T) {
	sm, _ := newTestManager(t)
	ctx := context.Background()

	session, _, _ := sm.CreateSession(ctx, "admin")

	if got := sm.GetSession(ctx, session.ID); got == nil || got.Username != "admin" {
		t.Fatalf("GetSession() = %+v", got)
	}
	if sm.GetSession(ctx, "nonexistent-id") != nil {
		t.Error("GetSession() should return nil for non-existing session")
	}

	sm.DeleteSession(ctx, session.ID)
	if sm.GetSession(ctx, session.ID) != nil {
		t.Error("GetSession() should return nil after deletion")
	}
}

func TestSessionManager_Expiry(t *testing.T) {
	sm, _ := newTestManager(t)
	start := time.Now()
	sm.now = func() time.Time { return start }

	session, token, err := sm.CreateSession(context.Background(), "admin")
	if err != nil {
		t.Fatal(err)
	}

	sm.now = func() time.Time { return start.Add(2 * time.Hour) }
	if _, err := sm.ValidateToken(token); err == nil {
		t.Error("expected expired token to be rejected")
	}
	if sm.GetSession(context.Background(), session.ID) != nil {
		t.Error("expected expired session to be rejected")
	}
}

func TestSessionManager_SetAndGetSessionCookie(t *testing.T) {
	sm, _ := newTestManager(t)
	_, token, _ := sm.CreateSession(context.Background(), "admin")

	w := httptest.NewRecorder()
	sm.SetSessionCookie(w, httptest.NewRequest("GET", "/", nil), token)

	var sessionCookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == sessionCookieName {
			sessionCookie = c
		}
	}
	if sessionCookie == nil {
		t.Fatal("Session cookie not found")
	}
	if !sessionCookie.HttpOnly {
		t.Error("session cookie must be HttpOnly")
	}

	req := httptest.NewRequest("GET", "/", nil)
	req.AddCookie(sessionCookie)
	if sm.GetSessionFromRequest(req) == nil {
		t.Fatal("GetSessionFromRequest() returned nil for cookie auth")
	}
}

func TestSessionManager_BearerAuth(t *testing.T) {
	sm, _ := newTestManager(t)
	session, token, _ := sm.CreateSession(context.Background(), "admin")

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	retrieved := sm.GetSessionFromRequest(req)
	if retrieved == nil {
		t.Fatal("GetSessionFromRequest() returned nil for Bearer auth")
	}
	if retrieved.ID != session.ID {
		t.Errorf("Session ID = %s, want %s", retrieved.ID, session.ID)
	}
}

func TestSessionManager_RejectsInvalidTokens(t *testing.T) {
	sm, _ := newTestManager(t)
	_, token, _ := sm.CreateSession(context.Background(), "admin")
	other := NewSessionManager("other-secret", time.Hour, mock.NewMockSessionRepository())

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-jwt"},
		{"wrong secret", func() string { _, tok, _ := other.CreateSession(context.Background(), "admin"); return tok }()},
		{"raw session id", "3f1c2a8e-0000-4000-8000-000000000000"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.Header.Set("Authorization", "Bearer "+tc.token)
			if sm.GetSessionFromRequest(req) != nil {
				t.Error("expected nil session")
			}
		})
	}

	// A valid token whose session was revoked is rejected.
	claims, _ := sm.ValidateToken(token)
	sm.DeleteSession(context.Background(), claims.ID)
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	if sm.GetSessionFromRequest(req) != nil {
		t.Error("expected revoked session to be rejected")
	}
}

func TestRequireAuth(t *testing.T) {
	sm, _ := newTestManager(t)
	_, token, _ := sm.CreateSession(context.Background(), "admin")

	handlerCalled := false
	protected := RequireAuth(sm)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		if s := GetSessionFromContext(r.Context()); s == nil || s.Username != "admin" {
			t.Error("Session not found in context")
		}
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("valid session", func(t *testing.T) {
		handlerCalled = false
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/protected", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		protected.ServeHTTP(w, req)

		if !handlerCalled {
			t.Error("Handler was not called with valid session")
		}
		if w.Code != http.StatusOK {
			t.Errorf("Status = %d, want %d", w.Code, http.StatusOK)
		}
	})

	t.Run("no session", func(t *testing.T) {
		handlerCalled = false
		w := httptest.NewRecorder()
		protected.ServeHTTP(w, httptest.NewRequest("GET", "/protected", nil))

		if handlerCalled {
			t.Error("Handler should not be called without session")
		}
		if w.Code != http.StatusUnauthorized {
			t.Errorf("Status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})
}

func TestRunCleanup(t *testing.T) {
	sm, store := newTestManager(t)
	ctx := context.Background()
	past := time.Now().Add(-2 * time.Hour)
	sm.now = func() time.Time { return past }
	if _, _, err := sm.CreateSession(ctx, "admin"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- sm.RunCleanup(ctx, 5*time.Millisecond) }()

	deadline := time.Now().Add(2 * time.Second)
	for store.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("RunCleanup() error = %v", err)
	}
	if store.Len() != 0 {
		t.Errorf("expected expired session removed, %d left", store.Len())
	}
}

func TestCORS(t *testing.T) {
	handler := CORS([]string{"https://dash.example.com"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	tests := []struct {
		name   string
		origin string
		allow  bool
	}{
		{"listed", "https://dash.example.com", true},
		{"localhost", "http://localhost:5173", true},
		{"unknown", "https://evil.example.com", false},
		{"none", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest("GET", "/", nil)
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			handler.ServeHTTP(w, req)
			got := w.Header().Get("Access-Control-Allow-Origin")
			if tc.allow && got != tc.origin {
				t.Errorf("Allow-Origin = %q, want %q", got, tc.origin)
			}
			if !tc.allow && got != "" {
				t.Errorf("Allow-Origin = %q, want empty", got)
			}
		})
	}

	t.Run("preflight", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/", nil))
		if w.Code != http.StatusOK {
			t.Errorf("Status = %d, want 200", w.Code)
		}
	})

	t.Run("wildcard", func(t *testing.T) {
		h := CORS([]string{"*"})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Origin", "https://anything.example.org")
		h.ServeHTTP(w, req)
		if w.Header().Get("Access-Control-Allow-Origin") != "https://anything.example.org" {
			t.Error("wildcard should allow any origin")
		}
	})
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(time.Hour, 2)
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(addr string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/login", nil)
		req.RemoteAddr = addr
		handler.ServeHTTP(w, req)
		return w.Code
	}

	if code := do("10.0.0.1:1000"); code != http.StatusOK {
		t.Errorf("first request = %d", code)
	}
	if code := do("10.0.0.1:1001"); code != http.StatusOK {
		t.Errorf("second request = %d", code)
	}
	if code := do("10.0.0.1:1002"); code != http.StatusTooManyRequests {
		t.Errorf("third request = %d, want 429", code)
	}
	if code := do("10.0.0.2:1000"); code != http.StatusOK {
		t.Errorf("other client = %d, want 200", code)
	}
}
