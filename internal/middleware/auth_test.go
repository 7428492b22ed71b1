package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAuthMiddleware_WithValidCookie(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	w := httptest.NewRecorder()
	require.NoError(t, m.SetSessionCookie(w, "user-42", "player@example.com", "Player", true))
	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		c, ok := ClaimsFromContext(r.Context())
		require.True(t, ok)
		assert.Equal(t, "user-42", c.UserID())
		assert.Equal(t, "player@example.com", c.Email)
		assert.Equal(t, "Player", c.DisplayName)
		assert.True(t, c.TestMode)
	})

	r := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
	r.AddCookie(cookies[0])
	m.Middleware(next).ServeHTTP(httptest.NewRecorder(), r)

	assert.True(t, nextCalled)
}

func TestAuthMiddleware_BearerToken(t *testing.T) {
	m := NewAuthMiddleware("test-secret")
	token, err := m.Issue("user-7", "p@example.com", "", false)
	require.NoError(t, err)

	var got string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, _ := ClaimsFromContext(r.Context())
		got = c.UserID()
	})

	r := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	m.Middleware(next).ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-7", got)
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	forged, err := NewAuthMiddleware("other-secret").Issue("user-1", "a@example.com", "", false)
	require.NoError(t, err)

	expired := NewAuthMiddleware("test-secret")
	expired.now = func() time.Time { return time.Now().Add(-2 * sessionTTL) }
	stale, err := expired.Issue("user-1", "a@example.com", "", false)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "no token"},
		{name: "garbage", token: "not-a-jwt"},
		{name: "wrong secret", token: forged},
		{name: "expired", token: stale},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("next handler should not be called")
			})

			r := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
			if tt.token != "" {
				r.AddCookie(&http.Cookie{Name: sessionCookieName, Value: tt.token})
			}
			w := httptest.NewRecorder()
			m.Middleware(next).ServeHTTP(w, r)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestClearSessionCookie(t *testing.T) {
	w := httptest.NewRecorder()
	ClearSessionCookie(w)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, sessionCookieName, cookies[0].Name)
	assert.Negative(t, cookies[0].MaxAge)
}

func TestLogger_PassesStatusThrough(t *testing.T) {
	h := Logger(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusTeapot, w.Code)
}
