package guard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castellan/console/internal/auth"
	"github.com/castellan/console/internal/intent"
)

// fakeRenewer scripts RenewSilently for guard tests.
type fakeRenewer struct {
	session *auth.Session
	err     error
	block   bool

	called bool
}

func (f *fakeRenewer) RenewSilently(ctx context.Context, _ *auth.Session) (*auth.Session, error) {
	f.called = true
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

func okHandler(t *testing.T, sawSession **auth.Session) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sawSession != nil {
			*sawSession = SessionFromContext(r.Context())
		}
		w.WriteHeader(http.StatusOK)
	})
}

func validSession(id string) *auth.Session {
	return &auth.Session{
		ID:          id,
		AccessToken: "at",
		Expiry:      time.Now().Add(time.Hour),
	}
}

func TestGuard_RequireAuth(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("valid-session-passes-and-is-attached", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		store := auth.NewMemoryStore()
		require.NoError(store.Save(ctx, validSession("s_1")))
		g := New(store, nil, intent.New("/dashboard"), "/auth/signin", nil)

		var saw *auth.Session
		rr := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/applications", nil)
		req.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: "s_1"})
		g.RequireAuth(okHandler(t, &saw)).ServeHTTP(rr, req)

		assert.Equal(http.StatusOK, rr.Code)
		require.NotNil(saw)
		assert.Equal("s_1", saw.ID)
	})
	t.Run("no-session-redirects-with-intent", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		g := New(auth.NewMemoryStore(), nil, intent.New("/dashboard"), "/auth/signin", nil)

		rr := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/applications", nil)
		g.RequireAuth(okHandler(t, nil)).ServeHTTP(rr, req)

		assert.Equal(http.StatusFound, rr.Code)
		assert.Equal("/auth/signin", rr.Header().Get("Location"))

		var intentCookie *http.Cookie
		for _, c := range rr.Result().Cookies() {
			if c.Name == intent.CookieName {
				intentCookie = c
			}
		}
		require.NotNil(intentCookie)
		assert.NotEmpty(intentCookie.Value)
	})
	t.Run("expired-session-renews-silently", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		store := auth.NewMemoryStore()
		expired := &auth.Session{
			ID:           "s_1",
			AccessToken:  "stale",
			RefreshToken: "rt_1",
			Expiry:       time.Now().Add(-time.Minute),
		}
		require.NoError(store.Save(ctx, expired))

		renewed := validSession("s_1")
		renewed.Claims.Roles = json.RawMessage(`["Admin"]`)
		renewer := &fakeRenewer{session: renewed}
		g := New(store, renewer, intent.New("/dashboard"), "/auth/signin", nil)

		var saw *auth.Session
		rr := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/applications", nil)
		req.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: "s_1"})
		g.RequireAuth(okHandler(t, &saw)).ServeHTTP(rr, req)

		assert.True(renewer.called)
		assert.Equal(http.StatusOK, rr.Code)
		require.NotNil(saw)
		assert.NotEqual("stale", saw.AccessToken)
	})
	t.Run("renewal-failure-is-swallowed-and-denies", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		store := auth.NewMemoryStore()
		expired := &auth.Session{
			ID:           "s_1",
			AccessToken:  "stale",
			RefreshToken: "rt_1",
			Expiry:       time.Now().Add(-time.Minute),
		}
		require.NoError(store.Save(ctx, expired))

		renewer := &fakeRenewer{err: errors.New("provider unavailable")}
		g := New(store, renewer, intent.New("/dashboard"), "/auth/signin", nil)

		rr := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/applications", nil)
		req.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: "s_1"})
		g.RequireAuth(okHandler(t, nil)).ServeHTTP(rr, req)

		assert.True(renewer.called)
		assert.Equal(http.StatusFound, rr.Code)
		assert.Equal("/auth/signin", rr.Header().Get("Location"))
	})
	t.Run("no-refresh-token-skips-renewal", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		store := auth.NewMemoryStore()
		expired := &auth.Session{
			ID:          "s_1",
			AccessToken: "stale",
			Expiry:      time.Now().Add(-time.Minute),
		}
		require.NoError(store.Save(ctx, expired))

		renewer := &fakeRenewer{session: validSession("s_1")}
		g := New(store, renewer, intent.New("/dashboard"), "/auth/signin", nil)

		rr := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/applications", nil)
		req.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: "s_1"})
		g.RequireAuth(okHandler(t, nil)).ServeHTTP(rr, req)

		assert.False(renewer.called)
		assert.Equal(http.StatusFound, rr.Code)
	})
	t.Run("renewal-is-bounded", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		store := auth.NewMemoryStore()
		expired := &auth.Session{
			ID:           "s_1",
			AccessToken:  "stale",
			RefreshToken: "rt_1",
			Expiry:       time.Now().Add(-time.Minute),
		}
		require.NoError(store.Save(ctx, expired))

		// A renewer that only resolves on context cancellation: the
		// guard's own timeout must unblock the request.
		renewer := &fakeRenewer{block: true}
		g := New(store, renewer, intent.New("/dashboard"), "/auth/signin", nil)

		reqCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		rr := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/applications", nil).WithContext(reqCtx)
		req.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: "s_1"})
		g.RequireAuth(okHandler(t, nil)).ServeHTTP(rr, req)

		assert.Equal(http.StatusFound, rr.Code)
	})
}

func TestGuard_RequireRole(t *testing.T) {
	t.Parallel()

	withSession := func(req *http.Request, roles string) *http.Request {
		s := validSession("s_1")
		if roles != "" {
			s.Claims.Roles = json.RawMessage(roles)
		}
		return req.WithContext(context.WithValue(req.Context(), sessionCtxKey{}, s))
	}

	t.Run("allowed", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		g := New(auth.NewMemoryStore(), nil, intent.New("/dashboard"), "/auth/signin", nil)

		rr := httptest.NewRecorder()
		req := withSession(httptest.NewRequest("GET", "/users", nil), `["MasterAdmin"]`)
		g.RequireRole([]string{"Admin", "MasterAdmin"})(okHandler(t, nil)).ServeHTTP(rr, req)
		assert.Equal(http.StatusOK, rr.Code)
	})
	t.Run("denied-in-place-by-default", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		g := New(auth.NewMemoryStore(), nil, intent.New("/dashboard"), "/auth/signin", nil)

		rr := httptest.NewRecorder()
		req := withSession(httptest.NewRequest("GET", "/users", nil), `["Viewer"]`)
		g.RequireRole([]string{"Admin"})(okHandler(t, nil)).ServeHTTP(rr, req)
		// Denial renders in place; the URL (and a refresh) stay put.
		assert.Equal(http.StatusForbidden, rr.Code)
		assert.Empty(rr.Header().Get("Location"))
	})
	t.Run("denied-with-fallback-path", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		g := New(auth.NewMemoryStore(), nil, intent.New("/dashboard"), "/auth/signin", nil)

		rr := httptest.NewRecorder()
		req := withSession(httptest.NewRequest("GET", "/users", nil), `["Viewer"]`)
		g.RequireRole([]string{"Admin"}, WithFallbackPath("/dashboard"))(okHandler(t, nil)).ServeHTTP(rr, req)
		assert.Equal(http.StatusFound, rr.Code)
		assert.Equal("/dashboard", rr.Header().Get("Location"))
	})
	t.Run("denied-with-custom-handler", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		g := New(auth.NewMemoryStore(), nil, intent.New("/dashboard"), "/auth/signin", nil)

		denied := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte("custom denial"))
		})
		rr := httptest.NewRecorder()
		req := withSession(httptest.NewRequest("GET", "/users", nil), `["Viewer"]`)
		g.RequireRole([]string{"Admin"}, WithDeniedHandler(denied))(okHandler(t, nil)).ServeHTTP(rr, req)
		assert.Equal(http.StatusForbidden, rr.Code)
		assert.Equal("custom denial", rr.Body.String())
	})
	t.Run("no-session-is-denied", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		g := New(auth.NewMemoryStore(), nil, intent.New("/dashboard"), "/auth/signin", nil)

		rr := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/users", nil)
		g.RequireRole([]string{"Admin"})(okHandler(t, nil)).ServeHTTP(rr, req)
		assert.Equal(http.StatusForbidden, rr.Code)
	})
}

func TestSessionFromContext(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	assert.Nil(SessionFromContext(context.Background()))
}
