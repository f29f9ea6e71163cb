package intent

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordThen replays the cookies Record wrote onto a fresh request, the way
// a browser would on the next navigation.
func recordThen(c *Cache, path string) *http.Request {
	rr := httptest.NewRecorder()
	c.Record(rr, path)
	req := httptest.NewRequest("GET", "/auth/signin-callback", nil)
	for _, cookie := range rr.Result().Cookies() {
		req.AddCookie(cookie)
	}
	return req
}

func TestCache_RecordConsume(t *testing.T) {
	t.Parallel()
	t.Run("round-trip", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		c := New("/dashboard")
		req := recordThen(c, "/applications")

		rr := httptest.NewRecorder()
		assert.Equal("/applications", c.Consume(rr, req))
	})
	t.Run("no-intent", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		c := New("/dashboard")
		rr := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/auth/signin-callback", nil)
		assert.Empty(c.Consume(rr, req))
	})
	t.Run("last-write-wins", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		c := New("/dashboard")

		rr := httptest.NewRecorder()
		c.Record(rr, "/applications")
		c.Record(rr, "/scopes")
		req := httptest.NewRequest("GET", "/auth/signin-callback", nil)
		// A browser keeps only the later cookie for the same name.
		cookies := rr.Result().Cookies()
		req.AddCookie(cookies[len(cookies)-1])

		assert.Equal("/scopes", c.Consume(httptest.NewRecorder(), req))
	})
	t.Run("consume-clears-even-when-stale", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		c := New("/dashboard")
		req := recordThen(c, "/applications")

		c.nowFunc = func() time.Time { return time.Now().Add(TTL + time.Minute) }
		rr := httptest.NewRecorder()
		assert.Empty(c.Consume(rr, req))

		var cleared *http.Cookie
		for _, cookie := range rr.Result().Cookies() {
			if cookie.Name == CookieName {
				cleared = cookie
			}
		}
		require.NotNil(cleared)
		assert.Empty(cleared.Value)
		assert.Less(cleared.MaxAge, 0)
	})
	t.Run("expired-intent-reads-as-absent", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		past := func() time.Time { return time.Now().Add(-TTL - time.Minute) }
		c := New("/dashboard", WithNow(past))
		req := recordThen(c, "/applications")

		c.nowFunc = nil
		assert.Empty(c.Consume(httptest.NewRecorder(), req))
	})
	t.Run("corrupt-cookie", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		c := New("/dashboard")
		req := httptest.NewRequest("GET", "/auth/signin-callback", nil)
		req.AddCookie(&http.Cookie{Name: CookieName, Value: "%%%not-base64"})
		assert.Empty(c.Consume(httptest.NewRecorder(), req))
	})
}

func TestCache_DefaultSubstitution(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		path string
		want string
	}{
		{"empty", "", "/dashboard"},
		{"root", "/", "/dashboard"},
		{"auth-route", "/auth/signin", "/dashboard"},
		{"absolute-url", "https://evil.example.com/", "/dashboard"},
		{"protocol-relative", "//evil.example.com/", "/dashboard"},
		{"usable", "/tenants", "/tenants"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert := assert.New(t)
			c := New("/dashboard")
			req := recordThen(c, tt.path)
			assert.Equal(tt.want, c.Consume(httptest.NewRecorder(), req))
		})
	}
}

func TestCache_SecureCookie(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	c := New("/dashboard", WithSecure(true))

	rr := httptest.NewRecorder()
	c.Record(rr, "/applications")
	cookies := rr.Result().Cookies()
	require.Len(cookies, 1)
	assert.True(cookies[0].Secure)
	assert.True(cookies[0].HttpOnly)
	assert.Equal(int(TTL/time.Second), cookies[0].MaxAge)
}
