// Package intent remembers which page a user was trying to reach when a
// guard forced them through authentication, so they land there after the
// provider redirects back. The intent rides in a short-lived cookie: it has
// to survive a full navigation away to the identity provider and back, which
// rules out anything held only in process memory keyed by nothing.
package intent

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// CookieName holds the serialized {path, recorded_at} intent.
const CookieName = "castellan_return_to"

// TTL bounds how old an intent may be and still be honored. Anything older
// reads as absent even if the cookie is still physically present.
const TTL = 5 * time.Minute

// Intent is the recorded destination.
type Intent struct {
	Path       string    `json:"path"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Cache records and consumes redirect intents. DefaultPath is the
// authenticated landing page used in place of empty or public paths, so a
// fresh login is never bounced back to the unauthenticated landing page.
type Cache struct {
	defaultPath string
	secure      bool
	nowFunc     func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithSecure marks the intent cookie Secure.
func WithSecure(secure bool) Option {
	return func(c *Cache) { c.secure = secure }
}

// WithNow overrides the time source; tests use it to age an intent past TTL.
func WithNow(now func() time.Time) Option {
	return func(c *Cache) { c.nowFunc = now }
}

func New(defaultPath string, opt ...Option) *Cache {
	c := &Cache{
		defaultPath: defaultPath,
	}
	for _, o := range opt {
		o(c)
	}
	return c
}

// Record stores path as the post-login destination, overwriting any existing
// intent (last write wins). Empty paths, the app root, and the sign-in
// routes themselves are replaced by the default landing path.
func (c *Cache) Record(w http.ResponseWriter, path string) {
	if !usablePath(path) {
		path = c.defaultPath
	}
	raw, err := json.Marshal(Intent{Path: path, RecordedAt: c.now()})
	if err != nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    base64.RawURLEncoding.EncodeToString(raw),
		Path:     "/",
		MaxAge:   int(TTL / time.Second),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Consume returns the recorded path and clears the cookie. The clear happens
// unconditionally, so a stale or corrupt intent is never read twice. It
// returns "" when no usable intent exists; callers fall back to the default
// landing path.
func (c *Cache) Consume(w http.ResponseWriter, r *http.Request) string {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return ""
	}
	c.clear(w)

	raw, err := base64.RawURLEncoding.DecodeString(cookie.Value)
	if err != nil {
		return ""
	}
	var in Intent
	if err := json.Unmarshal(raw, &in); err != nil {
		return ""
	}
	if c.now().Sub(in.RecordedAt) > TTL {
		return ""
	}
	if !usablePath(in.Path) {
		return ""
	}
	return in.Path
}

func (c *Cache) clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (c *Cache) now() time.Time {
	if c.nowFunc != nil {
		return c.nowFunc()
	}
	return time.Now()
}

// usablePath accepts only app-relative destinations. Absolute URLs and
// protocol-relative forms ("//evil.example") would turn the post-login
// redirect into an open redirect.
func usablePath(p string) bool {
	if p == "" || p == "/" {
		return false
	}
	if !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") {
		return false
	}
	if strings.HasPrefix(p, "/auth/") {
		return false
	}
	return true
}
