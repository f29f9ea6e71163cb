package auth

import (
	"net/http"
	"time"
)

// SessionCookieName is the browser cookie that carries the opaque session ID.
// The cookie never holds tokens or claims; those stay server-side in the
// Store.
const SessionCookieName = "castellan_session"

// SetSessionCookie attaches the session ID to the response. SameSite=Lax is
// required for the cookie to ride along on the provider's redirect back to
// the callback route.
func SetSessionCookie(w http.ResponseWriter, id string, secure bool, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(ttl / time.Second),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie expires the session cookie immediately.
func ClearSessionCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// SessionIDFromRequest returns the session ID carried by the request, or ""
// when no cookie is present.
func SessionIDFromRequest(r *http.Request) string {
	c, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}
