package auth

import (
	"encoding/json"
	"time"
)

// expirySkew pads session expiry checks so a token that is about to expire is
// already treated as expired by the time an upstream call could use it.
const expirySkew = 10 * time.Second

// Claims holds the identity claims the console cares about, decoded from a
// verified id_token. Role information arrives from providers in two shapes
// (a "role" string or a "roles" array), so both fields are kept raw here and
// normalized exactly once by the rbac package.
type Claims struct {
	Subject string          `json:"sub"`
	Name    string          `json:"name"`
	Email   string          `json:"email"`
	Role    json.RawMessage `json:"role,omitempty"`
	Roles   json.RawMessage `json:"roles,omitempty"`
}

// Session represents one signed-in end user of the console. It is created by
// the flow coordinator after a successful callback exchange (or rewritten by
// a silent renewal) and destroyed on sign-out. Nothing else mutates it:
// guards, rbac checks and the API gateway only ever see read-only snapshots.
type Session struct {
	// ID is the opaque value stored in the browser's session cookie. It
	// carries no meaning beyond being the store lookup key.
	ID string `json:"id"`

	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token"`

	// Expiry is the access token's expiry as reported by the token
	// endpoint.
	Expiry time.Time `json:"expiry"`

	Claims Claims `json:"claims"`

	CreatedAt time.Time `json:"created_at"`
}

// IsExpired reports whether the session's access token has expired. A zero
// expiry means the provider did not report one and the token is treated as
// non-expiring locally; the upstream API remains the authority either way.
func (s *Session) IsExpired() bool {
	if s.Expiry.IsZero() {
		return false
	}
	return s.Expiry.Round(0).Before(time.Now().Add(expirySkew))
}

// Valid reports whether the session is usable right now: it exists, carries
// an access token, and has not expired.
func (s *Session) Valid() bool {
	if s == nil {
		return false
	}
	if s.AccessToken == "" {
		return false
	}
	return !s.IsExpired()
}

// Clone returns a deep copy, so store readers can never reach the writer's
// instance.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Claims.Role = append(json.RawMessage(nil), s.Claims.Role...)
	cp.Claims.Roles = append(json.RawMessage(nil), s.Claims.Roles...)
	return &cp
}
