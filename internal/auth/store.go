package auth

import (
	"context"
	"net/http"
)

// Store persists sessions across requests (and page reloads) keyed by the
// opaque session ID from the browser cookie.
//
// The flow coordinator is the store's only writer. Implementations must be
// concurrently safe and must return copies from Load so readers cannot
// observe, or race with, a write in progress.
type Store interface {
	// Load returns the session for id, or ErrNoSession when it does not
	// exist or cannot be decoded.
	Load(ctx context.Context, id string) (*Session, error)

	// Save writes the session, overwriting any previous value for its ID.
	Save(ctx context.Context, s *Session) error

	// Delete removes the session. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error
}

// CurrentSession resolves the request's session cookie against the store.
// It deliberately never returns an error: a missing cookie, an unknown ID or
// a corrupt stored value all read as "no session" so callers can treat the
// result as a plain authentication snapshot. An expired session is returned
// as-is (callers check Valid) and is not deleted here; deletion stays an
// explicit act of sign-out or the flow coordinator.
func CurrentSession(ctx context.Context, r *http.Request, store Store) *Session {
	if store == nil {
		return nil
	}
	id := SessionIDFromRequest(r)
	if id == "" {
		return nil
	}
	s, err := store.Load(ctx, id)
	if err != nil {
		return nil
	}
	return s
}
