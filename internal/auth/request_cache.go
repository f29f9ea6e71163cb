package auth

import (
	"fmt"
	"sync"
)

// RequestCache holds pending sign-in attempts between the authorization
// redirect and the callback, keyed by their state parameter. Attempts are
// process-local on purpose: losing them on restart just forces the user back
// through sign-in, and a state minted by one replica is only ever redeemed
// against the same replica's callback URL.
type RequestCache struct {
	mu sync.Mutex
	c  map[string]*Request
}

func NewRequestCache() *RequestCache {
	return &RequestCache{
		c: map[string]*Request{},
	}
}

// Add stores a pending attempt under its state.
func (rc *RequestCache) Add(r *Request) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.c[r.State()] = r
}

// Get returns the pending attempt for state. An expired attempt is evicted
// and reported as not found; the caller cannot distinguish "expired" from
// "never existed", which is the point.
func (rc *RequestCache) Get(state string) (*Request, error) {
	const op = "auth.RequestCache.Get"
	rc.mu.Lock()
	defer rc.mu.Unlock()
	r, ok := rc.c[state]
	if !ok {
		return nil, fmt.Errorf("%s: state %q: %w", op, state, ErrNotFound)
	}
	if r.IsExpired() {
		delete(rc.c, state)
		return nil, fmt.Errorf("%s: state %q: %w", op, state, ErrNotFound)
	}
	return r, nil
}

// Delete removes the attempt once it reaches a terminal phase.
func (rc *RequestCache) Delete(state string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	delete(rc.c, state)
}

// Len reports the number of pending attempts.
func (rc *RequestCache) Len() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.c)
}
