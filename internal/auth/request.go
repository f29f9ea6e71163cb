package auth

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-uuid"
	"golang.org/x/oauth2"
)

// Phase enumerates the states of one sign-in attempt. Modeling the redirect
// flow as an explicit machine (rather than ad hoc booleans) is what makes
// re-entrancy — a duplicate callback for the same state parameter — a
// testable no-op instead of a race.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRedirecting
	PhaseAwaitingCallback
	PhaseExchanging
	PhaseAuthenticated
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRedirecting:
		return "redirecting"
	case PhaseAwaitingCallback:
		return "awaiting-callback"
	case PhaseExchanging:
		return "exchanging"
	case PhaseAuthenticated:
		return "authenticated"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// legalTransitions holds the only permitted phase moves. Failed is reachable
// from any non-terminal phase.
var legalTransitions = map[Phase][]Phase{
	PhaseIdle:             {PhaseRedirecting},
	PhaseRedirecting:      {PhaseAwaitingCallback},
	PhaseAwaitingCallback: {PhaseExchanging},
	PhaseExchanging:       {PhaseAuthenticated},
}

// Request represents one OIDC authentication attempt for a user. It carries
// the data that must survive from the authorization redirect to the callback:
// the state (the attempt's unique ID on the wire), the nonce bound into the
// id_token, and the PKCE verifier. State and nonce are never equal; both are
// required by the provider round trip to prevent CSRF and replay.
type Request struct {
	state    string
	nonce    string
	verifier string

	expiration time.Time
	nowFunc    func() time.Time

	mu    sync.Mutex
	phase Phase
}

// DefaultRequestExpirySkew pads Request expiry checks.
const DefaultRequestExpirySkew = 1 * time.Second

// NewRequest creates a Request for a sign-in attempt that must complete
// within expireIn. Supported options: WithNow.
func NewRequest(expireIn time.Duration, opt ...Option) (*Request, error) {
	const op = "auth.NewRequest"
	if expireIn <= 0 {
		return nil, fmt.Errorf("%s: expireIn not greater than zero: %w", op, ErrInvalidParameter)
	}
	opts := getReqOpts(opt...)

	state, err := newID("st")
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate request state: %w", op, err)
	}
	nonce, err := newID("n")
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate request nonce: %w", op, err)
	}

	r := &Request{
		state:    state,
		nonce:    nonce,
		verifier: oauth2.GenerateVerifier(),
		nowFunc:  opts.withNowFunc,
		phase:    PhaseIdle,
	}
	r.expiration = r.now().Add(expireIn)
	return r, nil
}

func (r *Request) State() string    { return r.state }
func (r *Request) Nonce() string    { return r.nonce }
func (r *Request) Verifier() string { return r.verifier }

// IsExpired reports whether the attempt's window has closed.
func (r *Request) IsExpired() bool {
	return r.expiration.Before(r.now().Add(DefaultRequestExpirySkew))
}

// Phase returns the attempt's current phase.
func (r *Request) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// Transition advances the attempt to the given phase, or fails when the move
// is not legal from the current phase. Moving to PhaseExchanging twice
// returns ErrAlreadyExchanged, which is how a duplicate callback becomes a
// no-op.
func (r *Request) Transition(to Phase) error {
	const op = "auth.Request.Transition"
	r.mu.Lock()
	defer r.mu.Unlock()
	if to == PhaseFailed {
		switch r.phase {
		case PhaseAuthenticated, PhaseFailed:
			return fmt.Errorf("%s: %s -> %s: %w", op, r.phase, to, ErrInvalidTransition)
		default:
			r.phase = PhaseFailed
			return nil
		}
	}
	if to == PhaseExchanging {
		switch r.phase {
		case PhaseExchanging, PhaseAuthenticated:
			return fmt.Errorf("%s: %w", op, ErrAlreadyExchanged)
		}
	}
	for _, allowed := range legalTransitions[r.phase] {
		if allowed == to {
			r.phase = to
			return nil
		}
	}
	return fmt.Errorf("%s: %s -> %s: %w", op, r.phase, to, ErrInvalidTransition)
}

func (r *Request) now() time.Time {
	if r.nowFunc != nil {
		return r.nowFunc()
	}
	return time.Now()
}

func newID(prefix string) (string, error) {
	id, err := uuid.GenerateUUID()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrIDGeneratorFailed, err)
	}
	return fmt.Sprintf("%s_%s", prefix, id), nil
}

// Option defines a common functional options type for this package.
type Option func(interface{})

type reqOptions struct {
	withNowFunc func() time.Time
}

// WithNow overrides the time source, which the tests use to force expiry.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if o, ok := o.(*reqOptions); ok {
			o.withNowFunc = now
		}
	}
}

func getReqOpts(opt ...Option) reqOptions {
	var opts reqOptions
	for _, o := range opt {
		o(&opts)
	}
	return opts
}
