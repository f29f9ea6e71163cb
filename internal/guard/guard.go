// Package guard provides the two composable route gates: RequireAuth (the
// caller must hold a usable session) and RequireRole (the caller must hold
// one of a set of roles). Both are ordinary middleware, pure with respect to
// the session snapshot and allow-list, and safe to re-evaluate on every
// request; the only side effect is RequireAuth's one redirect-intent write
// when it denies.
package guard

import (
	"context"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/castellan/console/internal/auth"
	"github.com/castellan/console/internal/intent"
	"github.com/castellan/console/internal/rbac"
)

// Renewer is the slice of the flow coordinator the auth guard needs: a
// non-interactive token refresh. Keeping it an interface lets guard tests
// run without provider discovery.
type Renewer interface {
	RenewSilently(ctx context.Context, s *auth.Session) (*auth.Session, error)
}

// renewTimeout caps how long a guard will wait on a silent renewal. The
// guard owns this bound so a renewal that never resolves can not block
// request handling.
const renewTimeout = 5 * time.Second

type sessionCtxKey struct{}

// SessionFromContext returns the session snapshot RequireAuth attached, or
// nil outside a guarded subtree.
func SessionFromContext(ctx context.Context) *auth.Session {
	s, ok := ctx.Value(sessionCtxKey{}).(*auth.Session)
	if !ok {
		return nil
	}
	return s
}

// Guard builds the route gates.
type Guard struct {
	sessions   auth.Store
	renewer    Renewer
	intents    *intent.Cache
	signInPath string
	logger     hclog.Logger
}

func New(sessions auth.Store, renewer Renewer, intents *intent.Cache, signInPath string, logger hclog.Logger) *Guard {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Guard{
		sessions:   sessions,
		renewer:    renewer,
		intents:    intents,
		signInPath: signInPath,
		logger:     logger,
	}
}

// RequireAuth wraps a subtree that demands a usable session. A valid session
// is attached to the request context and the subtree renders unmodified. An
// expired session with a refresh token gets one bounded silent-renewal
// attempt; a renewal failure is swallowed and treated as "not signed in".
// Denial records the attempted path as a redirect intent and sends the
// browser to the sign-in route.
func (g *Guard) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		s := auth.CurrentSession(ctx, r, g.sessions)

		if !s.Valid() && s != nil && s.RefreshToken != "" && g.renewer != nil {
			renewCtx, cancel := context.WithTimeout(ctx, renewTimeout)
			renewed, err := g.renewer.RenewSilently(renewCtx, s)
			cancel()
			if err != nil {
				g.logger.Debug("silent renewal failed", "error", err)
			} else {
				s = renewed
			}
		}

		if !s.Valid() {
			g.intents.Record(w, r.URL.Path)
			http.Redirect(w, r, g.signInPath, http.StatusFound)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, sessionCtxKey{}, s)))
	})
}

// roleOptions configures a RequireRole gate per use site.
type roleOptions struct {
	fallbackPath  string
	deniedHandler http.Handler
}

// RoleOption configures RequireRole.
type RoleOption func(*roleOptions)

// WithFallbackPath redirects denied callers to path instead of rendering an
// access-denied response in place.
func WithFallbackPath(path string) RoleOption {
	return func(o *roleOptions) { o.fallbackPath = path }
}

// WithDeniedHandler renders denials with h (ignored when a fallback path is
// set).
func WithDeniedHandler(h http.Handler) RoleOption {
	return func(o *roleOptions) { o.deniedHandler = h }
}

// RequireRole wraps a subtree that demands one of the allowed roles. It must
// be composed inside RequireAuth: authentication is assumed to already hold,
// and a request without a session is simply denied. The default denial is a
// plain 403 rendered in place, with no navigation.
func (g *Guard) RequireRole(allowed []string, opt ...RoleOption) func(http.Handler) http.Handler {
	var opts roleOptions
	for _, o := range opt {
		o(&opts)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s := SessionFromContext(r.Context())
			roles := rbac.Roles(s)
			if !rbac.HasAny(roles, allowed) {
				g.logger.Warn("access denied",
					"path", r.URL.Path,
					"roles", roles,
				)
				switch {
				case opts.fallbackPath != "":
					http.Redirect(w, r, opts.fallbackPath, http.StatusFound)
				case opts.deniedHandler != nil:
					opts.deniedHandler.ServeHTTP(w, r)
				default:
					http.Error(w, "access denied", http.StatusForbidden)
				}
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
