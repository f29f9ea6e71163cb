// Package auth implements the console's end-user authentication lifecycle:
// the OIDC authorization-code sign-in flow (with PKCE), the server-side
// session store behind the browser's session cookie, silent token renewal,
// and sign-out. It is the session's single writer; everything else in the
// console reads snapshots.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-hclog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/castellan/console/internal/intent"
	"github.com/castellan/console/internal/metrics"
)

// ClientSecret is the relying party secret. Its string and JSON forms are
// redacted so the secret can never leak through logging.
type ClientSecret string

// RedactedClientSecret is the redacted string or json for a client secret.
const RedactedClientSecret = "[REDACTED: client secret]"

func (t ClientSecret) String() string {
	return RedactedClientSecret
}

func (t ClientSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedClientSecret)
}

// DefaultAttemptTTL bounds one sign-in attempt from redirect to callback.
const DefaultAttemptTTL = 2 * time.Minute

// FlowConfig configures the Flow coordinator.
type FlowConfig struct {
	// Issuer is the provider's case-sensitive https URL, used for
	// discovery of the authorization, token and end-session endpoints.
	Issuer string

	ClientID     string
	ClientSecret ClientSecret

	// RedirectURL is the console's absolute callback URL registered with
	// the provider.
	RedirectURL string

	// PostLogoutRedirectURL is where the provider sends the browser after
	// the end-session redirect.
	PostLogoutRedirectURL string

	// Scopes are requested in addition to the mandatory "openid".
	Scopes []string

	// Audiences optionally restricts the id_token "aud" claim beyond the
	// client ID check.
	Audiences []string

	// SupportedSigningAlgs restricts id_token signature algorithms.
	// Defaults to RS256 and ES256.
	SupportedSigningAlgs []string

	// ProviderCA optionally pins the CA for provider TLS.
	ProviderCA string

	// AttemptTTL bounds a sign-in attempt. Defaults to DefaultAttemptTTL.
	AttemptTTL time.Duration

	// SessionTTL is the lifetime of the session cookie and any
	// server-side session persistence.
	SessionTTL time.Duration

	// DefaultLandingPath is where a fresh login goes when no redirect
	// intent was recorded.
	DefaultLandingPath string

	// CookieSecure marks the session cookie Secure.
	CookieSecure bool
}

func (c *FlowConfig) validate() error {
	const op = "auth.FlowConfig.validate"
	if c == nil {
		return fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	if c.Issuer == "" {
		return fmt.Errorf("%s: issuer is empty: %w", op, ErrInvalidParameter)
	}
	if c.ClientID == "" {
		return fmt.Errorf("%s: client id is empty: %w", op, ErrInvalidParameter)
	}
	if c.RedirectURL == "" {
		return fmt.Errorf("%s: redirect URL is empty: %w", op, ErrInvalidParameter)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("%s: session ttl not greater than zero: %w", op, ErrInvalidParameter)
	}
	if c.DefaultLandingPath == "" {
		return fmt.Errorf("%s: default landing path is empty: %w", op, ErrInvalidParameter)
	}
	return nil
}

// Flow drives the redirect-based OIDC login sequence against one provider.
// It owns all writes to the session Store.
type Flow struct {
	cfg      FlowConfig
	provider *oidc.Provider
	client   *http.Client

	// endSessionEndpoint comes from provider discovery metadata; empty
	// when the provider does not advertise RP-initiated logout.
	endSessionEndpoint string

	store    Store
	intents  *intent.Cache
	requests *RequestCache

	logger  hclog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// discoveryClaims picks the extra fields the console needs out of provider
// metadata beyond what go-oidc exposes directly.
type discoveryClaims struct {
	EndSessionEndpoint string `json:"end_session_endpoint"`
}

// NewFlow discovers the provider (an http round trip to the issuer) and
// returns a ready coordinator.
func NewFlow(ctx context.Context, cfg FlowConfig, store Store, intents *intent.Cache, logger hclog.Logger, m *metrics.Metrics) (*Flow, error) {
	const op = "auth.NewFlow"
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if store == nil {
		return nil, fmt.Errorf("%s: session store is nil: %w", op, ErrNilParameter)
	}
	if intents == nil {
		return nil, fmt.Errorf("%s: intent cache is nil: %w", op, ErrNilParameter)
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if cfg.AttemptTTL <= 0 {
		cfg.AttemptTTL = DefaultAttemptTTL
	}
	if len(cfg.SupportedSigningAlgs) == 0 {
		cfg.SupportedSigningAlgs = []string{oidc.RS256, oidc.ES256}
	}

	client, err := newHTTPClient(cfg.ProviderCA)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}

	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, client), cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to discover provider: %w", op, err)
	}

	var disco discoveryClaims
	if err := provider.Claims(&disco); err != nil {
		return nil, fmt.Errorf("%s: unable to decode provider metadata: %w", op, err)
	}

	return &Flow{
		cfg:                cfg,
		provider:           provider,
		client:             client,
		endSessionEndpoint: disco.EndSessionEndpoint,
		store:              store,
		intents:            intents,
		requests:           NewRequestCache(),
		logger:             logger,
		metrics:            m,
		tracer:             otel.Tracer("github.com/castellan/console/internal/auth"),
	}, nil
}

// Store exposes the flow's session store for read-side collaborators.
func (f *Flow) Store() Store { return f.store }

// oauthConfig assembles the oauth2 client configuration. The "openid" scope
// is always requested; it is what makes the code exchange yield an id_token.
func (f *Flow) oauthConfig() *oauth2.Config {
	scopes := append([]string{oidc.ScopeOpenID}, f.cfg.Scopes...)
	return &oauth2.Config{
		ClientID:     f.cfg.ClientID,
		ClientSecret: string(f.cfg.ClientSecret),
		RedirectURL:  f.cfg.RedirectURL,
		Endpoint:     f.provider.Endpoint(),
		Scopes:       scopes,
	}
}

// oidcContext carries the flow's http client for both the go-oidc and
// oauth2 packages (they share a context key).
func (f *Flow) oidcContext(ctx context.Context) context.Context {
	return oidc.ClientContext(ctx, f.client)
}

// SignInHandler serves /auth/signin. Signing in while already authenticated
// is an idempotent no-op that lands on the default page. Otherwise a new
// attempt Request is minted and the browser is redirected to the provider's
// authorization endpoint; the redirect is a full navigation, so from the
// process's point of view the attempt now waits for the callback.
//
// An optional "return_to" form value records a redirect intent for callers
// that reach sign-in directly (the guards record intents themselves before
// redirecting here).
func (f *Flow) SignInHandler() http.HandlerFunc {
	const op = "auth.Flow.SignInHandler"
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if s := CurrentSession(ctx, r, f.store); s.Valid() {
			http.Redirect(w, r, f.cfg.DefaultLandingPath, http.StatusFound)
			return
		}

		if returnTo := r.FormValue("return_to"); returnTo != "" {
			f.intents.Record(w, returnTo)
		}

		req, err := NewRequest(f.cfg.AttemptTTL)
		if err != nil {
			f.logger.Error("unable to create sign-in request", "op", op, "error", err)
			http.Error(w, "sign-in is unavailable", http.StatusInternalServerError)
			return
		}
		if err := req.Transition(PhaseRedirecting); err != nil {
			f.logger.Error("unable to start sign-in attempt", "op", op, "error", err)
			http.Error(w, "sign-in is unavailable", http.StatusInternalServerError)
			return
		}
		f.requests.Add(req)

		authURL := f.oauthConfig().AuthCodeURL(
			req.State(),
			oidc.Nonce(req.Nonce()),
			oauth2.S256ChallengeOption(req.Verifier()),
		)

		// The attempt is awaiting the callback the moment the redirect
		// is written; the navigation itself is the handoff.
		if err := req.Transition(PhaseAwaitingCallback); err != nil {
			f.logger.Error("unable to advance sign-in attempt", "op", op, "error", err)
			http.Error(w, "sign-in is unavailable", http.StatusInternalServerError)
			return
		}

		f.incSignInStarted()
		f.logger.Debug("redirecting to authorization endpoint", "state", req.State())
		http.Redirect(w, r, authURL, http.StatusFound)
	}
}

// AuthenErrorResponse represents an OAuth2/OIDC authentication error
// response delivered on the callback. See
// https://openid.net/specs/openid-connect-core-1_0.html#AuthError
type AuthenErrorResponse struct {
	Error       string
	Description string
	URI         string
}

// SuccessResponseFunc renders the response for a callback that produced a
// session. It runs after the session has been persisted and the cookie set,
// so implementations may rely on claims and roles being available.
type SuccessResponseFunc func(w http.ResponseWriter, r *http.Request, s *Session)

// ErrorResponseFunc renders the response for a failed callback. respErr
// carries the provider's error response when the provider reported one; e
// carries the local processing error otherwise.
type ErrorResponseFunc func(w http.ResponseWriter, r *http.Request, respErr *AuthenErrorResponse, e error)

// CallbackHandler serves /auth/signin-callback. It consumes the pending
// attempt matching the response's state parameter, exchanges the code for
// tokens, verifies the id_token against the attempt's nonce, persists the
// session, and only then consumes any redirect intent via sFn. Failures are
// terminal for the attempt: eFn renders them and nothing retries.
func (f *Flow) CallbackHandler(sFn SuccessResponseFunc, eFn ErrorResponseFunc) http.HandlerFunc {
	const op = "auth.Flow.CallbackHandler"
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		reqState := r.FormValue("state")

		// FormValue reads body or query parameters, body first, which
		// covers both response modes providers use.
		if errCode := r.FormValue("error"); errCode != "" {
			f.failAttempt(reqState)
			f.incCallbackFailure()
			eFn(w, r, &AuthenErrorResponse{
				Error:       errCode,
				Description: r.FormValue("error_description"),
				URI:         r.FormValue("error_uri"),
			}, nil)
			return
		}

		req, err := f.requests.Get(reqState)
		if err != nil {
			f.incCallbackFailure()
			eFn(w, r, nil, fmt.Errorf("%s: unknown or expired sign-in attempt: %w", op, err))
			return
		}
		if err := req.Transition(PhaseExchanging); err != nil {
			// A duplicate callback for an attempt that is already
			// exchanging (or done) must be a no-op.
			f.logger.Debug("duplicate callback ignored", "state", reqState, "phase", req.Phase().String())
			http.Redirect(w, r, f.cfg.DefaultLandingPath, http.StatusSeeOther)
			return
		}

		session, err := f.exchange(ctx, req, r.FormValue("code"))
		if err != nil {
			f.failAttempt(reqState)
			f.requests.Delete(reqState)
			f.incCallbackFailure()
			eFn(w, r, nil, fmt.Errorf("%s: %w", op, err))
			return
		}

		// The session store write in exchange() has fully resolved by
		// this point; the attempt is terminal and the cookie can go out.
		if err := req.Transition(PhaseAuthenticated); err != nil {
			f.logger.Error("attempt left in unexpected phase", "op", op, "error", err)
		}
		f.requests.Delete(reqState)
		SetSessionCookie(w, session.ID, f.cfg.CookieSecure, f.cfg.SessionTTL)
		f.incCallbackSuccess()
		f.logger.Info("sign-in completed", "sub", session.Claims.Subject)
		sFn(w, r, session.Clone())
	}
}

// exchange redeems the authorization code, verifies the resulting id_token,
// and persists the new session. The store write is the last thing it does:
// no reader can observe a partially populated session.
func (f *Flow) exchange(ctx context.Context, req *Request, code string) (*Session, error) {
	const op = "auth.Flow.exchange"
	ctx, span := f.tracer.Start(ctx, "auth.exchange")
	defer span.End()

	oauth2Token, err := f.oauthConfig().Exchange(
		f.oidcContext(ctx),
		code,
		oauth2.VerifierOption(req.Verifier()),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to exchange auth code with provider: %w", op, err)
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("%s: id_token is missing from auth code exchange: %w", op, ErrMissingIDToken)
	}
	idToken, err := f.verifyIDToken(ctx, rawIDToken, req.Nonce())
	if err != nil {
		return nil, fmt.Errorf("%s: id_token failed verification: %w", op, err)
	}

	var claims Claims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%s: unable to decode id_token claims: %w", op, err)
	}

	id, err := newID("s")
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate session id: %w", op, err)
	}
	expiry := oauth2Token.Expiry
	if expiry.IsZero() {
		expiry = idToken.Expiry
	}
	session := &Session{
		ID:           id,
		AccessToken:  oauth2Token.AccessToken,
		RefreshToken: oauth2Token.RefreshToken,
		IDToken:      rawIDToken,
		Expiry:       expiry,
		Claims:       claims,
		CreatedAt:    time.Now(),
	}
	if err := f.store.Save(ctx, session); err != nil {
		return nil, fmt.Errorf("%s: unable to persist session: %w", op, err)
	}
	return session, nil
}

// verifyIDToken checks the id_token's signature, issuer, client-id audience
// and expiry via go-oidc, then the attempt nonce and any extra configured
// audiences. See
// https://openid.net/specs/openid-connect-core-1_0.html#IDTokenValidation
func (f *Flow) verifyIDToken(ctx context.Context, raw string, nonce string) (*oidc.IDToken, error) {
	const op = "auth.Flow.verifyIDToken"
	verifier := f.provider.Verifier(&oidc.Config{
		ClientID:             f.cfg.ClientID,
		SupportedSigningAlgs: f.cfg.SupportedSigningAlgs,
	})
	idToken, err := verifier.Verify(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid id_token: %w", op, err)
	}
	if nonce != "" && idToken.Nonce != nonce {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidNonce)
	}
	if len(f.cfg.Audiences) > 0 {
		found := false
		for _, want := range f.cfg.Audiences {
			for _, have := range idToken.Audience {
				if want == have {
					found = true
				}
			}
		}
		if !found {
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidAudience)
		}
	}
	return idToken, nil
}

// RenewSilently attempts a non-interactive refresh-token grant for s. On
// success the stored session is rewritten under the same ID and the renewed
// snapshot returned. On failure the caller must treat the session as
// expired; this method never forces a redirect and the stored session is
// left for the next interactive sign-in to replace.
func (f *Flow) RenewSilently(ctx context.Context, s *Session) (*Session, error) {
	const op = "auth.Flow.RenewSilently"
	if s == nil {
		return nil, fmt.Errorf("%s: session is nil: %w", op, ErrNilParameter)
	}
	if s.RefreshToken == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingRefreshToken)
	}
	ctx, span := f.tracer.Start(ctx, "auth.renew")
	defer span.End()

	cfg := f.oauthConfig()
	token, err := cfg.TokenSource(f.oidcContext(ctx), &oauth2.Token{
		RefreshToken: s.RefreshToken,
	}).Token()
	if err != nil {
		f.incRenewalFailure()
		return nil, fmt.Errorf("%s: unable to refresh token: %w", op, err)
	}

	renewed := s.Clone()
	renewed.AccessToken = token.AccessToken
	renewed.Expiry = token.Expiry
	if token.RefreshToken != "" {
		renewed.RefreshToken = token.RefreshToken
	}
	// Refresh responses may carry a fresh id_token. There is no nonce on
	// a refresh grant; signature, issuer and audience checks still apply.
	if raw, ok := token.Extra("id_token").(string); ok && raw != "" {
		idToken, err := f.verifyIDToken(ctx, raw, "")
		if err != nil {
			f.incRenewalFailure()
			return nil, fmt.Errorf("%s: renewed id_token failed verification: %w", op, err)
		}
		var claims Claims
		if err := idToken.Claims(&claims); err == nil {
			renewed.Claims = claims
		}
		renewed.IDToken = raw
	}

	if err := f.store.Save(ctx, renewed); err != nil {
		f.incRenewalFailure()
		return nil, fmt.Errorf("%s: unable to persist renewed session: %w", op, err)
	}
	f.incRenewalSuccess()
	return renewed.Clone(), nil
}

// SignOutHandler serves /auth/signout. The local session is deleted and the
// cookie expired before the logout redirect is written, so an interrupted
// provider redirect can never leave a stale local session behind.
func (f *Flow) SignOutHandler() http.HandlerFunc {
	const op = "auth.Flow.SignOutHandler"
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		s := CurrentSession(ctx, r, f.store)

		if s != nil {
			if err := f.store.Delete(ctx, s.ID); err != nil {
				f.logger.Error("unable to delete session", "op", op, "error", err)
			}
		}
		ClearSessionCookie(w, f.cfg.CookieSecure)
		f.incSignOut()

		if f.endSessionEndpoint == "" {
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}
		logoutURL, err := url.Parse(f.endSessionEndpoint)
		if err != nil {
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}
		q := logoutURL.Query()
		if f.cfg.PostLogoutRedirectURL != "" {
			q.Set("post_logout_redirect_uri", f.cfg.PostLogoutRedirectURL)
		}
		if s != nil && s.IDToken != "" {
			q.Set("id_token_hint", s.IDToken)
		}
		logoutURL.RawQuery = q.Encode()
		http.Redirect(w, r, logoutURL.String(), http.StatusFound)
	}
}

// failAttempt moves the attempt for state (if any) to its failed phase.
func (f *Flow) failAttempt(state string) {
	if state == "" {
		return
	}
	if req, err := f.requests.Get(state); err == nil {
		if err := req.Transition(PhaseFailed); err == nil {
			f.requests.Delete(state)
		}
	}
}

func (f *Flow) incSignInStarted() {
	if f.metrics != nil {
		f.metrics.SignInStarted.Inc()
	}
}

func (f *Flow) incCallbackSuccess() {
	if f.metrics != nil {
		f.metrics.CallbackSuccess.Inc()
	}
}

func (f *Flow) incCallbackFailure() {
	if f.metrics != nil {
		f.metrics.CallbackFailure.Inc()
	}
}

func (f *Flow) incRenewalSuccess() {
	if f.metrics != nil {
		f.metrics.RenewalSuccess.Inc()
	}
}

func (f *Flow) incRenewalFailure() {
	if f.metrics != nil {
		f.metrics.RenewalFailure.Inc()
	}
}

func (f *Flow) incSignOut() {
	if f.metrics != nil {
		f.metrics.SignOutCompleted.Inc()
	}
}
