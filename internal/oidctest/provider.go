// Package oidctest runs a disposable OIDC identity provider for tests. It
// serves discovery, authorization, token (authorization_code and
// refresh_token grants), JWKS, userinfo and end-session endpoints over TLS,
// signing tokens with a throwaway ECDSA key.
package oidctest

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"encoding/pem"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	jose "gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

// Provider is a local OIDC server for tests.
type Provider struct {
	httpServer *httptest.Server
	caCert     string

	priv *ecdsa.PrivateKey
	jwks *jose.JSONWebKeySet

	mu               sync.Mutex
	clientID         string
	clientSecret     string
	expectedAuthCode string
	replySubject     string
	replyRefresh     string
	customClaims     map[string]interface{}
	customAudience   string
	tokenTTL         time.Duration
	omitIDToken      bool
	failRefresh      bool

	// lastNonce is captured from the most recent /auth request and embedded
	// in the next id_token, so callers never have to predict it.
	lastNonce string

	t *testing.T
}

// Start creates a disposable Provider on a random localhost port. The
// server is torn down via t.Cleanup.
func Start(t *testing.T) *Provider {
	t.Helper()
	require := require.New(t)

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(err)

	p := &Provider{
		priv:         priv,
		replySubject: "user_2bix9eFECzsU3Sbm",
		replyRefresh: "rt_initial",
		tokenTTL:     time.Minute,
		t:            t,
	}
	p.jwks = &jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{
			{Key: priv.Public(), Algorithm: string(jose.ES256), Use: "sig"},
		},
	}

	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	cert := p.httpServer.Certificate()
	var buf bytes.Buffer
	err = pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	require.NoError(err)
	p.caCert = buf.String()

	return p
}

// SetClientCreds configures the client the provider expects.
func (p *Provider) SetClientCreds(clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
	p.clientSecret = clientSecret
}

// SetExpectedAuthCode configures the code returned from /auth and accepted
// by /token. An empty code makes /auth answer access_denied.
func (p *Provider) SetExpectedAuthCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthCode = code
}

// SetSubject overrides the "sub" claim in issued tokens.
func (p *Provider) SetSubject(sub string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replySubject = sub
}

// SetCustomClaims sets additional claims to embed in issued id_tokens.
func (p *Provider) SetCustomClaims(claims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = claims
}

// SetCustomAudience overrides the "aud" claim in issued tokens.
func (p *Provider) SetCustomAudience(aud string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customAudience = aud
}

// SetTokenTTL sets the expires_in / "exp" lifetime of issued tokens.
func (p *Provider) SetTokenTTL(ttl time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenTTL = ttl
}

// SetRefreshToken sets the refresh_token value returned by /token.
func (p *Provider) SetRefreshToken(rt string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyRefresh = rt
}

// OmitIDTokens forces an error state where /token does not return an
// id_token.
func (p *Provider) OmitIDTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = true
}

// FailRefresh makes the refresh_token grant answer invalid_grant.
func (p *Provider) FailRefresh(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failRefresh = fail
}

// Addr returns the provider's base URL, which doubles as its issuer.
func (p *Provider) Addr() string { return p.httpServer.URL }

// CACert returns the PEM-encoded certificate of the provider's HTTPS
// server, for pinning in clients under test.
func (p *Provider) CACert() string { return p.caCert }

// SignJWT signs the given claims with the provider's key. Useful for
// crafting tokens outside the normal flow.
func (p *Provider) SignJWT(t *testing.T, claims jwt.Claims, privateClaims map[string]interface{}) string {
	t.Helper()
	require := require.New(t)

	sig, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.ES256, Key: p.priv},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	require.NoError(err)

	raw, err := jwt.Signed(sig).
		Claims(claims).
		Claims(privateClaims).
		CompactSerialize()
	require.NoError(err)
	return raw
}

func (p *Provider) writeJSON(w http.ResponseWriter, out interface{}) {
	_ = json.NewEncoder(w).Encode(out)
}

func (p *Provider) writeAuthError(w http.ResponseWriter, req *http.Request, code, desc string) {
	qv := req.URL.Query()
	redirectURI := qv.Get("redirect_uri") +
		"?state=" + url.QueryEscape(qv.Get("state")) +
		"&error=" + url.QueryEscape(code)
	if desc != "" {
		redirectURI += "&error_description=" + url.QueryEscape(desc)
	}
	http.Redirect(w, req, redirectURI, http.StatusFound)
}

func (p *Provider) writeTokenError(w http.ResponseWriter, statusCode int, code, desc string) {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{Code: code, Desc: desc}
	w.WriteHeader(statusCode)
	p.writeJSON(w, &body)
}

// issueTokens builds the /token response body for both grants.
func (p *Provider) issueTokens(nonce string) map[string]interface{} {
	std := jwt.Claims{
		Subject:   p.replySubject,
		Issuer:    p.Addr(),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		NotBefore: jwt.NewNumericDate(time.Now().Add(-5 * time.Second)),
		Expiry:    jwt.NewNumericDate(time.Now().Add(p.tokenTTL)),
		Audience:  jwt.Audience{p.clientID},
	}
	if p.customAudience != "" {
		std.Audience = jwt.Audience{p.customAudience}
	}

	private := map[string]interface{}{}
	for k, v := range p.customClaims {
		private[k] = v
	}
	if nonce != "" {
		private["nonce"] = nonce
	}

	idToken := p.SignJWT(p.t, std, private)

	reply := map[string]interface{}{
		"access_token":  idToken,
		"token_type":    "Bearer",
		"expires_in":    int(p.tokenTTL.Seconds()),
		"refresh_token": p.replyRefresh,
	}
	if !p.omitIDToken {
		reply["id_token"] = idToken
	}
	return reply
}

// ServeHTTP implements the provider's endpoints.
func (p *Provider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.t.Helper()

	w.Header().Set("Content-Type", "application/json")

	switch req.URL.Path {
	case "/.well-known/openid-configuration":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.writeJSON(w, map[string]interface{}{
			"issuer":                                p.Addr(),
			"authorization_endpoint":                p.Addr() + "/auth",
			"token_endpoint":                        p.Addr() + "/token",
			"jwks_uri":                              p.Addr() + "/certs",
			"userinfo_endpoint":                     p.Addr() + "/userinfo",
			"end_session_endpoint":                  p.Addr() + "/end-session",
			"id_token_signing_alg_values_supported": []string{"ES256"},
		})

	case "/auth":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		qv := req.URL.Query()
		if qv.Get("response_type") != "code" {
			p.writeAuthError(w, req, "unsupported_response_type", "")
			return
		}
		if p.expectedAuthCode == "" {
			p.writeAuthError(w, req, "access_denied", "")
			return
		}
		state := qv.Get("state")
		if state == "" {
			p.writeAuthError(w, req, "invalid_request", "missing state parameter")
			return
		}
		redirectURI := qv.Get("redirect_uri")
		if redirectURI == "" {
			p.writeAuthError(w, req, "invalid_request", "missing redirect_uri parameter")
			return
		}

		p.lastNonce = qv.Get("nonce")

		redirectURI += "?state=" + url.QueryEscape(state) +
			"&code=" + url.QueryEscape(p.expectedAuthCode)
		http.Redirect(w, req, redirectURI, http.StatusFound)

	case "/certs":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.writeJSON(w, p.jwks)

	case "/token":
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		switch req.FormValue("grant_type") {
		case "authorization_code":
			if req.FormValue("code") != p.expectedAuthCode {
				p.writeTokenError(w, http.StatusUnauthorized, "invalid_grant", "unexpected auth code")
				return
			}
			p.writeJSON(w, p.issueTokens(p.lastNonce))
		case "refresh_token":
			if p.failRefresh {
				p.writeTokenError(w, http.StatusBadRequest, "invalid_grant", "refresh token revoked")
				return
			}
			if req.FormValue("refresh_token") == "" {
				p.writeTokenError(w, http.StatusBadRequest, "invalid_request", "missing refresh_token")
				return
			}
			p.writeJSON(w, p.issueTokens(""))
		default:
			p.writeTokenError(w, http.StatusBadRequest, "invalid_request", "bad grant_type")
		}

	case "/userinfo":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.writeJSON(w, map[string]interface{}{"sub": p.replySubject})

	case "/end-session":
		target := req.URL.Query().Get("post_logout_redirect_uri")
		if target == "" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.Redirect(w, req, target, http.StatusFound)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}
