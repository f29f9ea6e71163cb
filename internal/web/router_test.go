package web

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castellan/console/internal/auth"
	"github.com/castellan/console/internal/guard"
	"github.com/castellan/console/internal/intent"
	"github.com/castellan/console/internal/oidctest"
)

// consoleFixture is a full console wired against a test identity provider,
// served over a real listener so a cookie-jar client can walk the redirect
// dance end to end.
type consoleFixture struct {
	srv    *httptest.Server
	tp     *oidctest.Provider
	store  *auth.MemoryStore
	client *http.Client
}

func startConsole(t *testing.T, claims map[string]interface{}) *consoleFixture {
	t.Helper()
	require := require.New(t)

	tp := oidctest.Start(t)
	tp.SetClientCreds("console-client", "console-secret")
	tp.SetExpectedAuthCode("code_1234")
	tp.SetCustomClaims(claims)

	store := auth.NewMemoryStore()
	intents := intent.New("/dashboard")

	// The handler under test is swapped in after the server starts; the
	// flow needs the server's URL for its redirect URL first.
	var router http.Handler
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		router.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	flow, err := auth.NewFlow(context.Background(), auth.FlowConfig{
		Issuer:                tp.Addr(),
		ClientID:              "console-client",
		ClientSecret:          "console-secret",
		RedirectURL:           srv.URL + "/auth/signin-callback",
		PostLogoutRedirectURL: srv.URL + "/",
		ProviderCA:            tp.CACert(),
		SessionTTL:            time.Hour,
		DefaultLandingPath:    "/dashboard",
	}, store, intents, nil, nil)
	require.NoError(err)

	g := guard.New(store, flow, intents, "/auth/signin", nil)
	h := NewHandler(flow, intents, "/dashboard", nil)
	router = NewRouter(h, g, nil, RouterConfig{
		AdminRoles: []string{"Admin", "MasterAdmin"},
	}, nil)

	pool := x509.NewCertPool()
	require.True(pool.AppendCertsFromPEM([]byte(tp.CACert())))
	jar, err := cookiejar.New(nil)
	require.NoError(err)
	client := &http.Client{
		Jar: jar,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{RootCAs: pool},
		},
	}

	return &consoleFixture{srv: srv, tp: tp, store: store, client: client}
}

func (f *consoleFixture) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	require := require.New(t)
	resp, err := f.client.Get(f.srv.URL + path)
	require.NoError(err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(err)
	return resp, string(body)
}

func TestRouter_SignInJourney(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	f := startConsole(t, map[string]interface{}{
		"name":  "Ada Admin",
		"email": "ada@example.com",
		"roles": []string{"MasterAdmin"},
	})

	// Hitting a guarded page unauthenticated walks the whole dance:
	// guard redirect, provider authorization, callback exchange, and
	// finally the originally requested page.
	resp, body := f.get(t, "/applications")
	assert.Equal(http.StatusOK, resp.StatusCode)
	assert.Contains(body, `data-section="applications"`)
	assert.Contains(body, "Ada Admin")
	assert.Contains(body, "MasterAdmin")

	// The session now rides the cookie; no more redirects.
	resp, body = f.get(t, "/dashboard")
	assert.Equal(http.StatusOK, resp.StatusCode)
	assert.Contains(body, `data-section="dashboard"`)

	// Admin role grants the management routes.
	resp, body = f.get(t, "/users")
	assert.Equal(http.StatusOK, resp.StatusCode)
	assert.Contains(body, `data-section="users"`)

	resp, body = f.get(t, "/profile")
	assert.Equal(http.StatusOK, resp.StatusCode)
	assert.Contains(body, "ada@example.com")
}

func TestRouter_SignOutJourney(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	f := startConsole(t, map[string]interface{}{
		"name":  "Ada Admin",
		"roles": []string{"Admin"},
	})

	resp, _ := f.get(t, "/dashboard")
	require.Equal(http.StatusOK, resp.StatusCode)

	// Sign-out clears local state and lands back on the public page via
	// the provider's end-session redirect.
	resp, body := f.get(t, "/auth/signout")
	assert.Equal(http.StatusOK, resp.StatusCode)
	assert.Contains(body, "Sign in")

	// A guarded page now bounces to sign-in again.
	noRedirect := &http.Client{
		Jar:       f.client.Jar,
		Transport: f.client.Transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp2, err := noRedirect.Get(f.srv.URL + "/dashboard")
	require.NoError(err)
	resp2.Body.Close()
	assert.Equal(http.StatusFound, resp2.StatusCode)
	assert.Equal("/auth/signin", resp2.Header.Get("Location"))
}

func TestRouter_RoleDenied(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	f := startConsole(t, map[string]interface{}{
		"name":  "Vic Viewer",
		"roles": []string{"Viewer"},
	})

	resp, _ := f.get(t, "/dashboard")
	assert.Equal(http.StatusOK, resp.StatusCode)

	// Authenticated but not authorized: denial renders in place.
	resp, body := f.get(t, "/users")
	assert.Equal(http.StatusForbidden, resp.StatusCode)
	assert.Contains(body, "Access denied")
}

func TestRouter_PublicRoutes(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	f := startConsole(t, nil)

	resp, body := f.get(t, "/")
	assert.Equal(http.StatusOK, resp.StatusCode)
	assert.Contains(body, "Castellan Console")

	resp, body = f.get(t, "/healthz")
	assert.Equal(http.StatusOK, resp.StatusCode)
	assert.JSONEq(`{"status":"ok"}`, body)

	resp, _ = f.get(t, "/metrics")
	assert.Equal(http.StatusOK, resp.StatusCode)
}
