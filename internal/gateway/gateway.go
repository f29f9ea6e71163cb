// Package gateway is the console's API access layer: a reverse proxy that
// forwards /api/* to the IAM platform's API with the caller's access token
// attached as a bearer credential. The console does not second-guess the
// upstream: an expired or rejected token comes back as the upstream's 401
// and is passed through for the UI layer to handle.
package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-hclog"

	"github.com/castellan/console/internal/guard"
)

var ErrInvalidBaseURL = errors.New("invalid API base URL")

// Proxy forwards requests to the IAM API.
type Proxy struct {
	target *url.URL
	rp     *httputil.ReverseProxy
	logger hclog.Logger
}

// New builds a Proxy for apiBaseURL. The returned handler must be mounted
// inside an auth guard; it reads the session snapshot the guard attached to
// the request context.
func New(apiBaseURL string, logger hclog.Logger) (*Proxy, error) {
	const op = "gateway.New"
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	target, err := url.Parse(apiBaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidBaseURL, err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("%s: %w: missing scheme or host", op, ErrInvalidBaseURL)
	}

	p := &Proxy{
		target: target,
		logger: logger,
	}
	p.rp = &httputil.ReverseProxy{
		Rewrite:   p.rewrite,
		Transport: cleanhttp.DefaultPooledTransport(),
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Error("upstream API request failed", "path", r.URL.Path, "error", err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":"upstream_unavailable"}`))
		},
	}
	return p, nil
}

func (p *Proxy) rewrite(pr *httputil.ProxyRequest) {
	pr.SetURL(p.target)
	pr.Out.Host = p.target.Host

	// Nothing from the browser's cookies or auth headers goes upstream;
	// only the session's bearer token does.
	pr.Out.Header.Del("Cookie")
	pr.Out.Header.Del("Authorization")
	if s := guard.SessionFromContext(pr.In.Context()); s != nil {
		pr.Out.Header.Set("Authorization", "Bearer "+s.AccessToken)
	}
}

// ServeHTTP strips the /api mount prefix before forwarding.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r2 := r.Clone(r.Context())
	r2.URL.Path = strings.TrimPrefix(r.URL.Path, "/api")
	if r2.URL.Path == "" {
		r2.URL.Path = "/"
	}
	p.rp.ServeHTTP(w, r2)
}
