// Package web wires the console's HTTP surface: the public landing page,
// the sign-in routes, the guarded application shells, and the API proxy
// mount.
package web

import (
	"html/template"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/go-hclog"

	"github.com/castellan/console/internal/auth"
	"github.com/castellan/console/internal/guard"
	"github.com/castellan/console/internal/intent"
	"github.com/castellan/console/internal/rbac"
)

// Handler renders the console views and glues the auth flow's callback
// responses to the redirect-intent cache.
type Handler struct {
	flow    *auth.Flow
	intents *intent.Cache

	defaultLandingPath string
	logger             hclog.Logger
}

func NewHandler(flow *auth.Flow, intents *intent.Cache, defaultLandingPath string, logger hclog.Logger) *Handler {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Handler{
		flow:               flow,
		intents:            intents,
		defaultLandingPath: defaultLandingPath,
		logger:             logger,
	}
}

func (h *Handler) landing(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	h.render(w, landingTmpl, nil)
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// callbackSuccess runs after the flow has persisted the session and set the
// cookie. Consuming the intent strictly after that point means the
// destination page always finds claims and roles in place.
func (h *Handler) callbackSuccess(w http.ResponseWriter, r *http.Request, _ *auth.Session) {
	path := h.intents.Consume(w, r)
	if path == "" {
		path = h.defaultLandingPath
	}
	http.Redirect(w, r, path, http.StatusSeeOther)
}

// callbackError renders the terminal error panel for a failed sign-in.
// There is no automatic retry; the user re-initiates sign-in from the link.
func (h *Handler) callbackError(w http.ResponseWriter, r *http.Request, respErr *auth.AuthenErrorResponse, err error) {
	data := struct {
		Message     string
		Description string
	}{
		Message: "The identity provider could not complete the sign-in.",
	}
	switch {
	case respErr != nil:
		h.logger.Warn("provider returned an authentication error",
			"error", respErr.Error,
			"description", respErr.Description,
		)
		data.Description = respErr.Description
	case err != nil:
		h.logger.Error("sign-in callback failed", "error", err)
	}
	w.WriteHeader(http.StatusUnauthorized)
	h.render(w, signInErrorTmpl, data)
}

func (h *Handler) denied(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusForbidden)
	h.render(w, deniedTmpl, nil)
}

// pageData is the shell template's payload.
type pageData struct {
	Title   string
	Section string
	Name    string
	Email   string
	Roles   []string
}

// page renders the SPA shell for an authenticated section.
func (h *Handler) page(title, section string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := guard.SessionFromContext(r.Context())
		h.render(w, pageTmpl, pageData{
			Title:   title,
			Section: section,
			Name:    s.Claims.Name,
			Email:   s.Claims.Email,
			Roles:   rbac.Roles(s),
		})
	}
}

// profile shows the signed-in user's identity plus the decoded (unverified)
// claims of their current access token. The decode is display-only; the
// console never trusts these claims for access decisions.
func (h *Handler) profile(w http.ResponseWriter, r *http.Request) {
	s := guard.SessionFromContext(r.Context())
	data := struct {
		Name        string
		Subject     string
		Email       string
		Roles       []string
		Expiry      string
		TokenClaims map[string]any
	}{
		Name:    s.Claims.Name,
		Subject: s.Claims.Subject,
		Email:   s.Claims.Email,
		Roles:   rbac.Roles(s),
	}
	if !s.Expiry.IsZero() {
		data.Expiry = s.Expiry.Format("2006-01-02 15:04:05 MST")
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(s.AccessToken, claims); err == nil {
		data.TokenClaims = claims
	}

	h.render(w, profileTmpl, data)
}

func (h *Handler) render(w http.ResponseWriter, tmpl *template.Template, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, data); err != nil {
		h.logger.Error("template render failed", "error", err)
	}
}
