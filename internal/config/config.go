// Package config loads the console configuration from the environment using
// koanf: compiled defaults first, CONSOLE_* environment variables on top.
package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix namespaces every console environment variable, e.g.
// CONSOLE_PROVIDER_ISSUER.
const EnvPrefix = "CONSOLE_"

// Secret is a string whose printed forms are redacted.
type Secret string

// Redacted replaces secrets in string and JSON output.
const Redacted = "[REDACTED]"

func (s Secret) String() string { return Redacted }

func (s Secret) GoString() string { return Redacted }

func (s Secret) MarshalJSON() ([]byte, error) { return json.Marshal(Redacted) }

// Config is the console's full configuration.
type Config struct {
	ListenAddr string `koanf:"listen_addr"`

	// BaseURL is the externally visible URL of the console, used to
	// compose the OIDC redirect and post-logout URLs.
	BaseURL string `koanf:"base_url"`

	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`

	Provider ProviderConfig `koanf:"provider"`
	API      APIConfig      `koanf:"api"`
	Session  SessionConfig  `koanf:"session"`
	Routes   RoutesConfig   `koanf:"routes"`
}

// ProviderConfig describes the OIDC identity provider.
type ProviderConfig struct {
	Issuer       string `koanf:"issuer"`
	ClientID     string `koanf:"client_id"`
	ClientSecret Secret `koanf:"client_secret"`

	// Scopes requested in addition to "openid".
	Scopes []string `koanf:"scopes"`

	// Audiences optionally restricts the id_token "aud" claim.
	Audiences []string `koanf:"audiences"`

	// CAPEM optionally pins the provider's CA certificate (PEM).
	CAPEM string `koanf:"ca_pem"`

	// AttemptTTL bounds one sign-in attempt from redirect to callback.
	AttemptTTL time.Duration `koanf:"attempt_ttl"`
}

// APIConfig describes the upstream IAM API the console proxies.
type APIConfig struct {
	BaseURL string `koanf:"base_url"`
}

// SessionConfig controls session persistence. With an empty Redis address
// sessions live in process memory.
type SessionConfig struct {
	TTL           time.Duration `koanf:"ttl"`
	CookieSecure  bool          `koanf:"cookie_secure"`
	RedisAddr     string        `koanf:"redis_addr"`
	RedisPassword Secret        `koanf:"redis_password"`
	RedisDB       int           `koanf:"redis_db"`
}

// RoutesConfig controls routing behavior.
type RoutesConfig struct {
	// DefaultLandingPath is where a fresh login goes when no redirect
	// intent was recorded.
	DefaultLandingPath string `koanf:"default_landing_path"`

	// AdminRoles may access the user and tenant management routes.
	AdminRoles []string `koanf:"admin_roles"`
}

func defaults() *Config {
	return &Config{
		ListenAddr: ":8000",
		LogLevel:   "info",
		LogFormat:  "json",
		Provider: ProviderConfig{
			Scopes:     []string{"profile", "email"},
			AttemptTTL: 2 * time.Minute,
		},
		Session: SessionConfig{
			TTL:          8 * time.Hour,
			CookieSecure: true,
		},
		Routes: RoutesConfig{
			DefaultLandingPath: "/dashboard",
			AdminRoles:         []string{"Admin", "MasterAdmin"},
		},
	}
}

// sections are the nested config groups; used to map CONSOLE_SECTION_KEY
// environment variables onto section.key koanf paths.
var sections = []string{"provider", "api", "session", "routes"}

// Load builds the configuration from defaults overlaid with CONSOLE_*
// environment variables, then validates it.
func Load() (*Config, error) {
	const op = "config.Load"
	k := koanf.New(".")

	cfg := defaults()

	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		for _, sec := range sections {
			if strings.HasPrefix(s, sec+"_") {
				return sec + "." + strings.TrimPrefix(s, sec+"_")
			}
		}
		return s
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("%s: load env vars: %w", op, err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("%s: unmarshal config: %w", op, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return cfg, nil
}

// Validate reports every missing or malformed setting at once rather than
// one restart at a time.
func (c *Config) Validate() error {
	var result *multierror.Error
	if c.BaseURL == "" {
		result = multierror.Append(result, fmt.Errorf("base_url is required"))
	}
	if c.Provider.Issuer == "" {
		result = multierror.Append(result, fmt.Errorf("provider.issuer is required"))
	}
	if c.Provider.ClientID == "" {
		result = multierror.Append(result, fmt.Errorf("provider.client_id is required"))
	}
	if c.API.BaseURL == "" {
		result = multierror.Append(result, fmt.Errorf("api.base_url is required"))
	}
	if c.Session.TTL <= 0 {
		result = multierror.Append(result, fmt.Errorf("session.ttl must be greater than zero"))
	}
	if !strings.HasPrefix(c.Routes.DefaultLandingPath, "/") {
		result = multierror.Append(result, fmt.Errorf("routes.default_landing_path must be app-relative"))
	}
	return result.ErrorOrNil()
}

// RedirectURL is the console's OIDC callback URL.
func (c *Config) RedirectURL() string {
	return strings.TrimSuffix(c.BaseURL, "/") + "/auth/signin-callback"
}

// PostLogoutRedirectURL is where the provider returns the browser after
// sign-out.
func (c *Config) PostLogoutRedirectURL() string {
	return strings.TrimSuffix(c.BaseURL, "/") + "/"
}
