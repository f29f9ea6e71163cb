// Command console runs the Castellan admin console: a thin web shell that
// signs administrators in against the platform's OIDC provider, guards its
// routes by session and role, and proxies API calls with the caller's
// bearer token.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/castellan/console/internal/auth"
	"github.com/castellan/console/internal/config"
	"github.com/castellan/console/internal/gateway"
	"github.com/castellan/console/internal/guard"
	"github.com/castellan/console/internal/httpserver"
	"github.com/castellan/console/internal/intent"
	"github.com/castellan/console/internal/logging"
	"github.com/castellan/console/internal/metrics"
	"github.com/castellan/console/internal/web"
)

const (
	startupTimeout  = 15 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "console: %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	m := metrics.New(prometheus.DefaultRegisterer)

	sessions, closeSessions, err := newSessionStore(cfg)
	if err != nil {
		return err
	}
	defer closeSessions()

	intents := intent.New(cfg.Routes.DefaultLandingPath, intent.WithSecure(cfg.Session.CookieSecure))

	// Provider discovery is an http round trip to the issuer; bound it so
	// a wedged provider fails startup instead of hanging it.
	discoverCtx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	flow, err := auth.NewFlow(discoverCtx, auth.FlowConfig{
		Issuer:                cfg.Provider.Issuer,
		ClientID:              cfg.Provider.ClientID,
		ClientSecret:          auth.ClientSecret(cfg.Provider.ClientSecret),
		RedirectURL:           cfg.RedirectURL(),
		PostLogoutRedirectURL: cfg.PostLogoutRedirectURL(),
		Scopes:                cfg.Provider.Scopes,
		Audiences:             cfg.Provider.Audiences,
		ProviderCA:            cfg.Provider.CAPEM,
		AttemptTTL:            cfg.Provider.AttemptTTL,
		SessionTTL:            cfg.Session.TTL,
		DefaultLandingPath:    cfg.Routes.DefaultLandingPath,
		CookieSecure:          cfg.Session.CookieSecure,
	}, sessions, intents, logger.Named("auth"), m)
	cancel()
	if err != nil {
		return err
	}

	g := guard.New(sessions, flow, intents, "/auth/signin", logger.Named("guard"))

	proxy, err := gateway.New(cfg.API.BaseURL, logger.Named("gateway"))
	if err != nil {
		return err
	}

	handler := web.NewHandler(flow, intents, cfg.Routes.DefaultLandingPath, logger.Named("web"))
	router := web.NewRouter(handler, g, proxy, web.RouterConfig{
		AdminRoles: cfg.Routes.AdminRoles,
	}, logger.Named("http"))

	srv := httpserver.New(cfg.ListenAddr, router)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("console listening", "addr", cfg.ListenAddr, "issuer", cfg.Provider.Issuer)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

// newSessionStore picks Redis when configured, otherwise process memory.
func newSessionStore(cfg *config.Config) (auth.Store, func(), error) {
	if cfg.Session.RedisAddr == "" {
		return auth.NewMemoryStore(), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Session.RedisAddr,
		Password: string(cfg.Session.RedisPassword),
		DB:       cfg.Session.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping failed: %w", err)
	}
	store, err := auth.NewRedisStore(client, cfg.Session.TTL)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return store, func() { _ = client.Close() }, nil
}
