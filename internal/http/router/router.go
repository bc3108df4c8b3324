// Package router assembles the HTTP surface.
package router

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	oauthctrl "github.com/featherauth/featherauth/internal/http/controllers/oauth"
	oidcctrl "github.com/featherauth/featherauth/internal/http/controllers/oidc"
	mw "github.com/featherauth/featherauth/internal/http/middlewares"
	"github.com/featherauth/featherauth/internal/store"
)

// Deps contains everything the router mounts.
type Deps struct {
	DAL store.DataAccessLayer

	Authorize *oauthctrl.AuthorizeController
	Tokens    *oauthctrl.TokenController
	Discovery *oidcctrl.DiscoveryController
	Userinfo  *oidcctrl.UserinfoController

	// Metrics exposes /metrics when true. Off by default for deployments
	// that scrape a sidecar instead.
	Metrics bool
}

// New builds the chi router with the full middleware chain.
func New(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(mw.WithRequestLogger())
	r.Use(mw.WithRecover())
	r.Use(mw.WithMetrics())

	r.Group(func(r chi.Router) {
		r.Use(mw.WithNoStore())
		r.Get("/oauth2/authorize", d.Authorize.Authorize)
		r.Post("/oauth2/authorize/resume", d.Authorize.Resume)
		r.Post("/oauth2/token", d.Tokens.Token)
		r.Post("/oauth2/revoke", d.Tokens.Revoke)
		r.Post("/oauth2/introspect", d.Tokens.Introspect)
		r.Get("/oauth2/userinfo", d.Userinfo.Userinfo)
		r.Post("/oauth2/userinfo", d.Userinfo.Userinfo)
	})

	r.Group(func(r chi.Router) {
		r.Use(mw.WithCacheControl("public, max-age=300"))
		r.Get("/.well-known/openid-configuration", d.Discovery.Discovery)
		r.Get("/.well-known/jwks.json", d.Discovery.JWKS)
	})

	r.Get("/healthz", healthHandler(d.DAL))
	if d.Metrics {
		r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	}

	return r
}

func healthHandler(dal store.DataAccessLayer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		code := http.StatusOK
		if err := dal.Ping(r.Context()); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
	}
}
