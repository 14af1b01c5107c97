// Package http expone las consultas de confianza por HTTP: estado de una
// clave, caminos entre claves, /healthz y /metrics.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	httperrors "github.com/dropDatabas3/keytrust/internal/http/errors"
	mw "github.com/dropDatabas3/keytrust/internal/http/middlewares"
	"github.com/dropDatabas3/keytrust/internal/rate"
	"github.com/dropDatabas3/keytrust/internal/resolver"
)

// Pinger es lo que /healthz necesita del keystore.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps contiene las dependencias del router.
type Deps struct {
	Resolver *resolver.Resolver
	Store    Pinger

	// Metrics handler de /metrics; nil no expone la ruta.
	Metrics http.Handler

	// Timeout por request para la resolución. 0 = sin límite propio.
	Timeout time.Duration

	// RateLimiter limita /v1 por IP; nil desactiva.
	RateLimiter rate.Limiter
}

// NewRouter arma el router chi con middlewares y rutas.
func NewRouter(d Deps) http.Handler {
	h := &handlers{deps: d}

	r := chi.NewRouter()
	r.Use(mw.WithRecover(), mw.WithRequestID(), WithMetrics)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httperrors.WriteError(w, httperrors.ErrRouteNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
	})

	// Sin logging para health checks (muy frecuentes)
	r.Get("/healthz", h.health)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	r.Route("/v1/orgs/{orgID}", func(r chi.Router) {
		r.Use(mw.WithLogging(), mw.WithRateLimit(mw.RateLimitConfig{Limiter: d.RateLimiter}))
		r.Get("/keys/{keyID}/status", h.keyStatus)
		r.Get("/paths", h.path)
	})
	return r
}
