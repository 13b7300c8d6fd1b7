// Package api serves the REST boundary: synthesis, catalogue listings,
// health probes, the Prometheus scrape and the admin surface.
//
// The handler tree is chi-routed. Requests authenticate with a bearer API
// key against the identity store (unless auth is disabled); synthesis
// endpoints need the write permission, listings need read, and everything
// under /admin plus /stats needs admin. Probe endpoints, /health, /info and
// /metrics stay open so orchestrators and scrapers work without
// credentials.
//
// Errors cross this boundary as classified kinds (see pkg/types); the
// response writer maps each kind to a status code and a JSON error body.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ttskit/ttskit/internal/cache"
	"github.com/ttskit/ttskit/internal/health"
	"github.com/ttskit/ttskit/internal/identity"
	"github.com/ttskit/ttskit/internal/metrics"
	"github.com/ttskit/ttskit/internal/observe"
	"github.com/ttskit/ttskit/internal/router"
	"github.com/ttskit/ttskit/internal/synth"
	"github.com/ttskit/ttskit/pkg/types"
)

const (
	// maxBodyBytes caps a single-request body.
	maxBodyBytes = 1 << 20

	// maxBatchBodyBytes caps a batch body.
	maxBatchBodyBytes = 8 << 20

	// maxBatchItems is the per-call item cap for /batch.
	maxBatchItems = 100

	// batchConcurrency bounds how many batch items synthesize at once.
	batchConcurrency = 8
)

// Config carries the server's dependencies, all constructed by the app.
type Config struct {
	Orchestrator *synth.Orchestrator
	Router       *router.Router
	Cache        cache.Cache
	Metrics      *metrics.Collector
	Identity     identity.Store
	Health       *health.Handler
	Observe      *observe.Metrics

	// AuthEnabled gates bearer-key verification. When false every request
	// runs unauthenticated and permission checks pass.
	AuthEnabled bool

	// Version is reported by /info. Defaults to "dev".
	Version string
}

// Server is the REST boundary. Safe for concurrent use.
type Server struct {
	orch        *synth.Orchestrator
	router      *router.Router
	cache       cache.Cache
	metrics     *metrics.Collector
	identity    identity.Store
	health      *health.Handler
	obs         *observe.Metrics
	authEnabled bool
	version     string

	handler http.Handler
}

// New assembles the handler tree over the given dependencies.
func New(cfg Config) *Server {
	s := &Server{
		orch:        cfg.Orchestrator,
		router:      cfg.Router,
		cache:       cfg.Cache,
		metrics:     cfg.Metrics,
		identity:    cfg.Identity,
		health:      cfg.Health,
		obs:         cfg.Observe,
		authEnabled: cfg.AuthEnabled,
		version:     cfg.Version,
	}
	if s.version == "" {
		s.version = "dev"
	}
	if s.obs == nil {
		s.obs = observe.DefaultMetrics()
	}
	if s.metrics == nil {
		s.metrics = metrics.New(0)
	}
	if s.health == nil {
		s.health = health.New()
	}
	s.handler = s.routes()
	return s
}

// Handler returns the root handler for mounting into an http.Server.
func (s *Server) Handler() http.Handler { return s.handler }

// routes builds the chi router: shared middleware, open endpoints, then the
// authenticated API with its permission gates.
func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(observe.Middleware(s.obs))
	r.Use(chimw.Recoverer)

	// Open endpoints: probes, scrape and service identity.
	r.Get("/health", s.handleHealth)
	r.Get("/info", s.handleInfo)
	r.Get("/healthz", s.health.Healthz)
	r.Get("/readyz", s.health.Readyz)
	r.Handle("/metrics", promhttp.Handler())

	// Authenticated API.
	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.With(s.requirePermission(types.PermissionWrite)).Post("/synthesize", s.handleSynthesize)
		r.With(s.requirePermission(types.PermissionWrite)).Post("/batch", s.handleBatch)
		r.With(s.requirePermission(types.PermissionRead)).Get("/voices", s.handleVoices)
		r.With(s.requirePermission(types.PermissionRead)).Get("/engines", s.handleEngines)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)

			r.Get("/stats", s.handleStats)
			r.Route("/admin", func(r chi.Router) {
				r.Post("/policy", s.handlePolicy)

				r.Post("/users", s.handleCreateUser)
				r.Get("/users", s.handleListUsers)
				r.Get("/users/{userID}", s.handleGetUser)
				r.Patch("/users/{userID}", s.handleUpdateUser)
				r.Delete("/users/{userID}", s.handleDeleteUser)

				r.Post("/keys", s.handleCreateKey)
				r.Get("/keys", s.handleListKeys)
				r.Delete("/keys/{keyID}", s.handleDeleteKey)
			})
		})
	})

	return r
}
