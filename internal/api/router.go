package api

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"

	"github.com/agentoven/registry-gateway/control-plane/internal/api/handlers"
	"github.com/agentoven/registry-gateway/control-plane/internal/api/middleware"
	"github.com/agentoven/registry-gateway/control-plane/internal/config"
	"github.com/agentoven/registry-gateway/control-plane/pkg/contracts"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates the HTTP router wiring every route to the orchestrator
// (via handlers.Handlers) behind the middleware chain: request ID, real IP,
// panic recovery, compression, structured logging, namespace extraction,
// tracing, pluggable auth, and CORS — in that order, matching the teacher's
// own chain ordering.
func NewRouter(cfg *config.Config, h *handlers.Handlers, authChain contracts.AuthProviderChain) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(middleware.NamespaceExtractor)
	r.Use(middleware.Telemetry)

	// Pluggable auth middleware — the chain walks registered providers
	// (API key, service account, OIDC) and stores the resulting Identity
	// in context for policy evaluation.
	if authChain != nil {
		authMW := middleware.NewAuthMiddleware(authChain)
		r.Use(authMW.Handler)
	}

	corsOrigins := parseCORSOrigins()
	isWildcard := len(corsOrigins) == 1 && corsOrigins[0] == "*"
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Namespace", "X-Request-Id", "X-API-Key", "X-Service-Token"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Trace-Id"},
		AllowCredentials: !isWildcard, // safe: only allow credentials with explicit origins
		MaxAge:           300,
	}))

	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler(cfg))
	if cfg.Metrics.Enabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Servers and agents are keyed by a slash-bearing service path
		// (e.g. "/svc/hello"), so the entity path travels as the "path"
		// query parameter rather than a URL segment — chi can't route a
		// wildcard in the middle of a path template.
		r.Route("/servers", func(r chi.Router) {
			r.Get("/", h.ListServers)
			r.Post("/", h.RegisterServer)
			r.Get("/search", h.SearchServers)
			r.Get("/entity", h.GetServer)
			r.Put("/entity", h.UpdateServer)
			r.Delete("/entity", h.DeleteServer)
			r.Post("/entity/toggle", h.ToggleServer)
		})

		r.Route("/agents", func(r chi.Router) {
			r.Get("/", h.ListAgents)
			r.Post("/", h.RegisterAgent)
			r.Get("/search", h.SearchAgents)
			r.Get("/entity", h.GetAgent)
			r.Put("/entity", h.UpdateAgent)
			r.Delete("/entity", h.DeleteAgent)
			r.Post("/entity/toggle", h.ToggleAgent)
		})

		r.Route("/scopes", func(r chi.Router) {
			r.Get("/", h.ListScopes)
			r.Get("/table", h.LoadScopeTable)
			r.Route("/{scopeName}", func(r chi.Router) {
				r.Get("/", h.GetScope)
				r.Put("/", h.PutScope)
				r.Delete("/", h.DeleteScope)
			})
		})

		r.Post("/authorize", h.AuthorizeCall)

		r.Route("/system", func(r chi.Router) {
			r.Get("/health", h.SystemHealth)
			r.Get("/health/feed", h.HealthFeed)
		})
	})

	return r
}

// parseCORSOrigins reads allowed CORS origins from the environment.
// Default: wildcard (open access, no credentials).
// Production: set REGISTRY_CORS_ORIGINS to a comma-separated list.
func parseCORSOrigins() []string {
	originsEnv := os.Getenv("REGISTRY_CORS_ORIGINS")
	if originsEnv == "" {
		return []string{"*"}
	}

	var origins []string
	for _, o := range strings.Split(originsEnv, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "registry-gateway-control-plane",
	})
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": "registry-gateway-control-plane",
		})
	}
}
