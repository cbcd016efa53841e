// Package server provides the public entry point for initializing the
// registry gateway control plane.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(fmt.Sprintf(":%d", srv.Port), srv.Handler)
package server

import (
	"context"
	"fmt"

	"net/http"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/agentoven/registry-gateway/control-plane/internal/api"
	"github.com/agentoven/registry-gateway/control-plane/internal/api/handlers"
	registryauth "github.com/agentoven/registry-gateway/control-plane/internal/auth"
	"github.com/agentoven/registry-gateway/control-plane/internal/backend"
	"github.com/agentoven/registry-gateway/control-plane/internal/config"
	"github.com/agentoven/registry-gateway/control-plane/internal/embeddings"
	"github.com/agentoven/registry-gateway/control-plane/internal/health"
	"github.com/agentoven/registry-gateway/control-plane/internal/orchestrator"
	"github.com/agentoven/registry-gateway/control-plane/internal/store"
	"github.com/agentoven/registry-gateway/control-plane/internal/telemetry"
	"github.com/agentoven/registry-gateway/control-plane/internal/tokenverify"
	"github.com/agentoven/registry-gateway/control-plane/internal/vectorindex"
	"github.com/agentoven/registry-gateway/control-plane/pkg/contracts"
)

// Server holds the initialized registry control plane.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Port is the port the server should listen on.
	Port int

	// Core is the orchestrator (component H). Exposed for tests and for
	// embedders that need direct access to an operation not surfaced over
	// HTTP.
	Core *orchestrator.Core

	// Store is the entity store (component B), exposed for diagnostics.
	Store store.Store

	// AuthChain is the pluggable authentication provider chain.
	AuthChain *registryauth.ProviderChain

	shutdownTelemetry func(context.Context) error
}

// New initializes every component (A–H) from environment configuration and
// returns a ready Server.
func New(ctx context.Context) (*Server, error) {
	cfg := config.Load()
	return buildServer(ctx, cfg)
}

// buildServer wires A through H in dependency order, grounded in the
// teacher's buildServer construction graph: collaborators are constructed
// and started before the thing that consumes them, logged as each comes up.
func buildServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdownTelemetry, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	// ── A: backend driver ───────────────────────────────────
	driver, err := newBackendDriver(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init backend driver: %w", err)
	}
	backendReg := backend.NewRegistry()
	backendReg.Register(cfg.Backend.Kind, driver)
	log.Info().Str("kind", cfg.Backend.Kind).Msg("✅ backend driver initialized")

	// ── B: entity store ──────────────────────────────────────
	var storeOpts []store.Option
	if cfg.Redis.URL != "" {
		redisOpts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		storeOpts = append(storeOpts, store.WithRedisMirror(ctx, redis.NewClient(redisOpts)))
		log.Info().Msg("📡 change-event redis mirror enabled")
	}
	entityStore := store.New(driver, storeOpts...)
	log.Info().Msg("✅ entity store initialized")

	// ── C: embeddings client ─────────────────────────────────
	embedder, err := newEmbeddingDriver(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init embeddings client: %w", err)
	}
	embReg := embeddings.NewRegistry()
	embReg.Register(cfg.Embeddings.Provider, embedder)
	log.Info().Str("provider", cfg.Embeddings.Provider).Str("model", cfg.Embeddings.Model).Msg("✅ embeddings client initialized")

	// ── D: vector index ──────────────────────────────────────
	idx := vectorindex.New(entityStore, embedder, cfg.Index.SyncWaitMax)
	if err := idx.Start(ctx, cfg.Namespace.All); err != nil {
		return nil, fmt.Errorf("start vector index: %w", err)
	}
	log.Info().Strs("namespaces", cfg.Namespace.All).Msg("✅ vector index started")

	// ── F: token verifier, registered into the auth chain alongside
	// the API-key and service-account providers ─────────────────────
	authChain := registryauth.NewProviderChain()

	apiKeyProvider := registryauth.NewAPIKeyProvider()
	if apiKeyProvider.Enabled() {
		authChain.RegisterProvider(apiKeyProvider)
	}
	svcAcctProvider := registryauth.NewServiceAccountProvider(cfg.Namespace.All...)
	if svcAcctProvider.Enabled() {
		authChain.RegisterProvider(svcAcctProvider)
	}
	verifier := tokenverify.New(tokenverify.Config{
		Issuer:          cfg.OAuth.Issuer,
		JWKSURL:         cfg.OAuth.JWKSURL,
		Audiences:       cfg.OAuth.Audiences,
		ClockSkew:       cfg.OAuth.ClockSkew,
		GroupsClaimPath: cfg.OAuth.GroupsClaimPath,
	})
	if verifier.Enabled() {
		authChain.RegisterProvider(verifier)
	}
	log.Info().Strs("providers", authChain.ListProviders()).Msg("✅ auth provider chain assembled")

	// ── G: health supervisor ─────────────────────────────────
	sup := health.New(health.Config{
		Interval:           cfg.Health.Interval,
		Timeout:            cfg.Health.Timeout,
		ConcurrencyLimit:   cfg.Health.Concurrency,
		UnhealthyThreshold: cfg.Health.UnhealthyThreshold,
		HealthyThreshold:   cfg.Health.HealthyThreshold,
	}, entityStore)
	if err := sup.Start(ctx, cfg.Namespace.All); err != nil {
		return nil, fmt.Errorf("start health supervisor: %w", err)
	}
	log.Info().Msg("✅ health supervisor started")

	// ── H: core orchestrator ─────────────────────────────────
	core := orchestrator.New(orchestrator.Config{
		DefaultNamespace:  cfg.Namespace.Default,
		Namespaces:        cfg.Namespace.All,
		AdminGroupPattern: cfg.Scopes.AdminGroupPattern,
		LegacyScopeFile:   cfg.Scopes.LegacyGroupFile,
	}, entityStore, idx, sup, embReg, backendReg)
	if err := core.Start(ctx); err != nil {
		return nil, fmt.Errorf("start core orchestrator: %w", err)
	}
	log.Info().Msg("🧠 core orchestrator started")

	h := handlers.New(core)
	router := api.NewRouter(cfg, h, authChain)

	return &Server{
		Handler:           router,
		Port:              cfg.Port,
		Core:              core,
		Store:             entityStore,
		AuthChain:         authChain,
		shutdownTelemetry: shutdownTelemetry,
	}, nil
}

func newBackendDriver(ctx context.Context, cfg *config.Config) (backend.Driver, error) {
	switch cfg.Backend.Kind {
	case "postgres":
		return backend.NewPostgres(ctx, cfg.Backend.Endpoint, cfg.Embeddings.Dimension)
	default:
		var opts []backend.EmbeddedOption
		if cfg.Backend.DataDir != "" {
			opts = append(opts, backend.WithSnapshotPath(cfg.Backend.DataDir))
		}
		return backend.NewEmbedded(opts...), nil
	}
}

func newEmbeddingDriver(ctx context.Context, cfg *config.Config) (contracts.EmbeddingDriver, error) {
	switch cfg.Embeddings.Provider {
	case "openai":
		return embeddings.NewOpenAIDriver(cfg.Embeddings.APIKey, cfg.Embeddings.Model), nil
	case "cohere":
		return embeddings.NewCohereDriver(cfg.Embeddings.APIKey, cfg.Embeddings.Model), nil
	case "ollama":
		return embeddings.NewOllamaDriver(cfg.Embeddings.Endpoint, cfg.Embeddings.Model), nil
	case "bedrock":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config for bedrock: %w", err)
		}
		client := bedrockruntime.NewFromConfig(awsCfg)
		return embeddings.NewBedrockDriver(client, cfg.Embeddings.Model), nil
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", cfg.Embeddings.Provider)
	}
}

// Shutdown stops the core orchestrator and flushes telemetry. Should be
// called on graceful shutdown.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.Core != nil {
		if err := s.Core.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("core orchestrator shutdown")
		}
	}
	if s.shutdownTelemetry != nil {
		return s.shutdownTelemetry(ctx)
	}
	return nil
}
