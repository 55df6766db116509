// Package config builds the single typed Config record the rest of the
// system depends on. FromEnv reads it from environment variables through a
// small prefixed env accessor; cmd/memoryd layers spf13/viper (a config file
// and command-line flags) on top of that.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EmbeddingProvider is a closed variant over the supported embedding
// providers: a tagged enum, not a bare string.
type EmbeddingProvider string

const (
	ProviderIntelli EmbeddingProvider = "intelli"
	ProviderAzure   EmbeddingProvider = "azure"
	ProviderNomic   EmbeddingProvider = "nomic"
)

// DetectEmbeddingProvider parses the recognized provider names, defaulting
// to intelli for anything unset or unrecognized.
func DetectEmbeddingProvider(raw string) EmbeddingProvider {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ProviderAzure):
		return ProviderAzure
	case string(ProviderNomic):
		return ProviderNomic
	case string(ProviderIntelli):
		return ProviderIntelli
	default:
		return ProviderIntelli
	}
}

// Config is the fully resolved, typed configuration for the service. It is
// built once at startup (cmd/memoryd) from flags + environment + defaults;
// no component re-reads os.Getenv mid-request except the explicit
// provider-switch sites in the dedup and resolution paths.
type Config struct {
	// Graph database
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string

	// Dedup engine
	DedupEnabled           bool
	DedupThreshold         float64
	DedupAzureThreshold    float64
	DedupIntelliThreshold  float64
	DedupCandidateK        int
	DedupRunnerUpGap       float64

	// Embedding + LLM
	EmbeddingProvider  EmbeddingProvider
	EmbeddingDimension int
	OpenAIAPIKey       string
	OpenAIBaseURL      string
	AzureEmbeddingURL  string
	AzureTenantID      string
	AzureClientID      string
	AzureClientSecret  string
	LLMTimeout         time.Duration
	LLMMaxRetries      int

	// Pair-verification cache
	PairCacheMaxEntries int

	// Write pipeline
	ExtractionDrainTimeout time.Duration

	// Community builder; 0 disables the periodic rebuild loop.
	CommunityRebuildInterval time.Duration

	// Embedding memoization cache (optional)
	RedisURL        string
	EmbeddingCacheTTL time.Duration

	// Service metadata
	ServiceName string
	LogLevel    string
	LogFormat   string
	HTTPPort    int
	// RateLimit caps requests per second per client on the HTTP tool
	// surface; 0 disables limiting.
	RateLimit float64
}

// envLookup is the raw-env accessor; cmd/memoryd layers viper-resolved
// values on top at call sites that need flag/file precedence.
type envLookup struct{ prefix string }

func (e envLookup) key(k string) string {
	if e.prefix == "" {
		return k
	}
	return e.prefix + "_" + k
}

func (e envLookup) str(key, def string) string {
	if v := os.Getenv(e.key(key)); v != "" {
		return v
	}
	return def
}

func (e envLookup) i(key string, def int) int {
	if v := os.Getenv(e.key(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func (e envLookup) f(key string, def float64) float64 {
	if v := os.Getenv(e.key(key)); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return def
}

func (e envLookup) b(key string, def bool) bool {
	if v := os.Getenv(e.key(key)); v != "" {
		if n, err := strconv.ParseBool(v); err == nil {
			return n
		}
	}
	return def
}

func (e envLookup) d(key string, def time.Duration) time.Duration {
	if v := os.Getenv(e.key(key)); v != "" {
		if n, err := time.ParseDuration(v); err == nil {
			return n
		}
	}
	return def
}

// FromEnv loads Config directly from environment variables with sensible
// defaults, for use in tests and in any entrypoint that does not need
// viper's file/flag layering.
func FromEnv() Config {
	e := envLookup{}
	return Config{
		Neo4jURI:      e.str("NEO4J_URI", "bolt://localhost:7687"),
		Neo4jUser:     e.str("NEO4J_USER", "neo4j"),
		Neo4jPassword: e.str("NEO4J_PASSWORD", "password"),

		DedupEnabled:          e.b("DEDUP_ENABLED", true),
		DedupThreshold:        e.f("DEDUP_THRESHOLD", 0.75),
		DedupAzureThreshold:   e.f("DEDUP_AZURE_THRESHOLD", 0.55),
		DedupIntelliThreshold: e.f("DEDUP_INTELLI_THRESHOLD", 0.55),
		DedupCandidateK:       e.i("DEDUP_CANDIDATE_K", 5),
		DedupRunnerUpGap:      e.f("DEDUP_RUNNER_UP_GAP", 0.05),

		EmbeddingProvider:  DetectEmbeddingProvider(e.str("EMBEDDING_PROVIDER", "intelli")),
		EmbeddingDimension: e.i("EMBEDDING_DIMENSION", 1536),
		OpenAIAPIKey:       e.str("OPENAI_API_KEY", ""),
		OpenAIBaseURL:      e.str("OPENAI_BASE_URL", ""),
		AzureEmbeddingURL:  e.str("AZURE_EMBEDDING_URL", ""),
		AzureTenantID:      e.str("AZURE_TENANT_ID", ""),
		AzureClientID:      e.str("AZURE_CLIENT_ID", ""),
		AzureClientSecret:  e.str("AZURE_CLIENT_SECRET", ""),
		LLMTimeout:         time.Duration(e.i("LLM_TIMEOUT_MS", 30000)) * time.Millisecond,
		LLMMaxRetries:      e.i("LLM_MAX_RETRIES", 1),

		PairCacheMaxEntries: e.i("PAIR_CACHE_MAX_ENTRIES", 10000),

		ExtractionDrainTimeout: time.Duration(e.i("EXTRACTION_DRAIN_TIMEOUT_MS", 3000)) * time.Millisecond,

		CommunityRebuildInterval: e.d("COMMUNITY_REBUILD_INTERVAL", 0),

		RedisURL:          e.str("REDIS_URL", ""),
		EmbeddingCacheTTL: e.d("EMBEDDING_CACHE_TTL", 24*time.Hour),

		ServiceName: e.str("SERVICE_NAME", "memoryd"),
		LogLevel:    e.str("LOG_LEVEL", "info"),
		LogFormat:   e.str("LOG_FORMAT", "text"),
		HTTPPort:    e.i("PORT", 8080),
		RateLimit:   e.f("RATE_LIMIT", 0),
	}
}

// DedupThresholdFor returns the active provider's dedup threshold,
// independently of the other providers' thresholds.
func (c Config) DedupThresholdFor(provider EmbeddingProvider) float64 {
	switch provider {
	case ProviderAzure:
		return c.DedupAzureThreshold
	case ProviderIntelli:
		return c.DedupIntelliThreshold
	default:
		return c.DedupThreshold
	}
}

// Validate returns an error describing the first missing required field.
func (c Config) Validate() error {
	if c.Neo4jURI == "" {
		return fmt.Errorf("config: NEO4J_URI is required")
	}
	if c.EmbeddingDimension <= 0 {
		return fmt.Errorf("config: EMBEDDING_DIMENSION must be positive")
	}
	return nil
}
