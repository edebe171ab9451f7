package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// RetrievalConfig is the immutable feature configuration of the retrieval
// engine. It is loaded once at process start and passed explicitly; tests
// construct alternate values directly.
type RetrievalConfig struct {
	ModelSmall string
	ModelLarge string
	DimSmall   int
	DimLarge   int

	// AllowedVersions is applied when a request carries no versions filter.
	// Empty means no filter.
	AllowedVersions []string

	// VersionPriority orders translation codes for dedupe tie-breaks;
	// earlier entries win. Unknown codes rank last.
	VersionPriority []string

	UseRerank   bool
	UseMMR      bool
	MMRLambda   float64
	UseHybrid   bool
	HybridAlpha float64

	// PoolSize overrides the candidate fetch limit; 0 derives it from top_k.
	PoolSize int

	QueryCacheTTL time.Duration
}

// IngestConfig carries the embedding-pipeline tunables read from environment.
type IngestConfig struct {
	Sleep      time.Duration
	MaxRetries int
	Timeout    time.Duration
	BatchSize  int
}

// Config holds all application configuration.
type Config struct {
	APITitle   string
	APIVersion string
	APIPrefix  string
	Port       string

	CORSOrigins []string

	PostgresURI   string
	IVFFlatProbes int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// EmbeddingProvider selects the embedding backend: "openai" or "vertex".
	EmbeddingProvider string
	OpenAIAPIKey      string

	// Vertex AI settings (when EmbeddingProvider = "vertex").
	GCPProjectID string
	GCPLocation  string
	VertexModel  string

	Retrieval RetrievalConfig
	Ingest    IngestConfig
}

// Load reads configuration from the environment. It never fails; validation
// of contradictory settings happens in Validate.
func Load() *Config {
	return &Config{
		APITitle:    getEnv("API_TITLE", "Bible RAG API"),
		APIVersion:  getEnv("API_VERSION", "1.0.0"),
		APIPrefix:   getEnv("API_PREFIX", "/api/v1"),
		Port:        getEnv("PORT", "8081"),
		CORSOrigins: splitCSV(getEnv("CORS_ORIGINS", "http://localhost:5173,http://localhost:3000")),

		PostgresURI:   getEnv("POSTGRES_URI", ""),
		IVFFlatProbes: getEnvInt("PG_IVFFLAT_PROBES", 10),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		EmbeddingProvider: getEnv("EMBEDDING_PROVIDER", "openai"),
		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),

		GCPProjectID: getEnv("GCP_PROJECT_ID", ""),
		GCPLocation:  getEnv("GCP_LOCATION", "us-central1"),
		VertexModel:  getEnv("VERTEX_MODEL", "gemini-embedding-001"),

		Retrieval: RetrievalConfig{
			ModelSmall:      getEnv("RAG_MODEL_SMALL", "text-embedding-3-small"),
			ModelLarge:      getEnv("RAG_MODEL_LARGE", "text-embedding-3-large"),
			DimSmall:        getEnvInt("RAG_DIM_SMALL", 1536),
			DimLarge:        getEnvInt("RAG_DIM_LARGE", 3072),
			AllowedVersions: splitCSV(getEnv("RAG_ALLOWED_VERSIONS", "")),
			VersionPriority: splitCSV(getEnv("RAG_VERSION_PRIORITY", "PT_NAA,PT_ARA,PT_NTLH,EN_KJV")),
			UseRerank:       getEnvBool("RAG_RERANK_LARGE", false),
			UseMMR:          getEnvBool("RAG_MMR", false),
			MMRLambda:       getEnvFloat("RAG_MMR_LAMBDA", 0.7),
			UseHybrid:       getEnvBool("RAG_HYBRID", false),
			HybridAlpha:     getEnvFloat("RAG_HYBRID_ALPHA", 0.7),
			PoolSize:        getEnvInt("RAG_RERANK_CANDIDATES", 0),
			QueryCacheTTL:   time.Duration(getEnvInt("RAG_QEMB_CACHE_TTL", 900)) * time.Second,
		},

		Ingest: IngestConfig{
			Sleep:      time.Duration(getEnvFloat("EMBEDDING_SLEEP", 0) * float64(time.Second)),
			MaxRetries: getEnvInt("EMBEDDING_MAX_RETRIES", 5),
			Timeout:    time.Duration(getEnvInt("EMBEDDING_TIMEOUT", 60)) * time.Second,
			BatchSize:  getEnvInt("EMBEDDING_BATCH_SIZE", 128),
		},
	}
}

// Validate rejects settings that must never reach the online path.
func (c *Config) Validate() error {
	switch c.EmbeddingProvider {
	case "openai", "vertex":
	default:
		return fmt.Errorf("unknown embedding provider %q", c.EmbeddingProvider)
	}
	if c.Retrieval.MMRLambda < 0 || c.Retrieval.MMRLambda > 1 {
		return fmt.Errorf("RAG_MMR_LAMBDA must be in [0,1], got %g", c.Retrieval.MMRLambda)
	}
	if c.Retrieval.HybridAlpha < 0 || c.Retrieval.HybridAlpha > 1 {
		return fmt.Errorf("RAG_HYBRID_ALPHA must be in [0,1], got %g", c.Retrieval.HybridAlpha)
	}
	if c.Retrieval.DimSmall <= 0 || c.Retrieval.DimLarge <= 0 {
		return fmt.Errorf("embedding dims must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err != nil {
			return defaultValue
		}
		return i
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return defaultValue
		}
		return f
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return defaultValue
		}
		return b
	}
	return defaultValue
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
