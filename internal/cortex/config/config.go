// Package config loads cortex configuration from environment variables
// (optionally overlaid from a .env file), matching the env-var pattern of
// the reference stack's internal/config/loader.go (see DESIGN.md for why
// this pattern was chosen over the competing YAML+pterm one).
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"manifold/internal/cortex/model"
)

// Config is the fully-resolved runtime configuration.
type Config struct {
	Host string
	Port string

	DatabaseURL string
	CORSOrigins []string

	CacheDir        string
	VectorStorePath string
	ModelDir        string
	CacheBackend    string // "file" (default) or "redis"
	RedisAddr       string

	EmbeddingProvider string // "cloud" or "local"
	ChatProvider      string // "cloud" or "local"

	AnthropicAPIKey string
	OpenAIAPIKey    string
	GeminiAPIKey    string
	EmbeddingModel  string
	ChatModel       string

	UMAPNeighbors int
	UMAPMinDist   float64
	NClusters     int

	GateEnabled   bool
	GateThreshold float64

	IngestConcurrency int

	S3Bucket string

	OTLPEndpoint string

	SpecialistsConfigPath string

	EmbeddingDim int
}

// Load reads configuration from the environment, overlaying a .env file if
// present (godotenv.Overload semantics: .env values win over pre-existing
// process environment, matching loader.go). Defaults are applied after.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{
		Host:                  getEnv("HOST", "0.0.0.0"),
		Port:                  getEnv("PORT", "8080"),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		CORSOrigins:           splitCSV(getEnv("CORS_ORIGINS", "*")),
		CacheDir:              getEnv("CACHE_DIR", "./data/cache"),
		VectorStorePath:       getEnv("VECTOR_STORE_PATH", "./data/vector_store.json"),
		ModelDir:              getEnv("MODEL_DIR", "./data/models"),
		CacheBackend:          getEnv("CACHE_BACKEND", "file"),
		RedisAddr:             getEnv("REDIS_ADDR", "localhost:6379"),
		EmbeddingProvider:     getEnv("EMBEDDING_PROVIDER", ""),
		ChatProvider:          getEnv("CHAT_PROVIDER", ""),
		AnthropicAPIKey:       getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:          getEnv("OPENAI_API_KEY", ""),
		GeminiAPIKey:          getEnv("GEMINI_API_KEY", ""),
		EmbeddingModel:        getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		ChatModel:             getEnv("CHAT_MODEL", "gpt-4o-mini"),
		UMAPNeighbors:         getEnvInt("UMAP_N_NEIGHBORS", 15),
		UMAPMinDist:           getEnvFloat("UMAP_MIN_DIST", 0.1),
		NClusters:             getEnvInt("N_CLUSTERS", 5),
		GateEnabled:           getEnvBool("GATE_ENABLED", false),
		GateThreshold:         getEnvFloat("GATE_THRESHOLD", 0.5),
		IngestConcurrency:     getEnvInt("INGEST_CONCURRENCY", 3),
		S3Bucket:              getEnv("S3_BUCKET", ""),
		OTLPEndpoint:          getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		SpecialistsConfigPath: getEnv("SPECIALISTS_CONFIG_PATH", ""),
		EmbeddingDim:          getEnvInt("EMBED_DIMENSION", model.EmbeddingDim),
	}

	// Auto-detect provider routing from credential presence when unset.
	if cfg.EmbeddingProvider == "" {
		if cfg.OpenAIAPIKey != "" || cfg.GeminiAPIKey != "" {
			cfg.EmbeddingProvider = "cloud"
		} else {
			cfg.EmbeddingProvider = "local"
		}
	}
	if cfg.ChatProvider == "" {
		if cfg.AnthropicAPIKey != "" || cfg.OpenAIAPIKey != "" || cfg.GeminiAPIKey != "" {
			cfg.ChatProvider = "cloud"
		} else {
			cfg.ChatProvider = "local"
		}
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
