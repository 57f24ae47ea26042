// Package config provides environment configuration for the API server and
// the typed backend configuration consumed by the pipeline factories.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// JWT settings. An empty secret disables authentication.
	JWTSecret string

	// Backend selection
	EmbedderType  string
	VectorDBType  string
	ChatModelType string

	// OpenAI settings (chat + embeddings)
	OpenAIAPIKey         string
	OpenAIChatModel      string
	OpenAIEmbeddingModel string

	// Anthropic settings
	AnthropicAPIKey string
	AnthropicModel  string

	// Ollama settings (local chat + embeddings)
	OllamaBaseURL    string
	OllamaChatModel  string
	OllamaEmbedModel string
	OllamaEmbedDim   int

	// Postgres / pgvector settings
	PostgresDSN     string
	PgvectorTable   string
	VectorDimension int

	// SQLite settings
	SQLitePath string

	// NATS settings (conversation store)
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string
	StoreBackend string // memory | nats

	// Retrieval defaults
	RetrievalTopK      int
	RetrievalThreshold float64

	// Budget defaults
	TokenLimit           int
	SummarizeTargetRatio float64
	KeepRecentMessages   int
	TokenCounter         string // heuristic | tiktoken

	// External call timeouts
	EmbedTimeout    time.Duration
	SearchTimeout   time.Duration
	GenerateTimeout time.Duration

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", ""),

		// Backends
		EmbedderType:  getEnv("EMBEDDER_TYPE", "openai"),
		VectorDBType:  getEnv("VECTOR_DB_TYPE", "memory"),
		ChatModelType: getEnv("CHAT_MODEL_TYPE", "anthropic"),

		// OpenAI
		OpenAIAPIKey:         getEnv("OPENAI_API_KEY", ""),
		OpenAIChatModel:      getEnv("OPENAI_CHAT_MODEL", "gpt-4o"),
		OpenAIEmbeddingModel: getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),

		// Anthropic
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel:  getEnv("ANTHROPIC_MODEL", "claude-3-5-sonnet-20241022"),

		// Ollama
		OllamaBaseURL:    getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
		OllamaChatModel:  getEnv("OLLAMA_CHAT_MODEL", "llama3.2"),
		OllamaEmbedModel: getEnv("OLLAMA_EMBED_MODEL", "nomic-embed-text"),
		OllamaEmbedDim:   getIntEnv("OLLAMA_EMBED_DIM", 768),

		// Postgres
		PostgresDSN:     getEnv("POSTGRES_DSN", ""),
		PgvectorTable:   getEnv("PGVECTOR_TABLE", "chunks"),
		VectorDimension: getIntEnv("VECTOR_DIMENSION", 1536),

		// SQLite
		SQLitePath: getEnv("SQLITE_PATH", "docuchat.db"),

		// NATS
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),
		StoreBackend: getEnv("STORE_BACKEND", "memory"),

		// Retrieval
		RetrievalTopK:      getIntEnv("RETRIEVAL_TOP_K", 5),
		RetrievalThreshold: getFloatEnv("RETRIEVAL_THRESHOLD", 0.0),

		// Budget
		TokenLimit:           getIntEnv("TOKEN_LIMIT", 4000),
		SummarizeTargetRatio: getFloatEnv("SUMMARIZE_TARGET_RATIO", 0.8),
		KeepRecentMessages:   getIntEnv("KEEP_RECENT_MESSAGES", 4),
		TokenCounter:         getEnv("TOKEN_COUNTER", "heuristic"),

		// Timeouts
		EmbedTimeout:    getDurationEnv("EMBED_TIMEOUT", 30*time.Second),
		SearchTimeout:   getDurationEnv("SEARCH_TIMEOUT", 10*time.Second),
		GenerateTimeout: getDurationEnv("GENERATE_TIMEOUT", 120*time.Second),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
