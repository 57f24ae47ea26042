package config

import (
	"fmt"
)

// Backend type tags. Factories dispatch on these discriminants; business
// logic never branches on them.
const (
	EmbedderOpenAI = "openai"
	EmbedderOllama = "ollama"

	VectorDBMemory   = "memory"
	VectorDBPgvector = "pgvector"
	VectorDBSQLite   = "sqlite"

	ChatModelOpenAI    = "openai"
	ChatModelAnthropic = "anthropic"
	ChatModelOllama    = "ollama"
)

// ConfigurationError reports missing or invalid backend wiring. It is raised
// at pipeline construction or reconfiguration time, never deferred to request
// time.
type ConfigurationError struct {
	Component string
	Reason    string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error in %s: %s", e.Component, e.Reason)
}

// NewConfigurationError builds a ConfigurationError for a component.
func NewConfigurationError(component, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Component: component, Reason: fmt.Sprintf(format, args...)}
}

// OpenAIEmbedderConfig configures the OpenAI embedding backend.
type OpenAIEmbedderConfig struct {
	APIKey string `json:"api_key"`
	Model  string `json:"model"`
}

// OllamaEmbedderConfig configures the local Ollama embedding backend.
type OllamaEmbedderConfig struct {
	BaseURL   string `json:"base_url"`
	Model     string `json:"model"`
	Dimension int    `json:"dimension"`
}

// EmbedderConfig is the discriminated-union embedder configuration.
type EmbedderConfig struct {
	Type   string                `json:"type"`
	OpenAI *OpenAIEmbedderConfig `json:"openai,omitempty"`
	Ollama *OllamaEmbedderConfig `json:"ollama,omitempty"`
}

// PgvectorConfig configures the Postgres/pgvector vector store backend.
type PgvectorConfig struct {
	DSN       string `json:"dsn"`
	Table     string `json:"table"`
	Dimension int    `json:"dimension"`
}

// SQLiteConfig configures the SQLite vector store backend.
type SQLiteConfig struct {
	Path      string `json:"path"`
	Dimension int    `json:"dimension"`
}

// MemoryVectorConfig configures the in-memory vector store backend.
type MemoryVectorConfig struct {
	Dimension int `json:"dimension"`
}

// VectorDBConfig is the discriminated-union vector store configuration.
type VectorDBConfig struct {
	Type     string              `json:"type"`
	Memory   *MemoryVectorConfig `json:"memory,omitempty"`
	Pgvector *PgvectorConfig     `json:"pgvector,omitempty"`
	SQLite   *SQLiteConfig       `json:"sqlite,omitempty"`
}

// OpenAIChatConfig configures the OpenAI chat backend.
type OpenAIChatConfig struct {
	APIKey string `json:"api_key"`
	Model  string `json:"model"`
}

// AnthropicChatConfig configures the Anthropic chat backend.
type AnthropicChatConfig struct {
	APIKey string `json:"api_key"`
	Model  string `json:"model"`
}

// OllamaChatConfig configures the local Ollama chat backend.
type OllamaChatConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
}

// ChatModelConfig is the discriminated-union chat model configuration.
type ChatModelConfig struct {
	Type      string               `json:"type"`
	OpenAI    *OpenAIChatConfig    `json:"openai,omitempty"`
	Anthropic *AnthropicChatConfig `json:"anthropic,omitempty"`
	Ollama    *OllamaChatConfig    `json:"ollama,omitempty"`
}

// AppConfig is the resolved pipeline configuration supplied by the
// configuration collaborator. The core consumes it; it never persists it.
type AppConfig struct {
	Embedder  EmbedderConfig  `json:"embedder"`
	VectorDB  VectorDBConfig  `json:"vector_db"`
	ChatModel ChatModelConfig `json:"chat_model"`

	RetrievalTopK      int     `json:"retrieval_top_k"`
	RetrievalThreshold float64 `json:"retrieval_threshold"`

	TokenLimit           int     `json:"token_limit"`
	SummarizeTargetRatio float64 `json:"summarize_target_ratio"`
	KeepRecentMessages   int     `json:"keep_recent_messages"`
	TokenCounter         string  `json:"token_counter"`
}

// Resolve assembles the typed AppConfig from the flat environment config.
func (c *Config) Resolve() AppConfig {
	return AppConfig{
		Embedder: EmbedderConfig{
			Type: c.EmbedderType,
			OpenAI: &OpenAIEmbedderConfig{
				APIKey: c.OpenAIAPIKey,
				Model:  c.OpenAIEmbeddingModel,
			},
			Ollama: &OllamaEmbedderConfig{
				BaseURL:   c.OllamaBaseURL,
				Model:     c.OllamaEmbedModel,
				Dimension: c.OllamaEmbedDim,
			},
		},
		VectorDB: VectorDBConfig{
			Type:   c.VectorDBType,
			Memory: &MemoryVectorConfig{Dimension: c.VectorDimension},
			Pgvector: &PgvectorConfig{
				DSN:       c.PostgresDSN,
				Table:     c.PgvectorTable,
				Dimension: c.VectorDimension,
			},
			SQLite: &SQLiteConfig{
				Path:      c.SQLitePath,
				Dimension: c.VectorDimension,
			},
		},
		ChatModel: ChatModelConfig{
			Type:      c.ChatModelType,
			OpenAI:    &OpenAIChatConfig{APIKey: c.OpenAIAPIKey, Model: c.OpenAIChatModel},
			Anthropic: &AnthropicChatConfig{APIKey: c.AnthropicAPIKey, Model: c.AnthropicModel},
			Ollama:    &OllamaChatConfig{BaseURL: c.OllamaBaseURL, Model: c.OllamaChatModel},
		},
		RetrievalTopK:        c.RetrievalTopK,
		RetrievalThreshold:   c.RetrievalThreshold,
		TokenLimit:           c.TokenLimit,
		SummarizeTargetRatio: c.SummarizeTargetRatio,
		KeepRecentMessages:   c.KeepRecentMessages,
		TokenCounter:         c.TokenCounter,
	}
}
