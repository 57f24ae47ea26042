package model

// ChatRequest is the request body for POST /chat/.
type ChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
	UserID         string `json:"user_id,omitempty"`

	// UseRAG enables document retrieval; defaults to true when omitted.
	UseRAG *bool `json:"use_rag,omitempty"`
	Stream bool  `json:"stream,omitempty"`

	// Per-request model overrides.
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`

	// Per-conversation budget overrides, applied when the request creates
	// the conversation.
	TokenLimit           *int     `json:"token_limit,omitempty"`
	SummarizeTargetRatio *float64 `json:"summarize_target_ratio,omitempty"`
}

// Usage reports token consumption for a single generation.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is the non-streaming response for POST /chat/.
type ChatResponse struct {
	Message         string         `json:"message"`
	ConversationID  string         `json:"conversation_id"`
	Usage           *Usage         `json:"usage,omitempty"`
	RetrievedChunks []SearchResult `json:"retrieved_chunks"`
	RetrievalTime   float64        `json:"retrieval_time"`
	GenerationTime  float64        `json:"generation_time"`
	TotalTime       float64        `json:"total_time"`

	// Degraded is set when retrieval failed and the answer was generated
	// without document context.
	Degraded bool `json:"degraded,omitempty"`
}

// CreateConversationRequest is the request body for POST /chat/conversations.
type CreateConversationRequest struct {
	UserID     string `json:"user_id,omitempty"`
	Title      string `json:"title,omitempty"`
	TokenLimit *int   `json:"token_limit,omitempty"`
}

// ConversationListResponse is the response for GET /chat/conversations.
type ConversationListResponse struct {
	Conversations []ConversationInfo `json:"conversations"`
	Total         int                `json:"total"`
}

// ConversationHistoryResponse is the response for GET /chat/conversations/{id}.
type ConversationHistoryResponse struct {
	Conversation ConversationInfo `json:"conversation"`
	Messages     []Message        `json:"messages"`
}

// HealthResponse is the response for GET /chat/health.
type HealthResponse struct {
	Status            string   `json:"status"` // ready | not_ready
	Strategy          string   `json:"strategy"`
	MissingComponents []string `json:"missing_components"`
	ChatModel         string   `json:"chat_model,omitempty"`
	Embedder          string   `json:"embedder,omitempty"`
	VectorDB          string   `json:"vector_db,omitempty"`
}
