// Package model defines data structures for the RAG chat platform.
package model

import (
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message represents a single conversation message. Messages are immutable
// once appended; summarization replaces a prefix of messages with a new
// synthetic message rather than editing any in place.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`

	// TokenCount is the approximate token count computed by the budget
	// counter at append time.
	TokenCount int `json:"token_count"`

	// Summary marks a synthetic message produced by history summarization.
	Summary bool `json:"summary,omitempty"`

	// LLM metadata, set on assistant messages only.
	Model      *string `json:"model,omitempty"`
	TokensIn   *int    `json:"tokens_in,omitempty"`
	TokensOut  *int    `json:"tokens_out,omitempty"`
	LatencyMs  *int64  `json:"latency_ms,omitempty"`
	StopReason *string `json:"stop_reason,omitempty"`
}
