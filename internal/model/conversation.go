package model

import (
	"time"
)

// Conversation represents a conversation thread together with its token
// accounting. TokenTotal is always the sum of TokenCount over Messages, and
// after every mutation performed through the budget manager
// TokenTotal <= TokenLimit holds.
type Conversation struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id,omitempty"`
	Title        string    `json:"title"`
	Messages     []Message `json:"messages"`
	TokenLimit   int       `json:"token_limit"`
	TokenTotal   int       `json:"token_total"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// RecountTokens recomputes TokenTotal from the message list.
func (c *Conversation) RecountTokens() {
	total := 0
	for _, m := range c.Messages {
		total += m.TokenCount
	}
	c.TokenTotal = total
}

// ConversationInfo is the wire representation of conversation metadata,
// returned by the create and list endpoints.
type ConversationInfo struct {
	ID           string    `json:"conversation_id"`
	UserID       string    `json:"user_id,omitempty"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
	TokenLimit   int       `json:"token_limit"`
	TokenTotal   int       `json:"token_total"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Info returns the metadata view of the conversation.
func (c *Conversation) Info() ConversationInfo {
	return ConversationInfo{
		ID:           c.ID,
		UserID:       c.UserID,
		Title:        c.Title,
		MessageCount: len(c.Messages),
		TokenLimit:   c.TokenLimit,
		TokenTotal:   c.TokenTotal,
		CreatedAt:    c.CreatedAt,
		LastActivity: c.LastActivity,
	}
}
