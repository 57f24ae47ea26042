package store

import (
	"context"
	"errors"

	"github.com/docuchat/docuchat/internal/model"
)

// ErrConversationNotFound is returned when a conversation ID does not exist.
var ErrConversationNotFound = errors.New("conversation not found")

// ConversationStore persists conversations. Implementations must return
// ErrConversationNotFound (possibly wrapped) for unknown IDs.
type ConversationStore interface {
	// Create persists a new conversation.
	Create(ctx context.Context, conv *model.Conversation) error

	// Get returns a copy of the conversation with all messages.
	Get(ctx context.Context, id string) (*model.Conversation, error)

	// Put replaces the stored conversation.
	Put(ctx context.Context, conv *model.Conversation) error

	// List returns summaries of all conversations, most recent activity first.
	List(ctx context.Context) ([]model.ConversationInfo, error)

	// Delete removes a conversation. Deleting an unknown ID is not an error.
	Delete(ctx context.Context, id string) error

	// Close releases underlying resources.
	Close() error
}
