package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/docuchat/docuchat/internal/model"
)

// MemoryStore keeps conversations in process memory. It is the default
// backend and the one integration tests run against.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*model.Conversation
}

// NewMemoryStore creates an empty in-memory conversation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{conversations: make(map[string]*model.Conversation)}
}

func (s *MemoryStore) Create(ctx context.Context, conv *model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.conversations[conv.ID]; exists {
		return fmt.Errorf("conversation %s already exists", conv.ID)
	}
	s.conversations[conv.ID] = cloneConversation(conv)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrConversationNotFound)
	}
	return cloneConversation(conv), nil
}

func (s *MemoryStore) Put(ctx context.Context, conv *model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[conv.ID]; !ok {
		return fmt.Errorf("conversation %s: %w", conv.ID, ErrConversationNotFound)
	}
	s.conversations[conv.ID] = cloneConversation(conv)
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]model.ConversationInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]model.ConversationInfo, 0, len(s.conversations))
	for _, conv := range s.conversations {
		infos = append(infos, conv.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].LastActivity.Equal(infos[j].LastActivity) {
			return infos[i].LastActivity.After(infos[j].LastActivity)
		}
		return infos[i].ID < infos[j].ID
	})
	return infos, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.conversations, id)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// cloneConversation copies the conversation so callers never share message
// slices with the store.
func cloneConversation(conv *model.Conversation) *model.Conversation {
	out := *conv
	out.Messages = make([]model.Message, len(conv.Messages))
	copy(out.Messages, conv.Messages)
	return &out
}
