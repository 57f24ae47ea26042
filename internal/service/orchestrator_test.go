package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/docuchat/docuchat/internal/budget"
	"github.com/docuchat/docuchat/internal/config"
	"github.com/docuchat/docuchat/internal/model"
	"github.com/docuchat/docuchat/internal/store"
)

// startChatServer fakes an Ollama chat backend. It answers both streaming
// and non-streaming requests with the given reply, split into word deltas
// when streaming.
func startChatServer(t *testing.T, reply string, streamDelay time.Duration) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Stream bool `json:"stream"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		if !req.Stream {
			json.NewEncoder(w).Encode(map[string]any{
				"model":             "test-model",
				"message":           map[string]string{"role": "assistant", "content": reply},
				"done":              true,
				"done_reason":       "stop",
				"prompt_eval_count": 10,
				"eval_count":        5,
			})
			return
		}

		flusher := w.(http.Flusher)
		half := len(reply) / 2
		for _, part := range []string{reply[:half], reply[half:]} {
			fmt.Fprintf(w, `{"message":{"role":"assistant","content":%q},"done":false}`+"\n", part)
			flusher.Flush()
			time.Sleep(streamDelay)
		}
		fmt.Fprint(w, `{"message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","prompt_eval_count":10,"eval_count":5}`+"\n")
		flusher.Flush()
	}))
	t.Cleanup(server.Close)
	return server
}

func baseConfig(chatURL string) config.AppConfig {
	return config.AppConfig{
		Embedder: config.EmbedderConfig{
			Type:   config.EmbedderOllama,
			Ollama: &config.OllamaEmbedderConfig{BaseURL: chatURL, Model: "embed", Dimension: 3},
		},
		VectorDB: config.VectorDBConfig{
			Type:   config.VectorDBMemory,
			Memory: &config.MemoryVectorConfig{Dimension: 3},
		},
		ChatModel: config.ChatModelConfig{
			Type:   config.ChatModelOllama,
			Ollama: &config.OllamaChatConfig{BaseURL: chatURL, Model: "test-model"},
		},
		RetrievalTopK:        5,
		RetrievalThreshold:   0,
		TokenLimit:           4000,
		SummarizeTargetRatio: 0.8,
		KeepRecentMessages:   4,
		TokenCounter:         budget.CounterHeuristic,
	}
}

func testTimeouts() Timeouts {
	return Timeouts{Embed: 5 * time.Second, Search: 5 * time.Second, Generate: 10 * time.Second}
}

func newTestOrchestrator(t *testing.T, cfg config.AppConfig) *Orchestrator {
	t.Helper()
	o := NewOrchestrator(context.Background(), cfg, store.NewMemoryStore(), testTimeouts(), zap.NewNop())
	t.Cleanup(func() { o.Close() })
	return o
}

func boolPtr(b bool) *bool { return &b }
func intPtr(i int) *int    { return &i }

func TestChatCreatesConversationAndAppendsTurn(t *testing.T) {
	server := startChatServer(t, "The answer is 42.", 0)
	o := newTestOrchestrator(t, baseConfig(server.URL))

	resp, err := o.Chat(context.Background(), &model.ChatRequest{
		Message: "What is the answer?",
		UseRAG:  boolPtr(false),
	})
	require.NoError(t, err)
	assert.Equal(t, "The answer is 42.", resp.Message)
	assert.NotEmpty(t, resp.ConversationID)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
	assert.False(t, resp.Degraded)

	conv, err := o.GetConversation(context.Background(), resp.ConversationID)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, model.RoleUser, conv.Messages[0].Role)
	assert.Equal(t, model.RoleAssistant, conv.Messages[1].Role)
	assert.Equal(t, conv.TokenTotal, conv.Messages[0].TokenCount+conv.Messages[1].TokenCount)
}

func TestChatContinuesExistingConversation(t *testing.T) {
	server := startChatServer(t, "reply", 0)
	o := newTestOrchestrator(t, baseConfig(server.URL))

	first, err := o.Chat(context.Background(), &model.ChatRequest{Message: "first", UseRAG: boolPtr(false)})
	require.NoError(t, err)

	second, err := o.Chat(context.Background(), &model.ChatRequest{
		Message:        "second",
		ConversationID: first.ConversationID,
		UseRAG:         boolPtr(false),
	})
	require.NoError(t, err)
	assert.Equal(t, first.ConversationID, second.ConversationID)

	conv, err := o.GetConversation(context.Background(), first.ConversationID)
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 4)
}

func TestChatUnknownConversation(t *testing.T) {
	server := startChatServer(t, "reply", 0)
	o := newTestOrchestrator(t, baseConfig(server.URL))

	_, err := o.Chat(context.Background(), &model.ChatRequest{
		Message:        "hello",
		ConversationID: "00000000-0000-0000-0000-000000000000",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrConversationNotFound))
}

func TestPipelineFallsBackToBaseline(t *testing.T) {
	server := startChatServer(t, "still works", 0)
	cfg := baseConfig(server.URL)
	cfg.VectorDB = config.VectorDBConfig{Type: "broken-backend"}

	o := newTestOrchestrator(t, cfg)

	health := o.Health()
	assert.Equal(t, StrategyBaseline, health.Strategy)
	assert.Equal(t, "ready", health.Status)
	assert.NotEmpty(t, health.MissingComponents)

	// Chat still succeeds, silently without retrieval.
	resp, err := o.Chat(context.Background(), &model.ChatRequest{Message: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "still works", resp.Message)
	assert.Empty(t, resp.RetrievedChunks)
	assert.False(t, resp.Degraded)
}

func TestChatDegradesWhenRetrievalFails(t *testing.T) {
	chatServer := startChatServer(t, "answer without context", 0)

	// The embedder endpoint answers 404, a permanent failure, so retrieval
	// errors on every request while pipeline construction succeeds.
	embedServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(embedServer.Close)

	cfg := baseConfig(chatServer.URL)
	cfg.Embedder.Ollama.BaseURL = embedServer.URL

	o := newTestOrchestrator(t, cfg)
	require.Equal(t, StrategyFull, o.Health().Strategy)

	resp, err := o.Chat(context.Background(), &model.ChatRequest{Message: "hello"})
	require.NoError(t, err, "retrieval failure must degrade, not fail")
	assert.True(t, resp.Degraded)
	assert.Empty(t, resp.RetrievedChunks)
	assert.Equal(t, "answer without context", resp.Message)
}

func TestChatStreamForwardsDeltas(t *testing.T) {
	server := startChatServer(t, "streamed answer", 0)
	o := newTestOrchestrator(t, baseConfig(server.URL))

	var deltas []string
	resp, err := o.ChatStream(context.Background(), &model.ChatRequest{
		Message: "hello",
		UseRAG:  boolPtr(false),
	}, func(delta string) error {
		deltas = append(deltas, delta)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "streamed answer", resp.Message)
	assert.Len(t, deltas, 2)

	conv, err := o.GetConversation(context.Background(), resp.ConversationID)
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 2)
}

func TestStreamCancellationLeavesNoAssistantMessage(t *testing.T) {
	server := startChatServer(t, "a very long streamed answer", 100*time.Millisecond)
	o := newTestOrchestrator(t, baseConfig(server.URL))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var conversationID string
	first, err := o.Chat(context.Background(), &model.ChatRequest{Message: "warm up", UseRAG: boolPtr(false)})
	require.NoError(t, err)
	conversationID = first.ConversationID

	_, err = o.ChatStream(ctx, &model.ChatRequest{
		Message:        "tell me everything",
		ConversationID: conversationID,
		UseRAG:         boolPtr(false),
	}, func(delta string) error {
		cancel()
		return nil
	})
	require.Error(t, err)

	conv, err := o.GetConversation(context.Background(), conversationID)
	require.NoError(t, err)
	// Two messages from the warm-up turn plus the cancelled turn's user
	// message; no partial assistant message.
	require.Len(t, conv.Messages, 3)
	assert.Equal(t, model.RoleUser, conv.Messages[2].Role)
}

func TestChatBudgetErrorSurfaces(t *testing.T) {
	server := startChatServer(t, "reply", 0)
	o := newTestOrchestrator(t, baseConfig(server.URL))

	// A 10 token limit cannot hold a 30 token message.
	_, err := o.Chat(context.Background(), &model.ChatRequest{
		Message:    "this message is one hundred and twenty characters long so it cannot possibly fit inside a ten token conversation toy limit",
		UseRAG:     boolPtr(false),
		TokenLimit: intPtr(10),
	})
	require.Error(t, err)

	var budgetErr *budget.BudgetError
	assert.True(t, errors.As(err, &budgetErr))
}

func TestReconfigureSwapsPipelineAtomically(t *testing.T) {
	serverA := startChatServer(t, "from pipeline A", 0)
	serverB := startChatServer(t, "from pipeline B", 0)

	o := newTestOrchestrator(t, baseConfig(serverA.URL))

	resp, err := o.Chat(context.Background(), &model.ChatRequest{Message: "hi", UseRAG: boolPtr(false)})
	require.NoError(t, err)
	assert.Equal(t, "from pipeline A", resp.Message)

	_, err = o.Reconfigure(context.Background(), baseConfig(serverB.URL))
	require.NoError(t, err)

	resp, err = o.Chat(context.Background(), &model.ChatRequest{Message: "hi again", UseRAG: boolPtr(false)})
	require.NoError(t, err)
	assert.Equal(t, "from pipeline B", resp.Message)
}

func TestReconfigureRejectsUnusableConfig(t *testing.T) {
	server := startChatServer(t, "original", 0)
	o := newTestOrchestrator(t, baseConfig(server.URL))

	bad := baseConfig(server.URL)
	bad.ChatModel = config.ChatModelConfig{Type: "nonexistent"}

	_, err := o.Reconfigure(context.Background(), bad)
	require.Error(t, err)

	var cfgErr *config.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))

	// The previous pipeline keeps serving.
	resp, err := o.Chat(context.Background(), &model.ChatRequest{Message: "hi", UseRAG: boolPtr(false)})
	require.NoError(t, err)
	assert.Equal(t, "original", resp.Message)
}

func TestReconfigureConcurrentWithChat(t *testing.T) {
	serverA := startChatServer(t, "from pipeline A", 0)
	serverB := startChatServer(t, "from pipeline B", 0)

	o := newTestOrchestrator(t, baseConfig(serverA.URL))

	// Run under the race detector: chat turns read configuration through
	// the pipeline handle while reconfiguration swaps it.
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		url := serverA.URL
		if i%2 == 1 {
			url = serverB.URL
		}
		wg.Add(2)
		go func() {
			defer wg.Done()
			resp, err := o.Chat(context.Background(), &model.ChatRequest{Message: "hi", UseRAG: boolPtr(false)})
			if assert.NoError(t, err) {
				conv, err := o.GetConversation(context.Background(), resp.ConversationID)
				if assert.NoError(t, err) {
					assert.Equal(t, 4000, conv.TokenLimit)
				}
			}
		}()
		go func() {
			defer wg.Done()
			_, err := o.Reconfigure(context.Background(), baseConfig(url))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}

func TestListAndDeleteConversations(t *testing.T) {
	server := startChatServer(t, "reply", 0)
	o := newTestOrchestrator(t, baseConfig(server.URL))

	conv, err := o.CreateConversation(context.Background(), &model.CreateConversationRequest{
		UserID: "u1",
		Title:  "budget review",
	})
	require.NoError(t, err)

	_, err = o.CreateConversation(context.Background(), &model.CreateConversationRequest{UserID: "u2"})
	require.NoError(t, err)

	mine, err := o.ListConversations(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "budget review", mine[0].Title)

	all, err := o.ListConversations(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, o.DeleteConversation(context.Background(), conv.ID))
	require.NoError(t, o.DeleteConversation(context.Background(), conv.ID))

	_, err = o.GetConversation(context.Background(), conv.ID)
	assert.True(t, errors.Is(err, store.ErrConversationNotFound))
}

func TestDeriveTitle(t *testing.T) {
	assert.Equal(t, "hello", deriveTitle("  hello  "))
	assert.Equal(t, "New conversation", deriveTitle("   "))

	long := strings.Repeat("x", 60)
	assert.Equal(t, long[:50], deriveTitle(long))

	// Truncation never splits a multi-byte rune.
	multibyte := strings.Repeat("世界", 20)
	title := deriveTitle(multibyte)
	assert.True(t, utf8.ValidString(title))
	assert.LessOrEqual(t, len(title), 50)
}
