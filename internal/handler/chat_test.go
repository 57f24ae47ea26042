package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/docuchat/docuchat/internal/budget"
	"github.com/docuchat/docuchat/internal/config"
	"github.com/docuchat/docuchat/internal/model"
	"github.com/docuchat/docuchat/internal/service"
	"github.com/docuchat/docuchat/internal/store"
)

// newTestRouter wires the chat routes against a fake Ollama chat backend.
func newTestRouter(t *testing.T, reply string) http.Handler {
	t.Helper()

	chatServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
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
				"prompt_eval_count": 7,
				"eval_count":        3,
			})
			return
		}
		flusher := w.(http.Flusher)
		for _, part := range strings.SplitAfter(reply, " ") {
			fmt.Fprintf(w, `{"message":{"role":"assistant","content":%q},"done":false}`+"\n", part)
			flusher.Flush()
		}
		fmt.Fprint(w, `{"message":{"role":"assistant","content":""},"done":true,"done_reason":"stop"}`+"\n")
		flusher.Flush()
	}))
	t.Cleanup(chatServer.Close)

	cfg := config.AppConfig{
		Embedder: config.EmbedderConfig{
			Type:   config.EmbedderOllama,
			Ollama: &config.OllamaEmbedderConfig{BaseURL: chatServer.URL, Model: "embed", Dimension: 3},
		},
		VectorDB: config.VectorDBConfig{
			Type:   config.VectorDBMemory,
			Memory: &config.MemoryVectorConfig{Dimension: 3},
		},
		ChatModel: config.ChatModelConfig{
			Type:   config.ChatModelOllama,
			Ollama: &config.OllamaChatConfig{BaseURL: chatServer.URL, Model: "test-model"},
		},
		RetrievalTopK:        5,
		TokenLimit:           4000,
		SummarizeTargetRatio: 0.8,
		KeepRecentMessages:   4,
		TokenCounter:         budget.CounterHeuristic,
	}

	orchestrator := service.NewOrchestrator(context.Background(), cfg, store.NewMemoryStore(), service.Timeouts{
		Embed: 5 * time.Second, Search: 5 * time.Second, Generate: 10 * time.Second,
	}, zap.NewNop())
	t.Cleanup(func() { orchestrator.Close() })

	chatHandler := NewChatHandler(orchestrator, zap.NewNop())
	conversationHandler := NewConversationHandler(orchestrator, zap.NewNop())
	healthHandler := NewHealthHandler(orchestrator)

	r := chi.NewRouter()
	r.Route("/chat", func(r chi.Router) {
		r.Post("/", chatHandler.Chat)
		r.Get("/health", healthHandler.ChatHealth)
		r.Get("/debug", chatHandler.Debug)
		r.Post("/config", chatHandler.Configure)
		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", conversationHandler.Create)
			r.Get("/", conversationHandler.List)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", conversationHandler.Get)
				r.Delete("/", conversationHandler.Delete)
			})
		})
	})
	return r
}

func TestChatEndpoint(t *testing.T) {
	router := newTestRouter(t, "hello from the model")

	body := `{"message":"hi there","use_rag":false}`
	req := httptest.NewRequest(http.MethodPost, "/chat/", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp model.ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "hello from the model", resp.Message)
	assert.NotEmpty(t, resp.ConversationID)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 10, resp.Usage.TotalTokens)
}

func TestChatEndpointValidation(t *testing.T) {
	router := newTestRouter(t, "unused")

	tests := []struct {
		name string
		body string
	}{
		{"empty message", `{"message":""}`},
		{"malformed json", `{"message":`},
		{"bad conversation id", `{"message":"hi","conversation_id":"not-a-uuid"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/chat/", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestChatEndpointUnknownConversation(t *testing.T) {
	router := newTestRouter(t, "unused")

	body := `{"message":"hi","conversation_id":"00000000-0000-0000-0000-000000000000"}`
	req := httptest.NewRequest(http.MethodPost, "/chat/", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatEndpointSSEFraming(t *testing.T) {
	router := newTestRouter(t, "alpha beta")

	body := `{"message":"hi","use_rag":false,"stream":true}`
	req := httptest.NewRequest(http.MethodPost, "/chat/", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := strings.Split(strings.TrimSuffix(rec.Body.String(), "\n\n"), "\n\n")
	require.GreaterOrEqual(t, len(events), 2)
	for _, e := range events {
		assert.True(t, strings.HasPrefix(e, "data: "), "event %q lacks data prefix", e)
	}
	assert.Equal(t, "data: [DONE]", events[len(events)-1])

	var text strings.Builder
	for _, e := range events[:len(events)-1] {
		text.WriteString(strings.TrimPrefix(e, "data: "))
	}
	assert.Equal(t, "alpha beta", text.String())
}

func TestConversationEndpoints(t *testing.T) {
	router := newTestRouter(t, "unused")

	// Create
	req := httptest.NewRequest(http.MethodPost, "/chat/conversations", strings.NewReader(`{"title":"my notes"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var info model.ConversationInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "my notes", info.Title)

	// List
	req = httptest.NewRequest(http.MethodGet, "/chat/conversations", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var list model.ConversationListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Total)

	// Get
	req = httptest.NewRequest(http.MethodGet, "/chat/conversations/"+info.ID, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// Get unknown
	req = httptest.NewRequest(http.MethodGet, "/chat/conversations/00000000-0000-0000-0000-000000000000", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Delete, twice
	for i := 0; i < 2; i++ {
		req = httptest.NewRequest(http.MethodDelete, "/chat/conversations/"+info.ID, nil)
		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestChatHealthEndpoint(t *testing.T) {
	router := newTestRouter(t, "unused")

	req := httptest.NewRequest(http.MethodGet, "/chat/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var health model.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ready", health.Status)
	assert.Equal(t, "full", health.Strategy)
	assert.Equal(t, "memory", health.VectorDB)
}

func TestDebugEndpoint(t *testing.T) {
	router := newTestRouter(t, "unused")

	req := httptest.NewRequest(http.MethodGet, "/chat/debug", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var debug map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &debug))
	assert.Equal(t, "full", debug["strategy"])
	assert.Equal(t, "ollama", debug["chat_model_type"])
}
