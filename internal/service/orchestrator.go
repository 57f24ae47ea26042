package service

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docuchat/docuchat/internal/config"
	"github.com/docuchat/docuchat/internal/llm"
	"github.com/docuchat/docuchat/internal/model"
	"github.com/docuchat/docuchat/internal/store"
	"github.com/docuchat/docuchat/pkg/metrics"
)

const systemPrompt = "You are a helpful assistant. Answer using the provided document " +
	"context when it is relevant. If the context does not contain the answer, say so " +
	"instead of guessing."

// Timeouts bounds each external call made during a chat turn.
type Timeouts struct {
	Embed    time.Duration
	Search   time.Duration
	Generate time.Duration
}

// DeltaFunc receives streaming text deltas. Returning an error cancels the
// generation.
type DeltaFunc func(delta string) error

// Orchestrator coordinates conversations, retrieval, budgeting, and
// generation. The active pipeline is swapped atomically on reconfiguration;
// each request reads the handle exactly once.
type Orchestrator struct {
	pipeline atomic.Pointer[Pipeline]

	store    store.ConversationStore
	locks    *store.LockTable
	timeouts Timeouts
	logger   *zap.Logger
}

// NewOrchestrator builds the initial pipeline from cfg and wires the
// conversation store.
func NewOrchestrator(ctx context.Context, cfg config.AppConfig, convStore store.ConversationStore, timeouts Timeouts, logger *zap.Logger) *Orchestrator {
	o := &Orchestrator{
		store:    convStore,
		locks:    store.NewLockTable(),
		timeouts: timeouts,
		logger:   logger,
	}
	o.pipeline.Store(NewPipeline(ctx, cfg, logger))
	return o
}

// Reconfigure builds a pipeline for the new configuration and swaps it in.
// In-flight requests keep the pipeline they already loaded; its resources
// are released once the swap completes and they drain.
func (o *Orchestrator) Reconfigure(ctx context.Context, cfg config.AppConfig) (*Pipeline, error) {
	next := NewPipeline(ctx, cfg, o.logger)
	if next.chat == nil {
		next.Close()
		return nil, config.NewConfigurationError("chat_model", "new configuration has no usable chat model: %s",
			strings.Join(next.missing, "; "))
	}

	prev := o.pipeline.Swap(next)
	if prev != nil {
		prev.Close()
	}
	o.logger.Info("pipeline reconfigured",
		zap.String("strategy", next.Strategy()),
		zap.String("chat_model", cfg.ChatModel.Type),
		zap.String("vector_db", cfg.VectorDB.Type))
	return next, nil
}

// Pipeline returns the active pipeline handle.
func (o *Orchestrator) Pipeline() *Pipeline {
	return o.pipeline.Load()
}

// Health reports the active pipeline's health.
func (o *Orchestrator) Health() model.HealthResponse {
	return o.pipeline.Load().Health()
}

// Debug exposes the resolved configuration for the debug endpoint.
func (o *Orchestrator) Debug() map[string]any {
	p := o.pipeline.Load()
	return map[string]any{
		"strategy":               p.Strategy(),
		"embedder_type":          p.cfg.Embedder.Type,
		"vector_db_type":         p.cfg.VectorDB.Type,
		"chat_model_type":        p.cfg.ChatModel.Type,
		"token_counter":          p.budget.CounterName(),
		"retrieval_top_k":        p.cfg.RetrievalTopK,
		"retrieval_threshold":    p.cfg.RetrievalThreshold,
		"token_limit":            p.cfg.TokenLimit,
		"summarize_target_ratio": p.cfg.SummarizeTargetRatio,
		"missing_components":     p.missing,
	}
}

// Chat runs a full non-streaming chat turn.
func (o *Orchestrator) Chat(ctx context.Context, req *model.ChatRequest) (*model.ChatResponse, error) {
	return o.run(ctx, req, nil)
}

// ChatStream runs a chat turn, forwarding deltas to onDelta as they arrive.
// The returned response carries the final aggregated message and timings.
func (o *Orchestrator) ChatStream(ctx context.Context, req *model.ChatRequest, onDelta DeltaFunc) (*model.ChatResponse, error) {
	return o.run(ctx, req, onDelta)
}

func (o *Orchestrator) run(ctx context.Context, req *model.ChatRequest, onDelta DeltaFunc) (*model.ChatResponse, error) {
	start := time.Now()

	p := o.pipeline.Load()
	if p.chat == nil {
		return nil, config.NewConfigurationError("chat_model", "no chat model configured")
	}

	conv, err := o.resolveConversation(ctx, req, p.cfg.TokenLimit)
	if err != nil {
		return nil, err
	}

	resp := &model.ChatResponse{
		ConversationID:  conv.ID,
		RetrievedChunks: []model.SearchResult{},
	}

	// Retrieval. Failures degrade to context-free generation.
	useRAG := req.UseRAG == nil || *req.UseRAG
	var contextBlock string
	if useRAG && p.retrieval != nil {
		retrievalStart := time.Now()
		rctx, cancel := context.WithTimeout(ctx, o.timeouts.Embed+o.timeouts.Search)
		results, rerr := p.retrieval.Retrieve(rctx, req.Message, 0, 0, nil)
		cancel()
		resp.RetrievalTime = time.Since(retrievalStart).Seconds()
		if rerr != nil {
			o.logger.Warn("retrieval failed, continuing without context",
				zap.String("conversation_id", conv.ID),
				zap.Error(rerr))
			metrics.RetrievalDegradedTotal.Inc()
			resp.Degraded = true
		} else {
			resp.RetrievedChunks = results
			contextBlock = buildContextBlock(results)
		}
	}

	ratio := 0.0
	if req.SummarizeTargetRatio != nil {
		ratio = *req.SummarizeTargetRatio
	}

	// Append the user message and snapshot the prompt window under the
	// conversation lock. The lock is released before generation.
	userMsg := model.Message{
		ID:      uuid.Must(uuid.NewV7()).String(),
		Role:    model.RoleUser,
		Content: req.Message,
	}
	window, err := o.appendAndSnapshot(ctx, p, conv.ID, userMsg, ratio)
	if err != nil {
		return nil, err
	}

	// Generation.
	system := systemPrompt
	if contextBlock != "" {
		system += "\n\n" + contextBlock
	}
	genReq := &llm.CompletionRequest{
		System:   system,
		Messages: toChatMessages(window),
	}
	if req.Temperature != nil {
		genReq.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		genReq.MaxTokens = *req.MaxTokens
	}

	generationStart := time.Now()
	gctx, cancel := context.WithTimeout(ctx, o.timeouts.Generate)
	defer cancel()

	var completion *llm.CompletionResponse
	var genErr error
	if onDelta != nil {
		completion, genErr = p.chat.CompleteStream(gctx, genReq, func(delta string, index int) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return onDelta(delta)
		})
	} else {
		completion, genErr = p.chat.Complete(gctx, genReq)
	}
	resp.GenerationTime = time.Since(generationStart).Seconds()

	if genErr != nil {
		metrics.RecordGeneration(p.chat.Name(), "error", resp.GenerationTime, 0, 0)
		return nil, &GenerationError{Model: p.chat.Name(), Cause: genErr}
	}
	metrics.RecordGeneration(p.chat.Name(), "ok", resp.GenerationTime, completion.TokensIn, completion.TokensOut)

	// Persist the assistant message. The user message is already stored; a
	// failure here leaves the conversation consistent and resumable.
	assistantMsg := model.Message{
		ID:         uuid.Must(uuid.NewV7()).String(),
		Role:       model.RoleAssistant,
		Content:    completion.Content,
		Model:      &completion.Model,
		TokensIn:   &completion.TokensIn,
		TokensOut:  &completion.TokensOut,
		LatencyMs:  &completion.LatencyMs,
		StopReason: &completion.StopReason,
	}
	if _, err := o.appendAndSnapshot(ctx, p, conv.ID, assistantMsg, ratio); err != nil {
		return nil, err
	}

	resp.Message = completion.Content
	resp.Usage = &model.Usage{
		PromptTokens:     completion.TokensIn,
		CompletionTokens: completion.TokensOut,
		TotalTokens:      completion.TokensIn + completion.TokensOut,
	}
	resp.TotalTime = time.Since(start).Seconds()
	return resp, nil
}

// resolveConversation loads an existing conversation or creates a new one
// with the given default token limit.
func (o *Orchestrator) resolveConversation(ctx context.Context, req *model.ChatRequest, tokenLimit int) (*model.Conversation, error) {
	if req.ConversationID != "" {
		return o.store.Get(ctx, req.ConversationID)
	}

	now := time.Now().UTC()
	conv := &model.Conversation{
		ID:           uuid.Must(uuid.NewV7()).String(),
		UserID:       req.UserID,
		Title:        deriveTitle(req.Message),
		Messages:     []model.Message{},
		TokenLimit:   tokenLimit,
		CreatedAt:    now,
		LastActivity: now,
	}
	if req.TokenLimit != nil && *req.TokenLimit > 0 {
		conv.TokenLimit = *req.TokenLimit
	}
	if err := o.store.Create(ctx, conv); err != nil {
		return nil, err
	}
	metrics.ConversationsTotal.Inc()
	return conv, nil
}

// CreateConversation creates an empty conversation for the conversations API.
func (o *Orchestrator) CreateConversation(ctx context.Context, req *model.CreateConversationRequest) (*model.Conversation, error) {
	now := time.Now().UTC()
	title := req.Title
	if title == "" {
		title = "New conversation"
	}
	conv := &model.Conversation{
		ID:           uuid.Must(uuid.NewV7()).String(),
		UserID:       req.UserID,
		Title:        title,
		Messages:     []model.Message{},
		TokenLimit:   o.pipeline.Load().cfg.TokenLimit,
		CreatedAt:    now,
		LastActivity: now,
	}
	if req.TokenLimit != nil && *req.TokenLimit > 0 {
		conv.TokenLimit = *req.TokenLimit
	}
	if err := o.store.Create(ctx, conv); err != nil {
		return nil, err
	}
	metrics.ConversationsTotal.Inc()
	return conv, nil
}

// GetConversation returns a conversation with full history.
func (o *Orchestrator) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	return o.store.Get(ctx, id)
}

// ListConversations returns conversation summaries, optionally filtered by
// user.
func (o *Orchestrator) ListConversations(ctx context.Context, userID string) ([]model.ConversationInfo, error) {
	infos, err := o.store.List(ctx)
	if err != nil {
		return nil, err
	}
	if userID == "" {
		return infos, nil
	}
	filtered := infos[:0]
	for _, info := range infos {
		if info.UserID == userID {
			filtered = append(filtered, info)
		}
	}
	return filtered, nil
}

// DeleteConversation removes a conversation. Unknown IDs are not errors.
func (o *Orchestrator) DeleteConversation(ctx context.Context, id string) error {
	if err := o.store.Delete(ctx, id); err != nil {
		return err
	}
	o.locks.Forget(id)
	return nil
}

// Close releases the active pipeline and the conversation store.
func (o *Orchestrator) Close() error {
	if p := o.pipeline.Load(); p != nil {
		p.Close()
	}
	return o.store.Close()
}

// appendAndSnapshot appends one message under the conversation lock,
// persists the result, and returns the bounded prompt window.
func (o *Orchestrator) appendAndSnapshot(ctx context.Context, p *Pipeline, conversationID string, msg model.Message, ratio float64) ([]model.Message, error) {
	unlock := o.locks.Lock(conversationID)
	defer unlock()

	conv, err := o.store.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if err := p.budget.Append(ctx, conv, msg, ratio); err != nil {
		return nil, err
	}
	if err := o.store.Put(ctx, conv); err != nil {
		return nil, err
	}
	return p.budget.Window(conv), nil
}

func toChatMessages(window []model.Message) []llm.ChatMessage {
	out := make([]llm.ChatMessage, len(window))
	for i, msg := range window {
		role := string(msg.Role)
		if msg.Summary {
			// Providers reject mid-thread system messages; present the
			// summary as prior user context.
			role = string(model.RoleUser)
		}
		out[i] = llm.ChatMessage{Role: role, Content: msg.Content}
	}
	return out
}

func buildContextBlock(results []model.SearchResult) string {
	if len(results) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Document context:\n")
	for i, r := range results {
		fmt.Fprintf(&sb, "[%d] (score %.2f) %s\n", i+1, r.Score, r.Content)
	}
	return sb.String()
}

func deriveTitle(message string) string {
	title := strings.TrimSpace(message)
	if len(title) > 50 {
		keep := 50
		for keep > 0 && !utf8.RuneStart(title[keep]) {
			keep--
		}
		title = title[:keep]
	}
	if title == "" {
		title = "New conversation"
	}
	return title
}
