// Package service implements the chat orchestration pipeline.
package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/docuchat/docuchat/internal/budget"
	"github.com/docuchat/docuchat/internal/config"
	"github.com/docuchat/docuchat/internal/embedding"
	"github.com/docuchat/docuchat/internal/llm"
	"github.com/docuchat/docuchat/internal/model"
	"github.com/docuchat/docuchat/internal/retrieval"
	"github.com/docuchat/docuchat/internal/vectorstore"
)

// Pipeline strategies.
const (
	StrategyFull     = "full"
	StrategyBaseline = "baseline"
)

// Pipeline is one immutable wiring of backends. A new configuration builds a
// new pipeline; existing pipelines are never mutated.
type Pipeline struct {
	strategy  string
	cfg       config.AppConfig
	chat      llm.Client
	retrieval *retrieval.Service
	budget    *budget.Manager
	missing   []string
	logger    *zap.Logger
}

// NewPipeline wires the full pipeline (embedder, vector store, retrieval,
// chat model). If any retrieval-side component fails to construct, the
// partially built resources are released and the pipeline falls back to the
// baseline strategy: same contract, no document retrieval. A chat model
// failure leaves the pipeline unable to answer; that is reported through
// MissingComponents rather than a construction error.
func NewPipeline(ctx context.Context, cfg config.AppConfig, logger *zap.Logger) *Pipeline {
	p := &Pipeline{
		strategy: StrategyFull,
		cfg:      cfg,
		logger:   logger,
	}

	chat, err := llm.New(cfg.ChatModel)
	if err != nil {
		logger.Error("chat model unavailable", zap.Error(err))
		p.missing = append(p.missing, fmt.Sprintf("chat_model: %v", err))
	} else {
		p.chat = chat
	}

	counter, err := budget.NewCounter(cfg.TokenCounter)
	if err != nil {
		logger.Warn("falling back to heuristic token counter", zap.Error(err))
		counter = budget.HeuristicCounter{}
	}
	p.budget = budget.NewManager(counter, p.summarizeHistory, cfg.SummarizeTargetRatio, cfg.KeepRecentMessages, logger)

	if err := p.buildRetrieval(ctx); err != nil {
		logger.Warn("retrieval unavailable, falling back to baseline strategy", zap.Error(err))
		p.strategy = StrategyBaseline
		p.missing = append(p.missing, fmt.Sprintf("retrieval: %v", err))
	}

	return p
}

func (p *Pipeline) buildRetrieval(ctx context.Context) error {
	provider, err := embedding.New(p.cfg.Embedder)
	if err != nil {
		return err
	}

	store, err := vectorstore.New(ctx, p.cfg.VectorDB)
	if err != nil {
		return err
	}

	svc, err := retrieval.New(provider, store, p.cfg.RetrievalTopK, p.cfg.RetrievalThreshold, p.logger)
	if err != nil {
		store.Close()
		return err
	}

	p.retrieval = svc
	return nil
}

// summarizeHistory compresses a transcript through the active chat model.
func (p *Pipeline) summarizeHistory(ctx context.Context, instruction, transcript string) (string, error) {
	if p.chat == nil {
		return "", config.NewConfigurationError("chat_model", "no chat model available for summarization")
	}

	resp, err := p.chat.Complete(ctx, &llm.CompletionRequest{
		System:   instruction,
		Messages: []llm.ChatMessage{{Role: "user", Content: transcript}},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// Strategy reports which pipeline strategy is active.
func (p *Pipeline) Strategy() string { return p.strategy }

// Budget returns the pipeline's budget manager.
func (p *Pipeline) Budget() *budget.Manager { return p.budget }

// Retrieval returns the retrieval service, nil under the baseline strategy.
func (p *Pipeline) Retrieval() *retrieval.Service { return p.retrieval }

// Health describes the pipeline for the health endpoint.
func (p *Pipeline) Health() model.HealthResponse {
	resp := model.HealthResponse{
		Status:            "ready",
		Strategy:          p.strategy,
		MissingComponents: append([]string{}, p.missing...),
	}
	if p.chat == nil {
		resp.Status = "not_ready"
	} else {
		resp.ChatModel = fmt.Sprintf("%s/%s", p.chat.Name(), p.chatModelName())
	}
	if p.retrieval != nil {
		resp.Embedder = p.retrieval.EmbedderName()
		resp.VectorDB = p.retrieval.StoreName()
	}
	return resp
}

func (p *Pipeline) chatModelName() string {
	switch p.cfg.ChatModel.Type {
	case config.ChatModelOpenAI:
		if p.cfg.ChatModel.OpenAI != nil {
			return p.cfg.ChatModel.OpenAI.Model
		}
	case config.ChatModelAnthropic:
		if p.cfg.ChatModel.Anthropic != nil {
			return p.cfg.ChatModel.Anthropic.Model
		}
	case config.ChatModelOllama:
		if p.cfg.ChatModel.Ollama != nil {
			return p.cfg.ChatModel.Ollama.Model
		}
	}
	return ""
}

// Close releases the pipeline's backend resources.
func (p *Pipeline) Close() error {
	if p.retrieval != nil {
		return p.retrieval.Close()
	}
	return nil
}
