package budget

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docuchat/docuchat/internal/model"
	"github.com/docuchat/docuchat/pkg/metrics"
)

// summarizeInstruction is the fixed prompt sent to the chat model when
// collapsing history.
const summarizeInstruction = "Summarize the following conversation excerpt as concisely as possible " +
	"while preserving facts, decisions, names, and open questions. " +
	"Reply with the summary only."

// Summarizer produces a compact summary of a conversation transcript. The
// orchestrator supplies one backed by the active chat model.
type Summarizer func(ctx context.Context, instruction, transcript string) (string, error)

// BudgetError reports a hard token ceiling violation that summarization
// could not resolve.
type BudgetError struct {
	ConversationID string
	TokenTotal     int
	TokenLimit     int
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("conversation %s exceeds token limit: %d > %d and cannot be summarized further",
		e.ConversationID, e.TokenTotal, e.TokenLimit)
}

// Manager enforces conversation token budgets. After every Append the
// conversation satisfies TokenTotal <= TokenLimit, or the append fails with
// a *BudgetError and the conversation is left unchanged.
type Manager struct {
	counter    Counter
	summarize  Summarizer
	ratio      float64
	keepRecent int
	logger     *zap.Logger
}

// NewManager builds a budget manager. ratio is the fraction of the limit
// that triggers summarization; keepRecent is the number of trailing
// messages always preserved verbatim.
func NewManager(counter Counter, summarize Summarizer, ratio float64, keepRecent int, logger *zap.Logger) *Manager {
	if ratio <= 0 || ratio > 1 {
		ratio = 0.8
	}
	if keepRecent < 1 {
		keepRecent = 4
	}
	return &Manager{
		counter:    counter,
		summarize:  summarize,
		ratio:      ratio,
		keepRecent: keepRecent,
		logger:     logger,
	}
}

// Counter returns the counting function shared with callers that report
// token totals.
func (m *Manager) Counter() Counter { return m.counter }

// CounterName reports which counter is active.
func (m *Manager) CounterName() string { return m.counter.Name() }

// Append adds msg to the conversation, recomputes the total, and runs a
// summarization pass when the total crosses ratio times the limit. ratio
// overrides the configured trigger when positive. On *BudgetError the
// conversation is rolled back to its prior state.
func (m *Manager) Append(ctx context.Context, conv *model.Conversation, msg model.Message, ratio float64) error {
	if ratio <= 0 || ratio > 1 {
		ratio = m.ratio
	}
	if msg.TokenCount == 0 {
		msg.TokenCount = m.counter.Count(msg.Content)
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	prior := conv.Messages
	conv.Messages = append(conv.Messages, msg)
	conv.RecountTokens()
	conv.LastActivity = msg.CreatedAt

	threshold := float64(conv.TokenLimit) * ratio
	if float64(conv.TokenTotal) <= threshold {
		metrics.MessagesTotal.WithLabelValues(string(msg.Role)).Inc()
		return nil
	}

	if err := m.runSummarization(ctx, conv); err != nil {
		conv.Messages = prior
		conv.RecountTokens()
		return err
	}
	metrics.MessagesTotal.WithLabelValues(string(msg.Role)).Inc()
	return nil
}

// Window returns the messages to assemble into the next prompt. The budget
// invariant guarantees they already fit under the limit.
func (m *Manager) Window(conv *model.Conversation) []model.Message {
	out := make([]model.Message, len(conv.Messages))
	copy(out, conv.Messages)
	return out
}

// runSummarization collapses all messages except the trailing keepRecent
// into one synthetic system message. Running it again over an already
// summarized conversation folds the previous summary into the new one.
func (m *Manager) runSummarization(ctx context.Context, conv *model.Conversation) error {
	recent := conv.Messages
	var run []model.Message
	if len(conv.Messages) > m.keepRecent {
		run = conv.Messages[:len(conv.Messages)-m.keepRecent]
		recent = conv.Messages[len(conv.Messages)-m.keepRecent:]
	}

	recentTokens := 0
	for _, msg := range recent {
		recentTokens += msg.TokenCount
	}
	if recentTokens > conv.TokenLimit {
		return &BudgetError{ConversationID: conv.ID, TokenTotal: recentTokens, TokenLimit: conv.TokenLimit}
	}
	if len(run) == 0 {
		// Nothing to collapse; the recent window alone fits.
		return nil
	}

	runTokens := 0
	for _, msg := range run {
		runTokens += msg.TokenCount
	}

	summary, err := m.summarize(ctx, summarizeInstruction, renderTranscript(run))
	if err != nil {
		return fmt.Errorf("summarizing history for conversation %s: %w", conv.ID, err)
	}

	// The summary must cost strictly fewer tokens than the run it replaces,
	// and the resulting total must fit under the limit.
	maxSummaryTokens := runTokens - 1
	if budget := conv.TokenLimit - recentTokens; budget < maxSummaryTokens {
		maxSummaryTokens = budget
	}
	summary = m.truncateToTokens(summary, maxSummaryTokens)
	summaryTokens := m.counter.Count(summary)
	if summaryTokens+recentTokens > conv.TokenLimit {
		return &BudgetError{
			ConversationID: conv.ID,
			TokenTotal:     summaryTokens + recentTokens,
			TokenLimit:     conv.TokenLimit,
		}
	}

	summaryMsg := model.Message{
		ID:         uuid.Must(uuid.NewV7()).String(),
		Role:       model.RoleSystem,
		Content:    summary,
		CreatedAt:  time.Now().UTC(),
		TokenCount: summaryTokens,
		Summary:    true,
	}

	conv.Messages = append([]model.Message{summaryMsg}, recent...)
	conv.RecountTokens()

	metrics.SummarizationsTotal.Inc()
	m.logger.Info("conversation history summarized",
		zap.String("conversation_id", conv.ID),
		zap.Int("collapsed_messages", len(run)),
		zap.Int("run_tokens", runTokens),
		zap.Int("summary_tokens", summaryTokens),
		zap.Int("token_total", conv.TokenTotal))
	return nil
}

// truncateToTokens cuts text so the counter reports at most maxTokens.
func (m *Manager) truncateToTokens(text string, maxTokens int) string {
	if maxTokens < 1 {
		return ""
	}
	for m.counter.Count(text) > maxTokens && len(text) > 0 {
		keep := len(text) * maxTokens / m.counter.Count(text)
		if keep >= len(text) {
			keep = len(text) - 1
		}
		for keep > 0 && !utf8.RuneStart(text[keep]) {
			keep--
		}
		text = text[:keep]
	}
	return text
}

func renderTranscript(messages []model.Message) string {
	var sb strings.Builder
	for _, msg := range messages {
		sb.WriteString(string(msg.Role))
		sb.WriteString(": ")
		sb.WriteString(msg.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}
