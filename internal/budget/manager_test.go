package budget

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/docuchat/docuchat/internal/model"
)

// shortSummarizer compresses any transcript into a fixed short string.
func shortSummarizer(ctx context.Context, instruction, transcript string) (string, error) {
	return "summary of earlier discussion", nil
}

func newTestManager(t *testing.T, summarize Summarizer) *Manager {
	t.Helper()
	counter, err := NewCounter(CounterHeuristic)
	require.NoError(t, err)
	if summarize == nil {
		summarize = shortSummarizer
	}
	return NewManager(counter, summarize, 0.8, 4, zap.NewNop())
}

func newConversation(limit int) *model.Conversation {
	return &model.Conversation{ID: "conv-1", TokenLimit: limit, Messages: []model.Message{}}
}

func userMessage(content string) model.Message {
	return model.Message{Role: model.RoleUser, Content: content}
}

func TestAppendRecomputesTotals(t *testing.T) {
	m := newTestManager(t, nil)
	conv := newConversation(1000)

	require.NoError(t, m.Append(context.Background(), conv, userMessage(strings.Repeat("a", 40)), 0))
	assert.Equal(t, 10, conv.TokenTotal)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, 10, conv.Messages[0].TokenCount)
	assert.False(t, conv.LastActivity.IsZero())
}

func TestSummarizationScenario(t *testing.T) {
	// Limit 500, ratio 0.8: crossing 400 tokens triggers a pass collapsing
	// all but the last 4 messages into one summary.
	m := newTestManager(t, nil)
	conv := newConversation(500)

	msg := strings.Repeat("x", 200) // 50 tokens each
	appended := 0
	for conv.TokenTotal <= 400 {
		require.NoError(t, m.Append(context.Background(), conv, userMessage(msg), 0))
		appended++
		require.Less(t, appended, 100, "summarization never triggered")
		if conv.Messages[0].Summary {
			break
		}
	}

	require.True(t, conv.Messages[0].Summary, "expected a leading summary message")
	assert.Equal(t, model.RoleSystem, conv.Messages[0].Role)
	assert.Len(t, conv.Messages, 5) // summary + 4 recent
	assert.LessOrEqual(t, conv.TokenTotal, 500)

	// Totals stay self-consistent.
	sum := 0
	for _, m := range conv.Messages {
		sum += m.TokenCount
	}
	assert.Equal(t, sum, conv.TokenTotal)
}

func TestSummarizationKeepsRecentVerbatim(t *testing.T) {
	m := newTestManager(t, nil)
	conv := newConversation(500)

	var contents []string
	for i := 0; i < 10; i++ {
		content := fmt.Sprintf("message number %d %s", i, strings.Repeat("y", 180))
		contents = append(contents, content)
		require.NoError(t, m.Append(context.Background(), conv, userMessage(content), 0))
	}

	recent := conv.Messages[len(conv.Messages)-4:]
	expected := contents[len(contents)-4:]
	for i, msg := range recent {
		assert.Equal(t, expected[i], msg.Content)
		assert.False(t, msg.Summary)
	}
}

func TestSummarizeTwiceIdempotent(t *testing.T) {
	m := newTestManager(t, nil)
	conv := newConversation(500)

	msg := strings.Repeat("z", 200)
	for i := 0; i < 20; i++ {
		require.NoError(t, m.Append(context.Background(), conv, userMessage(msg), 0))
	}

	// Multiple passes fold the previous summary into the next; there is
	// never more than one summary message.
	summaries := 0
	for _, m := range conv.Messages {
		if m.Summary {
			summaries++
		}
	}
	assert.LessOrEqual(t, summaries, 1)
	assert.LessOrEqual(t, conv.TokenTotal, 500)
}

func TestBudgetErrorWhenRecentWindowOverflows(t *testing.T) {
	m := newTestManager(t, nil)
	conv := newConversation(100)

	// Four recent messages of 30 tokens each exceed the 100 token limit on
	// their own; no summary can fix that.
	msg := strings.Repeat("w", 120)
	var budgetErr *BudgetError
	var failed bool
	for i := 0; i < 10; i++ {
		err := m.Append(context.Background(), conv, userMessage(msg), 0)
		if err != nil {
			require.True(t, errors.As(err, &budgetErr))
			assert.Equal(t, "conv-1", budgetErr.ConversationID)
			assert.Greater(t, budgetErr.TokenTotal, budgetErr.TokenLimit)
			failed = true
			break
		}
	}
	require.True(t, failed, "expected a BudgetError")

	// The failed append must not be visible.
	for _, m := range conv.Messages {
		assert.LessOrEqual(t, m.TokenCount, 31)
	}
}

func TestBudgetInvariantUnderRandomAppends(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for trial := 0; trial < 25; trial++ {
		limit := 200 + rng.Intn(800)
		m := newTestManager(t, nil)
		conv := newConversation(limit)

		for i := 0; i < 40; i++ {
			content := strings.Repeat("q", 1+rng.Intn(400))
			err := m.Append(context.Background(), conv, userMessage(content), 0)
			if err != nil {
				var budgetErr *BudgetError
				require.True(t, errors.As(err, &budgetErr),
					"only BudgetError may interrupt appends, got %v", err)
				continue
			}
			require.LessOrEqual(t, conv.TokenTotal, limit,
				"trial %d append %d violated the budget", trial, i)
		}
	}
}

func TestSummarizerFailurePropagatesAndRollsBack(t *testing.T) {
	failing := func(ctx context.Context, instruction, transcript string) (string, error) {
		return "", errors.New("model unavailable")
	}
	m := newTestManager(t, failing)
	conv := newConversation(500)

	msg := strings.Repeat("v", 200)
	var err error
	for i := 0; i < 20; i++ {
		if err = m.Append(context.Background(), conv, userMessage(msg), 0); err != nil {
			break
		}
	}
	require.Error(t, err)
	var budgetErr *BudgetError
	assert.False(t, errors.As(err, &budgetErr))

	// Conversation rolled back to the state before the failing append.
	sum := 0
	for _, m := range conv.Messages {
		sum += m.TokenCount
	}
	assert.Equal(t, sum, conv.TokenTotal)
}

func TestHeuristicCounter(t *testing.T) {
	c := HeuristicCounter{}
	assert.Equal(t, 0, c.Count(""))
	assert.Equal(t, 1, c.Count("ab"))
	assert.Equal(t, 25, c.Count(strings.Repeat("a", 100)))
}

func TestTruncateToTokens(t *testing.T) {
	m := newTestManager(t, nil)

	text := strings.Repeat("t", 400) // 100 tokens
	out := m.truncateToTokens(text, 10)
	assert.LessOrEqual(t, m.counter.Count(out), 10)
	assert.NotEmpty(t, out)

	assert.Equal(t, "", m.truncateToTokens(text, 0))
}

func TestTruncateToTokensKeepsValidUTF8(t *testing.T) {
	m := newTestManager(t, nil)

	// Multi-byte runes force the cut point onto rune boundaries.
	text := strings.Repeat("é世\U0001F600", 100)
	for _, max := range []int{1, 3, 7, 20, 50} {
		out := m.truncateToTokens(text, max)
		assert.True(t, utf8.ValidString(out), "max %d produced invalid UTF-8: %q", max, out)
		assert.LessOrEqual(t, m.counter.Count(out), max)
	}
}
