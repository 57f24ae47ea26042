// Package budget enforces per-conversation token limits by summarizing
// older history.
package budget

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// Counter approximates token counts for budget enforcement. One counter is
// used consistently for both enforcement and reporting.
type Counter interface {
	Count(text string) int
	Name() string
}

// Counter type tags.
const (
	CounterHeuristic = "heuristic"
	CounterTiktoken  = "tiktoken"
)

// NewCounter builds a counter from its type tag.
func NewCounter(kind string) (Counter, error) {
	switch kind {
	case CounterHeuristic, "":
		return HeuristicCounter{}, nil
	case CounterTiktoken:
		return NewTiktokenCounter()
	default:
		return nil, fmt.Errorf("unknown token counter %q", kind)
	}
}

// HeuristicCounter estimates roughly four characters per token. Every
// non-empty message costs at least one token.
type HeuristicCounter struct{}

func (HeuristicCounter) Count(text string) int {
	if len(text) == 0 {
		return 0
	}
	n := len(text) / 4
	if n < 1 {
		n = 1
	}
	return n
}

func (HeuristicCounter) Name() string { return CounterHeuristic }

// TiktokenCounter counts with the cl100k_base encoding.
type TiktokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewTiktokenCounter loads the cl100k_base encoding.
func NewTiktokenCounter() (*TiktokenCounter, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("loading cl100k_base encoding: %w", err)
	}
	return &TiktokenCounter{encoding: enc}, nil
}

func (c *TiktokenCounter) Count(text string) int {
	if len(text) == 0 {
		return 0
	}
	return len(c.encoding.Encode(text, nil, nil))
}

func (c *TiktokenCounter) Name() string { return CounterTiktoken }
