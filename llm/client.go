package llm

import (
	"context"
	"fmt"
	"log/slog"
)

// TooMuchContextText is returned in place of a model response when the
// assembled prompt exceeds the token ceiling. It flows back through the
// normal response checks, which treat it as a malformed answer.
const TooMuchContextText = "There is too much information in the prompt so we are unable to answer this question. Please try again or word the question differently"

const (
	defaultTokenBudget  = 3500
	defaultTokenCeiling = 15000
)

// ClientConfig holds the per-purpose call settings for a Client.
type ClientConfig struct {
	Model       string
	Temperature float64
	// MaxTokens caps the completion length, not the prompt.
	MaxTokens int
	// TokenBudget is the target size of the prompt after history truncation.
	TokenBudget int
	// TokenCeiling is the hard prompt cap. Above it the provider is not
	// called at all and TooMuchContextText is returned instead.
	TokenCeiling int
}

// Client wraps a Provider with token-aware history truncation. All chat
// traffic from the dialogue paths goes through a Client so prompts stay
// within budget regardless of how long a conversation runs.
type Client struct {
	provider Provider
	counter  *TokenCounter
	cfg      ClientConfig
}

// NewClient creates a budgeted chat client on top of a provider.
func NewClient(provider Provider, cfg ClientConfig) (*Client, error) {
	if provider == nil {
		return nil, fmt.Errorf("llm client requires a provider")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm client requires a model")
	}
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = defaultTokenBudget
	}
	if cfg.TokenCeiling <= 0 {
		cfg.TokenCeiling = defaultTokenCeiling
	}

	counter, err := NewTokenCounter(cfg.Model)
	if err != nil {
		return nil, err
	}

	return &Client{provider: provider, counter: counter, cfg: cfg}, nil
}

// Model returns the configured chat model.
func (c *Client) Model() string {
	return c.cfg.Model
}

// Counter exposes the client's token counter.
func (c *Client) Counter() *TokenCounter {
	return c.counter
}

// Respond truncates the history to the token budget, checks the result
// against the ceiling and fetches a completion. The system prompt may be
// empty, in which case no system message is sent.
func (c *Client) Respond(ctx context.Context, system string, history []Message) (string, error) {
	messages := c.Truncate(system, history, c.cfg.TokenBudget)

	total := c.counter.CountMessages(messages)
	if total > c.cfg.TokenCeiling {
		slog.Warn("llm: prompt exceeds token ceiling, not calling provider",
			"tokens", total,
			"ceiling", c.cfg.TokenCeiling,
		)
		return TooMuchContextText, nil
	}

	resp, err := c.provider.Chat(ctx, ChatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// Truncate fits the conversation into the token budget. The system message
// (when present) and the final history message are always kept, even if
// they alone exceed the budget. Older messages are added newest first while
// the running total stays within budget.
func (c *Client) Truncate(system string, history []Message, budget int) []Message {
	var kept []Message
	count := 0

	if system != "" {
		count += c.counter.Count(system)
	}
	if len(history) == 0 {
		if system != "" {
			return []Message{{Role: "system", Content: system}}
		}
		return nil
	}

	last := history[len(history)-1]
	count += c.counter.Count(last.Content)
	kept = append(kept, last)

	for i := len(history) - 2; i >= 0; i-- {
		n := c.counter.Count(history[i].Content)
		if count+n > budget {
			break
		}
		count += n
		kept = append(kept, history[i])
	}

	// kept was assembled newest first
	out := make([]Message, 0, len(kept)+1)
	if system != "" {
		out = append(out, Message{Role: "system", Content: system})
	}
	for i := len(kept) - 1; i >= 0; i-- {
		out = append(out, kept[i])
	}
	return out
}
