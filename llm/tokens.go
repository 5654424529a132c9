package llm

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts tokens the way the OpenAI chat endpoints bill them.
// Encodings are expensive to build, so they are cached per model.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
	model    string
}

var (
	encodingCache   = make(map[string]*tiktoken.Tiktoken)
	encodingCacheMu sync.Mutex
)

// NewTokenCounter creates a counter for the given model. Models unknown to
// tiktoken fall back to the cl100k_base encoding (GPT-4, GPT-3.5-turbo).
func NewTokenCounter(model string) (*TokenCounter, error) {
	encodingCacheMu.Lock()
	defer encodingCacheMu.Unlock()

	if enc, ok := encodingCache[model]; ok {
		return &TokenCounter{encoding: enc, model: model}, nil
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("loading token encoding: %w", err)
		}
	}
	encodingCache[model] = enc

	return &TokenCounter{encoding: enc, model: model}, nil
}

// Count returns the token count for a text string.
func (tc *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(tc.encoding.Encode(text, nil, nil))
}

// CountMessages returns the token count for a message list, including the
// per-message framing overhead and the assistant reply priming.
// See github.com/openai/openai-cookbook How_to_count_tokens_with_tiktoken.
func (tc *TokenCounter) CountMessages(messages []Message) int {
	const tokensPerMessage = 3

	total := 0
	for _, msg := range messages {
		total += tokensPerMessage
		total += len(tc.encoding.Encode(msg.Role, nil, nil))
		total += len(tc.encoding.Encode(msg.Content, nil, nil))
	}
	// every reply is primed with <|start|>assistant<|message|>
	total += 3
	return total
}

// Model returns the model name this counter was built for.
func (tc *TokenCounter) Model() string {
	return tc.model
}
