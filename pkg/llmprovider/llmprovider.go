// Package llmprovider defines the generation capability (C8's LLM
// collaborator, §6 item 1) and a Groq-backed implementation, plus an
// ordered fallback chain.
package llmprovider

import "context"

// Message is one turn in a chat-style prompt.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// Provider is the LLM generation capability: {model_name, temperature,
// max_tokens; invoke(messages) -> text}.
type Provider interface {
	ModelName() string
	Temperature() float32
	MaxTokens() int
	Invoke(ctx context.Context, messages []Message) (string, error)
}

// Chain tries providers in order, falling through to the next on
// error — generalizing the teacher's named-provider registry lookup
// into an ordered fallback for a single logical capability.
type Chain struct {
	providers []Provider
}

func NewChain(providers ...Provider) *Chain {
	return &Chain{providers: providers}
}

func (c *Chain) Invoke(ctx context.Context, messages []Message) (string, error) {
	var lastErr error
	for _, p := range c.providers {
		text, err := p.Invoke(ctx, messages)
		if err == nil {
			return text, nil
		}
		lastErr = err
	}
	return "", lastErr
}

func (c *Chain) ModelName() string {
	if len(c.providers) == 0 {
		return ""
	}
	return c.providers[0].ModelName()
}

func (c *Chain) Temperature() float32 {
	if len(c.providers) == 0 {
		return 0
	}
	return c.providers[0].Temperature()
}

func (c *Chain) MaxTokens() int {
	if len(c.providers) == 0 {
		return 0
	}
	return c.providers[0].MaxTokens()
}
