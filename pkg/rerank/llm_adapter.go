package rerank

import (
	"context"

	"github.com/kpekel-labs/scholarag/pkg/llmprovider"
)

// providerAdapter adapts an llmprovider.Provider (chat-message based) to
// the simpler system/user-prompt shape LLMReranker expects.
type providerAdapter struct {
	provider llmprovider.Provider
}

// NewLLMProviderAdapter wraps an llmprovider.Provider for use as an
// LLMReranker backend.
func NewLLMProviderAdapter(provider llmprovider.Provider) LLMProvider {
	return &providerAdapter{provider: provider}
}

func (a *providerAdapter) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return a.provider.Invoke(ctx, []llmprovider.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt},
	})
}
