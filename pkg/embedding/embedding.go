// Package embedding defines the dense embedding capability (C3) and two
// concrete HTTP-based providers. Neither provider uses a vendor SDK —
// both speak the provider's plain JSON REST API directly, matching the
// manual net/http client style used throughout this module's other
// external integrations.
package embedding

import "context"

// Provider is the dense embedding capability: fixed-dimension vectors
// from text. All vectors produced by the same Provider share Dimension().
type Provider interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	ModelName() string
	Close() error
}

// Config configures whichever embedding provider is selected.
type Config struct {
	Type      string `yaml:"type"` // "openai" or "cohere"
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	Host      string `yaml:"host"`
	Dimension int    `yaml:"dimension"`
	TimeoutS  int    `yaml:"timeout_seconds"`
	BatchSize int    `yaml:"batch_size"`
	MaxRetries int   `yaml:"max_retries"`
}

// New constructs the provider named by cfg.Type.
func New(cfg Config) (Provider, error) {
	switch cfg.Type {
	case "cohere", "":
		return NewCohereProvider(cfg)
	case "openai":
		return NewOpenAIProvider(cfg)
	default:
		return nil, &UnsupportedProviderError{Type: cfg.Type}
	}
}

// UnsupportedProviderError is returned by New for an unrecognized
// provider type.
type UnsupportedProviderError struct {
	Type string
}

func (e *UnsupportedProviderError) Error() string {
	return "embedding: unsupported provider type: " + e.Type
}
