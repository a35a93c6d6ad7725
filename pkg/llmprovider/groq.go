package llmprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// GroqProvider speaks Groq's OpenAI-compatible chat completions API
// directly over net/http, matching this module's no-SDK provider-client
// convention.
type GroqProvider struct {
	client      *http.Client
	apiKey      string
	baseURL     string
	model       string
	temperature float32
	maxTokens   int
	maxRetries  int
}

type Config struct {
	APIKey      string  `yaml:"api_key"`
	Host        string  `yaml:"host"`
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	TimeoutS    int     `yaml:"timeout_seconds"`
	MaxRetries  int     `yaml:"max_retries"`
}

// NewGroqProvider constructs a Groq chat-completion provider. Temperature
// is clamped to the spec's <=0.2 ceiling and max_tokens to <=32000.
func NewGroqProvider(cfg Config) (*GroqProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llmprovider: groq requires an API key")
	}
	model := cfg.Model
	if model == "" {
		model = "llama-3.3-70b-versatile"
	}
	baseURL := cfg.Host
	if baseURL == "" {
		baseURL = "https://api.groq.com/openai/v1"
	}
	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = 0.2
	}
	if temperature > 0.2 {
		temperature = 0.2
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 32000
	}
	if maxTokens > 32000 {
		maxTokens = 32000
	}
	timeout := 60 * time.Second
	if cfg.TimeoutS > 0 {
		timeout = time.Duration(cfg.TimeoutS) * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 2
	}

	return &GroqProvider{
		client:      &http.Client{Timeout: timeout},
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		maxRetries:  maxRetries,
	}, nil
}

type groqChatRequest struct {
	Model       string          `json:"model"`
	Messages    []groqMessage   `json:"messages"`
	Temperature float32         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens"`
}

type groqMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type groqChatResponse struct {
	Choices []struct {
		Message groqMessage `json:"message"`
	} `json:"choices"`
}

type groqErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *GroqProvider) ModelName() string    { return p.model }
func (p *GroqProvider) Temperature() float32 { return p.temperature }
func (p *GroqProvider) MaxTokens() int       { return p.maxTokens }

func (p *GroqProvider) Invoke(ctx context.Context, messages []Message) (string, error) {
	msgs := make([]groqMessage, len(messages))
	for i, m := range messages {
		msgs[i] = groqMessage{Role: m.Role, Content: m.Content}
	}

	reqBody, err := json.Marshal(groqChatRequest{
		Model:       p.model,
		Messages:    msgs,
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("llmprovider: marshal request: %w", err)
	}

	var body []byte
	var statusCode int

	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(reqBody))
		if err != nil {
			return "", fmt.Errorf("llmprovider: build request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

		resp, doErr := p.client.Do(httpReq)
		if doErr == nil {
			statusCode = resp.StatusCode
			body, err = io.ReadAll(resp.Body)
			resp.Body.Close()
			if err == nil && statusCode == http.StatusOK {
				break
			}
		}

		if attempt < p.maxRetries {
			backoff := time.Duration(attempt+1) * time.Second
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
			continue
		}
		if doErr != nil {
			return "", fmt.Errorf("llmprovider: groq request failed: %w", doErr)
		}
	}

	if statusCode != http.StatusOK {
		var errResp groqErrorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
			return "", fmt.Errorf("llmprovider: groq error: %s", errResp.Error.Message)
		}
		return "", fmt.Errorf("llmprovider: groq returned status %d: %s", statusCode, string(body))
	}

	var parsed groqChatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("llmprovider: decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("llmprovider: groq returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}
