package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// CohereProvider implements Provider against Cohere's /v1/embed endpoint,
// the default dense provider (§6 item 2 calls for 1024-dimensional
// vectors, matching embed-english-v3.0's native dimension).
type CohereProvider struct {
	client    *http.Client
	apiKey    string
	baseURL   string
	model     string
	dimension int
	batchSize int
	maxRetries int
}

type cohereEmbedRequest struct {
	Texts     []string `json:"texts"`
	Model     string   `json:"model,omitempty"`
	InputType string   `json:"input_type,omitempty"`
	Truncate  string   `json:"truncate,omitempty"`
}

type cohereEmbedResponse struct {
	ID         string      `json:"id"`
	Embeddings [][]float32 `json:"embeddings"`
}

type cohereErrorResponse struct {
	Message string `json:"message"`
}

// NewCohereProvider constructs a Cohere embedding provider. An API key is
// required.
func NewCohereProvider(cfg Config) (*CohereProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embedding: cohere provider requires an API key")
	}

	model := cfg.Model
	if model == "" {
		model = "embed-english-v3.0"
	}

	dimension := cfg.Dimension
	if dimension == 0 {
		switch model {
		case "embed-english-v3.0", "embed-multilingual-v3.0":
			dimension = 1024
		case "embed-english-light-v3.0", "embed-multilingual-light-v3.0":
			dimension = 384
		default:
			dimension = 1024
		}
	}

	baseURL := cfg.Host
	if baseURL == "" {
		baseURL = "https://api.cohere.ai/v1"
	}

	timeout := 30 * time.Second
	if cfg.TimeoutS > 0 {
		timeout = time.Duration(cfg.TimeoutS) * time.Second
	}

	batchSize := cfg.BatchSize
	if batchSize == 0 {
		batchSize = 96
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}

	return &CohereProvider{
		client:     &http.Client{Timeout: timeout},
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		model:      model,
		dimension:  dimension,
		batchSize:  batchSize,
		maxRetries: maxRetries,
	}, nil
}

func (p *CohereProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.embed(ctx, []string{text}, "search_query")
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("embedding: cohere returned no embeddings")
	}
	return vecs[0], nil
}

func (p *CohereProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += p.batchSize {
		end := i + p.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := p.embed(ctx, texts[i:end], "search_document")
		if err != nil {
			return nil, err
		}
		results = append(results, vecs...)
	}
	return results, nil
}

func (p *CohereProvider) embed(ctx context.Context, texts []string, inputType string) ([][]float32, error) {
	reqBody, err := json.Marshal(cohereEmbedRequest{Texts: texts, Model: p.model, InputType: inputType})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}

	var body []byte
	var statusCode int

	for attempt := 0; attempt < p.maxRetries; attempt++ {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embed", bytes.NewReader(reqBody))
		if err != nil {
			return nil, fmt.Errorf("embedding: build request: %w", err)
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

		if attempt < p.maxRetries-1 {
			backoff := time.Duration(attempt+1) * time.Second
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			continue
		}
		if doErr != nil {
			return nil, fmt.Errorf("embedding: cohere request failed: %w", doErr)
		}
	}

	if statusCode != http.StatusOK {
		var errResp cohereErrorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Message != "" {
			return nil, fmt.Errorf("embedding: cohere error: %s", errResp.Message)
		}
		return nil, fmt.Errorf("embedding: cohere returned status %d: %s", statusCode, string(body))
	}

	var resp cohereEmbedResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("embedding: decode cohere response: %w", err)
	}
	return resp.Embeddings, nil
}

func (p *CohereProvider) Dimension() int   { return p.dimension }
func (p *CohereProvider) ModelName() string { return p.model }
func (p *CohereProvider) Close() error      { return nil }
