package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"
)

// CohereReranker calls Cohere's dedicated /v1/rerank endpoint, matching
// the Cohere rerank usage in the original implementation more closely
// than an LLM-prompted reranker.
type CohereReranker struct {
	client  *http.Client
	apiKey  string
	baseURL string
	model   string
}

func NewCohereReranker(apiKey, baseURL, model string) *CohereReranker {
	if baseURL == "" {
		baseURL = "https://api.cohere.ai/v1"
	}
	if model == "" {
		model = "rerank-english-v3.0"
	}
	return &CohereReranker{
		client:  &http.Client{Timeout: 30 * time.Second},
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
	}
}

type cohereRerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type cohereRerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float32 `json:"relevance_score"`
	} `json:"results"`
}

func (r *CohereReranker) Rerank(ctx context.Context, query string, documents []Document, topK int) ([]Document, error) {
	if len(documents) == 0 {
		return documents, nil
	}
	texts := make([]string, len(documents))
	for i, d := range documents {
		texts[i] = d.PageContent
	}

	topN := topK
	if topN <= 0 || topN > len(documents) {
		topN = len(documents)
	}

	reqBody, err := json.Marshal(cohereRerankRequest{Model: r.model, Query: query, Documents: texts, TopN: topN})
	if err != nil {
		return nil, fmt.Errorf("rerank: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/rerank", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("rerank: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("rerank: cohere request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("rerank: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rerank: cohere returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed cohereRerankResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("rerank: decode response: %w", err)
	}

	out := make([]Document, 0, len(parsed.Results))
	for _, res := range parsed.Results {
		if res.Index < 0 || res.Index >= len(documents) {
			continue
		}
		doc := documents[res.Index]
		doc.RelevanceScore = res.RelevanceScore
		out = append(out, doc)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RelevanceScore > out[j].RelevanceScore })
	return out, nil
}
