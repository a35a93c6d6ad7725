package rerank

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/kpekel-labs/scholarag/internal/promptsafety"
)

// LLMProvider is the minimal capability LLMReranker needs: generate text
// from a system prompt and a user prompt.
type LLMProvider interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// LLMReranker re-scores documents by asking an LLM to rank them. Pre-rerank
// scores are vector similarity; after reranking, scores are replaced with
// a position-based value (1.0 - 0.05*rank, floored at 0.1) — the original
// vector scores do not survive reranking.
type LLMReranker struct {
	llm LLMProvider
}

func NewLLMReranker(llm LLMProvider) *LLMReranker {
	return &LLMReranker{llm: llm}
}

const maxRerankContentChars = 500

func (r *LLMReranker) Rerank(ctx context.Context, query string, documents []Document, topK int) ([]Document, error) {
	if len(documents) == 0 {
		return documents, nil
	}

	prompt := buildRerankingPrompt(query, documents)
	resp, err := r.llm.Generate(ctx, rerankSystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("rerank: llm generate: %w", err)
	}

	order, err := parseRerankingResponse(resp, len(documents))
	if err != nil {
		return nil, fmt.Errorf("rerank: parse response: %w", err)
	}

	reordered := make([]Document, 0, len(documents))
	used := make(map[int]bool, len(order))
	for rank, idx := range order {
		if idx < 0 || idx >= len(documents) || used[idx] {
			continue
		}
		used[idx] = true
		doc := documents[idx]
		doc.RelevanceScore = positionScore(rank)
		reordered = append(reordered, doc)
	}
	// Any document the model omitted from its ranking is appended in its
	// original order, below every ranked document.
	for i, doc := range documents {
		if !used[i] {
			doc.RelevanceScore = positionScore(len(reordered))
			reordered = append(reordered, doc)
		}
	}

	sort.SliceStable(reordered, func(i, j int) bool { return reordered[i].RelevanceScore > reordered[j].RelevanceScore })

	if topK > 0 && topK < len(reordered) {
		reordered = reordered[:topK]
	}
	return reordered, nil
}

func positionScore(rank int) float32 {
	score := 1.0 - 0.05*float32(rank)
	if score < 0.1 {
		score = 0.1
	}
	return score
}

const rerankSystemPrompt = "You rank retrieved document excerpts by relevance to a question. " +
	"Reply with a JSON array of the zero-based indices of the documents, most relevant first. " +
	"Reply with the array only, no other text."

func buildRerankingPrompt(query string, documents []Document) string {
	var sb strings.Builder
	sb.WriteString("Question: ")
	sb.WriteString(promptsafety.Sanitize(query))
	sb.WriteString("\n\nDocuments:\n")
	for i, doc := range documents {
		sb.WriteString(fmt.Sprintf("[%d] %s\n", i, promptsafety.Truncate(promptsafety.Sanitize(doc.PageContent), maxRerankContentChars)))
	}
	return sb.String()
}

var jsonArrayPattern = regexp.MustCompile(`\[[\d,\s]*\]`)
var numberPattern = regexp.MustCompile(`\d+`)

func parseRerankingResponse(resp string, numDocs int) ([]int, error) {
	if m := jsonArrayPattern.FindString(resp); m != "" {
		var order []int
		if err := json.Unmarshal([]byte(m), &order); err == nil {
			return order, nil
		}
	}
	return extractIDsManually(resp, numDocs), nil
}

// extractIDsManually falls back to pulling every integer out of the
// response text when the model did not return valid JSON.
func extractIDsManually(resp string, numDocs int) []int {
	var order []int
	for _, m := range numberPattern.FindAllString(resp, -1) {
		n, err := strconv.Atoi(m)
		if err != nil || n < 0 || n >= numDocs {
			continue
		}
		order = append(order, n)
	}
	return order
}
