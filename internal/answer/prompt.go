package answer

import (
	"strings"

	"github.com/kpekel-labs/scholarag/internal/promptsafety"
	"github.com/kpekel-labs/scholarag/pkg/rerank"
)

const systemPrompt = `You are a research assistant answering questions about scholarly papers using only the provided context.

Rules:
- Cite the section a fact comes from when the context identifies one.
- Reproduce citations present in the context verbatim; do not invent new ones.
- Reference figures or tables by their label when they support your answer.
- If the context does not contain the answer, say so plainly. Never fabricate information.`

// buildUserPrompt composes the fixed-template prompt: the sanitized
// question followed by the sanitized context, documents joined by blank
// lines.
func buildUserPrompt(question string, docs []rerank.Document) string {
	var sb strings.Builder
	sb.WriteString("Question: ")
	sb.WriteString(promptsafety.Sanitize(question))
	sb.WriteString("\n\nContext:\n")

	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		parts = append(parts, promptsafety.Sanitize(d.PageContent))
	}
	sb.WriteString(strings.Join(parts, "\n\n"))

	return sb.String()
}
