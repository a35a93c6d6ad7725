// Package promptsafety strips common prompt-injection patterns from user
// input before it is embedded in an LLM prompt. Used by both the
// answering engine's prompt composition and the LLM-based reranker,
// unified here instead of duplicated across call sites.
package promptsafety

import "strings"

// Sanitize removes role-indicator prefixes, instruction-override
// phrases, and delimiter/fence attacks that could otherwise let
// retrieved or user-supplied text escape the surrounding prompt
// structure.
func Sanitize(input string) string {
	sanitized := input

	for _, role := range []string{"SYSTEM:", "System:", "system:", "ASSISTANT:", "Assistant:", "assistant:", "USER:", "User:", "user:"} {
		sanitized = strings.ReplaceAll(sanitized, role, "")
	}

	for _, phrase := range []string{
		"Ignore previous instructions", "ignore previous instructions",
		"Ignore all previous", "ignore all previous",
		"Disregard previous", "disregard previous",
	} {
		sanitized = strings.ReplaceAll(sanitized, phrase, "")
	}

	for _, delim := range []string{"---", "===", "***", "```"} {
		sanitized = strings.ReplaceAll(sanitized, delim, "")
	}

	return strings.TrimSpace(sanitized)
}

// Truncate cuts text to at most n characters, appending an ellipsis when
// truncated. Used for both reranking prompts (500 chars) and source
// attribution (500 chars).
func Truncate(text string, n int) string {
	if len(text) <= n {
		return text
	}
	return text[:n] + "..."
}
