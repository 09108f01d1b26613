package retrieval

import (
	"strconv"
	"strings"

	"turnrelay/pkg/chat"
)

const (
	InternalBlockTitle = "Internal Knowledge Base Results"
	WebBlockTitle      = "Internet Search Results"

	// UserQuestionHeader introduces the raw prompt in an augmented prompt.
	UserQuestionHeader = "## User Question"

	preamble = "You are an assistant. Use the context below when helpful. " +
		"If the context is insufficient, answer based on your general knowledge."
)

// FormatBlock renders one evidence source. No items renders nothing.
func FormatBlock(title string, items []chat.ContextItem) string {
	if len(items) == 0 {
		return ""
	}

	lines := []string{"## " + title}
	for i, item := range items {
		lines = append(lines, strings.TrimSpace("["+strconv.Itoa(i+1)+"] "+strings.TrimSpace(item.Title)))
		if url := strings.TrimSpace(item.URL); url != "" {
			lines = append(lines, "URL: "+url)
		}
		if snippet := strings.TrimSpace(item.Snippet); snippet != "" {
			lines = append(lines, "Notes: "+snippet)
		}
		lines = append(lines, "")
	}

	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// JoinBlocks concatenates internal then web evidence, skipping empty sources.
// The empty string means no evidence.
func JoinBlocks(internal, web []chat.ContextItem) string {
	parts := make([]string, 0, 2)
	if block := FormatBlock(InternalBlockTitle, internal); block != "" {
		parts = append(parts, block)
	}
	if block := FormatBlock(WebBlockTitle, web); block != "" {
		parts = append(parts, block)
	}

	return strings.TrimSpace(strings.Join(parts, "\n\n"))
}

// BuildAugmentedPrompt wraps the prompt with evidence. Without evidence the
// prompt is returned unchanged.
func BuildAugmentedPrompt(prompt string, contextBlock string) string {
	if contextBlock == "" {
		return prompt
	}

	var b strings.Builder
	b.WriteString(preamble)
	b.WriteString("\n\n")
	b.WriteString(contextBlock)
	b.WriteString("\n\n")
	b.WriteString(UserQuestionHeader)
	b.WriteString("\n")
	b.WriteString(prompt)
	return b.String()
}
