// Package textprep composes the canonical embedding input text for a
// conversation (SPEC_FULL.md §4.5).
package textprep

import (
	"strings"

	"manifold/internal/cortex/model"
)

// DefaultMessageBudget is B_msg, the character budget for message content.
const DefaultMessageBudget = 2000

// minPartialBudget is the minimum remaining budget for a partial final
// message to be included (spec: "at least 100 characters of remaining
// budget allow").
const minPartialBudget = 100

// Compose builds the embedding input text: Title, then Topics (if any),
// then Summary (if non-empty), then Content up to budget characters of
// concatenated message text.
func Compose(title, summary string, topics []string, messages []model.Message, budget int) string {
	if budget <= 0 {
		budget = DefaultMessageBudget
	}
	var b strings.Builder
	b.WriteString("Title: ")
	b.WriteString(title)

	if len(topics) > 0 {
		b.WriteString("\nTopics: ")
		b.WriteString(strings.Join(topics, ", "))
	}

	if strings.TrimSpace(summary) != "" {
		b.WriteString("\nSummary: ")
		b.WriteString(summary)
	}

	b.WriteString("\nContent: ")
	remaining := budget
	for _, m := range messages {
		if remaining <= 0 {
			break
		}
		content := string(m.Role) + ": " + m.Content
		if len(content) <= remaining {
			b.WriteString(content)
			b.WriteString(" ")
			remaining -= len(content)
			continue
		}
		if remaining >= minPartialBudget {
			b.WriteString(content[:remaining])
			b.WriteString("...")
		}
		remaining = 0
	}

	return b.String()
}
