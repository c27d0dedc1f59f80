package textprep

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"manifold/internal/cortex/model"
)

func TestComposeOrderAndSections(t *testing.T) {
	msgs := []model.Message{
		{Role: model.RoleUser, Content: "hi"},
		{Role: model.RoleAssistant, Content: "hello"},
	}
	out := Compose("My Chat", "a summary", []string{"go", "testing"}, msgs, DefaultMessageBudget)

	titleIdx := strings.Index(out, "Title: My Chat")
	topicsIdx := strings.Index(out, "Topics: go, testing")
	summaryIdx := strings.Index(out, "Summary: a summary")
	contentIdx := strings.Index(out, "Content: ")

	require.True(t, titleIdx >= 0 && titleIdx < topicsIdx)
	require.True(t, topicsIdx < summaryIdx)
	require.True(t, summaryIdx < contentIdx)
	require.Contains(t, out, "user: hi")
	require.Contains(t, out, "assistant: hello")
}

func TestComposeOmitsEmptyTopicsAndSummary(t *testing.T) {
	out := Compose("T", "", nil, nil, DefaultMessageBudget)
	require.NotContains(t, out, "Topics:")
	require.NotContains(t, out, "Summary:")
}

func TestComposeTruncatesAtBudget(t *testing.T) {
	long := strings.Repeat("x", 500)
	msgs := []model.Message{{Role: model.RoleUser, Content: long}}
	out := Compose("T", "", nil, msgs, 200)
	require.Contains(t, out, "...")
}

func TestComposeDropsPartialWhenBudgetTooSmall(t *testing.T) {
	msgs := []model.Message{
		{Role: model.RoleUser, Content: strings.Repeat("a", 40)},
		{Role: model.RoleAssistant, Content: strings.Repeat("b", 500)},
	}
	out := Compose("T", "", nil, msgs, 60)
	require.Contains(t, out, "user:")
	require.NotContains(t, out, "assistant:")
}
