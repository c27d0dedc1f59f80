package parsers

import (
	"testing"

	"github.com/stretchr/testify/require"

	"manifold/internal/cortex/cortexerr"
	"manifold/internal/cortex/model"
)

func TestParseRejectsUnrecognisedFormat(t *testing.T) {
	_, err := New().Parse([]byte(`<html><head><title>My Export</title></head><body>hi</body></html>`))
	require.Error(t, err)
	require.Equal(t, cortexerr.UnsupportedFormat, cortexerr.KindOf(err))
}

func TestParseChatGPTFromAuthorRoleAttributes(t *testing.T) {
	html := `<html><head><title>ChatGPT - Getting Started</title></head><body>
<div data-message-author-role="user">How do I sort a slice?</div>
<div data-message-author-role="assistant">Use sort.Slice.</div>
</body></html>`

	convs, err := New().Parse([]byte(html))
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.Len(t, convs[0].Messages, 2)
	require.Equal(t, model.RoleUser, convs[0].Messages[0].Role)
	require.Equal(t, "How do I sort a slice?", convs[0].Messages[0].Content)
	require.Equal(t, model.RoleAssistant, convs[0].Messages[1].Role)
}

func TestParseChatGPTFromEmbeddedJSON(t *testing.T) {
	html := `<html><head><title>ChatGPT</title></head><body>
<script>
var jsonData = [{"title": "Sorting slices", "mapping": {
  "root": {"message": null, "parent": null, "children": ["m1"]},
  "m1": {"message": {"author": {"role": "user"}, "content": {"parts": ["How do I sort a slice?"]}}, "parent": "root", "children": ["m2"]},
  "m2": {"message": {"author": {"role": "assistant"}, "content": {"parts": ["Use sort.Slice."]}}, "parent": "m1", "children": []}
}}];
</script>
</body></html>`

	convs, err := New().Parse([]byte(html))
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.Equal(t, "Sorting slices", convs[0].Title)
	require.Len(t, convs[0].Messages, 2)
	require.Equal(t, model.RoleUser, convs[0].Messages[0].Role)
	require.Equal(t, model.RoleAssistant, convs[0].Messages[1].Role)
	require.Equal(t, "Use sort.Slice.", convs[0].Messages[1].Content)
}

func TestParseChatGPTJSONSkipsSystemMessages(t *testing.T) {
	html := `<html><head><title>ChatGPT</title></head><body>
<script>
const conversations = [{"title": "", "mapping": {
  "root": {"message": {"author": {"role": "system"}, "content": {"parts": ["you are a helpful assistant"]}}, "parent": null, "children": ["m1"]},
  "m1": {"message": {"author": {"role": "user"}, "content": {"parts": ["hello"]}}, "parent": "root", "children": []}
}}];
</script>
</body></html>`

	convs, err := New().Parse([]byte(html))
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.Len(t, convs[0].Messages, 1)
	require.Equal(t, model.RoleUser, convs[0].Messages[0].Role)
	require.Equal(t, "hello", convs[0].Title)
}

func TestParseClaudeFromTurnAttributes(t *testing.T) {
	html := `<html><head><title>Claude</title></head><body>
<div data-testid="human-turn-1">What is a goroutine?</div>
<div data-testid="assistant-turn-1">A lightweight thread managed by the Go runtime.</div>
</body></html>`

	convs, err := New().Parse([]byte(html))
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.Len(t, convs[0].Messages, 2)
	require.Equal(t, model.RoleUser, convs[0].Messages[0].Role)
	require.Equal(t, model.RoleAssistant, convs[0].Messages[1].Role)
}

func TestTitleFromFirstUserMessageTruncates(t *testing.T) {
	long := "this is a very long first message that definitely exceeds the fifty character title limit"
	title := titleFromFirstUserMessage([]model.Message{{Role: model.RoleUser, Content: long}})
	require.LessOrEqual(t, len(title), maxTitleLen+len("..."))
	require.Contains(t, title, "...")
}

func TestNormalizeRoleMapsVariants(t *testing.T) {
	require.Equal(t, model.RoleUser, normalizeRole("Human"))
	require.Equal(t, model.RoleAssistant, normalizeRole("gpt"))
	require.Equal(t, model.RoleSystem, normalizeRole("SYSTEM"))
	require.Equal(t, model.RoleAssistant, normalizeRole("unknown-role"))
}
