package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"manifold/internal/cortex/cortexerr"
	"manifold/internal/cortex/model"
)

// AnthropicConfig configures the cloud chat-provider adapter. Grounded on
// internal/llm/anthropic/client.go's Client construction (option.WithAPIKey,
// option.WithBaseURL, model default).
type AnthropicConfig struct {
	APIKey    string
	Model     string
	MaxTokens int64
}

// AnthropicClient wraps the Anthropic SDK for summarisation, relevance
// gating, and prompt synthesis (SPEC_FULL.md §2.2, §4.7, §4.8).
type AnthropicClient struct {
	sdk       anthropic.Client
	model     string
	maxTokens int64
}

func NewAnthropicClient(cfg AnthropicConfig) *AnthropicClient {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = string(anthropic.ModelClaude3_7SonnetLatest)
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}
	return &AnthropicClient{
		sdk:       anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:     model,
		maxTokens: maxTokens,
	}
}

func (c *AnthropicClient) complete(ctx context.Context, retry RetryConfig, system, user string) (string, error) {
	var text string
	err := WithRetry(ctx, retry, func(ctx context.Context) error {
		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(c.model),
			MaxTokens: c.maxTokens,
			System:    []anthropic.TextBlockParam{{Text: system}},
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
			},
		}
		resp, err := c.sdk.Messages.New(ctx, params)
		if err != nil {
			return err
		}
		var b strings.Builder
		for _, block := range resp.Content {
			if block.Type == "text" {
				b.WriteString(block.Text)
			}
		}
		text = b.String()
		return nil
	})
	return text, err
}

// Summarise calls the configured chat model for a summary + topic list,
// parsing a small JSON envelope out of the model response.
func (c *AnthropicClient) Summarise(ctx context.Context, messages []model.Message) (Summary, error) {
	var b strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}

	system := `Summarise the following chat transcript in one or two sentences and extract up to 5 short topic tags. Respond with JSON: {"summary": "...", "topics": ["..."]}`
	raw, err := c.complete(ctx, DefaultRetry, system, b.String())
	if err != nil {
		return Summary{}, cortexerr.Wrap(cortexerr.RetryableUpstream, "summariser call failed", err)
	}

	var parsed struct {
		Summary string   `json:"summary"`
		Topics  []string `json:"topics"`
	}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
		return Summary{Text: strings.TrimSpace(raw)}, nil
	}
	return Summary{Text: parsed.Summary, Topics: parsed.Topics}, nil
}

// Judge implements Gate by asking the model to rate a (query, candidate)
// pair; the gate never retries and fails open at the call site.
func (c *AnthropicClient) Judge(ctx context.Context, query, candidate string) (GateVerdict, error) {
	system := `Judge whether the candidate text is relevant to the query. Respond with JSON: {"is_relevant": true|false, "confidence": 0.0-1.0, "reason": "..."}`
	user := fmt.Sprintf("Query: %s\n\nCandidate: %s", query, candidate)

	raw, err := c.complete(ctx, RetryConfig{MaxAttempts: 1}, system, user)
	if err != nil {
		return GateVerdict{}, err
	}

	var parsed struct {
		IsRelevant bool    `json:"is_relevant"`
		Confidence float64 `json:"confidence"`
		Reason     string  `json:"reason"`
	}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
		return GateVerdict{}, fmt.Errorf("parse gate response: %w", err)
	}
	return GateVerdict{IsRelevant: parsed.IsRelevant, Confidence: parsed.Confidence, Reason: parsed.Reason}, nil
}

// Synthesise builds a system prompt string from a set of conversations
// (SPEC_FULL.md §4.8).
func (c *AnthropicClient) Synthesise(ctx context.Context, conversations []model.Conversation) (string, error) {
	var b strings.Builder
	for _, conv := range conversations {
		fmt.Fprintf(&b, "Title: %s\nTopics: %s\nSummary: %s\n\n", conv.Title, strings.Join(conv.Topics, ", "), conv.Summary)
	}

	system := "Synthesise a single system prompt that captures the recurring context, preferences, and themes from these past conversations. Respond with the prompt text only."
	text, err := c.complete(ctx, DefaultRetry, system, b.String())
	if err != nil {
		return "", cortexerr.Wrap(cortexerr.RetryableUpstream, "prompt synthesis call failed", err)
	}
	return strings.TrimSpace(text), nil
}

// extractJSON returns the first {...} substring of s, or s itself if none
// is found, tolerating models that wrap JSON in prose or code fences.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
