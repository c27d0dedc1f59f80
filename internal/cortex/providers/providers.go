// Package providers defines the external-client adapters for
// summarisation, embedding, relevance gating, and prompt synthesis
// (SPEC_FULL.md §2.2, §4.8). Each exposes an idempotent request shape and
// maps failures into the cortexerr taxonomy. Grounded on internal/rag/
// embedder/embedder.go's Embedder interface and rate-limited client
// wrapper, and internal/llm/{anthropic,openai,google}'s provider-routing
// pattern.
package providers

import (
	"context"
	"hash/fnv"
	"math"
	"strconv"
	"time"

	"manifold/internal/cortex/cortexerr"
	"manifold/internal/cortex/model"
)

// Embedder converts text to dense vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// Summary is the result of a Summariser call.
type Summary struct {
	Text   string
	Topics []string
}

// Summariser produces a summary and topic tags for a conversation.
type Summariser interface {
	Summarise(ctx context.Context, messages []model.Message) (Summary, error)
}

// GateVerdict is the relevance-gate decision for one (query, item) pair.
type GateVerdict struct {
	IsRelevant bool
	Confidence float64
	Reason     string
}

// Gate optionally filters low-confidence retrieval results. Gate failures
// must fail open at the call site (SPEC_FULL.md §4.7, §7).
type Gate interface {
	Judge(ctx context.Context, query, candidate string) (GateVerdict, error)
}

// PromptSynthesiser builds a system prompt from a set of conversations
// (SPEC_FULL.md §4.8).
type PromptSynthesiser interface {
	Synthesise(ctx context.Context, conversations []model.Conversation) (string, error)
}

// --- retry helper ---------------------------------------------------------

// RetryConfig bounds retries for upstream provider calls (SPEC_FULL.md §5:
// exponential backoff with jitter, default 3 attempts).
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetry is the spec's default bounded-retry policy.
var DefaultRetry = RetryConfig{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond}

// WithRetry invokes fn up to cfg.MaxAttempts times with exponential backoff
// and jitter, returning the last error wrapped as RETRYABLE_UPSTREAM.
func WithRetry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultRetry.MaxAttempts
	}
	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == cfg.MaxAttempts-1 {
			break
		}
		delay := cfg.BaseDelay * time.Duration(1<<uint(attempt))
		jitter := time.Duration(jitterFraction(attempt) * float64(delay))
		select {
		case <-time.After(delay + jitter):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return cortexerr.Wrap(cortexerr.RetryableUpstream, "upstream call failed after retries", lastErr)
}

// jitterFraction is a deterministic, low-discrepancy substitute for
// math/rand jitter so retry timing stays reproducible in tests.
func jitterFraction(attempt int) float64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte{byte(attempt)})
	return float64(h.Sum32()%1000) / 10000.0 // 0.0 .. 0.0999
}

// --- deterministic local test doubles ------------------------------------

// DeterministicEmbedder is a hash-based embedder requiring no network
// access, for tests and the "local" provider route when no real backend is
// configured. Grounded on internal/rag/embedder/embedder.go's
// deterministicEmbedder (FNV-hash n-gram embedding, optional normalise).
type DeterministicEmbedder struct {
	dim       int
	normalize bool
}

// NewDeterministicEmbedder constructs a DeterministicEmbedder of dimension
// dim, L2-normalised when normalize is true.
func NewDeterministicEmbedder(dim int, normalize bool) *DeterministicEmbedder {
	return &DeterministicEmbedder{dim: dim, normalize: normalize}
}

func (d *DeterministicEmbedder) Dimension() int { return d.dim }

func (d *DeterministicEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, d.dim)
	grams := trigrams(text)
	if len(grams) == 0 {
		grams = []string{text}
	}
	for _, g := range grams {
		h := fnv.New32a()
		_, _ = h.Write([]byte(g))
		idx := int(h.Sum32()) % d.dim
		if idx < 0 {
			idx += d.dim
		}
		v[idx] += 1
	}
	if d.normalize {
		var norm float64
		for _, x := range v {
			norm += float64(x) * float64(x)
		}
		norm = math.Sqrt(norm)
		if norm > 0 {
			for i := range v {
				v[i] = float32(float64(v[i]) / norm)
			}
		}
	}
	return v, nil
}

func trigrams(s string) []string {
	runes := []rune(s)
	if len(runes) < 3 {
		if len(runes) == 0 {
			return nil
		}
		return []string{string(runes)}
	}
	out := make([]string, 0, len(runes)-2)
	for i := 0; i+3 <= len(runes); i++ {
		out = append(out, string(runes[i:i+3]))
	}
	return out
}

// FallbackSummariser always returns the deterministic fallback
// ("Conversation with N messages", no topics), used when no real
// summarisation provider is configured and as the last-resort substitute
// on permanent upstream failure (SPEC_FULL.md §4.1 step 2).
type FallbackSummariser struct{}

func (FallbackSummariser) Summarise(_ context.Context, messages []model.Message) (Summary, error) {
	return Summary{Text: FallbackText(len(messages)), Topics: nil}, nil
}

// FallbackText is the deterministic fallback summary text.
func FallbackText(n int) string {
	return "Conversation with " + strconv.Itoa(n) + " messages"
}

// OpenGate always allows items through (used when gating is disabled).
type OpenGate struct{}

func (OpenGate) Judge(_ context.Context, _, _ string) (GateVerdict, error) {
	return GateVerdict{IsRelevant: true, Confidence: 1}, nil
}
