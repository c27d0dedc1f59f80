package providers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"manifold/internal/cortex/cortexerr"
)

func TestDeterministicEmbedderDeterministic(t *testing.T) {
	e := NewDeterministicEmbedder(64, true)
	v1, err := e.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	v2, err := e.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	require.Equal(t, v1, v2)
	require.Equal(t, 64, e.Dimension())
}

func TestDeterministicEmbedderDiffersByText(t *testing.T) {
	e := NewDeterministicEmbedder(64, false)
	v1, _ := e.Embed(context.Background(), "alpha")
	v2, _ := e.Embed(context.Background(), "beta")
	require.NotEqual(t, v1, v2)
}

func TestFallbackSummariser(t *testing.T) {
	s := FallbackSummariser{}
	out, err := s.Summarise(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, "Conversation with 0 messages", out.Text)
	require.Empty(t, out.Topics)
}

func TestOpenGateAlwaysAllows(t *testing.T) {
	g := OpenGate{}
	v, err := g.Judge(context.Background(), "q", "c")
	require.NoError(t, err)
	require.True(t, v.IsRelevant)
}

func TestWithRetrySucceedsEventually(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), RetryConfig{MaxAttempts: 3}, func(ctx context.Context) error {
		attempts++
		if attempts < 2 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, attempts)
}

func TestWithRetryExhaustsAndWrapsUpstream(t *testing.T) {
	err := WithRetry(context.Background(), RetryConfig{MaxAttempts: 2}, func(ctx context.Context) error {
		return errors.New("permanent")
	})
	require.Error(t, err)
	require.Equal(t, cortexerr.RetryableUpstream, cortexerr.KindOf(err))
}
