package providers

import (
	"context"
	"strings"
	"time"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/param"

	"manifold/internal/cortex/cortexerr"
)

// OpenAIEmbedderConfig configures the cloud embeddings adapter. Grounded on
// internal/llm/openai/client.go's SDK client construction (option.WithAPIKey,
// option.WithBaseURL), generalised from chat completions to embeddings.
type OpenAIEmbedderConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
	Dim     int
}

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint through the
// official SDK client, with a per-call deadline (SPEC_FULL.md §5: 60s for
// embeddings).
type OpenAIEmbedder struct {
	sdk     sdk.Client
	model   string
	timeout time.Duration
	dim     int
}

func NewOpenAIEmbedder(cfg OpenAIEmbedderConfig) *OpenAIEmbedder {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "text-embedding-3-small"
	}
	return &OpenAIEmbedder{
		sdk:     sdk.NewClient(opts...),
		model:   model,
		timeout: timeout,
		dim:     cfg.Dim,
	}
}

func (e *OpenAIEmbedder) Dimension() int { return e.dim }

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := WithRetry(ctx, DefaultRetry, func(ctx context.Context) error {
		cctx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()

		params := sdk.EmbeddingNewParams{
			Input: sdk.EmbeddingNewParamsInputUnion{OfString: param.NewOpt(text)},
			Model: sdk.EmbeddingModel(e.model),
		}
		if e.dim > 0 {
			params.Dimensions = param.NewOpt(int64(e.dim))
		}

		resp, err := e.sdk.Embeddings.New(cctx, params)
		if err != nil {
			return err
		}
		if len(resp.Data) == 0 {
			return cortexerr.New(cortexerr.RetryableUpstream, "empty embedding response")
		}
		vec := make([]float32, len(resp.Data[0].Embedding))
		for i, v := range resp.Data[0].Embedding {
			vec[i] = float32(v)
		}
		out = vec
		return nil
	})
	return out, err
}
