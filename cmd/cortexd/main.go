// Command cortexd is the Cortex Memory Service's single entry point: it
// loads configuration, wires the vector index, metadata store, cache,
// providers, ingestion orchestrator, retrieval service, and HTTP + MCP
// servers together, then serves until a termination signal arrives.
// Grounded on cmd/webui/main.go's listen/signal-wait/graceful-shutdown
// lifecycle.
package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"manifold/internal/cortex/cache"
	"manifold/internal/cortex/config"
	"manifold/internal/cortex/httpapi"
	"manifold/internal/cortex/ingest"
	"manifold/internal/cortex/logging"
	"manifold/internal/cortex/mcpserver"
	"manifold/internal/cortex/model"
	"manifold/internal/cortex/objectstore"
	"manifold/internal/cortex/parsers"
	"manifold/internal/cortex/projector"
	"manifold/internal/cortex/providers"
	"manifold/internal/cortex/retrieve"
	"manifold/internal/cortex/store"
	"manifold/internal/cortex/telemetry"
	"manifold/internal/cortex/vectorindex"
)

func main() {
	logger := logging.Init()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telem, err := telemetry.Setup(ctx, telemetry.Config{Endpoint: cfg.OTLPEndpoint, ServiceName: "cortex-memory-service"})
	if err != nil {
		logger.Fatal().Err(err).Msg("setup telemetry")
	}
	defer telem.Shutdown(context.Background())

	md, err := buildStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("build metadata store")
	}

	index := vectorindex.New(cfg.VectorStorePath, cfg.EmbeddingDim)
	contentCache := buildCache(cfg)
	embedder := buildEmbedder(cfg)
	summariser, gate, synthesiser := buildChatProviders(cfg)

	mirror, err := objectstore.New(ctx, objectstore.Config{Bucket: cfg.S3Bucket})
	if err != nil {
		logger.Fatal().Err(err).Msg("build object store mirror")
	}

	orchestrator := &ingest.Orchestrator{
		Parser:      parsers.New(),
		Summariser:  summariser,
		Embedder:    embedder,
		Store:       md,
		Index:       index,
		Cache:       contentCache,
		Concurrency: cfg.IngestConcurrency,
		Projector:   projectorConfig(cfg),
		ObjectStore: mirror,
	}
	retriever := &retrieve.Service{Store: md, Index: index, Embedder: embedder}

	api := &httpapi.Server{
		Orchestrator: orchestrator,
		Retrieve:     retriever,
		Store:        md,
		Index:        index,
		Synthesiser:  synthesiser,
		Projector:    projectorConfig(cfg),
		ObjectStore:  mirror,
		Logger:       logger,
	}
	mcp := mcpserver.NewServer("cortex-memory-service", "1.0.0", mcpserver.Server{
		Retrieve:      retriever,
		Store:         md,
		Gate:          gate,
		GateThreshold: cfg.GateThreshold,
	})

	mux := api.Routes()
	mux.Handle("/mcp", mcp.StreamableHTTPHandler())
	mux.Handle("/sse", mcp.SSEHandler())

	addr := cfg.Host + ":" + cfg.Port
	srv := &http.Server{Addr: addr, Handler: telemetry.Wrap("cortex", mux)}

	go func() {
		logger.Info().Str("addr", addr).Msg("cortex-memory-service listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown")
	}
}

func buildStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		return store.NewMemory(), nil
	}
	pg, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return pg, nil
}

func buildCache(cfg config.Config) *cache.Cache {
	return cache.New(cfg.CacheDir)
}

func buildEmbedder(cfg config.Config) providers.Embedder {
	if cfg.EmbeddingProvider == "cloud" && cfg.OpenAIAPIKey != "" {
		return providers.NewOpenAIEmbedder(providers.OpenAIEmbedderConfig{
			APIKey: cfg.OpenAIAPIKey,
			Model:  cfg.EmbeddingModel,
			Dim:    cfg.EmbeddingDim,
		})
	}
	return providers.NewDeterministicEmbedder(cfg.EmbeddingDim, true)
}

func buildChatProviders(cfg config.Config) (providers.Summariser, providers.Gate, providers.PromptSynthesiser) {
	if cfg.ChatProvider == "cloud" && cfg.AnthropicAPIKey != "" {
		client := providers.NewAnthropicClient(providers.AnthropicConfig{APIKey: cfg.AnthropicAPIKey, Model: cfg.ChatModel})
		gate := providers.Gate(providers.OpenGate{})
		if cfg.GateEnabled {
			gate = client
		}
		return client, gate, client
	}
	return providers.FallbackSummariser{}, providers.OpenGate{}, noopSynthesiser{}
}

func projectorConfig(cfg config.Config) projector.Config {
	return projector.Config{
		Neighbors: cfg.UMAPNeighbors,
		MinDist:   cfg.UMAPMinDist,
		Scale:     projector.DefaultScale,
		Clusters:  cfg.NClusters,
	}
}

type noopSynthesiser struct{}

func (noopSynthesiser) Synthesise(_ context.Context, _ []model.Conversation) (string, error) {
	return "", nil
}
