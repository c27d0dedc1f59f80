package ingest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"manifold/internal/cortex/cache"
	"manifold/internal/cortex/cortexerr"
	"manifold/internal/cortex/model"
	"manifold/internal/cortex/objectstore"
	"manifold/internal/cortex/projector"
	"manifold/internal/cortex/providers"
	"manifold/internal/cortex/store"
	"manifold/internal/cortex/textprep"
	"manifold/internal/cortex/vectorindex"
)

// DefaultConcurrency is C_ingest, the default per-bundle fan-out width.
const DefaultConcurrency = 3

// maxTitleLen bounds a Conversation's title (SPEC_FULL.md §3 data model).
const maxTitleLen = 200

// untitledSentinel is the vendor-supplied placeholder title that triggers
// title derivation from the first user message.
const untitledSentinel = "Untitled"

// documentPreviewCount is K, the number of leading role-tagged messages
// folded into the vector index's searchable document text.
const documentPreviewCount = 10

// documentPreviewBytes is B, the per-message truncation applied when
// composing that document text.
const documentPreviewBytes = 300

// Orchestrator wires the per-item ingestion pipeline together. Grounded on
// internal/rag/service/service.go's staged Ingest method and its
// functional-options Service constructor, generalised from a
// document/chunk domain to a conversation/message domain.
type Orchestrator struct {
	Parser      Parser
	Summariser  providers.Summariser
	Embedder    providers.Embedder
	Store       store.Store
	Index       *vectorindex.Index
	Cache       *cache.Cache
	Concurrency int
	Projector   projector.Config

	// ObjectStore mirrors raw uploaded bundles to S3-compatible storage
	// when configured; a nil ObjectStore disables mirroring entirely
	// (SPEC_FULL.md §4.9, expansion).
	ObjectStore *objectstore.Mirror
}

// ItemResult is the per-conversation outcome reported in Response.
type ItemResult struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Title          string `json:"title,omitempty"`
	Error          string `json:"error,omitempty"`
	Duration       int64  `json:"duration_ms"`
}

// Response aggregates one IngestBundle call's outcome (SPEC_FULL.md §4.1).
type Response struct {
	Total              int          `json:"total"`
	Succeeded          int          `json:"succeeded"`
	Failed             int          `json:"failed"`
	Items              []ItemResult `json:"items"`
	ReprojectAttempted bool         `json:"reproject_attempted"`
	ReprojectError     string       `json:"reproject_error,omitempty"`
	MirrorError        string       `json:"mirror_error,omitempty"`
}

// IngestBundle validates, parses, and ingests every conversation found in
// raw, isolating per-conversation failures, then optionally re-projects
// the corpus.
func (o *Orchestrator) IngestBundle(ctx context.Context, raw []byte, contentType string, autoReproject bool) (Response, error) {
	if len(raw) == 0 {
		return Response{}, cortexerr.New(cortexerr.InvalidInput, "empty upload")
	}
	if contentType != "" && !strings.Contains(contentType, "html") {
		return Response{}, cortexerr.New(cortexerr.InvalidInput, "only HTML bundles are accepted")
	}

	parsed, err := o.Parser.Parse(raw)
	if err != nil {
		return Response{}, err
	}
	if len(parsed) == 0 {
		return Response{}, cortexerr.New(cortexerr.EmptyInput, "no conversations found in bundle")
	}

	var mirrorErr string
	if o.ObjectStore != nil {
		if err := o.ObjectStore.MirrorBundle(ctx, store.NewID()+".html", raw); err != nil {
			mirrorErr = err.Error()
		}
	}

	concurrency := o.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	sem := semaphore.NewWeighted(int64(concurrency))

	items := make([]ItemResult, len(parsed))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i, pc := range parsed {
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			items[i] = ItemResult{Error: err.Error()}
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func(i int, pc ParsedConversation) {
			defer wg.Done()
			defer sem.Release(1)
			result := o.ingestOne(ctx, pc)
			mu.Lock()
			items[i] = result
			mu.Unlock()
		}(i, pc)
	}
	wg.Wait()

	resp := Response{Total: len(items), Items: items, MirrorError: mirrorErr}
	for _, it := range items {
		if it.Error == "" {
			resp.Succeeded++
		} else {
			resp.Failed++
		}
	}

	if autoReproject || resp.Succeeded > 1 {
		resp.ReprojectAttempted = true
		if err := Reproject(ctx, o.Store, o.Projector, o.ObjectStore); err != nil {
			resp.ReprojectError = err.Error()
		}
	}

	return resp, nil
}

// ingestOne runs the seven-step per-item pipeline for a single parsed
// conversation, isolating all failures as an ItemResult rather than
// propagating them to siblings.
func (o *Orchestrator) ingestOne(ctx context.Context, pc ParsedConversation) ItemResult {
	start := time.Now()

	// 1. Normalise.
	title, messages := normalise(pc)
	if len(messages) == 0 {
		return ItemResult{Title: title, Error: "empty input: no messages after normalisation", Duration: time.Since(start).Milliseconds()}
	}

	// 2. Summarise (permanent failure substitutes the deterministic
	// fallback rather than failing the item).
	summary, err := o.Summariser.Summarise(ctx, messages)
	if err != nil {
		summary = providers.Summary{Text: providers.FallbackText(len(messages))}
	}

	// 3. Identify.
	id := store.NewID()

	if o.Cache != nil {
		_ = o.Cache.Set(cache.KindSummary, id, summary)
	}

	// 4. Prepare embedding input.
	embedInput := textprep.Compose(title, summary.Text, summary.Topics, messages, textprep.DefaultMessageBudget)

	// 5. Embed.
	vector, err := o.Embedder.Embed(ctx, embedInput)
	if err != nil {
		return ItemResult{Title: title, Error: err.Error(), Duration: time.Since(start).Milliseconds()}
	}
	if o.Cache != nil {
		_ = o.Cache.Set(cache.KindEmbedding, id, vector)
	}

	conv := model.Conversation{
		ID:           id,
		Title:        title,
		Summary:      summary.Text,
		Topics:       summary.Topics,
		ClusterID:    model.UnclusteredID,
		ClusterLabel: model.UnclusteredLabel,
	}
	emb := model.Embedding{ConversationID: id, Vector: vector}

	// 6. Persist (single metadata-store transaction).
	if err := o.Store.CreateConversation(ctx, conv, messages, emb); err != nil {
		return ItemResult{Title: title, Error: err.Error(), Duration: time.Since(start).Milliseconds()}
	}

	// 7. Upsert index. Failure here is logged as a warning but not
	// fatal — a later re-projection/reindex can reconcile it.
	document := composeDocument(title, summary.Text, summary.Topics, messages)
	if o.Index != nil {
		if err := o.Index.Upsert(id, document, vector, map[string]string{"title": title}); err != nil {
			log.Warn().Err(err).Str("conversation_id", id).Msg("vector index upsert failed")
		}
	}

	return ItemResult{ConversationID: id, Title: title, Duration: time.Since(start).Milliseconds()}
}

// normalise trims whitespace-only messages, drops empties, enforces the
// role vocabulary, assigns dense sequence numbers from 0, and derives a
// title from the first user message when the vendor title is missing or
// equals the "Untitled" sentinel (SPEC_FULL.md §4.1 step 1).
func normalise(pc ParsedConversation) (string, []model.Message) {
	out := make([]model.Message, 0, len(pc.Messages))
	seq := 0
	var firstUser string
	for _, m := range pc.Messages {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		if !model.ValidRole(m.Role) {
			continue
		}
		if firstUser == "" && m.Role == model.RoleUser {
			firstUser = content
		}
		out = append(out, model.Message{
			ConversationID: m.ConversationID,
			Sequence:       seq,
			Role:           m.Role,
			Content:        content,
		})
		seq++
	}

	title := strings.TrimSpace(pc.Title)
	if title == "" || title == untitledSentinel {
		if firstUser != "" {
			title = firstUser
		} else {
			title = untitledSentinel
		}
	}
	if len(title) > maxTitleLen {
		title = title[:maxTitleLen]
	}
	return title, out
}

// composeDocument builds the vector index's searchable document text: the
// title, summary, topic list, then the first documentPreviewCount
// role-tagged messages, each truncated to documentPreviewBytes
// (SPEC_FULL.md §4.1 step 7).
func composeDocument(title, summary string, topics []string, messages []model.Message) string {
	var b strings.Builder
	b.WriteString("Title: ")
	b.WriteString(title)
	if summary != "" {
		b.WriteString("\nSummary: ")
		b.WriteString(summary)
	}
	if len(topics) > 0 {
		b.WriteString("\nTopics: ")
		b.WriteString(strings.Join(topics, ", "))
	}
	b.WriteString("\n")

	n := documentPreviewCount
	if n > len(messages) {
		n = len(messages)
	}
	for _, m := range messages[:n] {
		content := m.Content
		if len(content) > documentPreviewBytes {
			content = content[:documentPreviewBytes] + "..."
		}
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(content)
		b.WriteString("\n")
	}
	return b.String()
}
