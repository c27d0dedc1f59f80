// Package store defines the metadata-store interface owning Conversation,
// Message and Embedding records, and provides an in-memory implementation.
// Grounded on internal/persistence/databases/chat_store_memory.go's CRUD
// surface and sentinel-error pattern, and on factory.go's pluggable-backend
// idiom (see postgres.go for the Postgres-backed implementation).
package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"manifold/internal/cortex/cortexerr"
	"manifold/internal/cortex/model"
)

// ErrNotFound mirrors the reference stack's persistence.ErrNotFound
// sentinel. Neither store in this package returns it: a missing
// conversation is reported as a cortexerr.NotFound error directly.
var ErrNotFound = errors.New("store: not found")

// Store is the metadata-store contract. Implementations must make a single
// conversation's Create transactional (SPEC_FULL.md §5 shared-resource
// policy: "transactions encompass a single conversation's persistence
// step").
type Store interface {
	CreateConversation(ctx context.Context, conv model.Conversation, messages []model.Message, emb model.Embedding) error
	GetConversation(ctx context.Context, id string) (model.Conversation, []model.Message, model.Embedding, error)
	ListConversations(ctx context.Context, limit, offset int) ([]model.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error

	// GetConversationsByIDs batch-hydrates conversations and embeddings
	// for retrieval (SPEC_FULL.md §4.4 step 3). Ids with no matching
	// conversation are simply absent from the returned maps.
	GetConversationsByIDs(ctx context.Context, ids []string) (map[string]model.Conversation, map[string]model.Embedding, error)

	// ListAllEmbeddings returns every conversation with an Embedding, for
	// the projection engine to fit/transform over (SPEC_FULL.md §4.3).
	ListAllEmbeddings(ctx context.Context) ([]model.Conversation, []model.Embedding, error)

	// UpdateProjection writes the projection engine's output back for one
	// conversation (SPEC_FULL.md §4.3 "Outputs written back").
	UpdateProjection(ctx context.Context, id string, point model.Point3D, clusterID int, clusterLabel string) error
}

// NewID generates an opaque 128-bit conversation/message identifier,
// string-encoded, matching the reference stack's uuid usage.
func NewID() string {
	return uuid.NewString()
}

// --- in-memory implementation -------------------------------------------

type memRecord struct {
	conv     model.Conversation
	messages []model.Message
	emb      model.Embedding
}

// Memory is a sync.RWMutex-guarded in-memory Store, used for tests and as
// the zero-configuration default backend.
type Memory struct {
	mu      sync.RWMutex
	records map[string]memRecord
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]memRecord)}
}

func (m *Memory) CreateConversation(_ context.Context, conv model.Conversation, messages []model.Message, emb model.Embedding) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	conv.CreatedAt, conv.UpdatedAt = now, now
	conv.MessageCount = len(messages)
	if conv.ClusterLabel == "" {
		conv.ClusterID = model.UnclusteredID
		conv.ClusterLabel = model.UnclusteredLabel
	}

	cp := make([]model.Message, len(messages))
	copy(cp, messages)

	m.records[conv.ID] = memRecord{conv: conv, messages: cp, emb: emb}
	return nil
}

func (m *Memory) GetConversation(_ context.Context, id string) (model.Conversation, []model.Message, model.Embedding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return model.Conversation{}, nil, model.Embedding{}, cortexerr.NotFoundf("conversation %s not found", id)
	}
	msgs := make([]model.Message, len(rec.messages))
	copy(msgs, rec.messages)
	return rec.conv, msgs, rec.emb, nil
}

func (m *Memory) ListConversations(_ context.Context, limit, offset int) ([]model.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]model.Conversation, 0, len(m.records))
	for _, rec := range m.records {
		all = append(all, rec.conv)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	if offset >= len(all) {
		return []model.Conversation{}, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (m *Memory) DeleteConversation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return cortexerr.NotFoundf("conversation %s not found", id)
	}
	delete(m.records, id)
	return nil
}

func (m *Memory) GetConversationsByIDs(_ context.Context, ids []string) (map[string]model.Conversation, map[string]model.Embedding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	convs := make(map[string]model.Conversation, len(ids))
	embs := make(map[string]model.Embedding, len(ids))
	for _, id := range ids {
		if rec, ok := m.records[id]; ok {
			convs[id] = rec.conv
			embs[id] = rec.emb
		}
	}
	return convs, embs, nil
}

func (m *Memory) ListAllEmbeddings(_ context.Context) ([]model.Conversation, []model.Embedding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	convs := make([]model.Conversation, 0, len(m.records))
	embs := make([]model.Embedding, 0, len(m.records))
	for _, rec := range m.records {
		convs = append(convs, rec.conv)
		embs = append(embs, rec.emb)
	}
	sort.Slice(convs, func(i, j int) bool { return convs[i].ID < convs[j].ID })
	sort.Slice(embs, func(i, j int) bool { return embs[i].ConversationID < embs[j].ConversationID })
	return convs, embs, nil
}

func (m *Memory) UpdateProjection(_ context.Context, id string, point model.Point3D, clusterID int, clusterLabel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return cortexerr.NotFoundf("conversation %s not found", id)
	}
	rec.emb.Projected = point
	rec.emb.Magnitude = point.Norm()
	rec.conv.ClusterID = clusterID
	rec.conv.ClusterLabel = clusterLabel
	rec.conv.UpdatedAt = time.Now().UTC()
	m.records[id] = rec
	return nil
}
