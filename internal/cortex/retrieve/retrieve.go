// Package retrieve implements the semantic search service (SPEC_FULL.md
// §4.4): embed query → vector search → metadata hydration → filter →
// response shaping → sort/truncate/dedupe. Grounded on
// internal/rag/service/service.go's staged Retrieve pipeline
// (BuildQueryPlan→embed→ParallelCandidates→fusion→AssembleResults),
// narrowed to a single vector-only candidate source — this spec carries no
// full-text or graph store, so those fusion stages have no analogue here
// (see DESIGN.md).
package retrieve

import (
	"context"
	"encoding/json"
	"time"

	"manifold/internal/cortex/model"
	"manifold/internal/cortex/providers"
	"manifold/internal/cortex/store"
	"manifold/internal/cortex/vectorindex"
)

// DefaultMinScore is the retrieval floor applied when the caller does not
// specify one.
const DefaultMinScore = 0.3

// snippetLen bounds the text snippet attached to each response item.
const snippetLen = 200

// Query is the public search operation's parameters. MinScore is a pointer
// so an omitted floor (defaulted to DefaultMinScore) can be distinguished
// from an explicit 0 (SPEC_FULL.md §4.2 allows 0 to disable the floor
// entirely).
type Query struct {
	Text          string
	Limit         int
	MinScore      *float64
	ClusterFilter *int
	TopicFilter   []string
}

// Item is one shaped search result.
type Item struct {
	ConversationID string          `json:"conversation_id"`
	Title          string          `json:"title"`
	Summary        string          `json:"summary"`
	Topics         []string        `json:"topics"`
	MessageCount   int             `json:"message_count"`
	CreatedAt      time.Time       `json:"created_at"`
	Projected      model.Point3D   `json:"projected"`
	Start          model.Point3D   `json:"start"`
	Magnitude      float64         `json:"magnitude"`
	ClusterID      int             `json:"cluster_id"`
	ClusterLabel   string          `json:"cluster_label"`
	Score          float64         `json:"score"`
	Snippet        string          `json:"snippet"`
}

// Response is the full search result set.
type Response struct {
	Items      []Item        `json:"items"`
	Total      int           `json:"total"`
	SearchTime time.Duration `json:"search_time_ms"`
}

// MarshalJSON reports SearchTime in milliseconds under search_time_ms.
func (r Response) MarshalJSON() ([]byte, error) {
	type alias Response
	return json.Marshal(struct {
		alias
		SearchTime float64 `json:"search_time_ms"`
	}{alias(r), float64(r.SearchTime) / float64(time.Millisecond)})
}

// Service runs the retrieval pipeline against a store, vector index, and
// embedder.
type Service struct {
	Store    store.Store
	Index    *vectorindex.Index
	Embedder providers.Embedder
}

// Search runs the six-step retrieval pipeline (SPEC_FULL.md §4.4).
func (s *Service) Search(ctx context.Context, q Query) (Response, error) {
	start := time.Now()

	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	minScore := DefaultMinScore
	if q.MinScore != nil {
		minScore = *q.MinScore
	}

	// 1. Embed the query (cache disabled for queries).
	vector, err := s.Embedder.Embed(ctx, q.Text)
	if err != nil {
		return Response{}, err
	}

	// 2. Query the vector index with k = limit * 3.
	hits, err := s.Index.Search(vector, limit*3, minScore)
	if err != nil {
		return Response{}, err
	}

	// Deduplicate by conversation id, keeping the max score and the first
	// document text seen for the snippet.
	best := make(map[string]vectorindex.Result, len(hits))
	for _, h := range hits {
		cur, ok := best[h.ID]
		if !ok || h.Score > cur.Score {
			if ok {
				h.Document = cur.Document
			}
			best[h.ID] = h
		}
	}

	ids := make([]string, 0, len(best))
	for id := range best {
		ids = append(ids, id)
	}

	// 3. Batch-hydrate metadata; discard ids with no surviving conversation.
	convs, embs, err := s.Store.GetConversationsByIDs(ctx, ids)
	if err != nil {
		return Response{}, err
	}

	items := make([]Item, 0, len(ids))
	for id, hit := range best {
		conv, ok := convs[id]
		if !ok {
			continue
		}
		emb := embs[id]

		// 4. Apply cluster/topic filters.
		if q.ClusterFilter != nil && conv.ClusterID != *q.ClusterFilter {
			continue
		}
		if len(q.TopicFilter) > 0 && !topicsIntersect(conv.Topics, q.TopicFilter) {
			continue
		}

		// 5. Shape the response item.
		items = append(items, Item{
			ConversationID: id,
			Title:          conv.Title,
			Summary:        conv.Summary,
			Topics:         conv.Topics,
			MessageCount:   conv.MessageCount,
			CreatedAt:      conv.CreatedAt,
			Projected:      emb.Projected,
			Start:          emb.Start,
			Magnitude:      emb.Magnitude,
			ClusterID:      conv.ClusterID,
			ClusterLabel:   conv.ClusterLabel,
			Score:          hit.Score,
			Snippet:        snippet(hit.Document),
		})
	}

	// 6. Sort by score descending, truncate to limit.
	sortByScoreDesc(items)
	total := len(items)
	if len(items) > limit {
		items = items[:limit]
	}

	return Response{Items: items, Total: total, SearchTime: time.Since(start)}, nil
}

func topicsIntersect(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, t := range have {
		set[t] = true
	}
	for _, t := range want {
		if set[t] {
			return true
		}
	}
	return false
}

func snippet(document string) string {
	if len(document) <= snippetLen {
		return document
	}
	return document[:snippetLen] + "..."
}

func sortByScoreDesc(items []Item) {
	// Small N per request (limit*3 at most); insertion sort keeps this
	// dependency-free and stable on ties.
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j].Score > items[j-1].Score; j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}
