package retrieve

import (
	"context"
	"math"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"manifold/internal/cortex/model"
	"manifold/internal/cortex/providers"
	"manifold/internal/cortex/store"
	"manifold/internal/cortex/vectorindex"
)

func ptrFloat(f float64) *float64 { return &f }

// blendTowardScore builds a unit vector whose cosine similarity with base is
// exactly score: it strips base's component out of other, renormalises the
// remainder to a unit orthogonal vector, then mixes the two back together
// at the angle score dictates.
func blendTowardScore(t *testing.T, base, other []float32, score float64) []float32 {
	t.Helper()
	n := len(base)

	baseNorm := 0.0
	for _, x := range base {
		baseNorm += float64(x) * float64(x)
	}
	baseNorm = math.Sqrt(baseNorm)
	require.Greater(t, baseNorm, 0.0)

	dot := 0.0
	for i := 0; i < n; i++ {
		dot += float64(base[i]) * float64(other[i])
	}

	orth := make([]float64, n)
	var orthNorm float64
	for i := 0; i < n; i++ {
		orth[i] = float64(other[i]) - (dot/(baseNorm*baseNorm))*float64(base[i])
		orthNorm += orth[i] * orth[i]
	}
	orthNorm = math.Sqrt(orthNorm)
	require.Greater(t, orthNorm, 0.0, "base and other must not be parallel")

	remainder := math.Sqrt(1 - score*score)
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = float32(score*(float64(base[i])/baseNorm) + remainder*(orth[i]/orthNorm))
	}
	return out
}

func newTestService(t *testing.T) (*Service, store.Store) {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "vectorindex-*.json")
	require.NoError(t, err)
	idx := vectorindex.New(f.Name(), 32)
	st := store.NewMemory()
	return &Service{Store: st, Index: idx, Embedder: providers.NewDeterministicEmbedder(32, true)}, st
}

func seedConversation(t *testing.T, s *Service, st store.Store, id, title string, clusterID int, topics []string, document string) {
	t.Helper()
	emb := providers.NewDeterministicEmbedder(32, true)
	vec, err := emb.Embed(context.Background(), document)
	require.NoError(t, err)

	conv := model.Conversation{ID: id, Title: title, Summary: "summary of " + title, Topics: topics, ClusterID: clusterID, ClusterLabel: "label"}
	require.NoError(t, st.CreateConversation(context.Background(), conv, []model.Message{{ConversationID: id, Role: model.RoleUser, Content: "hi"}}, model.Embedding{ConversationID: id, Vector: vec}))
	require.NoError(t, s.Index.Upsert(id, document, vec, map[string]string{"title": title}))
}

func TestSearchReturnsMatchesSortedByScore(t *testing.T) {
	s, st := newTestService(t)
	seedConversation(t, s, st, "conv-a", "Cooking pasta", 0, []string{"food"}, "Title: Cooking pasta\nContent: how to make pasta sauce")
	seedConversation(t, s, st, "conv-b", "Rocket science", 1, []string{"space"}, "Title: Rocket science\nContent: orbital mechanics and thrust")

	resp, err := s.Search(context.Background(), Query{Text: "Title: Cooking pasta\nContent: how to make pasta sauce", Limit: 5, MinScore: ptrFloat(0)})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Items)
	require.Equal(t, "conv-a", resp.Items[0].ConversationID)
}

func TestSearchAppliesClusterFilter(t *testing.T) {
	s, st := newTestService(t)
	seedConversation(t, s, st, "conv-a", "Cooking pasta", 0, []string{"food"}, "pasta content")
	seedConversation(t, s, st, "conv-b", "Rocket science", 1, []string{"space"}, "rocket content")

	filter := 1
	resp, err := s.Search(context.Background(), Query{Text: "rocket content", Limit: 5, MinScore: ptrFloat(0), ClusterFilter: &filter})
	require.NoError(t, err)
	for _, item := range resp.Items {
		require.Equal(t, 1, item.ClusterID)
	}
}

func TestSearchAppliesTopicFilter(t *testing.T) {
	s, st := newTestService(t)
	seedConversation(t, s, st, "conv-a", "Cooking pasta", 0, []string{"food"}, "pasta content")
	seedConversation(t, s, st, "conv-b", "Rocket science", 1, []string{"space"}, "rocket content")

	resp, err := s.Search(context.Background(), Query{Text: "content", Limit: 5, MinScore: ptrFloat(0), TopicFilter: []string{"space"}})
	require.NoError(t, err)
	for _, item := range resp.Items {
		require.Contains(t, item.Topics, "space")
	}
}

func TestSearchDiscardsDeletedConversations(t *testing.T) {
	s, st := newTestService(t)
	seedConversation(t, s, st, "conv-a", "Cooking pasta", 0, nil, "pasta content")
	require.NoError(t, st.DeleteConversation(context.Background(), "conv-a"))

	resp, err := s.Search(context.Background(), Query{Text: "pasta content", Limit: 5, MinScore: ptrFloat(0)})
	require.NoError(t, err)
	require.Empty(t, resp.Items)
}

func TestSearchExplicitZeroMinScoreSurfacesBelowDefaultFloor(t *testing.T) {
	s, st := newTestService(t)
	ctx := context.Background()

	queryText := "Title: Cooking pasta\nContent: how to make pasta sauce"
	qVec, err := s.Embedder.Embed(ctx, queryText)
	require.NoError(t, err)
	otherVec, err := s.Embedder.Embed(ctx, "Rocket science orbital mechanics and thrust vectoring systems")
	require.NoError(t, err)

	// A document whose true cosine similarity to the query is 0.15 — below
	// DefaultMinScore (0.3) but within the spec's valid [0,1] range.
	weakVec := blendTowardScore(t, qVec, otherVec, 0.15)
	conv := model.Conversation{ID: "conv-weak", Title: "Weakly related", Summary: "weakly related summary"}
	require.NoError(t, st.CreateConversation(ctx, conv,
		[]model.Message{{ConversationID: "conv-weak", Role: model.RoleUser, Content: "hi"}},
		model.Embedding{ConversationID: "conv-weak", Vector: weakVec}))
	require.NoError(t, s.Index.Upsert("conv-weak", "weakly related document", weakVec, nil))

	// Omitting MinScore applies the default 0.3 floor, excluding the weak match.
	resp, err := s.Search(ctx, Query{Text: queryText, Limit: 5})
	require.NoError(t, err)
	require.Empty(t, resp.Items)

	// An explicit MinScore of 0 must disable the floor rather than being
	// silently treated as "unset".
	resp, err = s.Search(ctx, Query{Text: queryText, Limit: 5, MinScore: ptrFloat(0)})
	require.NoError(t, err)
	require.Len(t, resp.Items, 1)
	require.Equal(t, "conv-weak", resp.Items[0].ConversationID)
}

func TestSearchExplicitLowNonzeroMinScoreOverridesDefaultFloor(t *testing.T) {
	s, st := newTestService(t)
	ctx := context.Background()

	queryText := "Title: Cooking pasta\nContent: how to make pasta sauce"
	qVec, err := s.Embedder.Embed(ctx, queryText)
	require.NoError(t, err)
	otherVec, err := s.Embedder.Embed(ctx, "Rocket science orbital mechanics and thrust vectoring systems")
	require.NoError(t, err)

	// A document whose true cosine similarity to the query is 0.15 — below
	// DefaultMinScore (0.3), but above an explicitly requested floor of 0.1.
	weakVec := blendTowardScore(t, qVec, otherVec, 0.15)
	conv := model.Conversation{ID: "conv-weak-nonzero", Title: "Weakly related", Summary: "weakly related summary"}
	require.NoError(t, st.CreateConversation(ctx, conv,
		[]model.Message{{ConversationID: "conv-weak-nonzero", Role: model.RoleUser, Content: "hi"}},
		model.Embedding{ConversationID: "conv-weak-nonzero", Vector: weakVec}))
	require.NoError(t, s.Index.Upsert("conv-weak-nonzero", "weakly related document", weakVec, nil))

	// A requested floor of 0.1 is a genuinely distinct value from both
	// "unset" (which defaults to 0.3) and an explicit 0 (which disables the
	// floor): it must be applied as-is, admitting the 0.15-scored match.
	resp, err := s.Search(ctx, Query{Text: queryText, Limit: 5, MinScore: ptrFloat(0.1)})
	require.NoError(t, err)
	require.Len(t, resp.Items, 1)
	require.Equal(t, "conv-weak-nonzero", resp.Items[0].ConversationID)
}

func TestSnippetTruncatesWithEllipsis(t *testing.T) {
	long := make([]byte, snippetLen+50)
	for i := range long {
		long[i] = 'a'
	}
	out := snippet(string(long))
	require.True(t, len(out) > snippetLen)
	require.Contains(t, out, "...")
}
