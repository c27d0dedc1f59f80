package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"manifold/internal/cortex/model"
)

func TestMemoryCreateAndGet(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	conv := model.Conversation{ID: "c1", Title: "hi"}
	msgs := []model.Message{
		{ConversationID: "c1", Sequence: 0, Role: model.RoleUser, Content: "hi"},
		{ConversationID: "c1", Sequence: 1, Role: model.RoleAssistant, Content: "hello"},
	}
	emb := model.Embedding{ConversationID: "c1", Vector: []float32{1, 0}}

	require.NoError(t, s.CreateConversation(ctx, conv, msgs, emb))

	got, gotMsgs, gotEmb, err := s.GetConversation(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, 2, got.MessageCount)
	require.Equal(t, model.UnclusteredID, got.ClusterID)
	require.Len(t, gotMsgs, 2)
	require.Equal(t, []float32{1, 0}, gotEmb.Vector)
}

func TestMemoryGetMissing(t *testing.T) {
	s := NewMemory()
	_, _, _, err := s.GetConversation(context.Background(), "missing")
	require.Error(t, err)
}

func TestMemoryDeleteCascades(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	require.NoError(t, s.CreateConversation(ctx, model.Conversation{ID: "c1"}, nil, model.Embedding{}))
	require.NoError(t, s.DeleteConversation(ctx, "c1"))
	_, _, _, err := s.GetConversation(ctx, "c1")
	require.Error(t, err)
}

func TestMemoryUpdateProjection(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	require.NoError(t, s.CreateConversation(ctx, model.Conversation{ID: "c1"}, nil, model.Embedding{ConversationID: "c1"}))

	require.NoError(t, s.UpdateProjection(ctx, "c1", model.Point3D{X: 3, Y: 4, Z: 0}, 2, "Cluster 2"))

	conv, _, emb, err := s.GetConversation(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, 2, conv.ClusterID)
	require.Equal(t, "Cluster 2", conv.ClusterLabel)
	require.InDelta(t, 5.0, emb.Magnitude, 1e-9)
}

func TestMemoryListConversationsNewestFirst(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	require.NoError(t, s.CreateConversation(ctx, model.Conversation{ID: "a"}, nil, model.Embedding{}))
	require.NoError(t, s.CreateConversation(ctx, model.Conversation{ID: "b"}, nil, model.Embedding{}))

	list, err := s.ListConversations(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.False(t, list[0].CreatedAt.Before(list[1].CreatedAt))
}

func TestMemoryGetConversationsByIDs(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	require.NoError(t, s.CreateConversation(ctx, model.Conversation{ID: "a"}, nil, model.Embedding{ConversationID: "a"}))

	convs, embs, err := s.GetConversationsByIDs(ctx, []string{"a", "missing"})
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.Len(t, embs, 1)
}
