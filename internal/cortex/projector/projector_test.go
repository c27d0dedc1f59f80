package projector

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"manifold/internal/cortex/model"
)

func randVec(dim int, seedByte byte) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32((int(seedByte)+i)%7) - 3
	}
	return v
}

func TestRunInsufficientData(t *testing.T) {
	_, err := Run([][]float32{randVec(8, 1)}, nil, DefaultConfig())
	require.Error(t, err)
}

func TestRunProducesBoundedFinitePoints(t *testing.T) {
	vectors := make([][]float32, 20)
	convs := make([]model.Conversation, 20)
	for i := range vectors {
		vectors[i] = randVec(16, byte(i))
		convs[i] = model.Conversation{ID: string(rune('a' + i)), Title: "Conversation about topic"}
	}
	cfg := DefaultConfig()
	cfg.Clusters = 3

	res, err := Run(vectors, convs, cfg)
	require.NoError(t, err)
	require.Len(t, res.Points, 20)
	require.Len(t, res.ClusterID, 20)

	for _, p := range res.Points {
		require.False(t, math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsNaN(p.Z))
		require.False(t, math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) || math.IsInf(p.Z, 0))
		require.LessOrEqual(t, math.Abs(p.X), cfg.Scale+1e-6)
		require.LessOrEqual(t, math.Abs(p.Y), cfg.Scale+1e-6)
		require.LessOrEqual(t, math.Abs(p.Z), cfg.Scale+1e-6)
	}
	require.NotEmpty(t, res.Labels)
}

func TestRunUsesRandomInitBelowSpectralThreshold(t *testing.T) {
	vectors := [][]float32{randVec(8, 1), randVec(8, 2), randVec(8, 3)}
	convs := []model.Conversation{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	cfg := Config{Neighbors: 15, MinDist: 0.1, Scale: 10, Clusters: 2}

	res, err := Run(vectors, convs, cfg)
	require.NoError(t, err)
	require.Len(t, res.Points, 3)
}

func TestNormalizeDegenerateLeavesOrigin(t *testing.T) {
	points := [][3]float64{{0, 0, 0}, {0, 0, 0}}
	out := normalize(points, 10)
	for _, p := range out {
		require.Equal(t, [3]float64{0, 0, 0}, p)
	}
}

func TestNormalizeScalesToBound(t *testing.T) {
	points := [][3]float64{{1, 2, 3}, {-4, 0, 1}, {2, -2, -2}}
	out := normalize(points, 5)
	maxAbs := 0.0
	for _, p := range out {
		for _, v := range p {
			if a := math.Abs(v); a > maxAbs {
				maxAbs = a
			}
		}
	}
	require.InDelta(t, 5, maxAbs, 1e-9)
}
