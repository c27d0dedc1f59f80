package vectorindex

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func dimVec(dim int, hot int) []float32 {
	v := make([]float32, dim)
	v[hot] = 1
	return v
}

func TestUpsertAndSearchOrdering(t *testing.T) {
	idx := New(filepath.Join(t.TempDir(), "index.json"), 4)

	require.NoError(t, idx.Upsert("a", "doc a", []float32{1, 0, 0, 0}, nil))
	require.NoError(t, idx.Upsert("b", "doc b", []float32{0, 1, 0, 0}, nil))

	results, err := idx.Search([]float32{0.9, 0.1, 0, 0}, 2, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "a", results[0].ID)
	require.Equal(t, "b", results[1].ID)
	require.Greater(t, results[0].Score, results[1].Score)
}

func TestSearchEmptyStore(t *testing.T) {
	idx := New(filepath.Join(t.TempDir(), "index.json"), 4)
	results, err := idx.Search([]float32{1, 0, 0, 0}, 10, 0)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestDeleteDecrementsCount(t *testing.T) {
	idx := New(filepath.Join(t.TempDir(), "index.json"), 4)
	require.NoError(t, idx.Upsert("a", "doc", []float32{1, 0, 0, 0}, nil))
	require.Equal(t, 1, idx.Count())

	require.NoError(t, idx.Delete("a"))
	require.Equal(t, 0, idx.Count())

	results, err := idx.Search([]float32{1, 0, 0, 0}, 10, 0)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestUpsertSameIDTwiceKeepsCountAndLastWins(t *testing.T) {
	idx := New(filepath.Join(t.TempDir(), "index.json"), 4)
	require.NoError(t, idx.Upsert("a", "first", []float32{1, 0, 0, 0}, nil))
	require.NoError(t, idx.Upsert("a", "second", []float32{0, 1, 0, 0}, nil))
	require.Equal(t, 1, idx.Count())

	results, err := idx.Search([]float32{0, 1, 0, 0}, 1, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "second", results[0].Document)
}

func TestDimensionMismatchRejected(t *testing.T) {
	idx := New(filepath.Join(t.TempDir(), "index.json"), 4)
	err := idx.Upsert("a", "doc", []float32{1, 0, 0}, nil)
	require.Error(t, err)

	require.NoError(t, idx.Upsert("b", "doc", []float32{1, 0, 0, 0}, nil))
	_, err = idx.Search([]float32{1, 0, 0}, 1, 0)
	require.Error(t, err)
}

func TestZeroNormVectorScoresZero(t *testing.T) {
	idx := New(filepath.Join(t.TempDir(), "index.json"), 4)
	require.NoError(t, idx.Upsert("a", "doc", []float32{0, 0, 0, 0}, nil))

	results, err := idx.Search([]float32{1, 0, 0, 0}, 1, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, 0.0, results[0].Score)
}

func TestSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")
	idx := New(path, 4)
	require.NoError(t, idx.Upsert("a", "doc a", []float32{1, 0, 0, 0}, map[string]string{"k": "v"}))

	reloaded := New(path, 4)
	require.Equal(t, 1, reloaded.Count())
	results, err := reloaded.Search([]float32{1, 0, 0, 0}, 1, 0)
	require.NoError(t, err)
	require.Equal(t, "v", results[0].Metadata["k"])
}

func TestCorruptSnapshotYieldsEmptyStore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	idx := New(path, 4)
	require.Equal(t, 0, idx.Count())
}
