// Package vectorindex implements the in-process cosine-similarity vector
// store (SPEC_FULL.md §4.2): a single in-memory map from conversation id to
// {document, vector, metadata}, snapshotted to a JSON file after every
// mutation. Adapted from the shape of memory_vector.go in the reference
// stack's internal/persistence/databases package, generalised with JSON
// persistence ported from the Python original's VectorStoreService.
package vectorindex

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"manifold/internal/cortex/cortexerr"
)

// Result is one scored hit returned by Search.
type Result struct {
	ID       string            `json:"id"`
	Score    float64           `json:"score"`
	Document string            `json:"document"`
	Metadata map[string]string `json:"metadata"`
}

// entry is the on-disk and in-memory representation of one index record.
type entry struct {
	Document string            `json:"document"`
	Embedding []float32        `json:"embedding"`
	Metadata  map[string]string `json:"metadata"`
}

// Index is the vector index. All mutations and reads are serialised by mu;
// an Upsert is atomic: in-memory mutation followed by a full-file snapshot.
type Index struct {
	mu        sync.Mutex
	path      string
	dim       int
	data      map[string]entry
}

// New constructs an Index backed by the JSON file at path, loading existing
// state if present. A corrupt or absent file yields an empty store — never
// a fatal error. dim is the corpus-wide embedding dimension; vectors of any
// other length are rejected by Upsert and Search with DIMENSION_MISMATCH.
func New(path string, dim int) *Index {
	idx := &Index{path: path, dim: dim, data: make(map[string]entry)}
	idx.load()
	return idx
}

func (idx *Index) load() {
	raw, err := os.ReadFile(idx.path)
	if err != nil {
		return
	}
	var loaded map[string]entry
	if err := json.Unmarshal(raw, &loaded); err != nil {
		return
	}
	idx.data = loaded
}

// snapshot must be called with mu held.
func (idx *Index) snapshot() error {
	dir := filepath.Dir(idx.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	raw, err := json.Marshal(idx.data)
	if err != nil {
		return err
	}
	return os.WriteFile(idx.path, raw, 0o644)
}

// Upsert inserts or replaces the record for id. Failure here should be
// logged by the caller, not treated as fatal to the ingest pipeline
// (SPEC_FULL.md §4.1 step 7, §7 propagation policy).
func (idx *Index) Upsert(id, document string, vector []float32, metadata map[string]string) error {
	if len(vector) != idx.dim {
		return cortexerr.New(cortexerr.DimensionMismatch, "vector dimension mismatch on upsert")
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()

	cp := make([]float32, len(vector))
	copy(cp, vector)
	md := make(map[string]string, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}
	idx.data[id] = entry{Document: document, Embedding: cp, Metadata: md}
	return idx.snapshot()
}

// Delete removes id from the index, if present.
func (idx *Index) Delete(id string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, ok := idx.data[id]; !ok {
		return nil
	}
	delete(idx.data, id)
	return idx.snapshot()
}

// Search returns the k highest-scoring entries for query, filtered to
// scores >= minScore, in strictly decreasing score order with ties broken
// by id lexical order. An empty store returns an empty, non-nil slice.
func (idx *Index) Search(query []float32, k int, minScore float64) ([]Result, error) {
	if len(query) != idx.dim {
		return nil, cortexerr.New(cortexerr.DimensionMismatch, "query vector dimension mismatch")
	}
	if k < 1 {
		k = 1
	}

	idx.mu.Lock()
	qnorm := norm(query)
	results := make([]Result, 0, len(idx.data))
	for id, e := range idx.data {
		score := cosine(query, e.Embedding, qnorm)
		if score < minScore {
			continue
		}
		md := make(map[string]string, len(e.Metadata))
		for k2, v := range e.Metadata {
			md[k2] = v
		}
		results = append(results, Result{ID: id, Score: score, Document: e.Document, Metadata: md})
	}
	idx.mu.Unlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Count returns the number of stored entries.
func (idx *Index) Count() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return len(idx.data)
}

// Stats is the summary returned by the /api/search/stats endpoint.
type Stats struct {
	DocumentCount int    `json:"document_count"`
	StorePath     string `json:"store_path"`
}

func (idx *Index) Stats() Stats {
	return Stats{DocumentCount: idx.Count(), StorePath: idx.path}
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var s float64
	for i := 0; i < n; i++ {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

// cosine returns 0 for either zero-norm vector, never dividing by zero.
// anorm may be precomputed by the caller (0 means "compute it").
func cosine(a, b []float32, anorm float64) float64 {
	if anorm == 0 {
		anorm = norm(a)
	}
	bnorm := norm(b)
	if anorm == 0 || bnorm == 0 {
		return 0
	}
	return dot(a, b) / (anorm * bnorm)
}
