// Package projector implements the nonlinear 3-D projection + clustering
// engine (SPEC_FULL.md §4.3). It fits a projector over the current corpus
// of embeddings and transforms them into normalised 3-D visualisation
// coordinates, then clusters and labels the result.
//
// Disambiguated against original_source/backend/services/
// dimensionality_reducer.py and clusterer.py (see DESIGN.md): no pure-Go
// UMAP, spectral-embedding, or k-means library exists anywhere in the
// example corpus, so the numerical core here is a from-scratch, seeded,
// deterministic approximation of that pipeline rather than a third-party
// dependency.
package projector

import (
	"math"
	"sort"

	"manifold/internal/cortex/cortexerr"
	"manifold/internal/cortex/model"
)

// DefaultNeighbors, DefaultMinDist, DefaultScale, DefaultClusters mirror
// the Python original's UMAP_N_NEIGHBORS / UMAP_MIN_DIST / scale / K
// defaults.
const (
	DefaultNeighbors = 15
	DefaultMinDist   = 0.1
	DefaultScale     = 10.0
	DefaultClusters  = 5
	seed             = 42
)

// Config holds the corpus-wide projector hyperparameters.
type Config struct {
	Neighbors int
	MinDist   float64
	Scale     float64
	Clusters  int
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{Neighbors: DefaultNeighbors, MinDist: DefaultMinDist, Scale: DefaultScale, Clusters: DefaultClusters}
}

// Result is the full output of Run for one corpus.
type Result struct {
	Points    []model.Point3D // len == M, in input order
	ClusterID []int           // len == M
	Labels    map[int]string  // cluster id -> label
}

// Run fits the projector + clusterer over vectors (and their associated
// conversations for labelling) and returns normalised 3-D points, cluster
// assignments, and labels. Requires len(vectors) >= 2 (INSUFFICIENT_DATA
// otherwise).
func Run(vectors [][]float32, convs []model.Conversation, cfg Config) (Result, error) {
	m := len(vectors)
	if m < 2 {
		return Result{}, cortexerr.New(cortexerr.InsufficientData, "at least 2 conversations required")
	}
	if cfg.Neighbors <= 0 {
		cfg = DefaultConfig()
	}

	nNeighbors := cfg.Neighbors
	if nNeighbors > m-1 {
		nNeighbors = m - 1
	}
	if nNeighbors < 2 {
		nNeighbors = 2
	}

	useSpectral := m > nNeighbors+1

	dist := cosineDistanceMatrix(vectors)

	var points3D [][3]float64
	if useSpectral {
		points3D = classicalMDS(dist)
	} else {
		points3D = randomInit(m, seed)
	}

	points3D = refine(points3D, dist, nNeighbors, cfg.MinDist)
	points3D = normalize(points3D, cfg.Scale)

	k := cfg.Clusters
	if k <= 0 {
		k = DefaultClusters
	}
	km := KMeans(points3D, k, seed)

	labels := make(map[int]string, k)
	membersByCluster := make(map[int][]model.Conversation)
	for i, c := range km.Assignments {
		if i < len(convs) {
			membersByCluster[c] = append(membersByCluster[c], convs[i])
		}
	}
	for c, members := range membersByCluster {
		labels[c] = LabelCluster(c, members)
	}

	points := make([]model.Point3D, m)
	for i, p := range points3D {
		points[i] = model.Point3D{X: p[0], Y: p[1], Z: p[2]}
	}

	return Result{Points: points, ClusterID: km.Assignments, Labels: labels}, nil
}

// cosineDistanceMatrix returns an MxM matrix of 1 - cosine_similarity.
func cosineDistanceMatrix(vectors [][]float32) [][]float64 {
	m := len(vectors)
	norms := make([]float64, m)
	for i, v := range vectors {
		norms[i] = l2norm(v)
	}
	dist := make([][]float64, m)
	for i := range dist {
		dist[i] = make([]float64, m)
	}
	for i := 0; i < m; i++ {
		for j := i + 1; j < m; j++ {
			sim := 0.0
			if norms[i] != 0 && norms[j] != 0 {
				sim = dotF32(vectors[i], vectors[j]) / (norms[i] * norms[j])
			}
			d := 1 - sim
			dist[i][j] = d
			dist[j][i] = d
		}
	}
	return dist
}

func l2norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func dotF32(a, b []float32) float64 {
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

// classicalMDS approximates a spectral embedding by double-centring the
// squared distance matrix and extracting the top 3 eigenvectors via power
// iteration with deflation — a stand-in for UMAP's spectral initialisation
// when M is large enough to support it (see DESIGN.md).
func classicalMDS(dist [][]float64) [][3]float64 {
	m := len(dist)
	sq := make([][]float64, m)
	for i := range sq {
		sq[i] = make([]float64, m)
		for j := range sq[i] {
			sq[i][j] = dist[i][j] * dist[i][j]
		}
	}

	rowMean := make([]float64, m)
	var grandMean float64
	for i := 0; i < m; i++ {
		var s float64
		for j := 0; j < m; j++ {
			s += sq[i][j]
		}
		rowMean[i] = s / float64(m)
		grandMean += s
	}
	grandMean /= float64(m * m)

	b := make([][]float64, m)
	for i := range b {
		b[i] = make([]float64, m)
		for j := range b[i] {
			b[i][j] = -0.5 * (sq[i][j] - rowMean[i] - rowMean[j] + grandMean)
		}
	}

	points := make([][3]float64, m)
	r := newRNG(seed)
	current := b
	for dim := 0; dim < 3; dim++ {
		vec := powerIteration(current, r)
		for i := 0; i < m; i++ {
			points[i][dim] = vec[i]
		}
		current = deflate(current, vec)
	}
	return points
}

func powerIteration(mat [][]float64, r *rng) []float64 {
	n := len(mat)
	v := make([]float64, n)
	var norm float64
	for i := range v {
		v[i] = r.Float64()*2 - 1
		norm += v[i] * v[i]
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		norm = 1
	}
	for i := range v {
		v[i] /= norm
	}

	for iter := 0; iter < 50; iter++ {
		next := make([]float64, n)
		for i := 0; i < n; i++ {
			var s float64
			for j := 0; j < n; j++ {
				s += mat[i][j] * v[j]
			}
			next[i] = s
		}
		var nrm float64
		for _, x := range next {
			nrm += x * x
		}
		nrm = math.Sqrt(nrm)
		if nrm == 0 {
			return next
		}
		for i := range next {
			next[i] /= nrm
		}
		v = next
	}
	return v
}

func deflate(mat [][]float64, vec []float64) [][]float64 {
	n := len(mat)
	var eigVal float64
	tmp := make([]float64, n)
	for i := 0; i < n; i++ {
		var s float64
		for j := 0; j < n; j++ {
			s += mat[i][j] * vec[j]
		}
		tmp[i] = s
	}
	for i := 0; i < n; i++ {
		eigVal += vec[i] * tmp[i]
	}

	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
		for j := range out[i] {
			out[i][j] = mat[i][j] - eigVal*vec[i]*vec[j]
		}
	}
	return out
}

// randomInit scatters m points uniformly in [-1, 1]^3, seeded.
func randomInit(m int, seedVal int64) [][3]float64 {
	r := newRNG(seedVal)
	out := make([][3]float64, m)
	for i := range out {
		out[i] = [3]float64{r.Float64()*2 - 1, r.Float64()*2 - 1, r.Float64()*2 - 1}
	}
	return out
}

// refine nudges each point toward its nNeighbors nearest neighbours (by
// cosine distance) so their 3-D separation approaches minDist plus that
// cosine distance; non-neighbours exert no force — a coarse, attraction-only
// stand-in for UMAP's optimisation over the fuzzy simplicial set.
func refine(points [][3]float64, dist [][]float64, nNeighbors int, minDist float64) [][3]float64 {
	m := len(points)
	if m <= 2 {
		return points
	}
	const iterations = 30
	const lr = 0.05

	neighbors := make([][]int, m)
	for i := 0; i < m; i++ {
		type nd struct {
			idx int
			d   float64
		}
		cands := make([]nd, 0, m-1)
		for j := 0; j < m; j++ {
			if j != i {
				cands = append(cands, nd{j, dist[i][j]})
			}
		}
		sort.Slice(cands, func(a, b int) bool { return cands[a].d < cands[b].d })
		k := nNeighbors
		if k > len(cands) {
			k = len(cands)
		}
		idxs := make([]int, k)
		for x := 0; x < k; x++ {
			idxs[x] = cands[x].idx
		}
		neighbors[i] = idxs
	}

	cur := make([][3]float64, m)
	copy(cur, points)

	for iter := 0; iter < iterations; iter++ {
		next := make([][3]float64, m)
		copy(next, cur)
		for i := 0; i < m; i++ {
			for _, j := range neighbors[i] {
				dx, dy, dz := cur[j][0]-cur[i][0], cur[j][1]-cur[i][1], cur[j][2]-cur[i][2]
				d := math.Sqrt(dx*dx + dy*dy + dz*dz)
				if d == 0 {
					continue
				}
				// move toward a target separation of minDist plus the
				// corpus's actual cosine distance to that neighbour.
				target := minDist + dist[i][j]
				diff := d - target
				factor := lr * diff / d
				next[i][0] += factor * dx
				next[i][1] += factor * dy
				next[i][2] += factor * dz
			}
		}
		cur = next
	}
	return cur
}

// normalize centres coords on their mean and scales so the maximum
// absolute coordinate equals scale; degenerate (all-zero) data is left at
// the origin. Ported verbatim from dimensionality_reducer.py's
// normalize_coordinates.
func normalize(points [][3]float64, scale float64) [][3]float64 {
	m := len(points)
	if m == 0 {
		return points
	}
	var mean [3]float64
	for _, p := range points {
		mean[0] += p[0]
		mean[1] += p[1]
		mean[2] += p[2]
	}
	mean[0] /= float64(m)
	mean[1] /= float64(m)
	mean[2] /= float64(m)

	centered := make([][3]float64, m)
	maxAbs := 0.0
	for i, p := range points {
		c := [3]float64{p[0] - mean[0], p[1] - mean[1], p[2] - mean[2]}
		centered[i] = c
		for _, v := range c {
			if a := math.Abs(v); a > maxAbs {
				maxAbs = a
			}
		}
	}

	if maxAbs == 0 {
		return centered
	}
	factor := scale / maxAbs
	out := make([][3]float64, m)
	for i, c := range centered {
		out[i] = [3]float64{c[0] * factor, c[1] * factor, c[2] * factor}
	}
	return out
}
