package projector

import (
	"math"
	"sort"
	"strconv"
	"unicode"

	"manifold/internal/cortex/model"
)

// KMeansResult is the outcome of clustering a set of 3-D points.
type KMeansResult struct {
	Assignments []int // cluster id per point, len == len(points)
	Centroids   [][3]float64
}

// KMeans clusters points into k groups using Lloyd's algorithm with
// k-means++ seeding and a fixed seed for determinism, retrying on empty
// clusters. Grounded on clusterer.py's sklearn KMeans(random_state=42)
// semantics; k-means itself has no Go dependency anywhere in the example
// corpus, so this is a from-scratch implementation (see DESIGN.md).
func KMeans(points [][3]float64, k int, seed int64) KMeansResult {
	n := len(points)
	if k > n {
		k = n
	}
	if k <= 0 {
		return KMeansResult{Assignments: make([]int, n)}
	}
	if k == 1 {
		assignments := make([]int, n)
		return KMeansResult{Assignments: assignments, Centroids: [][3]float64{mean(points)}}
	}

	rng := newRNG(seed)
	centroids := kmeansPlusPlusSeed(points, k, rng)

	assignments := make([]int, n)
	const maxIter = 300
	for iter := 0; iter < maxIter; iter++ {
		changed := false
		for i, p := range points {
			best, bestDist := 0, math.Inf(1)
			for c, centroid := range centroids {
				d := sqDist(p, centroid)
				if d < bestDist {
					bestDist, best = d, c
				}
			}
			if assignments[i] != best {
				assignments[i] = best
				changed = true
			}
		}

		newCentroids := make([][3]float64, k)
		counts := make([]int, k)
		for i, p := range points {
			c := assignments[i]
			newCentroids[c][0] += p[0]
			newCentroids[c][1] += p[1]
			newCentroids[c][2] += p[2]
			counts[c]++
		}
		for c := range newCentroids {
			if counts[c] == 0 {
				// Reseed an empty cluster from the point farthest from
				// its current centroid assignment.
				newCentroids[c] = farthestPoint(points, assignments, centroids)
				continue
			}
			newCentroids[c][0] /= float64(counts[c])
			newCentroids[c][1] /= float64(counts[c])
			newCentroids[c][2] /= float64(counts[c])
		}
		centroids = newCentroids

		if !changed && iter > 0 {
			break
		}
	}

	return KMeansResult{Assignments: assignments, Centroids: centroids}
}

func kmeansPlusPlusSeed(points [][3]float64, k int, rng *rng) [][3]float64 {
	n := len(points)
	centroids := make([][3]float64, 0, k)
	first := rng.Intn(n)
	centroids = append(centroids, points[first])

	for len(centroids) < k {
		distSq := make([]float64, n)
		var total float64
		for i, p := range points {
			minD := math.Inf(1)
			for _, c := range centroids {
				if d := sqDist(p, c); d < minD {
					minD = d
				}
			}
			distSq[i] = minD
			total += minD
		}
		if total == 0 {
			centroids = append(centroids, points[rng.Intn(n)])
			continue
		}
		target := rng.Float64() * total
		var cum float64
		chosen := n - 1
		for i, d := range distSq {
			cum += d
			if cum >= target {
				chosen = i
				break
			}
		}
		centroids = append(centroids, points[chosen])
	}
	return centroids
}

func farthestPoint(points [][3]float64, assignments []int, centroids [][3]float64) [3]float64 {
	best, bestDist := points[0], -1.0
	for i, p := range points {
		c := centroids[assignments[i]]
		if d := sqDist(p, c); d > bestDist {
			bestDist, best = d, p
		}
	}
	return best
}

func sqDist(a, b [3]float64) float64 {
	dx, dy, dz := a[0]-b[0], a[1]-b[1], a[2]-b[2]
	return dx*dx + dy*dy + dz*dz
}

func mean(points [][3]float64) [3]float64 {
	var m [3]float64
	for _, p := range points {
		m[0] += p[0]
		m[1] += p[1]
		m[2] += p[2]
	}
	n := float64(len(points))
	if n == 0 {
		return m
	}
	return [3]float64{m[0] / n, m[1] / n, m[2] / n}
}

// --- cluster labelling -----------------------------------------------------

// stopWords is the token-frequency stop-word list, ported from
// clusterer.py's _STOP set.
var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "about": true,
	"from": true, "this": true, "that": true, "what": true, "how": true,
	"why": true, "when": true, "where": true, "who": true, "which": true,
	"can": true, "you": true, "your": true, "are": true, "was": true,
	"were": true, "been": true, "being": true, "have": true, "has": true,
	"had": true, "does": true, "did": true, "doing": true, "will": true,
	"would": true, "should": true, "could": true, "may": true, "might": true,
	"must": true, "shall": true, "into": true, "onto": true, "over": true,
	"under": true, "between": true, "during": true, "before": true,
	"after": true, "above": true, "below": true, "again": true,
	"further": true, "then": true, "once": true, "here": true, "there": true,
	"all": true, "any": true, "both": true, "each": true, "few": true,
	"more": true, "most": true, "other": true, "some": true, "such": true,
	"only": true, "own": true, "same": true, "than": true, "too": true,
	"very": true, "just": true, "not": true, "untitled": true, "conversation": true,
	"new": true, "chat": true,
}

// LabelCluster derives a human-readable label for a cluster from the
// titles (preferred) or topics (fallback) of its member conversations
// (SPEC_FULL.md §4.3 step 1-3). Ties in token frequency are broken
// lexically — an explicit enhancement of clusterer.py's stable-sort-only
// behaviour, per spec.md's requirement (see DESIGN.md Open Question 4).
func LabelCluster(clusterID int, members []model.Conversation) string {
	if label := labelFromTokens(titlesOf(members)); label != "" {
		return label
	}
	if label := labelFromTokens(topicsOf(members)); label != "" {
		return label
	}
	return "Cluster " + strconv.Itoa(clusterID)
}

func titlesOf(members []model.Conversation) []string {
	out := make([]string, 0, len(members))
	for _, m := range members {
		out = append(out, m.Title)
	}
	return out
}

func topicsOf(members []model.Conversation) []string {
	var out []string
	for _, m := range members {
		out = append(out, m.Topics...)
	}
	return out
}

func labelFromTokens(texts []string) string {
	counts := map[string]int{}
	for _, text := range texts {
		for _, tok := range tokenize(text) {
			counts[tok]++
		}
	}
	if len(counts) == 0 {
		return ""
	}

	type pair struct {
		token string
		count int
	}
	pairs := make([]pair, 0, len(counts))
	for t, c := range counts {
		pairs = append(pairs, pair{t, c})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].count != pairs[j].count {
			return pairs[i].count > pairs[j].count
		}
		return pairs[i].token < pairs[j].token
	})

	if len(pairs) == 1 {
		return titleCase(pairs[0].token)
	}
	return titleCase(pairs[0].token) + " & " + titleCase(pairs[1].token)
}

// tokenize lower-cases, splits on whitespace and hyphens, strips
// punctuation, and drops stop words and tokens shorter than 3 characters.
func tokenize(s string) []string {
	var out []string
	var cur []rune
	flush := func() {
		if len(cur) == 0 {
			return
		}
		tok := string(cur)
		cur = cur[:0]
		if len(tok) < 3 || stopWords[tok] {
			return
		}
		out = append(out, tok)
	}
	for _, r := range s {
		switch {
		case r == '-' || unicode.IsSpace(r):
			flush()
		case isLetterOrDigit(r):
			cur = append(cur, lower(r))
		default:
			// punctuation and other symbols are dropped without splitting
		}
	}
	flush()
	return out
}

func isLetterOrDigit(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

func lower(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + ('a' - 'A')
	}
	return r
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	if r[0] >= 'a' && r[0] <= 'z' {
		r[0] -= 'a' - 'A'
	}
	return string(r)
}

