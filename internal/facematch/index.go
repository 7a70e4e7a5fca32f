package facematch

import (
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

const (
	indexMaxNeighbors = 16
	indexEfSearch     = 64
)

// Neighbor is an indexed identity close to a query vector.
type Neighbor struct {
	ID       int64
	Name     string
	Distance float64
}

// Index is an approximate nearest-neighbor index over enrolled vectors.
// It is rebuilt from a snapshot rather than mutated in place.
type Index struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[int64]
	names map[int64]string
	dim   int
}

// NewIndex builds an index over candidates. Candidates with an empty vector, or
// whose length differs from the first indexed vector, are skipped.
func NewIndex(candidates []Candidate) *Index {
	idx := &Index{}
	idx.Rebuild(candidates)
	return idx
}

// Rebuild replaces the indexed set.
func (x *Index) Rebuild(candidates []Candidate) {
	names := make(map[int64]string, len(candidates))
	var g *hnsw.Graph[int64]
	dim := 0

	if len(candidates) > 0 {
		g = hnsw.NewGraph[int64]()
		g.M = indexMaxNeighbors
		g.Ml = 1.0 / float64(indexMaxNeighbors)
		g.EfSearch = indexEfSearch
		g.Distance = hnsw.EuclideanDistance

		for _, c := range candidates {
			if len(c.Vector) == 0 || (dim != 0 && len(c.Vector) != dim) {
				continue
			}
			dim = len(c.Vector)
			vec := make([]float32, len(c.Vector))
			copy(vec, c.Vector)
			g.Add(hnsw.MakeNode(c.ID, vec))
			names[c.ID] = c.Name
		}
	}

	x.mu.Lock()
	x.graph = g
	x.names = names
	x.dim = dim
	x.mu.Unlock()
}

// Len returns the number of indexed vectors.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.names)
}

// Nearest returns up to k neighbors ordered by exact Euclidean distance.
func (x *Index) Nearest(query []float32, k int) []Neighbor {
	if k <= 0 {
		return nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.graph == nil || len(x.names) == 0 || len(query) != x.dim {
		return nil
	}

	nodes := x.graph.Search(query, k)
	out := make([]Neighbor, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, Neighbor{
			ID:       n.Key,
			Name:     x.names[n.Key],
			Distance: EuclideanDistance(query, n.Value),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Distance < out[j].Distance
	})
	return out
}

// Within returns the neighbors among the k nearest whose distance is below limit.
func (x *Index) Within(query []float32, k int, limit float64) []Neighbor {
	var out []Neighbor
	for _, n := range x.Nearest(query, k) {
		if n.Distance < limit {
			out = append(out, n)
		}
	}
	return out
}
