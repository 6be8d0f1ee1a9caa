package search

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/coder/hnsw"
	"golang.org/x/sync/errgroup"

	ierrors "github.com/swissarmyhammer/swissarmyhammer-sub028/internal/errors"
	"github.com/swissarmyhammer/swissarmyhammer-sub028/internal/store"
)

type pair struct {
	a, b int
}

// candidate is a chunk admitted to duplicate detection.
type candidate struct {
	ref store.ChunkRef
	vec []float32 // unit length
}

// FindAllDuplicates clusters chunks of at least minChunkBytes whose
// embeddings have cosine similarity of at least minSimilarity. Pairs are
// joined with union-find, so clusters may chain through members that are
// not directly similar. Clusters have two or more members sorted by ID and
// are ordered by size descending, then by first member ID.
func (e *Engine) FindAllDuplicates(ctx context.Context, minSimilarity float64, minChunkBytes int) ([]DuplicateCluster, error) {
	if math.IsNaN(minSimilarity) || minSimilarity < 0 || minSimilarity > 1 {
		return nil, ierrors.InvalidQuery("min_similarity must be within [0,1]").
			WithDetail("min_similarity", fmt.Sprint(minSimilarity))
	}
	if minChunkBytes < 0 {
		return nil, ierrors.InvalidQuery("min_chunk_bytes must not be negative")
	}

	start := time.Now()
	cands, err := e.loadCandidates(ctx, minChunkBytes)
	if err != nil {
		return nil, err
	}

	var pairs []pair
	mode := "exact"
	if len(cands) <= e.opts.ExactPairLimit {
		pairs, err = e.exactPairs(ctx, cands, minSimilarity)
	} else {
		mode = "approximate"
		pairs, err = e.approximatePairs(ctx, cands, minSimilarity)
	}
	if err != nil {
		return nil, err
	}

	clusters := buildClusters(cands, pairs, e.opts.ClusterPairLimit)
	slog.Debug("duplicates_complete",
		slog.String("mode", mode),
		slog.Int("chunks", len(cands)),
		slog.Int("pairs", len(pairs)),
		slog.Int("clusters", len(clusters)),
		slog.Duration("duration", time.Since(start)))
	return clusters, nil
}

// loadCandidates reads qualifying chunks in ID order. Chunks whose
// dimension differs from the first one seen are skipped.
func (e *Engine) loadCandidates(ctx context.Context, minChunkBytes int) ([]candidate, error) {
	var (
		out  []candidate
		dims int
	)
	for c, err := range e.reader.ScanVectors(ctx) {
		if err != nil {
			return nil, err
		}
		if c.Len() < minChunkBytes || len(c.Embedding) == 0 {
			continue
		}
		if dims == 0 {
			dims = len(c.Embedding)
		}
		if len(c.Embedding) != dims {
			continue
		}
		out = append(out, candidate{ref: c.Ref(), vec: normalized(c.Embedding)})
	}
	return out, nil
}

// exactPairs compares every pair, splitting rows across workers.
func (e *Engine) exactPairs(ctx context.Context, cands []candidate, threshold float64) ([]pair, error) {
	var (
		mu  sync.Mutex
		out []pair
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)

	const rowsPerTask = 64
	for lo := 0; lo < len(cands); lo += rowsPerTask {
		hi := min(lo+rowsPerTask, len(cands))
		g.Go(func() error {
			var local []pair
			for i := lo; i < hi; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				for j := i + 1; j < len(cands); j++ {
					if clamp01(dot(cands[i].vec, cands[j].vec)) >= threshold {
						local = append(local, pair{i, j})
					}
				}
			}
			mu.Lock()
			out = append(out, local...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// approximatePairs takes each chunk's nearest neighbours from an HNSW
// graph and keeps those that pass the exact cosine check.
func (e *Engine) approximatePairs(ctx context.Context, cands []candidate, threshold float64) ([]pair, error) {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.Ml = 0.25
	graph.EfSearch = max(20, e.opts.Neighbors*2)

	for i, c := range cands {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		graph.Add(hnsw.MakeNode(uint64(i), c.vec))
	}

	seen := make(map[pair]struct{})
	var out []pair
	for i, c := range cands {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for _, n := range graph.Search(c.vec, e.opts.Neighbors+1) {
			j := int(n.Key)
			if j == i {
				continue
			}
			p := pair{min(i, j), max(i, j)}
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			if clamp01(dot(c.vec, cands[j].vec)) >= threshold {
				out = append(out, p)
			}
		}
	}
	return out, nil
}

// clusterSamplesPerMember bounds the work of minPairwise on large clusters.
const clusterSamplesPerMember = 32

// buildClusters unions pairs and reports each component of two or more.
func buildClusters(cands []candidate, pairs []pair, pairLimit int) []DuplicateCluster {
	uf := newUnionFind(len(cands))
	for _, p := range pairs {
		uf.union(p.a, p.b)
	}

	groups := map[int][]int{}
	for _, p := range pairs {
		root := uf.find(p.a)
		if _, ok := groups[root]; !ok {
			groups[root] = nil
		}
	}
	for i := range cands {
		root := uf.find(i)
		if _, ok := groups[root]; ok {
			groups[root] = append(groups[root], i)
		}
	}

	clusters := make([]DuplicateCluster, 0, len(groups))
	for _, members := range groups {
		if len(members) < 2 {
			continue
		}
		minSim, sampled := minPairwise(cands, members, pairLimit)
		refs := make([]store.ChunkRef, len(members))
		for k, m := range members {
			refs[k] = cands[m].ref
		}
		slices.SortFunc(refs, func(a, b store.ChunkRef) int { return cmp.Compare(a.ID, b.ID) })
		clusters = append(clusters, DuplicateCluster{Members: refs, MinPairwiseSimilarity: minSim, MinSimilaritySampled: sampled})
	}

	slices.SortFunc(clusters, func(a, b DuplicateCluster) int {
		if len(a.Members) != len(b.Members) {
			return cmp.Compare(len(b.Members), len(a.Members))
		}
		return cmp.Compare(a.Members[0].ID, b.Members[0].ID)
	})
	return clusters
}

// minPairwise returns the lowest similarity between members. Up to
// pairLimit members every pair is compared; above it each member is
// compared with evenly spaced partners and the result is reported as
// sampled.
func minPairwise(cands []candidate, members []int, pairLimit int) (float64, bool) {
	n := len(members)
	minSim := 1.0
	if n <= pairLimit {
		for x := 0; x < n; x++ {
			for y := x + 1; y < n; y++ {
				minSim = min(minSim, clamp01(dot(cands[members[x]].vec, cands[members[y]].vec)))
			}
		}
		return minSim, false
	}

	stride := max(1, n/(clusterSamplesPerMember+1))
	for x := 0; x < n; x++ {
		for j := 1; j <= clusterSamplesPerMember; j++ {
			y := (x + j*stride) % n
			if y == x {
				continue
			}
			minSim = min(minSim, clamp01(dot(cands[members[x]].vec, cands[members[y]].vec)))
		}
	}
	return minSim, true
}

type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), rank: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	switch {
	case ra == rb:
	case u.rank[ra] < u.rank[rb]:
		u.parent[ra] = rb
	case u.rank[ra] > u.rank[rb]:
		u.parent[rb] = ra
	default:
		u.parent[rb] = ra
		u.rank[ra]++
	}
}
