package index

import (
	"sort"

	"github.com/m-mizutani/goerr/v2"

	"ragchat/internal/domain"
)

// DefaultTopK is used when a search asks for a non-positive number of hits.
const DefaultTopK = 3

// Hit is one search match: the position of the vector in the build order and its inner product with the query.
type Hit struct {
	Index int
	Score float64
}

// Index is a flat inner-product index. Vectors are assumed L2-normalized, so
// scores are cosine similarities. An Index is immutable after Build.
type Index struct {
	dimension int
	vectors   [][]float64
}

// Build copies vectors into a new index. All vectors must share one dimension.
func Build(vectors [][]float64) (*Index, error) {
	if len(vectors) == 0 {
		return nil, domain.ErrEmptyIndex
	}
	dim := len(vectors[0])
	if dim == 0 {
		return nil, goerr.Wrap(domain.ErrDimensionMismatch, "zero-length vector", goerr.V("position", 0))
	}
	copied := make([][]float64, len(vectors))
	for i, v := range vectors {
		if len(v) != dim {
			return nil, goerr.Wrap(domain.ErrDimensionMismatch, "inconsistent vector",
				goerr.V("position", i), goerr.V("want", dim), goerr.V("got", len(v)))
		}
		copied[i] = append([]float64(nil), v...)
	}
	return &Index{dimension: dim, vectors: copied}, nil
}

// Len returns the number of indexed vectors.
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.vectors)
}

// Dimension returns the length of every indexed vector.
func (ix *Index) Dimension() int {
	if ix == nil {
		return 0
	}
	return ix.dimension
}

// Search returns the k vectors with the highest inner product with query, best
// first. Equal scores keep build order. k is clamped to Len.
func (ix *Index) Search(query []float64, k int) ([]Hit, error) {
	if ix == nil {
		return nil, domain.ErrNotReady
	}
	if len(query) != ix.dimension {
		return nil, goerr.Wrap(domain.ErrDimensionMismatch, "query does not match index",
			goerr.V("want", ix.dimension), goerr.V("got", len(query)))
	}
	if k <= 0 {
		k = DefaultTopK
	}
	hits := make([]Hit, len(ix.vectors))
	for i, v := range ix.vectors {
		hits[i] = Hit{Index: i, Score: dot(v, query)}
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].Score > hits[b].Score })
	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k:k], nil
}

func dot(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
