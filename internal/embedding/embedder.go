package embedding

import (
	"context"
	"math"
)

// Embedder converts free text into numeric vectors, one per input text and in
// the same order. An empty input yields an empty output.
type Embedder interface {
	Name() string
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// Fitter is implemented by embedders whose vector space is derived from the
// corpus. Fit returns a new fitted embedder and leaves the receiver untouched.
type Fitter interface {
	Fit(corpus []string) (Embedder, error)
}

// Prepare returns the embedder to use for the given corpus: a freshly fitted
// one when emb is a Fitter, emb itself otherwise.
func Prepare(emb Embedder, corpus []string) (Embedder, error) {
	if f, ok := emb.(Fitter); ok {
		return f.Fit(corpus)
	}
	return emb, nil
}

// NormalizeL2 scales vec in place to unit length. Zero vectors are left as is.
func NormalizeL2(vec []float64) {
	norm := 0.0
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return
	}
	for i := range vec {
		vec[i] /= norm
	}
}

// IsZero reports whether every component of vec is zero.
func IsZero(vec []float64) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}
