package tfidf

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat/internal/embedding"
)

func fit(t *testing.T, corpus ...string) *Embedder {
	t.Helper()
	emb, err := NewEmbedder().Fit(corpus)
	require.NoError(t, err)
	fitted, ok := emb.(*Embedder)
	require.True(t, ok)
	return fitted
}

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func TestEmbed_RequiresFit(t *testing.T) {
	_, err := NewEmbedder().Embed(context.Background(), []string{"hello"})
	assert.True(t, errors.Is(err, ErrNotFitted))
}

func TestFit_Errors(t *testing.T) {
	_, err := NewEmbedder().Fit(nil)
	assert.True(t, errors.Is(err, ErrNoTokens))

	_, err = NewEmbedder().Fit([]string{"the and of", "..."})
	assert.True(t, errors.Is(err, ErrNoTokens))
}

func TestFit_DoesNotMutateReceiver(t *testing.T) {
	base := NewEmbedder()
	first := fit(t, "alpha beta")
	_, err := base.Fit([]string{"gamma"})
	require.NoError(t, err)

	assert.False(t, base.Fitted())
	assert.Equal(t, 2, first.Dimension())
}

func TestEmbed_UnitVectorsInOrder(t *testing.T) {
	e := fit(t, "Paris is the capital of France.", "The sun is a star.")
	vecs, err := e.Embed(context.Background(), []string{"capital France", "sun star", "nothing matches here"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	for _, v := range vecs[:2] {
		assert.Len(t, v, e.Dimension())
		assert.InDelta(t, 1.0, math.Sqrt(dot(v, v)), 1e-9)
	}
	assert.True(t, embedding.IsZero(vecs[2]))
	assert.InDelta(t, 0.0, dot(vecs[0], vecs[1]), 1e-12)
}

func TestEmbed_EmptyInput(t *testing.T) {
	e := fit(t, "one fact")
	vecs, err := e.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
}

func TestEmbed_Deterministic(t *testing.T) {
	a := fit(t, "red apples", "green pears", "red pears")
	b := fit(t, "red apples", "green pears", "red pears")
	va, err := a.Embed(context.Background(), []string{"red pears"})
	require.NoError(t, err)
	vb, err := b.Embed(context.Background(), []string{"red pears"})
	require.NoError(t, err)
	assert.Equal(t, va, vb)
}

func TestEmbed_QuestionMatchesFact(t *testing.T) {
	e := fit(t, "Paris is the capital of France.", "The sun is a star.")
	vecs, err := e.Embed(context.Background(), []string{
		"What is the capital of France?",
		"Paris is the capital of France.",
		"The sun is a star.",
	})
	require.NoError(t, err)
	assert.Greater(t, dot(vecs[0], vecs[1]), dot(vecs[0], vecs[2]))
}

func TestEmbed_Cancelled(t *testing.T) {
	e := fit(t, "one fact")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Embed(ctx, []string{"one"})
	assert.True(t, errors.Is(err, context.Canceled))
}
