package session

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat/internal/domain"
	"ragchat/internal/embedding"
	"ragchat/internal/embedding/tfidf"
	"ragchat/internal/summarizer"
)

// flakyEmbedder wraps an embedder and fails every call once armed.
type flakyEmbedder struct {
	inner embedding.Embedder
	fail  *bool
}

func (f flakyEmbedder) Name() string { return "flaky" }

func (f flakyEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if *f.fail {
		return nil, errors.New("model crashed")
	}
	return f.inner.Embed(ctx, texts)
}

func (f flakyEmbedder) Fit(corpus []string) (embedding.Embedder, error) {
	inner, err := embedding.Prepare(f.inner, corpus)
	if err != nil {
		return nil, err
	}
	return flakyEmbedder{inner: inner, fail: f.fail}, nil
}

// shortEmbedder drops the last vector.
type shortEmbedder struct{}

func (shortEmbedder) Name() string { return "short" }

func (shortEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, 0, len(texts))
	for range texts[1:] {
		out = append(out, []float64{1})
	}
	return out, nil
}

func newSession(t *testing.T, opts ...Option) *Session {
	t.Helper()
	return New(tfidf.NewEmbedder(), opts...)
}

func upload(t *testing.T, s *Session, lines ...string) *KnowledgeBase {
	t.Helper()
	kb, err := s.Upload(context.Background(), "test.txt", strings.NewReader(strings.Join(lines, "\n")))
	require.NoError(t, err)
	return kb
}

func TestAsk_CapitalOfFrance(t *testing.T) {
	s := newSession(t)
	upload(t, s, "Paris is the capital of France.", "The sun is a star.")
	require.Equal(t, StateReady, s.State())

	ans, err := s.Ask(context.Background(), "What is the capital of France?")
	require.NoError(t, err)
	require.True(t, ans.Ready)
	require.NotEmpty(t, ans.Results)
	assert.Equal(t, "Paris is the capital of France.", ans.Lines[0])
	assert.Equal(t, 0, ans.Results[0].Fact.Index)
	assert.Len(t, ans.Lines, 2, "k is clamped to the number of facts")

	turns := s.History()
	require.Len(t, turns, 1)
	assert.Equal(t, "What is the capital of France?", turns[0].Question)
	assert.Equal(t, "Paris is the capital of France.\nThe sun is a star.", turns[0].Answer)
}

func TestAsk_NotReady(t *testing.T) {
	s := newSession(t)
	assert.Equal(t, StateEmpty, s.State())

	ans, err := s.Ask(context.Background(), "Anything?")
	require.NoError(t, err)
	assert.False(t, ans.Ready)
	assert.Empty(t, ans.Results)
	assert.Equal(t, []string{NotReadyMessage}, ans.Lines)

	turns := s.History()
	require.Len(t, turns, 1)
	assert.Equal(t, NotReadyMessage, turns[0].Answer)

	_, err = s.Retrieve(context.Background(), "Anything?", 3)
	assert.True(t, errors.Is(err, domain.ErrNotReady))
}

func TestAsk_EmptyQuestion(t *testing.T) {
	s := newSession(t)
	_, err := s.Ask(context.Background(), "   ")
	assert.True(t, errors.Is(err, domain.ErrEmptyQuestion))
	assert.Empty(t, s.History())
}

func TestAsk_TopKAndOrdering(t *testing.T) {
	s := newSession(t, WithTopK(2))
	upload(t, s,
		"Cats purr when content.",
		"Dogs bark at strangers.",
		"Cats and dogs are pets.",
		"Parrots can mimic speech.",
	)
	ans, err := s.Ask(context.Background(), "Why do cats purr?")
	require.NoError(t, err)
	require.Len(t, ans.Results, 2)
	assert.Equal(t, "Cats purr when content.", ans.Lines[0])
	assert.GreaterOrEqual(t, ans.Results[0].Score, ans.Results[1].Score)

	again, err := s.Ask(context.Background(), "Why do cats purr?")
	require.NoError(t, err)
	assert.Equal(t, ans.Results, again.Results)
}

func TestRetrieve_ResultsAreValidFacts(t *testing.T) {
	s := newSession(t)
	kb := upload(t, s, "alpha beta", "beta gamma", "gamma delta", "delta alpha", "epsilon")
	results, err := s.Retrieve(context.Background(), "beta delta", 10)
	require.NoError(t, err)
	assert.Len(t, results, len(kb.Facts))

	seen := map[int]bool{}
	for i, r := range results {
		assert.False(t, seen[r.Fact.Index])
		seen[r.Fact.Index] = true
		assert.Equal(t, kb.Facts[r.Fact.Index], r.Fact)
		if i > 0 {
			assert.GreaterOrEqual(t, results[i-1].Score, r.Score)
		}
	}
}

func TestUpload_ReplacesKnowledgeBase(t *testing.T) {
	s := newSession(t)
	upload(t, s, "Paris is the capital of France.", "The sun is a star.", "Water is wet.")

	upload(t, s, "Rome is the capital of Italy.")
	kb := s.KnowledgeBase()
	require.Len(t, kb.Facts, 1)

	for _, q := range []string{"What is the capital of France?", "sun star", "Rome"} {
		results, err := s.Retrieve(context.Background(), q, 3)
		require.NoError(t, err)
		for _, r := range results {
			assert.Equal(t, "Rome is the capital of Italy.", r.Fact.Text)
		}
	}
}

func TestUpload_FailureKeepsPreviousKnowledgeBase(t *testing.T) {
	fail := false
	s := New(flakyEmbedder{inner: tfidf.NewEmbedder(), fail: &fail})
	before := upload(t, s, "Paris is the capital of France.", "The sun is a star.")

	fail = true
	_, err := s.Upload(context.Background(), "new.txt", strings.NewReader("A\nB\nC"))
	require.Error(t, err)
	assert.Same(t, before, s.KnowledgeBase())

	_, err = s.Upload(context.Background(), "empty.txt", strings.NewReader("\n  \n"))
	assert.True(t, errors.Is(err, domain.ErrEmptyKnowledgeBase))
	_, err = s.Upload(context.Background(), "bad.txt", bytes.NewReader([]byte{0xff}))
	assert.True(t, errors.Is(err, domain.ErrMalformedUpload))
	assert.Same(t, before, s.KnowledgeBase())

	fail = false
	ans, err := s.Ask(context.Background(), "capital of France")
	require.NoError(t, err)
	assert.Equal(t, "Paris is the capital of France.", ans.Lines[0])
}

func TestUpload_VectorCountMismatch(t *testing.T) {
	s := New(shortEmbedder{})
	_, err := s.Upload(context.Background(), "kb.txt", strings.NewReader("a\nb"))
	require.Error(t, err)
	assert.Equal(t, StateEmpty, s.State())
}

func TestUpload_FirstFailureStaysEmpty(t *testing.T) {
	s := newSession(t)
	_, err := s.Upload(context.Background(), "stop.txt", strings.NewReader("the and of\nis a"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, tfidf.ErrNoTokens))
	assert.Equal(t, StateEmpty, s.State())
}

func TestUploadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kb.txt")
	require.NoError(t, os.WriteFile(path, []byte("Go has goroutines.\nRust has ownership.\n"), 0o644))

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := New(tfidf.NewEmbedder(), withClock(func() time.Time { return now }), WithSummarizer(summarizer.NewFrequency(), 1))
	kb, err := s.UploadFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, path, kb.Source)
	assert.Equal(t, now, kb.LoadedAt)
	assert.NotEmpty(t, kb.Summary)
	assert.Greater(t, kb.Dimension(), 0)

	_, err = s.UploadFile(context.Background(), filepath.Join(dir, "kb.pdf"))
	assert.True(t, errors.Is(err, domain.ErrUnsupportedFile))
	assert.Same(t, kb, s.KnowledgeBase())
}

func TestHistoryLifecycle(t *testing.T) {
	s := newSession(t)
	var buf bytes.Buffer
	assert.True(t, errors.Is(s.ExportHistory(&buf), domain.ErrEmptyHistory))

	path := filepath.Join(t.TempDir(), "chat.txt")
	_, err := s.SaveHistory(path)
	assert.True(t, errors.Is(err, domain.ErrEmptyHistory))
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))

	upload(t, s, "Paris is the capital of France.", "The sun is a star.")
	_, err = s.Ask(context.Background(), "What is the capital of France?")
	require.NoError(t, err)

	written, err := s.SaveHistory(path)
	require.NoError(t, err)
	data, err := os.ReadFile(written)
	require.NoError(t, err)
	assert.Equal(t, "Q: What is the capital of France?\nParis is the capital of France.\nThe sun is a star.", string(data))

	s.NewChat()
	assert.Empty(t, s.History())
	assert.Equal(t, StateReady, s.State())

	_, err = s.Ask(context.Background(), "sun")
	require.NoError(t, err)
	s.ClearHistory()
	assert.Empty(t, s.History())

	_, err = s.Ask(context.Background(), "sun")
	require.NoError(t, err)
	s.Reset()
	assert.Equal(t, StateEmpty, s.State())
	assert.Empty(t, s.History())
}

func TestSessionIDsAreUnique(t *testing.T) {
	a, b := newSession(t), newSession(t)
	assert.NotEmpty(t, a.ID())
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, DefaultTopK, a.TopK())
	assert.Equal(t, "empty", a.State().String())
}
