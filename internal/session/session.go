package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"ragchat/internal/domain"
	"ragchat/internal/embedding"
	"ragchat/internal/history"
	"ragchat/internal/index"
	"ragchat/internal/loader"
)

// NotReadyMessage is the single answer line given while no knowledge base is loaded.
const NotReadyMessage = "⚠️ Please upload a knowledge base first!"

// DefaultTopK is the number of facts returned per question.
const DefaultTopK = 3

// State is the readiness of a session.
type State int

const (
	StateEmpty State = iota
	StateReady
)

func (s State) String() string {
	if s == StateReady {
		return "ready"
	}
	return "empty"
}

// Summarizer produces a short overview of a knowledge base.
type Summarizer interface {
	Summarize(facts []domain.Fact, maxFacts int) string
}

// KnowledgeBase is an immutable snapshot of one upload: its facts, the index
// built from their embeddings, and the embedder that produced them. Position i
// in the index is Facts[i].
type KnowledgeBase struct {
	Source   string
	Facts    []domain.Fact
	Summary  string
	LoadedAt time.Time

	index    *index.Index
	embedder embedding.Embedder
}

// Dimension returns the embedding dimension of the knowledge base.
func (kb *KnowledgeBase) Dimension() int { return kb.index.Dimension() }

// Answer is the outcome of one question.
type Answer struct {
	Question string
	Results  []domain.SearchResult
	// Lines are the answer lines shown and recorded: the ranked facts, or the
	// not-ready placeholder.
	Lines []string
	Ready bool
}

// Text joins the answer lines the way they are stored in history.
func (a Answer) Text() string { return strings.Join(a.Lines, "\n") }

// Session holds the mutable state of one user: the current knowledge base and
// the chat history. Operations are meant to be issued one at a time; the lock
// only guarantees that a knowledge base is never observed half-replaced.
type Session struct {
	id         string
	embedder   embedding.Embedder
	summarizer Summarizer
	maxSummary int
	topK       int
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.RWMutex
	kb      *KnowledgeBase
	history *history.History
}

// Option is a functional option for Session configuration.
type Option func(*Session)

func WithTopK(k int) Option {
	return func(s *Session) {
		if k > 0 {
			s.topK = k
		}
	}
}

func WithSummarizer(sum Summarizer, maxFacts int) Option {
	return func(s *Session) {
		s.summarizer = sum
		s.maxSummary = maxFacts
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

func withClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// New creates an empty session that embeds with emb.
func New(emb embedding.Embedder, opts ...Option) *Session {
	s := &Session{
		id:       uuid.NewString(),
		embedder: emb,
		topK:     DefaultTopK,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:      time.Now,
		history:  history.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("session_id", s.id)
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) TopK() int { return s.topK }

// State reports whether a knowledge base is loaded.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.kb == nil {
		return StateEmpty
	}
	return StateReady
}

// KnowledgeBase returns the current snapshot, or nil in StateEmpty.
func (s *Session) KnowledgeBase() *KnowledgeBase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.kb
}

// UploadFile loads a .txt knowledge base from disk and replaces the current one.
func (s *Session) UploadFile(ctx context.Context, path string) (*KnowledgeBase, error) {
	facts, err := loader.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return s.publish(ctx, path, facts)
}

// Upload parses r as a knowledge base and replaces the current one. On any
// failure the previous knowledge base stays in place.
func (s *Session) Upload(ctx context.Context, source string, r io.Reader) (*KnowledgeBase, error) {
	facts, err := loader.Parse(r)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load knowledge base", goerr.V("source", source))
	}
	return s.publish(ctx, source, facts)
}

func (s *Session) publish(ctx context.Context, source string, facts []domain.Fact) (*KnowledgeBase, error) {
	kb, err := s.build(ctx, source, facts)
	if err != nil {
		s.logger.Warn("knowledge base rejected", "source", source, "error", err)
		return nil, err
	}

	s.mu.Lock()
	s.kb = kb
	s.mu.Unlock()

	s.logger.Info("knowledge base indexed",
		"source", source,
		"facts", len(kb.Facts),
		"dimension", kb.Dimension(),
		"embedder", kb.embedder.Name(),
	)
	return kb, nil
}

// build runs the whole pipeline without touching session state.
func (s *Session) build(ctx context.Context, source string, facts []domain.Fact) (*KnowledgeBase, error) {
	if len(facts) == 0 {
		return nil, goerr.Wrap(domain.ErrEmptyKnowledgeBase, "nothing to index", goerr.V("source", source))
	}
	texts := domain.Texts(facts)

	emb, err := embedding.Prepare(s.embedder, texts)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare embedder", goerr.V("source", source))
	}
	vectors, err := emb.Embed(ctx, texts)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed facts", goerr.V("source", source))
	}
	if len(vectors) != len(facts) {
		return nil, goerr.New("embedder returned wrong number of vectors",
			goerr.V("facts", len(facts)), goerr.V("vectors", len(vectors)))
	}
	for _, v := range vectors {
		embedding.NormalizeL2(v)
	}
	ix, err := index.Build(vectors)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to build index", goerr.V("source", source))
	}

	kb := &KnowledgeBase{
		Source:   source,
		Facts:    facts,
		LoadedAt: s.now(),
		index:    ix,
		embedder: emb,
	}
	if s.summarizer != nil {
		kb.Summary = s.summarizer.Summarize(facts, s.maxSummary)
	}
	return kb, nil
}

// Retrieve returns the k facts most similar to question, best first. It
// returns domain.ErrNotReady while no knowledge base is loaded.
func (s *Session) Retrieve(ctx context.Context, question string, k int) ([]domain.SearchResult, error) {
	kb := s.KnowledgeBase()
	if kb == nil {
		return nil, domain.ErrNotReady
	}
	vecs, err := kb.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed question")
	}
	if len(vecs) != 1 {
		return nil, goerr.New("embedder returned wrong number of vectors", goerr.V("vectors", len(vecs)))
	}
	query := vecs[0]
	embedding.NormalizeL2(query)

	hits, err := kb.index.Search(query, k)
	if err != nil {
		return nil, goerr.Wrap(err, "search failed")
	}
	results := make([]domain.SearchResult, len(hits))
	for i, h := range hits {
		results[i] = domain.SearchResult{Fact: kb.Facts[h.Index], Score: h.Score}
	}
	return results, nil
}

// Ask answers a question with the session's top-k facts and records the turn.
// With no knowledge base loaded the answer is NotReadyMessage, which is recorded too.
func (s *Session) Ask(ctx context.Context, question string) (Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Answer{}, domain.ErrEmptyQuestion
	}
	ans := Answer{Question: question}

	results, err := s.Retrieve(ctx, question, s.topK)
	switch {
	case errors.Is(err, domain.ErrNotReady):
		ans.Lines = []string{NotReadyMessage}
		s.logger.Warn("question before upload", "question", question)
	case err != nil:
		return Answer{}, err
	default:
		ans.Ready = true
		ans.Results = results
		ans.Lines = make([]string, len(results))
		for i, r := range results {
			ans.Lines[i] = r.Fact.Text
		}
		s.logger.Debug("question answered", "question", question, "results", len(results))
	}

	s.history.Append(domain.ChatTurn{Question: question, Answer: ans.Text(), AskedAt: s.now()})
	return ans, nil
}

// History returns the recorded turns, oldest first.
func (s *Session) History() []domain.ChatTurn { return s.history.Turns() }

// NewChat starts a fresh conversation, keeping the knowledge base.
func (s *Session) NewChat() {
	s.history.Clear()
	s.logger.Info("new chat started")
}

// ClearHistory drops every recorded turn.
func (s *Session) ClearHistory() {
	s.history.Clear()
	s.logger.Info("chat history cleared")
}

// Reset returns the session to StateEmpty with no history.
func (s *Session) Reset() {
	s.mu.Lock()
	s.kb = nil
	s.mu.Unlock()
	s.history.Clear()
	s.logger.Info("session reset")
}

// ExportHistory writes the chat history to w; see history.Format.
func (s *Session) ExportHistory(w io.Writer) error { return s.history.Export(w) }

// SaveHistory writes the chat history to path and returns the path written.
func (s *Session) SaveHistory(path string) (string, error) {
	written, err := s.history.Save(path)
	if err != nil {
		return "", err
	}
	s.logger.Info("chat history saved", "path", written, "turns", s.history.Len())
	return written, nil
}
