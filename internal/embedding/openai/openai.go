package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

const (
	DefaultBaseURL   = "https://api.openai.com/v1"
	DefaultModel     = "text-embedding-3-small"
	DefaultBatchSize = 32
)

var (
	ErrMissingAPIKey = goerr.New("missing embeddings API key")
	ErrNoEmbedding   = goerr.New("no embedding returned")
)

// Client is an OpenAI-compatible embeddings client implementing embedding.Embedder.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	batchSize  int
	client     *http.Client
	maxRetries int
	backoff    func(attempt int) time.Duration
}

// Config configures the OpenAI-compatible embeddings client.
type Config struct {
	BaseURL   string
	APIKeyEnv string
	Model     string
	Timeout   time.Duration
	BatchSize int
}

// NewClient creates a new embeddings client using the provided configuration.
func NewClient(cfg Config) (*Client, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, goerr.Wrap(ErrMissingAPIKey, "cannot create embeddings client", goerr.V("env", cfg.APIKeyEnv))
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	t := cfg.Timeout
	if t == 0 {
		t = 30 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     key,
		model:      cfg.Model,
		batchSize:  cfg.BatchSize,
		client:     &http.Client{Timeout: t},
		maxRetries: 5,
		backoff:    retryDelay,
	}, nil
}

// Name returns the identifier of this embedder implementation.
func (c *Client) Name() string { return "openai:" + c.model }

// Embed returns one embedding per text, sending at most batchSize texts per request.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := min(start+c.batchSize, len(texts))
		vecs, err := c.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, goerr.Wrap(err, "embedding batch failed", goerr.V("offset", start))
		}
		out = append(out, vecs...)
	}
	return out, nil
}

type request struct {
	Input  any    `json:"input"`
	Prompt string `json:"prompt,omitempty"`
	Model  string `json:"model"`
}

func (c *Client) embedBatch(ctx context.Context, batch []string) ([][]float64, error) {
	body := request{Input: batch, Model: c.model}
	if len(batch) == 1 {
		// Ollama's native endpoint only understands a single prompt
		body = request{Input: batch[0], Prompt: batch[0], Model: c.model}
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode embeddings request")
	}
	url := fmt.Sprintf("%s/embeddings", c.baseURL)

	for attempt := 0; ; attempt++ {
		payload, retryAfter, err := c.post(ctx, url, data)
		if err == nil {
			vecs, decErr := decode(payload, len(batch))
			if decErr == nil {
				return vecs, nil
			}
			err = decErr
		} else if ctx.Err() != nil {
			return nil, goerr.Wrap(ctx.Err(), "embeddings request interrupted")
		} else if isPermanent(err) {
			return nil, err
		}
		if attempt >= c.maxRetries {
			return nil, goerr.Wrap(err, "embeddings retries exhausted", goerr.V("attempts", attempt+1))
		}
		wait := c.backoff(attempt)
		if retryAfter > 0 {
			wait = retryAfter
		}
		if err := sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

type statusError struct {
	status    string
	code      int
	retryable bool
}

func (e *statusError) Error() string { return "embeddings request failed: " + e.status }

func isPermanent(err error) bool {
	se, ok := err.(*statusError)
	return ok && !se.retryable
}

func (c *Client) post(ctx context.Context, url string, data []byte) ([]byte, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, 0, &statusError{status: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		var wait time.Duration
		// Respect Retry-After if provided
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			wait = time.Duration(secs) * time.Second
		}
		return nil, wait, &statusError{status: resp.Status, code: resp.StatusCode, retryable: true}
	}
	if resp.StatusCode >= 300 {
		return nil, 0, &statusError{status: resp.Status, code: resp.StatusCode}
	}
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return payload, 0, nil
}

func decode(payload []byte, want int) ([][]float64, error) {
	// OpenAI-compatible response first
	var openaiOut struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &openaiOut); err == nil && len(openaiOut.Data) > 0 {
		sort.SliceStable(openaiOut.Data, func(i, j int) bool { return openaiOut.Data[i].Index < openaiOut.Data[j].Index })
		if len(openaiOut.Data) != want {
			return nil, goerr.Wrap(ErrNoEmbedding, "embedding count mismatch", goerr.V("want", want), goerr.V("got", len(openaiOut.Data)))
		}
		out := make([][]float64, want)
		for i, d := range openaiOut.Data {
			if len(d.Embedding) == 0 {
				return nil, goerr.Wrap(ErrNoEmbedding, "empty embedding", goerr.V("index", i))
			}
			out[i] = d.Embedding
		}
		return out, nil
	}
	// Ollama-native shape: { "embedding": [...] }
	var ollamaOut struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := json.Unmarshal(payload, &ollamaOut); err == nil && len(ollamaOut.Embedding) > 0 && want == 1 {
		return [][]float64{ollamaOut.Embedding}, nil
	}
	return nil, ErrNoEmbedding
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return goerr.Wrap(ctx.Err(), "embeddings retry interrupted")
	case <-t.C:
		return nil
	}
}

func retryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := 200 * time.Millisecond
	// exponential backoff capped at 5s
	d := base << attempt
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}
