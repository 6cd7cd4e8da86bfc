package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// OllamaEmbedder calls an Ollama server's /api/embeddings endpoint.
type OllamaEmbedder struct {
	baseURL     string
	model       string
	client      *http.Client
	limiter     *rate.Limiter
	concurrency int
	dimensions  atomic.Int64
	logger      *zap.Logger
}

// OllamaOption configures an OllamaEmbedder.
type OllamaOption func(*OllamaEmbedder)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) OllamaOption {
	return func(e *OllamaEmbedder) { e.client = c }
}

// WithRateLimit throttles requests to rps per second. Zero disables throttling.
func WithRateLimit(rps float64) OllamaOption {
	return func(e *OllamaEmbedder) {
		if rps > 0 {
			e.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithConcurrency bounds in-flight requests during EmbedBatch.
func WithConcurrency(n int) OllamaOption {
	return func(e *OllamaEmbedder) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithDimensions fixes the expected vector length. Responses of any other length are rejected.
func WithDimensions(n int) OllamaOption {
	return func(e *OllamaEmbedder) { e.dimensions.Store(int64(n)) }
}

// WithOllamaLogger sets the logger for request diagnostics.
func WithOllamaLogger(l *zap.Logger) OllamaOption {
	return func(e *OllamaEmbedder) { e.logger = l }
}

// NewOllamaEmbedder creates an embedder for the given server and model.
func NewOllamaEmbedder(baseURL, model string, opts ...OllamaOption) *OllamaEmbedder {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	e := &OllamaEmbedder{
		baseURL:     strings.TrimRight(baseURL, "/"),
		model:       model,
		client:      &http.Client{Timeout: 60 * time.Second},
		concurrency: 1,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed requests a single embedding. The first successful response fixes the dimension
// when none was configured.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	body, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("ollama returned an empty embedding")
	}
	want := e.dimensions.Load()
	if want == 0 {
		e.dimensions.CompareAndSwap(0, int64(len(out.Embedding)))
		want = e.dimensions.Load()
	}
	if int64(len(out.Embedding)) != want {
		return nil, fmt.Errorf("ollama returned %d dimensions, expected %d", len(out.Embedding), want)
	}
	e.logger.Debug("ollama embedding",
		zap.String("model", e.model),
		zap.Int("chars", len(text)),
		zap.Int("dimensions", len(out.Embedding)),
	)
	return out.Embedding, nil
}

// EmbedBatch embeds texts with at most the configured number of concurrent requests.
// Output order matches input order.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, text := range texts {
		i, text := i, text
		g.Go(func() error {
			v, err := e.Embed(gctx, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			out[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Dimensions returns the configured or learned vector length, 0 before the first response.
func (e *OllamaEmbedder) Dimensions() int {
	return int(e.dimensions.Load())
}

// Model returns the Ollama model name.
func (e *OllamaEmbedder) Model() string {
	return e.model
}

// Close releases idle connections.
func (e *OllamaEmbedder) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
