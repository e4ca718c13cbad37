// Package embedding provides text embedding providers.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ErrProviderUnavailable is returned when the embedding provider cannot be
// constructed or reached. Ingestion and search must not proceed.
var ErrProviderUnavailable = errors.New("embedding provider unavailable")

// ErrProviderTimeout is returned when an embedding call exceeds its
// deadline.
var ErrProviderTimeout = errors.New("embedding request timed out")

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint. It is
// safe for concurrent use and meant to be constructed once per process.
type OpenAIEmbedder struct {
	apiKey    string
	model     string
	baseURL   string
	dimension int
	batchSize int
	parallel  int
	client    *http.Client
	limiter   *rate.Limiter
}

// Options configures an OpenAIEmbedder.
type Options struct {
	// BatchSize is the maximum number of inputs per API request.
	BatchSize int
	// Parallel is the maximum number of in-flight API requests for one
	// Embed call.
	Parallel int
	// Timeout bounds each API request.
	Timeout time.Duration
	// RequestsPerSecond rate-limits API requests; 0 disables limiting.
	RequestsPerSecond float64
}

// DefaultOptions are the default embedder options.
var DefaultOptions = Options{
	BatchSize: 100,
	Parallel:  4,
	Timeout:   60 * time.Second,
}

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingResponse struct {
	Data  []embeddingData `json:"data"`
	Error *apiError       `json:"error,omitempty"`
}

type embeddingData struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// NewOpenAIEmbedder creates an embedder against api.openai.com.
func NewOpenAIEmbedder(apiKeyEnv, model string, optFns ...func(o *Options)) (*OpenAIEmbedder, error) {
	return NewOpenAICompatibleEmbedder(apiKeyEnv, model, "https://api.openai.com/v1", optFns...)
}

// NewOllamaEmbedder creates an embedder against a local Ollama server.
func NewOllamaEmbedder(model, baseURL string, optFns ...func(o *Options)) (*OpenAIEmbedder, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434/v1"
	}

	dimension := 768
	switch model {
	case "nomic-embed-text":
		dimension = 768
	case "mxbai-embed-large":
		dimension = 1024
	case "all-minilm":
		dimension = 384
	}

	e, err := newEmbedder("ollama", model, baseURL, optFns...)
	if err != nil {
		return nil, err
	}
	e.dimension = dimension
	return e, nil
}

// NewOpenAICompatibleEmbedder creates an embedder against any
// OpenAI-compatible endpoint. The API key is read from the named
// environment variable.
func NewOpenAICompatibleEmbedder(apiKeyEnv, model, baseURL string, optFns ...func(o *Options)) (*OpenAIEmbedder, error) {
	apiKey := os.Getenv(apiKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key not found in environment variable %s", ErrProviderUnavailable, apiKeyEnv)
	}
	return newEmbedder(apiKey, model, baseURL, optFns...)
}

func newEmbedder(apiKey, model, baseURL string, optFns ...func(o *Options)) (*OpenAIEmbedder, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultOptions.BatchSize
	}
	if opts.Parallel <= 0 {
		opts.Parallel = DefaultOptions.Parallel
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions.Timeout
	}

	dimension := 1536
	switch model {
	case "text-embedding-3-small":
		dimension = 1536
	case "text-embedding-3-large":
		dimension = 3072
	case "text-embedding-ada-002":
		dimension = 1536
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	return &OpenAIEmbedder{
		apiKey:    apiKey,
		model:     model,
		baseURL:   baseURL,
		dimension: dimension,
		batchSize: opts.BatchSize,
		parallel:  opts.Parallel,
		client:    &http.Client{Timeout: opts.Timeout},
		limiter:   limiter,
	}, nil
}

// Embed generates embeddings for the given texts, one vector per input in
// input order. Large inputs are split into batches embedded concurrently;
// result order is preserved regardless of completion order.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	all := make([][]float32, len(texts))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallel)

	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		start, end := start, end

		g.Go(func() error {
			vectors, err := e.embedBatch(ctx, texts[start:end])
			if err != nil {
				return err
			}
			copy(all[start:end], vectors)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return all, nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, translateCtxErr(err)
		}
	}

	jsonData, err := json.Marshal(embeddingRequest{Input: texts, Model: e.model})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, translateCtxErr(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: API returned status %d: %s", ErrProviderUnavailable, resp.StatusCode, truncate(body, 200))
	}

	var embResp embeddingResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		return nil, fmt.Errorf("failed to parse response (body: %s): %w", truncate(body, 200), err)
	}
	if embResp.Error != nil {
		return nil, fmt.Errorf("%w: %s", ErrProviderUnavailable, embResp.Error.Message)
	}

	vectors := make([][]float32, len(texts))
	for _, data := range embResp.Data {
		if data.Index < len(vectors) {
			vectors[data.Index] = data.Embedding
		}
	}
	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("%w: no embedding returned for input %d", ErrProviderUnavailable, i)
		}
	}

	return vectors, nil
}

// Dimension returns the embedding vector dimension.
func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}

// ModelName returns the name of the embedding model.
func (e *OpenAIEmbedder) ModelName() string {
	return e.model
}

func translateCtxErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return fmt.Errorf("%w: %v", ErrProviderTimeout, err)
	}
	var ue interface{ Timeout() bool }
	if errors.As(err, &ue) && ue.Timeout() {
		return fmt.Errorf("%w: %v", ErrProviderTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// MockEmbedder produces deterministic embeddings without a model. The same
// text always maps to the same vector.
type MockEmbedder struct {
	dimension int

	mu    sync.Mutex
	calls int
}

// NewMockEmbedder creates a mock embedder with the given dimension.
func NewMockEmbedder(dimension int) *MockEmbedder {
	return &MockEmbedder{dimension: dimension}
}

// Embed returns one deterministic vector per input text.
func (e *MockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, translateCtxErr(err)
	}

	e.mu.Lock()
	e.calls++
	e.mu.Unlock()

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = make([]float32, e.dimension)
		for j, r := range text {
			if j < e.dimension {
				vectors[i][j] = float32(r) / 1000.0
			}
		}
	}
	return vectors, nil
}

// Dimension returns the embedding vector dimension.
func (e *MockEmbedder) Dimension() int {
	return e.dimension
}

// ModelName returns "mock".
func (e *MockEmbedder) ModelName() string {
	return "mock"
}

// Calls returns how many times Embed has been invoked.
func (e *MockEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}
