package embed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	ferrors "github.com/fathomlabs/fathom/internal/errors"
)

// knownModelDimensions maps OpenAI embedding models to their native
// dimensionality.
var knownModelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// OpenAIConfig holds OpenAI embedder settings.
type OpenAIConfig struct {
	APIKey string
	// BaseURL overrides the API endpoint for proxies or compatible
	// servers. Empty uses the OpenAI default.
	BaseURL string
	Model   string
	// Dimensions overrides the model's native dimensionality. Required
	// for models not in the known list.
	Dimensions int
	// BatchSize is the maximum number of texts per request.
	BatchSize int
	// RequestTimeout bounds a single API request.
	RequestTimeout time.Duration
	// Retry configures backoff for transient failures.
	Retry ferrors.RetryConfig
}

// OpenAIEmbedder generates embeddings via the OpenAI embeddings API.
//
// Transient failures (429, 5xx, network) are retried with exponential
// backoff; malformed responses fail fast. A circuit breaker stops
// hammering the API once consecutive requests keep failing.
type OpenAIEmbedder struct {
	client         *openai.Client
	model          openai.EmbeddingModel
	dimensions     int
	batchSize      int
	requestTimeout time.Duration
	retry          ferrors.RetryConfig
	breaker        *ferrors.CircuitBreaker

	mu     sync.RWMutex
	closed bool
}

// NewOpenAIEmbedder creates an OpenAI-backed embedder.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, ferrors.ConfigError("openai api key is required", nil)
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}

	dims := cfg.Dimensions
	if dims == 0 {
		dims = knownModelDimensions[cfg.Model]
	}
	if dims <= 0 {
		return nil, ferrors.ConfigError(
			fmt.Sprintf("unknown embedding model %q: dimensions must be set explicitly", cfg.Model), nil)
	}

	batchSize := cfg.BatchSize
	if batchSize < MinBatchSize {
		batchSize = DefaultBatchSize
	}
	if batchSize > MaxBatchSize {
		batchSize = MaxBatchSize
	}

	retry := cfg.Retry
	if retry.MaxRetries == 0 && retry.InitialDelay == 0 {
		retry = ferrors.DefaultRetryConfig()
	}
	retry.RetryIf = ferrors.IsRetryable

	requestTimeout := cfg.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIEmbedder{
		client:         openai.NewClientWithConfig(clientCfg),
		model:          openai.EmbeddingModel(cfg.Model),
		dimensions:     dims,
		batchSize:      batchSize,
		requestTimeout: requestTimeout,
		retry:          retry,
		breaker:        ferrors.NewCircuitBreaker("openai-embeddings"),
	}, nil
}

// Embed generates an embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts, splitting them
// into provider-sized requests. Result order matches input order.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	results := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))

		vecs, err := e.embedChunk(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		results = append(results, vecs...)
	}

	return results, nil
}

// embedChunk embeds a single provider-sized request with retries.
func (e *OpenAIEmbedder) embedChunk(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := ferrors.RetryWithResult(ctx, e.retry, func() ([][]float32, error) {
		return e.embedOnce(ctx, texts)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ferrors.Timeout("embedding request deadline exceeded", err)
		}
		if ferrors.IsRetryable(err) || errors.Is(err, ferrors.ErrCircuitOpen) {
			return nil, ferrors.EmbeddingUnavailable("embedding provider unavailable", err)
		}
		return nil, err
	}
	return vecs, nil
}

// embedOnce performs one API request and validates the response.
func (e *OpenAIEmbedder) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	if !e.breaker.Allow() {
		return nil, ferrors.ErrCircuitOpen
	}

	reqCtx, cancel := context.WithTimeout(ctx, e.requestTimeout)
	defer cancel()

	req := openai.EmbeddingRequest{
		Input:          texts,
		Model:          e.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}
	if e.dimensions != knownModelDimensions[string(e.model)] {
		req.Dimensions = e.dimensions
	}

	resp, err := e.client.CreateEmbeddings(reqCtx, req)
	if err != nil {
		e.breaker.RecordFailure()
		return nil, classifyProviderError(err)
	}

	if len(resp.Data) != len(texts) {
		// Malformed response: not transient, do not retry
		e.breaker.RecordFailure()
		return nil, ferrors.New(ferrors.ErrCodeProviderResponse,
			fmt.Sprintf("embedding response has %d vectors for %d inputs", len(resp.Data), len(texts)), nil)
	}

	vecs := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			e.breaker.RecordFailure()
			return nil, ferrors.New(ferrors.ErrCodeProviderResponse,
				fmt.Sprintf("embedding response index %d out of range", d.Index), nil)
		}
		if len(d.Embedding) != e.dimensions {
			e.breaker.RecordFailure()
			return nil, ferrors.New(ferrors.ErrCodeProviderResponse,
				fmt.Sprintf("embedding has %d dimensions, expected %d", len(d.Embedding), e.dimensions), nil)
		}
		vecs[d.Index] = d.Embedding
	}
	for i, v := range vecs {
		if v == nil {
			e.breaker.RecordFailure()
			return nil, ferrors.New(ferrors.ErrCodeProviderResponse,
				fmt.Sprintf("embedding response missing vector for input %d", i), nil)
		}
	}

	e.breaker.RecordSuccess()
	return vecs, nil
}

// classifyProviderError maps API failures onto the error taxonomy so
// the retry policy can distinguish transient from permanent failures.
func classifyProviderError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ferrors.Timeout("embedding request timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch {
	case status == 429:
		return ferrors.New(ferrors.ErrCodeRateLimited, "embedding provider rate limited", err)
	case status == 408:
		return ferrors.Timeout("embedding provider timed out", err)
	case status >= 500:
		return ferrors.New(ferrors.ErrCodeProviderServer,
			fmt.Sprintf("embedding provider server error (%d)", status), err)
	case status >= 400:
		return ferrors.New(ferrors.ErrCodeProviderResponse,
			fmt.Sprintf("embedding provider rejected request (%d)", status), err)
	default:
		// No HTTP status: treat as a transient network failure
		return ferrors.New(ferrors.ErrCodeNetwork, "embedding request failed", err)
	}
}

// Dimensions returns the embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

// ModelName returns the model identifier.
func (e *OpenAIEmbedder) ModelName() string {
	return string(e.model)
}

// Available reports whether the embedder is ready to serve requests.
// It is false while the circuit breaker is open.
func (e *OpenAIEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed && e.breaker.Allow()
}

// HealthCheck verifies API reachability via ListModels.
func (e *OpenAIEmbedder) HealthCheck(ctx context.Context) error {
	if _, err := e.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// Close releases resources.
func (e *OpenAIEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// Verify interface implementation
var _ Embedder = (*OpenAIEmbedder)(nil)
