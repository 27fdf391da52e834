// Package embed adapts external embedding model APIs behind the
// port.Embedder boundary.
package embed

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"kbase/internal/domain"
	"kbase/internal/port"
)

var _ port.Embedder = (*OpenAIEmbedder)(nil)

// modelDimensions maps known model families to their native vector size.
var modelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
	"all-minilm":             384,
}

// Options configures the OpenAI-compatible embedder.
type Options struct {
	BaseURL        string        // empty = api.openai.com
	Dimension      int           // 0 = model default
	Timeout        time.Duration // per-request deadline
	MaxRetries     int           // attempts beyond the first
	BatchSize      int           // texts per API call
	RequestsPerSec float64       // 0 = unlimited
}

// DefaultOptions matches typical hosted-API limits.
var DefaultOptions = Options{
	Timeout:        30 * time.Second,
	MaxRetries:     3,
	BatchSize:      50,
	RequestsPerSec: 5,
}

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint. Failures
// are transient by contract (domain.ErrEmbeddingUnavailable); a dimension
// that disagrees with the configured model family is a construction-time
// error instead.
type OpenAIEmbedder struct {
	client    *openai.Client
	model     string
	dimension int
	limiter   *rate.Limiter
	opts      Options
}

// NewOpenAI creates the embedder. A configured dimension that contradicts
// the known model family fails fast with DimensionMismatchError: this is a
// deployment misconfiguration, never a per-request condition.
func NewOpenAI(apiKey, model string, optFns ...func(o *Options)) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("embedder api key is empty")
	}
	if model == "" {
		model = "text-embedding-3-small"
	}

	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultOptions.BatchSize
	}

	dim, known := modelDimensions[model]
	switch {
	case opts.Dimension == 0 && !known:
		return nil, fmt.Errorf("unknown model %q: embedding dimension must be configured", model)
	case opts.Dimension == 0:
		opts.Dimension = dim
	case known && opts.Dimension != dim:
		return nil, &domain.DimensionMismatchError{Expected: dim, Actual: opts.Dimension}
	}

	cfg := openai.DefaultConfig(apiKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSec), 1)
	}

	return &OpenAIEmbedder{
		client:    openai.NewClientWithConfig(cfg),
		model:     model,
		dimension: opts.Dimension,
		limiter:   limiter,
		opts:      opts,
	}, nil
}

// Embed returns one vector per text, preserving order. Batches of
// opts.BatchSize amortize call overhead; each call is retried with
// exponential backoff before the whole operation fails as
// domain.ErrEmbeddingUnavailable.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.opts.BatchSize {
		end := min(start+e.opts.BatchSize, len(texts))
		vectors, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	var lastErr error
	backoff := 250 * time.Millisecond

	for attempt := 0; attempt <= e.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", domain.ErrEmbeddingUnavailable, ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		vectors, err := e.callOnce(ctx, batch)
		if err == nil {
			return vectors, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}

	return nil, fmt.Errorf("%w: %v", domain.ErrEmbeddingUnavailable, lastErr)
}

func (e *OpenAIEmbedder) callOnce(ctx context.Context, batch []string) ([][]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	callCtx := ctx
	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	resp, err := e.client.CreateEmbeddings(callCtx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: batch,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(batch) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(batch), len(resp.Data))
	}

	vectors := make([][]float32, len(batch))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		if len(d.Embedding) != e.dimension {
			return nil, fmt.Errorf("embedding has %d dimensions, expected %d", len(d.Embedding), e.dimension)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

func (e *OpenAIEmbedder) Dimension() int { return e.dimension }

func (e *OpenAIEmbedder) ModelName() string { return e.model }
