// Package embedder turns chunk and query text into vectors via the external
// embedding service, one request per item under a bounded worker pool.
package embedder

import (
	"context"
	"net/http"
	"sync"

	"github.com/GughanS/erpnext-ast-analyzer/internal/backoff"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// defaultConcurrency is deliberately small: the ceiling exists to stay below
// the embedding service's request-rate quota, not to saturate CPUs. Raising
// it is the most common way to turn one 429 into a cascade of them.
const defaultConcurrency = 3

// Result is the outcome of embedding a single item. A failed item carries
// its own error and never aborts the rest of the batch.
type Result struct {
	Vector []float32
	Err    error
}

// Client embeds text via the external embedding service. It shares the
// quota backoff strategy with the generation client but owns its own
// credential pool: the two services are logically distinct.
type Client struct {
	baseURL string
	model   string
	http    *http.Client
	policy  *backoff.Policy
	sem     *semaphore.Weighted
	log     zerolog.Logger
}

// New creates an embedding client. concurrency caps in-flight requests
// across all calls on this client; values <= 0 fall back to the default.
func New(baseURL, model, apiKey string, concurrency int, log zerolog.Logger) *Client {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	pool := backoff.NewCredentialPool([]string{apiKey})
	return &Client{
		baseURL: baseURL,
		model:   model,
		http:    newHTTPClient(),
		policy:  backoff.NewPolicy(pool, 3),
		sem:     semaphore.NewWeighted(int64(concurrency)),
		log:     log,
	}
}

// EmbedDocuments embeds a batch of texts and returns one Result per input,
// in input order. Quota-throttled items are retried under the shared backoff
// policy; any other per-item failure is recorded and the batch continues.
func (c *Client) EmbedDocuments(ctx context.Context, texts []string) []Result {
	results := make([]Result, len(texts))
	var wg sync.WaitGroup

	for i, text := range texts {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			results[i] = Result{Err: err}
			continue
		}
		wg.Add(1)
		go func(i int, text string) {
			defer wg.Done()
			defer c.sem.Release(1)

			vec, err := c.embedOne(ctx, text, taskDocument)
			if err != nil {
				c.log.Warn().Err(err).Int("item", i).Msg("embedding item failed")
			}
			results[i] = Result{Vector: vec, Err: err}
		}(i, text)
	}

	wg.Wait()
	return results
}

// EmbedQuery embeds a retrieval query.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)
	return c.embedOne(ctx, text, taskQuery)
}

func (c *Client) embedOne(ctx context.Context, text, taskType string) ([]float32, error) {
	var vec []float32
	err := c.policy.Run(ctx, func(key string) error {
		v, err := c.post(ctx, key, text, taskType)
		if err != nil {
			return err
		}
		vec = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vec, nil
}
