package embedder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GughanS/erpnext-ast-analyzer/internal/backoff"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedServer answers embedContent calls, delegating behavior per text.
func fakeEmbedServer(t *testing.T, handle func(text, taskType string, w http.ResponseWriter)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotEmpty(t, req.Content.Parts)
		handle(req.Content.Parts[0].Text, req.TaskType, w)
	}))
}

func respondVector(w http.ResponseWriter, values ...float32) {
	var resp embedResponse
	resp.Embedding.Values = values
	_ = json.NewEncoder(w).Encode(resp)
}

func newTestClient(srv *httptest.Server) *Client {
	c := New(srv.URL, "text-embedding-004", "test-key", 3, zerolog.Nop())
	c.policy.Sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return c
}

func TestEmbedDocumentsPreservesOrder(t *testing.T) {
	srv := fakeEmbedServer(t, func(text, taskType string, w http.ResponseWriter) {
		assert.Equal(t, "RETRIEVAL_DOCUMENT", taskType)
		var idx float32
		_, err := fmt.Sscanf(text, "text-%f", &idx)
		require.NoError(t, err)
		respondVector(w, idx)
	})
	defer srv.Close()

	c := newTestClient(srv)
	texts := []string{"text-0", "text-1", "text-2", "text-3", "text-4"}
	results := c.EmbedDocuments(context.Background(), texts)

	require.Len(t, results, len(texts))
	for i, r := range results {
		require.NoError(t, r.Err)
		assert.Equal(t, []float32{float32(i)}, r.Vector, "result %d out of order", i)
	}
}

func TestEmbedDocumentsRetriesQuotaErrors(t *testing.T) {
	var calls atomic.Int64
	srv := fakeEmbedServer(t, func(text, taskType string, w http.ResponseWriter) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		respondVector(w, 1)
	})
	defer srv.Close()

	c := newTestClient(srv)
	results := c.EmbedDocuments(context.Background(), []string{"text"})

	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.Equal(t, int64(3), calls.Load(), "throttled item is retried")
}

func TestEmbedDocumentsIsolatesItemFailures(t *testing.T) {
	srv := fakeEmbedServer(t, func(text, taskType string, w http.ResponseWriter) {
		if strings.Contains(text, "bad") {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		respondVector(w, 1)
	})
	defer srv.Close()

	c := newTestClient(srv)
	results := c.EmbedDocuments(context.Background(), []string{"ok-1", "bad-2", "ok-3"})

	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err, "non-quota failure is reported per item, not retried")
	assert.NotErrorIs(t, results[1].Err, backoff.ErrQuotaExceeded)
	assert.NoError(t, results[2].Err)
}

func TestEmbedDocumentsHardExhaustion(t *testing.T) {
	srv := fakeEmbedServer(t, func(text, taskType string, w http.ResponseWriter) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	defer srv.Close()

	c := newTestClient(srv)
	results := c.EmbedDocuments(context.Background(), []string{"text"})

	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, backoff.ErrHardExhaustion)
}

func TestEmbedQueryTaskType(t *testing.T) {
	srv := fakeEmbedServer(t, func(text, taskType string, w http.ResponseWriter) {
		assert.Equal(t, "RETRIEVAL_QUERY", taskType)
		respondVector(w, 0.5, 0.5)
	})
	defer srv.Close()

	c := newTestClient(srv)
	vec, err := c.EmbedQuery(context.Background(), "how does stock ledger validation work")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.5}, vec)
}
