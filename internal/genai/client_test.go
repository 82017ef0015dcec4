package genai

import (
	"context"
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

const successBody = `{
	"id": "cmpl-1",
	"object": "chat.completion",
	"choices": [
		{"index": 0, "message": {"role": "assistant", "content": "package bin\n\nfunc UpdateQty() {}"}, "finish_reason": "stop"}
	]
}`

const throttledBody = `{"error": {"message": "Rate limit reached", "type": "requests", "code": "rate_limit_exceeded"}}`

func newTestClient(srv *httptest.Server, keys []string, attemptsPerKey int) *Client {
	c := New(srv.URL, "llama-3.3-70b-versatile", keys, attemptsPerKey, zerolog.Nop())
	c.policy.Sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return c
}

func TestCompleteRotatesOnQuotaError(t *testing.T) {
	var keysSeen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		keysSeen = append(keysSeen, key)

		w.Header().Set("Content-Type", "application/json")
		if key == "k0" {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(throttledBody))
			return
		}
		_, _ = w.Write([]byte(successBody))
	}))
	defer srv.Close()

	c := newTestClient(srv, []string{"k0", "k1"}, 3)
	out, err := c.Complete(context.Background(), "sys", "user")

	require.NoError(t, err)
	assert.Contains(t, out, "UpdateQty")
	assert.Equal(t, []string{"k0", "k1"}, keysSeen, "throttled key rotates to the next credential")
}

func TestCompleteHardExhaustion(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(throttledBody))
	}))
	defer srv.Close()

	c := newTestClient(srv, []string{"k0", "k1", "k2"}, 2)
	_, err := c.Complete(context.Background(), "sys", "user")

	require.Error(t, err)
	assert.ErrorIs(t, err, backoff.ErrHardExhaustion)
	assert.Equal(t, int64(6), calls.Load(), "budget is attemptsPerKey * pool size")
}

func TestCompleteTransientErrorNotRetried(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "upstream exploded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(srv, []string{"k0", "k1"}, 3)
	_, err := c.Complete(context.Background(), "sys", "user")

	require.Error(t, err)
	assert.NotErrorIs(t, err, backoff.ErrHardExhaustion)
	assert.NotErrorIs(t, err, backoff.ErrQuotaExceeded)
	assert.Equal(t, int64(1), calls.Load(), "non-quota failures propagate immediately")
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "package x", "package x"},
		{"fenced", "```go\npackage x\n```", "package x"},
		{"fenced no lang", "```\npackage x\n```", "package x"},
		{"leading whitespace", "  ```go\npackage x\n```  ", "package x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stripFences(tt.in))
		})
	}
}

func TestPackageName(t *testing.T) {
	assert.Equal(t, "on_submit", packageName("SalesInvoice.on_submit"))
	assert.Equal(t, "helper", packageName("helper"))
	assert.Equal(t, "validate_0", packageName("Bin.validate[0]"))
}
