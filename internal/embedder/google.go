package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/GughanS/erpnext-ast-analyzer/internal/backoff"
)

// Task types the embedding service distinguishes between: documents are
// embedded for storage, queries for retrieval against them.
const (
	taskDocument = "RETRIEVAL_DOCUMENT"
	taskQuery    = "RETRIEVAL_QUERY"
)

type embedRequest struct {
	Model    string       `json:"model"`
	Content  embedContent `json:"content"`
	TaskType string       `json:"taskType"`
}

type embedContent struct {
	Parts []embedPart `json:"parts"`
}

type embedPart struct {
	Text string `json:"text"`
}

type embedResponse struct {
	Embedding struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
}

// post sends one text to the embedContent endpoint and returns its vector.
// A throttled response is classified as backoff.ErrQuotaExceeded at this
// boundary; every other failure is surfaced as-is.
func (c *Client) post(ctx context.Context, key, text, taskType string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{
		Model:    "models/" + c.model,
		Content:  embedContent{Parts: []embedPart{{Text: text}}},
		TaskType: taskType,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:embedContent?key=%s", c.baseURL, c.model, key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("embedding service throttled: %w", backoff.ErrQuotaExceeded)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding service returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(result.Embedding.Values) == 0 {
		return nil, fmt.Errorf("embedding service returned an empty vector")
	}
	return result.Embedding.Values, nil
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 120 * time.Second}
}
