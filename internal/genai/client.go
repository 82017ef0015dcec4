// Package genai wraps the external code-generation service behind the shared
// quota resilience policy: credential rotation plus capped backoff. Only
// throttled responses are retried; any other failure is surfaced immediately
// and the caller decides whether a higher-level retry (e.g. a self-heal
// round) applies.
package genai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/GughanS/erpnext-ast-analyzer/internal/backoff"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

// Client talks to an OpenAI-compatible completion endpoint with a rotating
// credential pool. Safe for concurrent use; rotation state is serialized
// inside the pool.
type Client struct {
	baseURL string
	model   string
	policy  *backoff.Policy
	log     zerolog.Logger
}

// New creates a generation client. keys is the ordered credential list; the
// quota retry budget is attemptsPerKey * len(keys).
func New(baseURL, model string, keys []string, attemptsPerKey int, log zerolog.Logger) *Client {
	pool := backoff.NewCredentialPool(keys)
	return &Client{
		baseURL: baseURL,
		model:   model,
		policy:  backoff.NewPolicy(pool, attemptsPerKey),
		log:     log,
	}
}

// Complete sends a system+user prompt pair and returns the assistant text.
// Returns backoff.ErrHardExhaustion once the rotation budget is spent.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	var answer string
	err := c.policy.Run(ctx, func(key string) error {
		cfg := openai.DefaultConfig(key)
		cfg.BaseURL = c.baseURL
		cli := openai.NewClientWithConfig(cfg)

		resp, err := cli.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: user},
			},
			Temperature: 0.1,
		})
		if err != nil {
			classified := classify(err)
			if errors.Is(classified, backoff.ErrQuotaExceeded) {
				c.log.Warn().Msg("generation service throttled, rotating credential")
			}
			return classified
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("generation service returned no choices")
		}
		answer = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", err
	}
	return answer, nil
}

// classify maps the provider's loosely-typed failures into the tagged
// taxonomy at this boundary so nothing downstream branches on payload shape.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("generation service throttled: %w", backoff.ErrQuotaExceeded)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("generation service throttled: %w", backoff.ErrQuotaExceeded)
	}
	return err
}

// stripFences removes a wrapping markdown code fence if the model added one
// despite the prompt rules.
func stripFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return trimmed
	}
	lines = lines[1:]
	if strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
