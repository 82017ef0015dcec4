// Package rag retrieves indexed chunks relevant to a query and renders them
// into a context block for the generation service.
package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/GughanS/erpnext-ast-analyzer/internal/store"
)

// DefaultTopK is the number of chunks retrieved when the caller does not
// specify one.
const DefaultTopK = 5

// QueryEmbedder embeds a retrieval query.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Searcher finds the stored chunks closest to an embedding.
type Searcher interface {
	Query(embedding []float32, k int) ([]store.RetrievalHit, error)
}

// Engine performs semantic retrieval over the indexed codebase.
type Engine struct {
	embedder QueryEmbedder
	searcher Searcher
}

func New(embedder QueryEmbedder, searcher Searcher) *Engine {
	return &Engine{embedder: embedder, searcher: searcher}
}

// Retrieve embeds the query and returns the top-k hits, best first.
func (e *Engine) Retrieve(ctx context.Context, query string, k int) ([]store.RetrievalHit, error) {
	if k <= 0 {
		k = DefaultTopK
	}
	vec, err := e.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := e.searcher.Query(vec, k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	return hits, nil
}

// BuildContext renders retrieved hits into the plain-text block handed to the
// generation service. Each chunk is framed with its provenance so answers can
// reference files and line numbers.
func BuildContext(hits []store.RetrievalHit) string {
	if len(hits) == 0 {
		return ""
	}
	var b strings.Builder
	for i, h := range hits {
		c := h.Chunk
		fmt.Fprintf(&b, "--- Chunk %d: %s [%s %s] (lines %d-%d) ---\n",
			i+1, c.SourcePath, c.Kind, c.Name, c.StartLine, c.EndLine)
		if len(c.CallEdges) > 0 {
			fmt.Fprintf(&b, "Calls: %s\n", strings.Join(c.CallEdges, ", "))
		}
		if len(c.SideEffects) > 0 {
			fmt.Fprintf(&b, "Side effects: %s\n", strings.Join(c.SideEffects, ", "))
		}
		b.WriteString(c.Content)
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
