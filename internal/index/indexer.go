// Package index walks a legacy codebase, extracts function-level chunks,
// embeds them, and persists everything in the vector store.
package index

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/GughanS/erpnext-ast-analyzer/internal/chunker"
	"github.com/GughanS/erpnext-ast-analyzer/internal/chunker/languages"
	"github.com/GughanS/erpnext-ast-analyzer/internal/store"

	"github.com/rs/zerolog"
)

const metaEmbeddingModel = "embedding_model"

// Config holds the indexer configuration.
type Config struct {
	DBPath          string
	EmbeddingModel  string
	Workers         int
	SideEffectCalls []string
}

// Indexer is the public API for indexing a codebase.
type Indexer struct {
	store     store.Store
	embedder  Embedder
	extractor *chunker.Extractor
	registry  *chunker.Registry
	cfg       Config
	log       zerolog.Logger
}

// New opens the store at cfg.DBPath and prepares the extraction registry.
func New(cfg Config, emb Embedder, log zerolog.Logger) (*Indexer, error) {
	s, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	reg := chunker.NewRegistry()
	languages.RegisterPython(reg)

	return &Indexer{
		store:     s,
		embedder:  emb,
		extractor: chunker.NewExtractor(reg, cfg.SideEffectCalls),
		registry:  reg,
		cfg:       cfg,
		log:       log,
	}, nil
}

// Index indexes the codebase rooted at root. Unchanged files are skipped by
// content hash; if the embedding model changed since the last run every file
// is re-embedded, since vectors from different models are not comparable.
func (idx *Indexer) Index(ctx context.Context, root string) (*Stats, error) {
	force := false
	last, err := idx.store.GetMeta(metaEmbeddingModel)
	if err != nil {
		return nil, fmt.Errorf("get meta: %w", err)
	}
	if last != "" && last != idx.cfg.EmbeddingModel {
		idx.log.Warn().
			Str("previous", last).
			Str("current", idx.cfg.EmbeddingModel).
			Msg("embedding model changed, re-embedding all files")
		force = true
	}

	stats, err := runPipeline(ctx, root, idx.store, idx.extractor, idx.registry, idx.embedder, idx.cfg.Workers, force, idx.log)
	if err != nil {
		return nil, err
	}

	if err := idx.store.SetMeta(metaEmbeddingModel, idx.cfg.EmbeddingModel); err != nil {
		return nil, fmt.Errorf("set meta: %w", err)
	}

	if stats.FilesIndexed > 0 {
		analysisPath := filepath.Join(filepath.Dir(idx.cfg.DBPath), "analysis.json")
		if err := WriteAnalysis(idx.store, analysisPath); err != nil {
			idx.log.Warn().Err(err).Msg("writing analysis report failed")
		} else {
			idx.log.Info().Str("path", analysisPath).Msg("analysis report written")
		}
	}

	return stats, nil
}

// Store exposes the underlying store for retrieval and migration.
func (idx *Indexer) Store() store.Store {
	return idx.store
}

// Close releases the underlying store.
func (idx *Indexer) Close() error {
	return idx.store.Close()
}
