package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/GughanS/erpnext-ast-analyzer/internal/chunker"
	"github.com/GughanS/erpnext-ast-analyzer/internal/embedder"
	"github.com/GughanS/erpnext-ast-analyzer/internal/store"
	"github.com/GughanS/erpnext-ast-analyzer/internal/walker"

	"github.com/rs/zerolog"
)

// Embedder is the embedding dependency of the pipeline.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) []embedder.Result
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Stats reports indexing results. A failed file never aborts the run; it is
// counted here and logged.
type Stats struct {
	FilesTotal   int
	FilesIndexed int
	FilesSkipped int
	FilesFailed  int
	ChunksTotal  int
	ChunksFailed int
}

func runPipeline(
	ctx context.Context,
	root string,
	s store.Store,
	extractor *chunker.Extractor,
	registry *chunker.Registry,
	emb Embedder,
	workers int,
	force bool,
	log zerolog.Logger,
) (*Stats, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	fileCh, walkErrCh := walker.Walk(root, registry.Extensions())

	var filesTotal, filesIndexed, filesSkipped, filesFailed atomic.Int64
	var chunksTotal, chunksFailed atomic.Int64

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for fi := range fileCh {
				filesTotal.Add(1)

				stored, failed, skipped, err := indexFile(ctx, fi, s, extractor, emb, force)
				switch {
				case err != nil:
					filesFailed.Add(1)
					log.Warn().Err(err).Str("file", fi.RelPath).Msg("file skipped after error")
				case skipped:
					filesSkipped.Add(1)
				default:
					filesIndexed.Add(1)
					chunksTotal.Add(int64(stored))
					chunksFailed.Add(int64(failed))
					log.Debug().Str("file", fi.RelPath).Int("chunks", stored).Msg("file indexed")
				}
			}
		}()
	}
	wg.Wait()

	if err := <-walkErrCh; err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	return &Stats{
		FilesTotal:   int(filesTotal.Load()),
		FilesIndexed: int(filesIndexed.Load()),
		FilesSkipped: int(filesSkipped.Load()),
		FilesFailed:  int(filesFailed.Load()),
		ChunksTotal:  int(chunksTotal.Load()),
		ChunksFailed: int(chunksFailed.Load()),
	}, nil
}

// indexFile runs the full per-file flow: hash check, extraction, embedding,
// storage. Chunks whose embedding fails are dropped and counted; the rest of
// the file is still stored.
func indexFile(
	ctx context.Context,
	fi walker.FileInfo,
	s store.Store,
	extractor *chunker.Extractor,
	emb Embedder,
	force bool,
) (stored, failed int, skipped bool, err error) {
	src, err := os.ReadFile(fi.Path)
	if err != nil {
		return 0, 0, false, fmt.Errorf("read: %w", err)
	}

	sum := sha256.Sum256(src)
	hash := hex.EncodeToString(sum[:])

	if !force {
		existing, err := s.GetFileHash(fi.RelPath)
		if err != nil {
			return 0, 0, false, fmt.Errorf("hash lookup: %w", err)
		}
		if existing == hash {
			return 0, 0, true, nil
		}
	}

	extract, err := extractor.Extract(fi.RelPath, src)
	if err != nil {
		return 0, 0, false, err
	}
	if extract == nil {
		return 0, 0, true, nil
	}

	texts := make([]string, len(extract.Chunks))
	for i, c := range extract.Chunks {
		texts[i] = c.Content
	}
	results := emb.EmbedDocuments(ctx, texts)

	err = s.UpsertFile(store.FileRecord{
		Path:      fi.RelPath,
		Hash:      hash,
		SizeBytes: fi.Size,
		Imports:   extract.Imports,
	})
	if err != nil {
		return 0, 0, false, fmt.Errorf("store file: %w", err)
	}

	for i, c := range extract.Chunks {
		if results[i].Err != nil {
			failed++
			continue
		}
		sc := store.StoredChunk{
			ID:          c.ID,
			SourcePath:  c.SourcePath,
			Name:        c.Name,
			Kind:        c.Kind,
			Parent:      c.Parent,
			StartLine:   c.StartLine,
			EndLine:     c.EndLine,
			Content:     c.Content,
			CallEdges:   c.CallEdges,
			SideEffects: c.SideEffects,
		}
		if err := s.UpsertChunk(sc, results[i].Vector); err != nil {
			return stored, failed, false, fmt.Errorf("store chunk %s: %w", c.ID, err)
		}
		stored++
	}
	return stored, failed, false, nil
}
