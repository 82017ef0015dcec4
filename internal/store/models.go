package store

import "time"

// FileRecord represents an indexed source file.
type FileRecord struct {
	Path      string
	Hash      string
	IndexedAt time.Time
	SizeBytes int64
	Imports   []string
}

// StoredChunk is a chunk as persisted in the index, keyed by its stable ID.
type StoredChunk struct {
	ID          string
	SourcePath  string
	Name        string
	Kind        string
	Parent      string
	StartLine   int
	EndLine     int
	Content     string
	CallEdges   []string
	SideEffects []string
}

// RetrievalHit is a chunk returned from a similarity query. Higher score is
// a closer match. Hits are produced per query and never persisted.
type RetrievalHit struct {
	ChunkID string
	Score   float64
	Chunk   StoredChunk
}

// FileSummary is a lightweight file record for listings.
type FileSummary struct {
	Path      string
	Chunks    int
	IndexedAt time.Time
}
