package chunker

// MaxChunkBytes re-exports maxChunkBytes for external tests.
const MaxChunkBytes = maxChunkBytes
