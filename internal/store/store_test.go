package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// testVector returns a 768-dim vector pointing mostly along one axis.
func testVector(axis int) []float32 {
	v := make([]float32, EmbeddingDim)
	v[axis%EmbeddingDim] = 1
	return v
}

func testChunk(id, name, path string) StoredChunk {
	return StoredChunk{
		ID:          id,
		SourcePath:  path,
		Name:        name,
		Kind:        "method",
		StartLine:   10,
		EndLine:     20,
		Content:     "def " + name + "(self): pass",
		CallEdges:   []string{"make_gl_entries", "validate"},
		SideEffects: []string{"make_gl_entries"},
	}
}

func (s *SQLiteStore) countRows(t *testing.T, table string) int {
	t.Helper()
	var n int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestUpsertChunkIdempotent(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.UpsertFile(FileRecord{Path: "bin.py", Hash: "h1"}))

	c := testChunk("bin.py:Bin.update_qty:10", "Bin.update_qty", "bin.py")
	require.NoError(t, s.UpsertChunk(c, testVector(0)))
	require.NoError(t, s.UpsertChunk(c, testVector(0)))

	assert.Equal(t, 1, s.countRows(t, "chunks"), "same chunk ID must overwrite, not duplicate")
	assert.Equal(t, 1, s.countRows(t, "vec_chunks"))

	// Last write wins.
	c.Content = "def update_qty(self): return 1"
	require.NoError(t, s.UpsertChunk(c, testVector(1)))

	got, err := s.ChunksByName("Bin.update_qty")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "def update_qty(self): return 1", got[0].Content)
	assert.Equal(t, []string{"make_gl_entries", "validate"}, got[0].CallEdges)
	assert.Equal(t, []string{"make_gl_entries"}, got[0].SideEffects)
}

func TestUpsertFilePurgesPriorChunks(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.UpsertFile(FileRecord{Path: "bin.py", Hash: "h1"}))
	require.NoError(t, s.UpsertChunk(testChunk("bin.py:a:1", "a", "bin.py"), testVector(0)))
	require.NoError(t, s.UpsertChunk(testChunk("bin.py:b:2", "b", "bin.py"), testVector(1)))

	// Re-index the file: prior chunks and vectors are gone.
	require.NoError(t, s.UpsertFile(FileRecord{Path: "bin.py", Hash: "h2"}))
	assert.Equal(t, 0, s.countRows(t, "chunks"))
	assert.Equal(t, 0, s.countRows(t, "vec_chunks"))

	hash, err := s.GetFileHash("bin.py")
	require.NoError(t, err)
	assert.Equal(t, "h2", hash)
}

func TestQueryOrdering(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.UpsertFile(FileRecord{Path: "f.py", Hash: "h"}))

	for i, name := range []string{"alpha", "beta", "gamma"} {
		require.NoError(t, s.UpsertChunk(testChunk("f.py:"+name+":1", name, "f.py"), testVector(i)))
	}

	// Query along axis 1: beta is the exact match.
	hits, err := s.Query(testVector(1), 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "beta", hits[0].Chunk.Name)
	assert.Greater(t, hits[0].Score, hits[1].Score, "hits are ordered best first")
	assert.Equal(t, hits[0].ChunkID, hits[0].Chunk.ID)
}

func TestChunksByFileOrdering(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.UpsertFile(FileRecord{Path: "f.py", Hash: "h"}))

	second := testChunk("f.py:b:30", "b", "f.py")
	second.StartLine = 30
	first := testChunk("f.py:a:5", "a", "f.py")
	first.StartLine = 5
	require.NoError(t, s.UpsertChunk(second, testVector(0)))
	require.NoError(t, s.UpsertChunk(first, testVector(1)))

	chunks, err := s.ChunksByFile("f.py")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "a", chunks[0].Name, "chunks come back in source order")
	assert.Equal(t, "b", chunks[1].Name)
}

func TestFileImports(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.UpsertFile(FileRecord{
		Path:    "bin.py",
		Hash:    "h1",
		Imports: []string{"frappe", "frappe.utils"},
	}))

	imports, err := s.FileImports("bin.py")
	require.NoError(t, err)
	assert.Equal(t, []string{"frappe", "frappe.utils"}, imports)

	// Re-upsert replaces the import list.
	require.NoError(t, s.UpsertFile(FileRecord{Path: "bin.py", Hash: "h2", Imports: []string{"json"}}))
	imports, err = s.FileImports("bin.py")
	require.NoError(t, err)
	assert.Equal(t, []string{"json"}, imports)

	missing, err := s.FileImports("nope.py")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestListFilesAndMeta(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.UpsertFile(FileRecord{Path: "a.py", Hash: "h"}))
	require.NoError(t, s.UpsertChunk(testChunk("a.py:x:1", "x", "a.py"), testVector(0)))

	files, err := s.ListFiles()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "a.py", files[0].Path)
	assert.Equal(t, 1, files[0].Chunks)

	require.NoError(t, s.SetMeta("embedding_model", "text-embedding-004"))
	v, err := s.GetMeta("embedding_model")
	require.NoError(t, err)
	assert.Equal(t, "text-embedding-004", v)

	missing, err := s.GetMeta("nope")
	require.NoError(t, err)
	assert.Equal(t, "", missing)
}
