package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// Store is the vector-store boundary. Upserts are idempotent: the last write
// for a given chunk ID wins, and re-indexing a file overwrites its prior
// chunks rather than appending. Concurrent idempotent upserts are safe.
type Store interface {
	// GetFileHash returns the stored hash for a path, or "" if not indexed.
	GetFileHash(path string) (string, error)
	// UpsertFile inserts or updates a file record and purges any chunks and
	// embeddings previously stored for the file.
	UpsertFile(f FileRecord) error
	// FileImports returns the module names a file imports, or nil if the
	// file is not indexed.
	FileImports(path string) ([]string, error)
	// UpsertChunk stores a chunk and its embedding, replacing any prior
	// state under the same chunk ID.
	UpsertChunk(c StoredChunk, embedding []float32) error
	// Query finds the top-k chunks closest to the embedding, best first.
	Query(embedding []float32, k int) ([]RetrievalHit, error)
	// ChunksByName returns all chunks whose qualified name matches exactly.
	ChunksByName(name string) ([]StoredChunk, error)
	// ChunksByFile returns all chunks of a source file in source order.
	ChunksByFile(path string) ([]StoredChunk, error)
	// ListFiles lists indexed files with their chunk counts.
	ListFiles() ([]FileSummary, error)
	// GetMeta returns a metadata value by key, or "" if not set.
	GetMeta(key string) (string, error)
	// SetMeta sets a metadata key-value pair.
	SetMeta(key, value string) error
	// Close closes the underlying database.
	Close() error
}

// SQLiteStore implements Store backed by SQLite + sqlite-vec.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path and initializes
// the schema.
func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := Init(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetFileHash(path string) (string, error) {
	var hash string
	err := s.db.QueryRow("SELECT hash FROM files WHERE path = ?", path).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return hash, err
}

func (s *SQLiteStore) UpsertFile(f FileRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Purge prior chunks and their vectors so re-indexing overwrites.
	rows, err := tx.Query("SELECT id FROM chunks WHERE path = ?", f.Path)
	if err != nil {
		return err
	}
	var chunkRows []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		chunkRows = append(chunkRows, id)
	}
	rows.Close()

	for _, id := range chunkRows {
		if _, err := tx.Exec("DELETE FROM vec_chunks WHERE chunk_row = ?", id); err != nil {
			return err
		}
	}
	if _, err := tx.Exec("DELETE FROM chunks WHERE path = ?", f.Path); err != nil {
		return err
	}

	imports, err := json.Marshal(stringsOrEmpty(f.Imports))
	if err != nil {
		return err
	}
	_, err = tx.Exec(`
		INSERT INTO files (path, hash, size_bytes, imports, indexed_at) VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(path) DO UPDATE SET hash = excluded.hash, size_bytes = excluded.size_bytes, imports = excluded.imports, indexed_at = CURRENT_TIMESTAMP
	`, f.Path, f.Hash, f.SizeBytes, string(imports))
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) FileImports(path string) ([]string, error) {
	var raw string
	err := s.db.QueryRow("SELECT imports FROM files WHERE path = ?", path).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var imports []string
	if err := json.Unmarshal([]byte(raw), &imports); err != nil {
		return nil, fmt.Errorf("decode imports for %s: %w", path, err)
	}
	return imports, nil
}

func (s *SQLiteStore) UpsertChunk(c StoredChunk, embedding []float32) error {
	blob, err := sqlite_vec.SerializeFloat32(embedding)
	if err != nil {
		return fmt.Errorf("serialize embedding for %s: %w", c.ID, err)
	}
	edges, err := json.Marshal(stringsOrEmpty(c.CallEdges))
	if err != nil {
		return err
	}
	effects, err := json.Marshal(stringsOrEmpty(c.SideEffects))
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var existing int64
	err = tx.QueryRow("SELECT id FROM chunks WHERE chunk_id = ?", c.ID).Scan(&existing)
	switch {
	case err == nil:
		_, err = tx.Exec(`
			UPDATE chunks SET path = ?, name = ?, kind = ?, parent = ?, start_line = ?, end_line = ?, content = ?, call_edges = ?, side_effects = ?
			WHERE id = ?
		`, c.SourcePath, c.Name, c.Kind, c.Parent, c.StartLine, c.EndLine, c.Content, string(edges), string(effects), existing)
		if err != nil {
			return err
		}
		if _, err := tx.Exec("DELETE FROM vec_chunks WHERE chunk_row = ?", existing); err != nil {
			return err
		}
	case err == sql.ErrNoRows:
		res, insErr := tx.Exec(`
			INSERT INTO chunks (chunk_id, path, name, kind, parent, start_line, end_line, content, call_edges, side_effects)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, c.ID, c.SourcePath, c.Name, c.Kind, c.Parent, c.StartLine, c.EndLine, c.Content, string(edges), string(effects))
		if insErr != nil {
			return insErr
		}
		existing, err = res.LastInsertId()
		if err != nil {
			return err
		}
	default:
		return err
	}

	if _, err := tx.Exec("INSERT INTO vec_chunks (chunk_row, embedding) VALUES (?, ?)", existing, blob); err != nil {
		return fmt.Errorf("insert embedding for %s: %w", c.ID, err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Query(embedding []float32, k int) ([]RetrievalHit, error) {
	blob, err := sqlite_vec.SerializeFloat32(embedding)
	if err != nil {
		return nil, fmt.Errorf("serialize query embedding: %w", err)
	}
	rows, err := s.db.Query(`
		SELECT v.distance, c.chunk_id, c.path, c.name, c.kind, c.parent,
		       c.start_line, c.end_line, c.content, c.call_edges, c.side_effects
		FROM vec_chunks v
		JOIN chunks c ON c.id = v.chunk_row
		WHERE v.embedding MATCH ? AND v.k = ?
		ORDER BY v.distance
	`, blob, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []RetrievalHit
	for rows.Next() {
		var distance float64
		c, err := scanChunk(rows, &distance)
		if err != nil {
			return nil, err
		}
		hits = append(hits, RetrievalHit{
			ChunkID: c.ID,
			Score:   1.0 / (1.0 + distance),
			Chunk:   c,
		})
	}
	return hits, rows.Err()
}

func (s *SQLiteStore) ChunksByName(name string) ([]StoredChunk, error) {
	return s.selectChunks("SELECT chunk_id, path, name, kind, parent, start_line, end_line, content, call_edges, side_effects FROM chunks WHERE name = ? ORDER BY path, start_line", name)
}

func (s *SQLiteStore) ChunksByFile(path string) ([]StoredChunk, error) {
	return s.selectChunks("SELECT chunk_id, path, name, kind, parent, start_line, end_line, content, call_edges, side_effects FROM chunks WHERE path = ? ORDER BY start_line, end_line DESC", path)
}

func (s *SQLiteStore) selectChunks(query string, args ...any) ([]StoredChunk, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []StoredChunk
	for rows.Next() {
		c, err := scanChunk(rows, nil)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (s *SQLiteStore) ListFiles() ([]FileSummary, error) {
	rows, err := s.db.Query(`
		SELECT f.path, f.indexed_at, COUNT(c.id)
		FROM files f
		LEFT JOIN chunks c ON c.path = f.path
		GROUP BY f.path
		ORDER BY f.path
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []FileSummary
	for rows.Next() {
		var f FileSummary
		if err := rows.Scan(&f.Path, &f.IndexedAt, &f.Chunks); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (s *SQLiteStore) GetMeta(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (s *SQLiteStore) SetMeta(key, value string) error {
	_, err := s.db.Exec(
		"INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanChunk reads one chunk row. When distance is non-nil it is scanned
// first, matching the Query column order.
func scanChunk(rows *sql.Rows, distance *float64) (StoredChunk, error) {
	var c StoredChunk
	var edges, effects string

	dest := []any{}
	if distance != nil {
		dest = append(dest, distance)
	}
	dest = append(dest,
		&c.ID, &c.SourcePath, &c.Name, &c.Kind, &c.Parent,
		&c.StartLine, &c.EndLine, &c.Content, &edges, &effects,
	)
	if err := rows.Scan(dest...); err != nil {
		return StoredChunk{}, err
	}
	if err := json.Unmarshal([]byte(edges), &c.CallEdges); err != nil {
		return StoredChunk{}, fmt.Errorf("decode call edges for %s: %w", c.ID, err)
	}
	if err := json.Unmarshal([]byte(effects), &c.SideEffects); err != nil {
		return StoredChunk{}, fmt.Errorf("decode side effects for %s: %w", c.ID, err)
	}
	return c, nil
}

func stringsOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
