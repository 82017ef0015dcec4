package index

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/GughanS/erpnext-ast-analyzer/internal/store"
)

// Analysis is the structural summary of an indexed codebase, written as
// analysis.json next to the index database.
type Analysis struct {
	GeneratedAt  time.Time      `json:"generated_at"`
	Files        []FileAnalysis `json:"files"`
	TotalFiles   int            `json:"total_files"`
	TotalMethods int            `json:"total_methods"`
}

// FileAnalysis summarizes one source file.
type FileAnalysis struct {
	Path         string           `json:"path"`
	MethodsFound int              `json:"methods_found"`
	Methods      []MethodAnalysis `json:"methods"`
	Dependencies []string         `json:"dependencies"`
}

// MethodAnalysis summarizes one extracted chunk.
type MethodAnalysis struct {
	Name        string   `json:"name"`
	Kind        string   `json:"kind"`
	StartLine   int      `json:"start_line"`
	EndLine     int      `json:"end_line"`
	Calls       []string `json:"calls,omitempty"`
	SideEffects []string `json:"side_effects,omitempty"`
}

// BuildAnalysis assembles the structural summary from the store.
func BuildAnalysis(s store.Store) (*Analysis, error) {
	files, err := s.ListFiles()
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}

	a := &Analysis{GeneratedAt: time.Now().UTC()}
	for _, f := range files {
		chunks, err := s.ChunksByFile(f.Path)
		if err != nil {
			return nil, fmt.Errorf("chunks for %s: %w", f.Path, err)
		}
		imports, err := s.FileImports(f.Path)
		if err != nil {
			return nil, fmt.Errorf("imports for %s: %w", f.Path, err)
		}

		fa := FileAnalysis{
			Path:         f.Path,
			MethodsFound: len(chunks),
			Dependencies: imports,
		}
		for _, c := range chunks {
			fa.Methods = append(fa.Methods, MethodAnalysis{
				Name:        c.Name,
				Kind:        c.Kind,
				StartLine:   c.StartLine,
				EndLine:     c.EndLine,
				Calls:       c.CallEdges,
				SideEffects: c.SideEffects,
			})
		}
		a.Files = append(a.Files, fa)
		a.TotalMethods += len(chunks)
	}
	a.TotalFiles = len(a.Files)
	return a, nil
}

// WriteAnalysis writes the structural summary as pretty-printed JSON.
func WriteAnalysis(s store.Store, path string) error {
	a, err := BuildAnalysis(s)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
