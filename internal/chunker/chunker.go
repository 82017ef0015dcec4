package chunker

import (
	"context"
	"fmt"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// maxChunkBytes is the size above which a definition body is split at
// statement boundaries. Splitting is a fallback: semantic completeness is
// preferred over a strict size cap.
const maxChunkBytes = 8192

// ChunkRecord is one extracted logic unit, immutable after creation.
// Re-extracting an unchanged file yields identical IDs and ordering.
type ChunkRecord struct {
	// ID is derived from the source path, qualified name, and start line,
	// so re-indexing overwrites rather than duplicates.
	ID          string
	Name        string // qualified name, e.g. SalesInvoice.on_submit
	Kind        string // "function" or "method"
	Parent      string // qualified name of the parent for split sub-chunks
	SourcePath  string
	StartLine   int
	EndLine     int
	Content     string
	CallEdges   []string // callable names referenced in the body, sorted
	SideEffects []string // CallEdges matching the side-effect registry
}

// FileExtract holds everything pulled from one source file.
type FileExtract struct {
	Chunks  []ChunkRecord
	Imports []string // module names this file depends on, sorted
}

// Extractor parses source files with tree-sitter and extracts function and
// method chunks with their dependency metadata.
type Extractor struct {
	registry    *Registry
	sideEffects map[string]bool
}

// NewExtractor creates an extractor backed by the given grammar registry.
// Call edges into any name in sideEffectCalls become side-effect markers.
func NewExtractor(r *Registry, sideEffectCalls []string) *Extractor {
	set := make(map[string]bool, len(sideEffectCalls))
	for _, name := range sideEffectCalls {
		set[name] = true
	}
	return &Extractor{registry: r, sideEffects: set}
}

// Extract parses src and returns all function/method chunks in source order,
// including nested definitions. If no grammar is registered for the file it
// returns (nil, nil) and the caller should skip the file. A file that fails
// to parse returns an error; the caller isolates it and continues.
func (e *Extractor) Extract(path string, src []byte) (*FileExtract, error) {
	spec := e.registry.Lookup(path)
	if spec == nil {
		return nil, nil
	}

	parser := sitter.NewParser()
	parser.SetLanguage(spec.Language)
	tree, err := parser.ParseCtx(context.Background(), nil, src)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return nil, fmt.Errorf("parse %s: source contains syntax errors", path)
	}

	defQuery, err := sitter.NewQuery([]byte(spec.DefinitionQuery), spec.Language)
	if err != nil {
		return nil, fmt.Errorf("compile definition query: %w", err)
	}
	defer defQuery.Close()

	callQuery, err := sitter.NewQuery([]byte(spec.CallQuery), spec.Language)
	if err != nil {
		return nil, fmt.Errorf("compile call query: %w", err)
	}
	defer callQuery.Close()

	var chunks []ChunkRecord
	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(defQuery, root)

	for {
		m, ok := qc.NextMatch()
		if !ok {
			break
		}
		var defNode *sitter.Node
		for _, cap := range m.Captures {
			if defQuery.CaptureNameForId(cap.Index) == "chunk" {
				defNode = cap.Node
			}
		}
		if defNode == nil {
			continue
		}
		chunks = append(chunks, e.buildChunks(path, defNode, callQuery, src)...)
	}

	// Source-position ordering, outer definitions before the nested ones
	// they contain. Deterministic across runs over unchanged input.
	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].StartLine != chunks[j].StartLine {
			return chunks[i].StartLine < chunks[j].StartLine
		}
		return chunks[i].EndLine > chunks[j].EndLine
	})

	imports, err := extractImports(spec, root, src)
	if err != nil {
		return nil, err
	}

	return &FileExtract{Chunks: chunks, Imports: imports}, nil
}

// buildChunks turns one definition node into one chunk, or several sequential
// sub-chunks when the body exceeds maxChunkBytes.
func (e *Extractor) buildChunks(path string, node *sitter.Node, callQuery *sitter.Query, src []byte) []ChunkRecord {
	qname, kind := qualify(node, src)
	content := node.Content(src)

	if len(content) <= maxChunkBytes {
		return []ChunkRecord{e.record(path, qname, kind, "", node, node, callQuery, src)}
	}
	return e.splitOversized(path, qname, kind, node, callQuery, src)
}

// record builds a single ChunkRecord spanning first..last.
func (e *Extractor) record(path, name, kind, parent string, first, last *sitter.Node, callQuery *sitter.Query, src []byte) ChunkRecord {
	edges := e.callEdges(callQuery, src, first)
	return ChunkRecord{
		ID:          chunkID(path, name, lineOf(first)),
		Name:        name,
		Kind:        kind,
		Parent:      parent,
		SourcePath:  path,
		StartLine:   lineOf(first),
		EndLine:     int(last.EndPoint().Row) + 1,
		Content:     string(src[first.StartByte():last.EndByte()]),
		CallEdges:   edges,
		SideEffects: e.markers(edges),
	}
}

// splitOversized groups the body's top-level statements into sequential
// sub-chunks, each staying under maxChunkBytes and keeping a reference to the
// parent definition. A body with a single statement is kept whole.
func (e *Extractor) splitOversized(path, qname, kind string, node *sitter.Node, callQuery *sitter.Query, src []byte) []ChunkRecord {
	body := node.ChildByFieldName("body")
	if body == nil || body.NamedChildCount() <= 1 {
		return []ChunkRecord{e.record(path, qname, kind, "", node, node, callQuery, src)}
	}

	var chunks []ChunkRecord
	var group []*sitter.Node
	groupSize := 0

	flush := func() {
		if len(group) == 0 {
			return
		}
		first, last := group[0], group[len(group)-1]
		name := fmt.Sprintf("%s[%d]", qname, len(chunks))
		edges := e.callEdges(callQuery, src, group...)
		chunks = append(chunks, ChunkRecord{
			ID:          chunkID(path, name, lineOf(first)),
			Name:        name,
			Kind:        kind,
			Parent:      qname,
			SourcePath:  path,
			StartLine:   lineOf(first),
			EndLine:     int(last.EndPoint().Row) + 1,
			Content:     string(src[first.StartByte():last.EndByte()]),
			CallEdges:   edges,
			SideEffects: e.markers(edges),
		})
		group = nil
		groupSize = 0
	}

	for i := 0; i < int(body.NamedChildCount()); i++ {
		stmt := body.NamedChild(i)
		size := int(stmt.EndByte() - stmt.StartByte())
		if groupSize > 0 && groupSize+size > maxChunkBytes {
			flush()
		}
		group = append(group, stmt)
		groupSize += size
	}
	flush()

	return chunks
}

// callEdges collects every callable name referenced inside the given nodes,
// deduplicated and sorted. Order of appearance carries no meaning: the edges
// form a plain set-of-names relation, cycles included.
func (e *Extractor) callEdges(callQuery *sitter.Query, src []byte, nodes ...*sitter.Node) []string {
	seen := make(map[string]bool)
	for _, node := range nodes {
		qc := sitter.NewQueryCursor()
		qc.Exec(callQuery, node)
		for {
			m, ok := qc.NextMatch()
			if !ok {
				break
			}
			for _, cap := range m.Captures {
				seen[cap.Node.Content(src)] = true
			}
		}
		qc.Close()
	}
	return sortedKeys(seen)
}

// markers filters edges down to the configured side-effect registry.
func (e *Extractor) markers(edges []string) []string {
	var out []string
	for _, edge := range edges {
		if e.sideEffects[edge] {
			out = append(out, edge)
		}
	}
	return out
}

func extractImports(spec *LanguageSpec, root *sitter.Node, src []byte) ([]string, error) {
	if spec.ImportQuery == "" {
		return nil, nil
	}
	q, err := sitter.NewQuery([]byte(spec.ImportQuery), spec.Language)
	if err != nil {
		return nil, fmt.Errorf("compile import query: %w", err)
	}
	defer q.Close()

	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(q, root)

	seen := make(map[string]bool)
	for {
		m, ok := qc.NextMatch()
		if !ok {
			break
		}
		for _, cap := range m.Captures {
			seen[cap.Node.Content(src)] = true
		}
	}
	return sortedKeys(seen), nil
}

// qualify builds the dotted qualified name of a definition from its enclosing
// classes and functions, and classifies it: a definition whose nearest
// enclosing definition is a class is a method, anything else is a function.
func qualify(node *sitter.Node, src []byte) (name, kind string) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return "", "function"
	}
	parts := []string{nameNode.Content(src)}
	kind = "function"
	decided := false

	for anc := node.Parent(); anc != nil; anc = anc.Parent() {
		t := anc.Type()
		if t != "class_definition" && t != "function_definition" {
			continue
		}
		if !decided {
			if t == "class_definition" {
				kind = "method"
			}
			decided = true
		}
		if n := anc.ChildByFieldName("name"); n != nil {
			parts = append([]string{n.Content(src)}, parts...)
		}
	}
	return strings.Join(parts, "."), kind
}

func chunkID(path, qname string, startLine int) string {
	return fmt.Sprintf("%s:%s:%d", path, qname, startLine)
}

func lineOf(node *sitter.Node) int {
	return int(node.StartPoint().Row) + 1
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
