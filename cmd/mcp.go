package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/GughanS/erpnext-ast-analyzer/internal/migrate"
	"github.com/GughanS/erpnext-ast-analyzer/internal/rag"
	"github.com/GughanS/erpnext-ast-analyzer/internal/store"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start an MCP server exposing analysis and migration tools",
	RunE:  runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	st, _, err := openExistingStore()
	if err != nil {
		return err
	}
	defer st.Close()

	emb, err := newEmbedder()
	if err != nil {
		return err
	}
	gen, err := newGenerator()
	if err != nil {
		return err
	}
	engine := rag.New(emb, st)
	orch := migrate.New(gen, &migrate.GoTestVerifier{}, migrate.Options{
		MaxRounds: cfg.MaxHealRounds,
	}, logger)

	s := mcpserver.NewMCPServer("modernizer", "1.0.0", mcpserver.WithToolCapabilities(false))

	s.AddTool(searchCodebaseTool(), makeSearchHandler(engine))
	s.AddTool(askCodebaseTool(), makeAskHandler(engine, gen))
	s.AddTool(migrateChunkTool(), makeMigrateHandler(st, engine, orch))
	s.AddTool(listIndexedFilesTool(), makeListFilesHandler(st))

	return mcpserver.ServeStdio(s)
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

// --- Tool schema builders ---

var readOnlyAnnotation = mcp.ToolAnnotation{
	ReadOnlyHint:    mcp.ToBoolPtr(true),
	DestructiveHint: mcp.ToBoolPtr(false),
	IdempotentHint:  mcp.ToBoolPtr(true),
	OpenWorldHint:   mcp.ToBoolPtr(false),
}

func searchCodebaseTool() mcp.Tool {
	return mcp.NewTool("search_codebase",
		mcp.WithDescription("Semantically search the indexed legacy codebase. Returns relevant functions with file paths, line numbers, call edges, and side-effect markers."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Natural language query to search the codebase"),
		),
		mcp.WithNumber("k",
			mcp.Description("Maximum number of chunks to return (default 5)"),
		),
	)
}

func askCodebaseTool() mcp.Tool {
	return mcp.NewTool("ask_codebase",
		mcp.WithDescription("Ask a question about the indexed legacy codebase. Retrieves relevant code and answers grounded in it."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("The question to answer"),
		),
	)
}

func migrateChunkTool() mcp.Tool {
	return mcp.NewTool("migrate_chunk",
		mcp.WithDescription("Migrate one indexed chunk to a verified Go package through the generate/verify/self-heal loop. Returns the migration report. May take minutes."),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Qualified chunk name, e.g. 'SalesInvoice.on_submit'"),
		),
	)
}

func listIndexedFilesTool() mcp.Tool {
	return mcp.NewTool("list_indexed_files",
		mcp.WithDescription("List all indexed files with their chunk counts."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
	)
}

// --- Handler factories ---

func makeSearchHandler(engine *rag.Engine) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query := req.GetString("query", "")
		if query == "" {
			return mcp.NewToolResultError("query is required"), nil
		}
		k := req.GetInt("k", rag.DefaultTopK)

		hits, err := engine.Retrieve(ctx, query, k)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
		}
		return mcp.NewToolResultText(formatSearchResults(query, hits)), nil
	}
}

func makeAskHandler(engine *rag.Engine, gen answerer) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question := req.GetString("question", "")
		if question == "" {
			return mcp.NewToolResultError("question is required"), nil
		}

		hits, err := engine.Retrieve(ctx, question, rag.DefaultTopK)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("retrieval failed: %v", err)), nil
		}
		answer, err := gen.Answer(ctx, question, rag.BuildContext(hits))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("generation failed: %v", err)), nil
		}
		return mcp.NewToolResultText(answer), nil
	}
}

func makeMigrateHandler(st store.Store, engine *rag.Engine, orch *migrate.Orchestrator) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name := req.GetString("name", "")
		if name == "" {
			return mcp.NewToolResultError("name is required"), nil
		}

		chunks, err := st.ChunksByName(name)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("lookup failed: %v", err)), nil
		}
		if len(chunks) == 0 {
			return mcp.NewToolResultError(fmt.Sprintf("no indexed chunk named %q — call search_codebase to find candidates", name)), nil
		}
		c := chunks[0]

		hits, err := engine.Retrieve(ctx, c.Content, rag.DefaultTopK)
		if err != nil {
			hits = nil
		}
		res := orch.Migrate(ctx, migrate.Unit{
			Name:        c.Name,
			Source:      c.Content,
			CallEdges:   c.CallEdges,
			SideEffects: c.SideEffects,
			Context:     rag.BuildContext(withoutChunk(hits, c.ID)),
		})

		return mcp.NewToolResultText(res.Report.Render()), nil
	}
}

func makeListFilesHandler(st store.Store) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		files, err := st.ListFiles()
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list files failed: %v", err)), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "## Indexed files (%d)\n\n", len(files))
		for _, f := range files {
			fmt.Fprintf(&sb, "- **%s** (%d chunks, indexed %s)\n", f.Path, f.Chunks, f.IndexedAt.Format("2006-01-02 15:04"))
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

// answerer is the slice of the generation client ask_codebase needs.
type answerer interface {
	Answer(ctx context.Context, question, contextBlock string) (string, error)
}

// --- Formatting helpers ---

func formatSearchResults(query string, hits []store.RetrievalHit) string {
	if len(hits) == 0 {
		return fmt.Sprintf("No results found for query: %q", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Search results for %q (%d chunks)\n\n", query, len(hits))

	for i, h := range hits {
		c := h.Chunk
		fmt.Fprintf(&sb, "### Result %d: `%s`\n\n", i+1, c.SourcePath)
		fmt.Fprintf(&sb, "**Kind:** %s  \n**Name:** %s  \n**Lines:** %d-%d  \n**Score:** %.3f\n\n",
			c.Kind, c.Name, c.StartLine, c.EndLine, h.Score)
		if len(c.CallEdges) > 0 {
			fmt.Fprintf(&sb, "**Calls:** %s\n\n", strings.Join(c.CallEdges, ", "))
		}
		if len(c.SideEffects) > 0 {
			fmt.Fprintf(&sb, "**Side effects:** %s\n\n", strings.Join(c.SideEffects, ", "))
		}
		fmt.Fprintf(&sb, "```python\n%s\n```\n\n", c.Content)
	}
	return sb.String()
}
