package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/GughanS/erpnext-ast-analyzer/internal/migrate"
	"github.com/GughanS/erpnext-ast-analyzer/internal/rag"
	"github.com/GughanS/erpnext-ast-analyzer/internal/store"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
)

var (
	flagOut        string
	flagUnits      int
	flagShowReport bool
	flagContextK   int
)

var migrateCmd = &cobra.Command{
	Use:   "migrate <file-or-chunk>",
	Short: "Migrate indexed functions to verified Go packages",
	Long: `migrate selects indexed chunks by identifier and runs each through the
generate/verify/self-heal loop. The identifier is either an indexed file
path (migrates every chunk in the file) or a qualified chunk name such as
"SalesInvoice.on_submit".`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		identifier := args[0]

		st, _, err := openExistingStore()
		if err != nil {
			return err
		}
		defer st.Close()

		chunks, err := resolveChunks(st, identifier)
		if err != nil {
			return err
		}

		emb, err := newEmbedder()
		if err != nil {
			return err
		}
		gen, err := newGenerator()
		if err != nil {
			return err
		}
		engine := rag.New(emb, st)

		units := make([]migrate.Unit, 0, len(chunks))
		for _, c := range chunks {
			hits, err := engine.Retrieve(cmd.Context(), c.Content, flagContextK)
			if err != nil {
				logger.Warn().Err(err).Str("chunk", c.Name).Msg("context retrieval failed, migrating without it")
				hits = nil
			}
			units = append(units, migrate.Unit{
				Name:        c.Name,
				Source:      c.Content,
				CallEdges:   c.CallEdges,
				SideEffects: c.SideEffects,
				Context:     rag.BuildContext(withoutChunk(hits, c.ID)),
			})
		}

		o := migrate.New(gen, &migrate.GoTestVerifier{}, migrate.Options{
			OutDir:    flagOut,
			MaxRounds: cfg.MaxHealRounds,
			Workers:   flagUnits,
		}, logger)

		results := o.MigrateAll(cmd.Context(), units)

		passed := 0
		for _, res := range results {
			status := failStyle.Render("FAILED")
			if res.State == migrate.StateDonePass {
				status = passStyle.Render("PASSED")
				passed++
			}
			fmt.Printf("%s  %s  %s\n", status, res.Unit.Name, dimStyle.Render(res.Dir))
			if res.Err != nil {
				fmt.Println(dimStyle.Render("  " + res.Err.Error()))
			}
			if flagShowReport {
				renderReport(filepath.Join(res.Dir, "migration_report.md"))
			}
		}
		fmt.Printf("\n%d/%d units passed\n", passed, len(results))
		return nil
	},
}

// resolveChunks interprets the identifier first as an indexed file path,
// then as an exact qualified chunk name.
func resolveChunks(st store.Store, identifier string) ([]store.StoredChunk, error) {
	chunks, err := st.ChunksByFile(identifier)
	if err != nil {
		return nil, err
	}
	if len(chunks) > 0 {
		return chunks, nil
	}
	chunks, err = st.ChunksByName(identifier)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("no indexed file or chunk matches %q", identifier)
	}
	return chunks, nil
}

// withoutChunk drops the unit itself from its retrieved context.
func withoutChunk(hits []store.RetrievalHit, chunkID string) []store.RetrievalHit {
	out := hits[:0]
	for _, h := range hits {
		if h.ChunkID != chunkID {
			out = append(out, h)
		}
	}
	return out
}

func renderReport(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	rendered, err := glamour.Render(string(data), "dark")
	if err != nil {
		fmt.Println(string(data))
		return
	}
	fmt.Println(rendered)
}

func init() {
	migrateCmd.Flags().StringVar(&flagOut, "out", "migrated", "output directory for generated packages")
	migrateCmd.Flags().IntVar(&flagUnits, "parallel", 2, "units migrated in parallel")
	migrateCmd.Flags().IntVar(&flagContextK, "context", rag.DefaultTopK, "related chunks retrieved per unit")
	migrateCmd.Flags().BoolVar(&flagShowReport, "report", false, "render each migration report after the run")
	rootCmd.AddCommand(migrateCmd)
}
