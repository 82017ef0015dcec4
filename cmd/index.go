package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/GughanS/erpnext-ast-analyzer/internal/index"

	"github.com/spf13/cobra"
)

var flagWorkers int

var indexCmd = &cobra.Command{
	Use:   "index <path>",
	Short: "Index a legacy codebase for retrieval and migration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}

		dbPath := flagDB
		if dbPath == "" {
			dbPath = filepath.Join(root, ".modernizer", "index.db")
		}
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return fmt.Errorf("create db directory: %w", err)
		}

		emb, err := newEmbedder()
		if err != nil {
			return err
		}

		workers := flagWorkers
		if workers <= 0 {
			workers = cfg.Workers
		}
		idx, err := index.New(index.Config{
			DBPath:          dbPath,
			EmbeddingModel:  cfg.EmbeddingModel,
			Workers:         workers,
			SideEffectCalls: cfg.SideEffectRegistry(),
		}, emb, logger)
		if err != nil {
			return err
		}
		defer idx.Close()

		fmt.Println(headingStyle.Render("Indexing " + root))
		start := time.Now()

		stats, err := idx.Index(cmd.Context(), root)
		if err != nil {
			return err
		}

		fmt.Printf("\nDone in %s\n", time.Since(start).Round(time.Millisecond))
		fmt.Printf("  Files:   %d total, %d indexed, %d skipped, %d failed\n",
			stats.FilesTotal, stats.FilesIndexed, stats.FilesSkipped, stats.FilesFailed)
		fmt.Printf("  Chunks:  %d stored, %d failed\n", stats.ChunksTotal, stats.ChunksFailed)
		fmt.Println(dimStyle.Render("  Analysis: " + filepath.Join(filepath.Dir(dbPath), "analysis.json")))
		return nil
	},
}

func init() {
	indexCmd.Flags().IntVar(&flagWorkers, "workers", 0, "parallel embedding requests (default WORKERS env, 3)")
	rootCmd.AddCommand(indexCmd)
}
