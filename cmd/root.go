// Package cmd wires the CLI: indexing, questions, migration, and the MCP
// server all share the configuration and logger set up here.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/GughanS/erpnext-ast-analyzer/internal/config"
	"github.com/GughanS/erpnext-ast-analyzer/internal/embedder"
	"github.com/GughanS/erpnext-ast-analyzer/internal/genai"
	"github.com/GughanS/erpnext-ast-analyzer/internal/store"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	flagDB string

	cfg    *config.Config
	logger zerolog.Logger
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	passStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	failStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

var rootCmd = &cobra.Command{
	Use:   "modernizer",
	Short: "Analyze a legacy ERPNext codebase and migrate it to Go",
	Long: `modernizer indexes a legacy Python/ERPNext codebase into a local vector
store, answers questions about it, and migrates selected functions to
verified Go packages through a generate/verify/self-heal loop.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		level, err := zerolog.ParseLevel(cfg.LogLevel)
		if err != nil {
			level = zerolog.InfoLevel
		}
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			Level(level).
			With().Timestamp().Logger()
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, failStyle.Render("error:"), err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "index database path (default <cwd>/.modernizer/index.db)")
}

// resolveDBPath returns the --db flag or the default dot-dir location.
func resolveDBPath() (string, error) {
	if flagDB != "" {
		return flagDB, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, ".modernizer", "index.db"), nil
}

// openExistingStore opens the index and fails with a hint if it was never
// built.
func openExistingStore() (store.Store, string, error) {
	dbPath, err := resolveDBPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, "", fmt.Errorf("index not found at %s\nRun 'modernizer index <path>' first to build the index", dbPath)
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, "", fmt.Errorf("open index: %w", err)
	}
	return st, dbPath, nil
}

func newEmbedder() (*embedder.Client, error) {
	if cfg.GoogleAPIKey == "" {
		return nil, fmt.Errorf("GOOGLE_API_KEY is not set")
	}
	return embedder.New(cfg.EmbeddingBaseURL, cfg.EmbeddingModel, cfg.GoogleAPIKey, cfg.Workers, logger), nil
}

func newGenerator() (*genai.Client, error) {
	keys := cfg.GenerationKeys()
	if len(keys) == 0 {
		return nil, fmt.Errorf("GROQ_API_KEYS is not set")
	}
	return genai.New(cfg.GenerationBaseURL, cfg.GenerationModel, keys, cfg.AttemptsPerKey, logger), nil
}
