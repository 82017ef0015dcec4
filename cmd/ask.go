package cmd

import (
	"fmt"
	"strings"

	"github.com/GughanS/erpnext-ast-analyzer/internal/rag"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
)

var flagK int

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question about the indexed codebase",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")

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
		hits, err := engine.Retrieve(cmd.Context(), question, flagK)
		if err != nil {
			return err
		}
		if len(hits) == 0 {
			fmt.Println("No indexed code matched the question.")
			return nil
		}

		answer, err := gen.Answer(cmd.Context(), question, rag.BuildContext(hits))
		if err != nil {
			return err
		}

		fmt.Println(headingStyle.Render("Answer"))
		fmt.Println()
		if rendered, err := glamour.Render(answer, "dark"); err == nil {
			fmt.Println(rendered)
		} else {
			fmt.Println(answer)
		}
		fmt.Println(dimStyle.Render("Sources:"))
		for _, h := range hits {
			fmt.Println(dimStyle.Render(fmt.Sprintf("  %s  %s (lines %d-%d, score %.3f)",
				h.Chunk.SourcePath, h.Chunk.Name, h.Chunk.StartLine, h.Chunk.EndLine, h.Score)))
		}
		return nil
	},
}

func init() {
	askCmd.Flags().IntVar(&flagK, "k", rag.DefaultTopK, "number of chunks to retrieve")
	rootCmd.AddCommand(askCmd)
}
