package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"kbase/internal/adapter/embed"
	"kbase/internal/domain"
	"kbase/internal/usecase"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <doc-id>",
	Short: "Remove a document from the knowledge base",
	Long: `Remove a document and all of its chunks from the current user's
knowledge base. The document id is shown by 'kbase docs'.`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}

func runDelete(cmd *cobra.Command, args []string) error {
	docID := args[0]

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	// Deletion never embeds, so the offline embedder stands in and no API
	// key is required.
	embedder := embed.NewHash(cfg.Embedding.Dimension)
	index, err := newIndex(embedder.Dimension())
	if err != nil {
		return err
	}
	chunker, err := newChunker()
	if err != nil {
		return err
	}

	ingester := usecase.NewIngester(newNormalizer(), chunker, embedder, index, st, newAnalyzer(), newCache(), log)
	if err := ingester.Delete(cmd.Context(), userID, docID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("document %s not found for user %s", docID, userID)
		}
		return err
	}

	fmt.Printf("Deleted %s (user %s)\n", docID, userID)
	return nil
}
