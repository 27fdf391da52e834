package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show knowledge base statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		stats, err := st.GetStats(userID)
		if err != nil {
			return fmt.Errorf("failed to read stats: %w", err)
		}

		fmt.Printf("User:          %s\n", userID)
		fmt.Printf("Documents:     %d\n", stats.TotalDocs)
		fmt.Printf("Chunks:        %d\n", stats.TotalChunks)
		fmt.Printf("Avg chunk len: %.1f tokens\n", stats.AvgChunkLen)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
