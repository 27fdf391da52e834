package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"kbase/internal/adapter/retriever"
	"kbase/internal/domain"
	"kbase/internal/port"
	"kbase/internal/usecase"
)

var (
	queryText string
	queryTopK int
	queryJSON bool
	queryMode string
	queryMMR  bool
	queryDocs []string
	queryKind string
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Retrieve relevant passages from the knowledge base",
	Long: `Search the current user's knowledge base and print the most relevant
passages with their source and score.

Examples:
  kbase query -q "connection pooling"
  kbase query -q "release process" --top-k 10 --json
  kbase query -q "auth" --mode hybrid --doc 1a2b3c4d5e6f7081`,
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().StringVarP(&queryText, "query", "q", "", "query text (required)")
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "number of results (default from config)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output as JSON")
	queryCmd.Flags().StringVar(&queryMode, "mode", "", "search mode: vector, lexical or hybrid (default from config)")
	queryCmd.Flags().BoolVar(&queryMMR, "mmr", false, "rerank results for diversity")
	queryCmd.Flags().StringArrayVar(&queryDocs, "doc", nil, "restrict to document id (repeatable)")
	queryCmd.Flags().StringVar(&queryKind, "kind", "", "restrict to source kind: file or url")
	queryCmd.MarkFlagRequired("query")
}

func runQuery(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	embedder, err := newEmbedder()
	if err != nil {
		return err
	}
	index, err := newIndex(embedder.Dimension())
	if err != nil {
		return err
	}
	if err := usecase.RebuildIndex(st, index, userID); err != nil {
		return fmt.Errorf("failed to rebuild index: %w", err)
	}

	modeStr := cfg.Search.Mode
	if queryMode != "" {
		modeStr = queryMode
	}
	mode, err := usecase.ParseSearchMode(modeStr)
	if err != nil {
		return err
	}

	semantic := retriever.NewSemantic(index, embedder, st, newCache())
	lexical := retriever.NewBM25(st, newAnalyzer(), cfg.Search.BM25K1, cfg.Search.BM25B)
	hybrid := retriever.NewHybrid(semantic, lexical, cfg.Search.RRFK, cfg.Search.LexicalWeight)

	var reranker port.DiversityReranker
	if queryMMR || cfg.Search.MMREnabled {
		reranker = retriever.NewMMR(cfg.Search.MMRLambda, cfg.Search.DedupJaccard)
	}

	processor := usecase.NewQueryProcessor(semantic, lexical, hybrid, reranker, st, mode, cfg.Search.MinScore, log)

	topK := cfg.Search.TopK
	if queryTopK > 0 {
		topK = queryTopK
	}

	filters := domain.Filters{DocIDs: queryDocs}
	if queryKind != "" {
		kind := domain.SourceKind(queryKind)
		if !kind.Valid() {
			return fmt.Errorf("unknown source kind %q", queryKind)
		}
		filters.Kind = kind
	}

	result, err := processor.Query(cmd.Context(), domain.Query{
		UserID:  userID,
		Text:    queryText,
		K:       topK,
		Filters: filters,
	})
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	if queryJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result.Hits)
	}

	if len(result.Hits) == 0 {
		fmt.Println("No results.")
		return nil
	}
	for i, hit := range result.Hits {
		fmt.Printf("%d. %s (score %.4f)\n", i+1, hit.Source, hit.Score)
		text := strings.TrimSpace(hit.Text)
		if len(text) > 400 {
			text = text[:400] + "..."
		}
		fmt.Printf("   %s\n\n", strings.ReplaceAll(text, "\n", "\n   "))
	}
	return nil
}
