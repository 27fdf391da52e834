package cli

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"kbase/internal/adapter/fetch"
	"kbase/internal/domain"
	"kbase/internal/usecase"
)

var (
	ingestURLs []string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [path...]",
	Short: "Ingest files or web pages into the knowledge base",
	Long: `Ingest text files or web pages into the current user's knowledge base.
Directories are walked recursively, filtered by the configured include and
exclude patterns. Re-ingesting an unchanged source is a no-op; a changed
source replaces the previous version.

Examples:
  kbase ingest notes/                      # Ingest a directory
  kbase ingest README.md CHANGELOG.md      # Ingest specific files
  kbase ingest --url https://example.com   # Ingest a web page`,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringArrayVar(&ingestURLs, "url", nil, "web page URL to ingest (repeatable)")
}

type ingestItem struct {
	kind   domain.SourceKind
	source string
}

func runIngest(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && len(ingestURLs) == 0 {
		return fmt.Errorf("nothing to ingest: pass paths or --url")
	}

	items, err := collectItems(args)
	if err != nil {
		return err
	}
	for _, u := range ingestURLs {
		items = append(items, ingestItem{kind: domain.SourceURL, source: u})
	}
	if len(items) == 0 {
		return fmt.Errorf("no files matched the configured include patterns")
	}

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
	chunker, err := newChunker()
	if err != nil {
		return err
	}

	ingester := usecase.NewIngester(newNormalizer(), chunker, embedder, index, st, newAnalyzer(), newCache(), log)
	fetcher := fetch.New(time.Duration(cfg.Ingest.FetchTimeoutSec) * time.Second)

	bar := progressbar.NewOptions(len(items),
		progressbar.OptionSetDescription("Ingesting"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	parallelism := cfg.Ingest.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}

	ctx := cmd.Context()
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	var mu sync.Mutex
	var ingested, unchanged, failed int

	for _, item := range items {
		item := item
		g.Go(func() error {
			raw, err := readItem(ctx, fetcher, item)
			if err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
				fmt.Fprintf(os.Stderr, "skip %s: %v\n", item.source, err)
				bar.Add(1)
				return nil
			}

			receipt := ingester.Ingest(ctx, usecase.IngestRequest{
				UserID:  userID,
				Kind:    item.kind,
				Source:  item.source,
				RawText: raw,
			})
			mu.Lock()
			switch {
			case receipt.Err != nil:
				failed++
				fmt.Fprintf(os.Stderr, "skip %s: %v\n", item.source, receipt.Err)
			case receipt.NoOp:
				unchanged++
			default:
				ingested++
			}
			mu.Unlock()
			bar.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	bar.Finish()

	fmt.Printf("Ingested %d, unchanged %d, failed %d (user %s)\n", ingested, unchanged, failed, userID)
	return nil
}

// collectItems expands path arguments into ingestible files. Directories
// are walked recursively with the configured include/exclude globs;
// explicit file arguments bypass the filters.
func collectItems(paths []string) ([]ingestItem, error) {
	var items []ingestItem
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("invalid path %s: %w", p, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("path does not exist: %w", err)
		}
		if !info.IsDir() {
			items = append(items, ingestItem{kind: domain.SourceFile, source: abs})
			continue
		}

		err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			rel, rerr := filepath.Rel(abs, path)
			if rerr != nil {
				return rerr
			}
			rel = filepath.ToSlash(rel)
			if d.IsDir() {
				if rel != "." && matchesAny(cfg.Ingest.Excludes, rel) {
					return filepath.SkipDir
				}
				return nil
			}
			if matchesAny(cfg.Ingest.Excludes, rel) {
				return nil
			}
			if !matchesAny(cfg.Ingest.Includes, rel) {
				return nil
			}
			items = append(items, ingestItem{kind: domain.SourceFile, source: path})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return items, nil
}

func matchesAny(patterns []string, rel string) bool {
	for _, pat := range patterns {
		if ok, err := doublestar.Match(pat, rel); err == nil && ok {
			return true
		}
	}
	return false
}

func readItem(ctx context.Context, fetcher *fetch.WebFetcher, item ingestItem) (string, error) {
	if item.kind == domain.SourceURL {
		return fetcher.Fetch(ctx, item.source)
	}
	data, err := os.ReadFile(item.source)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
