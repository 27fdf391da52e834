// Package fetch retrieves web pages for url-kind ingestion. Extraction of
// readable text happens downstream in the normalizer.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxBodyBytes caps how much of a page is read. Pages past this size are
// overwhelmingly machine-generated noise.
const maxBodyBytes = 8 << 20

// WebFetcher downloads pages over HTTP.
type WebFetcher struct {
	client *http.Client
}

func New(timeout time.Duration) *WebFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WebFetcher{
		client: &http.Client{Timeout: timeout},
	}
}

// Fetch returns the raw page body of url.
func (f *WebFetcher) Fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "kbase/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", url, err)
	}
	return string(body), nil
}
