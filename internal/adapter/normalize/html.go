package normalize

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// boilerplateSelectors are removed from scraped pages before text
// extraction.
var boilerplateSelectors = []string{
	"script", "style", "noscript", "template",
	"nav", "header", "footer", "aside", "iframe", "form",
}

// extractHTMLText reduces an HTML page to its visible text, block elements
// separated by newlines.
func extractHTMLText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	for _, sel := range boilerplateSelectors {
		doc.Find(sel).Remove()
	}

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}

	var b strings.Builder
	root.Find("h1, h2, h3, h4, h5, h6, p, li, td, th, pre, blockquote").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text != "" {
			b.WriteString(text)
			b.WriteByte('\n')
		}
	})

	// Pages without block markup still carry text directly.
	if b.Len() == 0 {
		return strings.TrimSpace(root.Text()), nil
	}

	return b.String(), nil
}
