// Package normalize converts raw ingested content into clean UTF-8 text:
// Unicode NFC form, control characters stripped, whitespace collapsed,
// HTML boilerplate removed for scraped pages.
package normalize

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"kbase/internal/domain"
)

// TextNormalizer is a pure transform; it holds no state.
type TextNormalizer struct{}

func New() *TextNormalizer {
	return &TextNormalizer{}
}

// Normalize cleans raw content. For url sources the input is treated as an
// HTML page and reduced to its visible text first. Returns
// domain.ErrUnsupportedContent when nothing readable remains.
func (n *TextNormalizer) Normalize(raw string, kind domain.SourceKind) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("%w: empty input", domain.ErrUnsupportedContent)
	}

	text := raw
	if kind == domain.SourceURL {
		extracted, err := extractHTMLText(raw)
		if err != nil {
			return "", fmt.Errorf("%w: %v", domain.ErrUnsupportedContent, err)
		}
		text = extracted
	}

	text = norm.NFC.String(text)
	text = stripControl(text)
	text = collapseWhitespace(text)

	if !hasReadableContent(text) {
		return "", fmt.Errorf("%w: no readable text after cleaning", domain.ErrUnsupportedContent)
	}

	return text, nil
}

// stripControl removes control characters, keeping newline and tab which
// carry structure the chunker uses for boundary detection.
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) || r == unicode.ReplacementChar {
			return -1
		}
		return r
	}, s)
}

// collapseWhitespace squeezes runs of spaces and tabs into one space and
// runs of three or more newlines into a paragraph break.
func collapseWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	newlines := 0
	spaces := 0
	for _, r := range s {
		switch {
		case r == '\n':
			newlines++
			spaces = 0
		case r == ' ' || r == '\t':
			spaces++
		default:
			if newlines > 0 {
				if newlines >= 2 {
					b.WriteString("\n\n")
				} else {
					b.WriteByte('\n')
				}
				newlines = 0
			} else if spaces > 0 {
				b.WriteByte(' ')
			}
			spaces = 0
			b.WriteRune(r)
		}
	}

	return strings.TrimSpace(b.String())
}

func hasReadableContent(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
