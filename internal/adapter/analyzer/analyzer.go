// Package analyzer tokenizes text for lexical scoring: lowercasing,
// stopword removal and light suffix normalization.
package analyzer

import (
	"strings"
	"unicode"
)

// Analyzer splits text into scoring tokens.
type Analyzer struct {
	stopwords map[string]struct{}
	normalize bool
}

// New creates an Analyzer. When normalize is true, common plural and
// gerund suffixes are stripped so that "colors" matches "color".
func New(normalize bool) *Analyzer {
	return &Analyzer{
		stopwords: defaultStopwords(),
		normalize: normalize,
	}
}

// Tokens tokenizes text.
func (a *Analyzer) Tokens(text string) []string {
	words := splitWords(text)
	tokens := make([]string, 0, len(words))

	for _, word := range words {
		word = strings.ToLower(word)
		if len(word) < 2 {
			continue
		}
		if _, stop := a.stopwords[word]; stop {
			continue
		}
		if a.normalize {
			word = stripSuffix(word)
		}
		tokens = append(tokens, word)
	}

	return tokens
}

func splitWords(text string) []string {
	var words []string
	var current strings.Builder

	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			current.WriteRune(r)
		} else if current.Len() > 0 {
			words = append(words, current.String())
			current.Reset()
		}
	}
	if current.Len() > 0 {
		words = append(words, current.String())
	}

	return words
}

// stripSuffix removes a handful of high-frequency English suffixes. It is
// deliberately weaker than a full stemmer: false conflations hurt
// retrieval more than missed ones.
func stripSuffix(w string) string {
	switch {
	case len(w) > 4 && strings.HasSuffix(w, "ies"):
		return w[:len(w)-3] + "y"
	case len(w) > 4 && strings.HasSuffix(w, "ing"):
		return w[:len(w)-3]
	case len(w) > 3 && strings.HasSuffix(w, "es") && !strings.HasSuffix(w, "ses"):
		return w[:len(w)-2]
	case len(w) > 3 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss"):
		return w[:len(w)-1]
	}
	return w
}

func defaultStopwords() map[string]struct{} {
	stops := []string{
		"a", "an", "and", "are", "as", "at", "be", "by", "for",
		"from", "has", "he", "in", "is", "it", "its", "of", "on",
		"that", "the", "to", "was", "were", "will", "with", "this",
		"have", "had", "but", "not", "you", "your", "we", "our",
		"they", "their", "she", "her", "his", "if", "or", "so",
		"no", "can", "do", "does", "did", "been", "being", "would",
		"could", "should", "may", "might", "must", "shall", "which",
		"who", "whom", "what", "when", "where", "why", "how", "all",
		"each", "every", "both", "few", "more", "most", "other",
		"some", "such", "than", "too", "very", "just", "also",
	}
	m := make(map[string]struct{}, len(stops))
	for _, s := range stops {
		m[s] = struct{}{}
	}
	return m
}
