package chunk

import (
	"errors"
	"strings"
	"testing"

	"kbase/internal/domain"
)

func mustSplitter(t *testing.T, maxSize, overlap, window int) *Splitter {
	t.Helper()
	s, err := NewSplitter(maxSize, overlap, window)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return s
}

func TestNewSplitter_Validation(t *testing.T) {
	if _, err := NewSplitter(0, 0, 10); !errors.Is(err, domain.ErrChunking) {
		t.Errorf("expected ErrChunking for zero max size, got %v", err)
	}
	if _, err := NewSplitter(100, 100, 10); !errors.Is(err, domain.ErrChunking) {
		t.Errorf("expected ErrChunking for overlap == max size, got %v", err)
	}
	if _, err := NewSplitter(100, 150, 10); !errors.Is(err, domain.ErrChunking) {
		t.Errorf("expected ErrChunking for overlap > max size, got %v", err)
	}
	if _, err := NewSplitter(100, 99, 10); err != nil {
		t.Errorf("expected overlap just below max size to be valid, got %v", err)
	}
}

func TestChunk_EmptyText(t *testing.T) {
	s := mustSplitter(t, 100, 10, 20)
	chunks, err := s.Chunk("doc", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 0 {
		t.Errorf("expected no chunks, got %d", len(chunks))
	}
}

func TestChunk_SingleChunkWhenTextFits(t *testing.T) {
	s := mustSplitter(t, 100, 10, 20)
	text := "Short text that fits."
	chunks, err := s.Chunk("doc", text)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Text != text {
		t.Errorf("expected full text, got %q", chunks[0].Text)
	}
	if chunks[0].Start != 0 || chunks[0].End != len([]rune(text)) {
		t.Errorf("span mismatch: %d-%d", chunks[0].Start, chunks[0].End)
	}
}

func TestChunk_BreaksAtSentenceBoundary(t *testing.T) {
	s := mustSplitter(t, 20, 5, 10)
	chunks, err := s.Chunk("doc", "The sky is blue. Grass is green.")
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %+v", len(chunks), chunks)
	}
	if chunks[0].Text != "The sky is blue. " {
		t.Errorf("first chunk should end at the sentence boundary, got %q", chunks[0].Text)
	}
	if !strings.HasSuffix(chunks[1].Text, "Grass is green.") {
		t.Errorf("second chunk should carry the rest, got %q", chunks[1].Text)
	}
}

func TestChunk_BreaksAtLineBoundary(t *testing.T) {
	s := mustSplitter(t, 20, 0, 10)
	chunks, err := s.Chunk("doc", "first line of text\nsecond line of text here")
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected at least 2 chunks, got %d", len(chunks))
	}
	if !strings.HasSuffix(chunks[0].Text, "\n") {
		t.Errorf("first chunk should end at the line break, got %q", chunks[0].Text)
	}
}

func TestChunk_HardSplitWithoutBoundary(t *testing.T) {
	// No whitespace at all: the splitter must still make progress at the
	// hard limit.
	s := mustSplitter(t, 10, 2, 5)
	text := strings.Repeat("x", 35)
	chunks, err := s.Chunk("doc", text)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) == 0 {
		t.Fatal("expected chunks")
	}
	for _, c := range chunks {
		if n := len([]rune(c.Text)); n > 10 {
			t.Errorf("chunk exceeds max size: %d runes", n)
		}
	}
}

func TestChunk_CoversAllTextInOrder(t *testing.T) {
	s := mustSplitter(t, 50, 10, 20)
	text := strings.Repeat("Sentences vary in length. Some are short. Others run on for quite a while before ending. ", 5)
	runes := []rune(text)

	chunks, err := s.Chunk("doc", text)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) == 0 {
		t.Fatal("expected chunks")
	}

	if chunks[0].Start != 0 {
		t.Errorf("first chunk must start at 0, got %d", chunks[0].Start)
	}
	if chunks[len(chunks)-1].End != len(runes) {
		t.Errorf("last chunk must end at %d, got %d", len(runes), chunks[len(chunks)-1].End)
	}
	for i, c := range chunks {
		if n := c.End - c.Start; n > 50 || n <= 0 {
			t.Errorf("chunk %d has invalid size %d", i, n)
		}
		if c.Text != string(runes[c.Start:c.End]) {
			t.Errorf("chunk %d text does not match its span", i)
		}
		if c.Ordinal != i {
			t.Errorf("chunk %d has ordinal %d", i, c.Ordinal)
		}
		if i > 0 {
			prev := chunks[i-1]
			if c.Start > prev.End {
				t.Errorf("gap between chunk %d and %d: %d > %d", i-1, i, c.Start, prev.End)
			}
			if c.Start <= prev.Start {
				t.Errorf("chunk %d does not advance: %d <= %d", i, c.Start, prev.Start)
			}
		}
	}
}

func TestChunk_OverlapBounded(t *testing.T) {
	s := mustSplitter(t, 30, 10, 0)
	text := strings.Repeat("abcdefghij", 12)
	chunks, err := s.Chunk("doc", text)
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(chunks); i++ {
		overlap := chunks[i-1].End - chunks[i].Start
		if overlap < 0 || overlap > 10 {
			t.Errorf("overlap between chunk %d and %d is %d, want 0..10", i-1, i, overlap)
		}
	}
}

func TestChunk_DeterministicIDs(t *testing.T) {
	s := mustSplitter(t, 40, 10, 15)
	text := "One sentence here. Another sentence there. And a third one to push past the limit."

	a, err := s.Chunk("doc", text)
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.Chunk("doc", text)
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != len(b) {
		t.Fatalf("non-deterministic chunk count: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			t.Errorf("chunk %d id differs across runs", i)
		}
	}

	// A different document yields different ids for the same text.
	c, err := s.Chunk("other", text)
	if err != nil {
		t.Fatal(err)
	}
	if a[0].ID == c[0].ID {
		t.Error("chunk ids should be scoped to the document")
	}
}

func TestSpans_Restartable(t *testing.T) {
	s := mustSplitter(t, 25, 5, 10)
	text := "Alpha beta gamma. Delta epsilon zeta. Eta theta iota kappa."

	var first, second []Span
	for span := range s.Spans(text) {
		first = append(first, span)
	}
	for span := range s.Spans(text) {
		second = append(second, span)
	}
	if len(first) != len(second) {
		t.Fatalf("span counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("span %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
}
