package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"kbase/internal/domain"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testDoc(id, user string) domain.Document {
	return domain.Document{
		ID:          id,
		UserID:      user,
		Kind:        domain.SourceFile,
		Source:      "/notes/" + id + ".md",
		ContentHash: "hash-" + id,
		IngestedAt:  time.Now(),
	}
}

func testChunks(docID string, texts ...string) []domain.Chunk {
	chunks := make([]domain.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = domain.Chunk{
			ID:      docID + "-c" + string(rune('0'+i)),
			DocID:   docID,
			Ordinal: i,
			Text:    text,
			Tokens:  []string{"tok" + string(rune('0'+i)), "shared"},
			Vector:  []float32{float32(i), 1, 2},
		}
	}
	return chunks
}

func TestReplaceAndGetDocument(t *testing.T) {
	s := newTestStore(t)

	doc := testDoc("d1", "alice")
	if err := s.ReplaceDocument("alice", doc, testChunks("d1", "alpha", "beta")); err != nil {
		t.Fatalf("replace failed: %v", err)
	}

	got, err := s.GetDocument("alice", "d1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Source != doc.Source {
		t.Errorf("expected source %s, got %s", doc.Source, got.Source)
	}
	if got.ContentHash != doc.ContentHash {
		t.Errorf("expected hash %s, got %s", doc.ContentHash, got.ContentHash)
	}
	if got.ChunkCount != 2 {
		t.Errorf("expected 2 chunks, got %d", got.ChunkCount)
	}
}

func TestGetDocument_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetDocument("alice", "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestReplaceDocument_SwapsChunkSet(t *testing.T) {
	s := newTestStore(t)

	doc := testDoc("d1", "alice")
	if err := s.ReplaceDocument("alice", doc, testChunks("d1", "old one", "old two", "old three")); err != nil {
		t.Fatal(err)
	}

	newChunks := []domain.Chunk{{
		ID:      "d1-new",
		DocID:   "d1",
		Ordinal: 0,
		Text:    "fresh",
		Tokens:  []string{"fresh"},
	}}
	doc.ChunkCount = 1
	if err := s.ReplaceDocument("alice", doc, newChunks); err != nil {
		t.Fatal(err)
	}

	chunks, err := s.GetChunksByDoc("alice", "d1")
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk after replace, got %d", len(chunks))
	}
	if chunks[0].ID != "d1-new" {
		t.Errorf("expected new chunk, got %s", chunks[0].ID)
	}

	// Old chunks are fully gone, including their blobs.
	if _, err := s.GetChunk("alice", "d1-c0"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected old chunk to be deleted, got %v", err)
	}

	// Old postings are gone too.
	postings, err := s.GetPostings("alice", "tok0")
	if err != nil {
		t.Fatal(err)
	}
	if len(postings) != 0 {
		t.Errorf("expected no postings for removed term, got %d", len(postings))
	}
}

func TestReplaceGuard_Conflict(t *testing.T) {
	s := newTestStore(t)

	if err := s.AcquireReplace("alice", "d1"); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	if err := s.AcquireReplace("alice", "d1"); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}

	// Other documents and other users are unaffected.
	if err := s.AcquireReplace("alice", "d2"); err != nil {
		t.Errorf("unexpected conflict on other doc: %v", err)
	}
	if err := s.AcquireReplace("bob", "d1"); err != nil {
		t.Errorf("unexpected conflict on other user: %v", err)
	}

	s.ReleaseReplace("alice", "d1")
	if err := s.AcquireReplace("alice", "d1"); err != nil {
		t.Errorf("acquire after release failed: %v", err)
	}
}

func TestDeleteDocument(t *testing.T) {
	s := newTestStore(t)

	if err := s.ReplaceDocument("alice", testDoc("d1", "alice"), testChunks("d1", "alpha")); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteDocument("alice", "d1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := s.GetDocument("alice", "d1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.DeleteDocument("alice", "d1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound on double delete, got %v", err)
	}
}

func TestListDocuments(t *testing.T) {
	s := newTestStore(t)

	docs, err := s.ListDocuments("nobody")
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 0 {
		t.Errorf("expected empty list for unknown user, got %d", len(docs))
	}

	for _, id := range []string{"d1", "d2"} {
		if err := s.ReplaceDocument("alice", testDoc(id, "alice"), testChunks(id, "text")); err != nil {
			t.Fatal(err)
		}
	}
	docs, err = s.ListDocuments("alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 {
		t.Errorf("expected 2 documents, got %d", len(docs))
	}
}

func TestCrossUserIsolation(t *testing.T) {
	s := newTestStore(t)

	if err := s.ReplaceDocument("alice", testDoc("d1", "alice"), testChunks("d1", "secret")); err != nil {
		t.Fatal(err)
	}

	if _, err := s.GetDocument("bob", "d1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected bob not to see alice's doc, got %v", err)
	}
	postings, err := s.GetPostings("bob", "shared")
	if err != nil {
		t.Fatal(err)
	}
	if len(postings) != 0 {
		t.Errorf("expected no cross-user postings, got %d", len(postings))
	}
}

func TestGetPostings(t *testing.T) {
	s := newTestStore(t)

	if err := s.ReplaceDocument("alice", testDoc("d1", "alice"), testChunks("d1", "a", "b")); err != nil {
		t.Fatal(err)
	}

	postings, err := s.GetPostings("alice", "shared")
	if err != nil {
		t.Fatal(err)
	}
	if len(postings) != 2 {
		t.Fatalf("expected 2 postings, got %d", len(postings))
	}
	for _, p := range postings {
		if p.TF != 1 {
			t.Errorf("expected TF=1, got %d", p.TF)
		}
	}

	postings, err = s.GetPostings("alice", "nosuchterm")
	if err != nil {
		t.Fatal(err)
	}
	if len(postings) != 0 {
		t.Errorf("expected no postings, got %d", len(postings))
	}
}

func TestGetStats(t *testing.T) {
	s := newTestStore(t)

	stats, err := s.GetStats("alice")
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalDocs != 0 || stats.TotalChunks != 0 {
		t.Errorf("expected empty stats, got %+v", stats)
	}

	if err := s.ReplaceDocument("alice", testDoc("d1", "alice"), testChunks("d1", "a", "b")); err != nil {
		t.Fatal(err)
	}
	stats, err = s.GetStats("alice")
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalDocs != 1 {
		t.Errorf("expected 1 doc, got %d", stats.TotalDocs)
	}
	if stats.TotalChunks != 2 {
		t.Errorf("expected 2 chunks, got %d", stats.TotalChunks)
	}
	if stats.AvgChunkLen != 2 {
		t.Errorf("expected avg chunk len 2, got %f", stats.AvgChunkLen)
	}
}

func TestForEachVector(t *testing.T) {
	s := newTestStore(t)

	if err := s.ReplaceDocument("alice", testDoc("d1", "alice"), testChunks("d1", "a", "b")); err != nil {
		t.Fatal(err)
	}

	seen := make(map[string][]float32)
	err := s.ForEachVector("alice", func(ref domain.ChunkRef, vector []float32) error {
		seen[ref.ChunkID] = vector
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(seen) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(seen))
	}
	v := seen["d1-c1"]
	if len(v) != 3 || v[0] != 1 || v[1] != 1 || v[2] != 2 {
		t.Errorf("vector round-trip mismatch: %v", v)
	}

	// Vectors are removed with their document.
	if err := s.DeleteDocument("alice", "d1"); err != nil {
		t.Fatal(err)
	}
	count := 0
	if err := s.ForEachVector("alice", func(domain.ChunkRef, []float32) error {
		count++
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("expected no vectors after delete, got %d", count)
	}
}

func TestChunkRoundTrip(t *testing.T) {
	s := newTestStore(t)

	chunks := []domain.Chunk{{
		ID:      "c1",
		DocID:   "d1",
		Ordinal: 0,
		Start:   10,
		End:     42,
		Text:    "the stored passage",
		Tokens:  []string{"stored", "passage"},
	}}
	if err := s.ReplaceDocument("alice", testDoc("d1", "alice"), chunks); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetChunk("alice", "c1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Text != "the stored passage" {
		t.Errorf("text mismatch: %q", got.Text)
	}
	if got.Start != 10 || got.End != 42 {
		t.Errorf("span mismatch: %d-%d", got.Start, got.End)
	}
	if got.DocID != "d1" || got.Ordinal != 0 {
		t.Errorf("meta mismatch: %+v", got)
	}
}
