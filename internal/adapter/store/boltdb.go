// Package store persists documents, chunks and lexical postings in bbolt,
// partitioned per user space.
package store

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"kbase/internal/domain"
	"kbase/internal/port"
)

var _ port.MetadataStore = (*BoltStore)(nil)

var (
	bucketUsers = []byte("users")

	bucketDocs      = []byte("docs")
	bucketChunks    = []byte("chunks")
	bucketBlobs     = []byte("blobs")
	bucketDocChunks = []byte("doc_chunks")
	bucketPostings  = []byte("postings")
	bucketVectors   = []byte("vectors")
)

// postingSep joins term and chunk id in a posting key. Terms come from the
// analyzer, which never emits control bytes.
const postingSep = '\x00'

// BoltStore is the metadata store. All per-user data lives in nested
// buckets under users/<uid>, so one transaction can swap a document's
// chunks atomically and cross-user reads are structurally impossible.
type BoltStore struct {
	db *bbolt.DB

	replMu    sync.Mutex
	replacing map[string]struct{}
}

// Open opens or creates the store at path.
func Open(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketUsers)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{
		db:        db,
		replacing: make(map[string]struct{}),
	}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// DB exposes the bbolt handle for tests.
func (s *BoltStore) DB() *bbolt.DB {
	return s.db
}

type docMeta struct {
	Kind        string `json:"kind"`
	Source      string `json:"source"`
	ContentHash string `json:"content_hash"`
	IngestedAt  int64  `json:"ingested_at"`
	ChunkCount  int    `json:"chunk_count"`
}

type chunkMeta struct {
	DocID   string   `json:"doc_id"`
	Ordinal int      `json:"ordinal"`
	Start   int      `json:"start"`
	End     int      `json:"end"`
	Tokens  []string `json:"tokens"`
}

// AcquireReplace claims the per-document replace guard. The second of two
// concurrent claimants observes domain.ErrConflict and must retry; there
// is no last-writer-wins path.
func (s *BoltStore) AcquireReplace(user, docID string) error {
	key := user + "/" + docID
	s.replMu.Lock()
	defer s.replMu.Unlock()
	if _, held := s.replacing[key]; held {
		return fmt.Errorf("%w: document %s", domain.ErrConflict, docID)
	}
	s.replacing[key] = struct{}{}
	return nil
}

// ReleaseReplace releases the guard claimed by AcquireReplace.
func (s *BoltStore) ReleaseReplace(user, docID string) {
	key := user + "/" + docID
	s.replMu.Lock()
	delete(s.replacing, key)
	s.replMu.Unlock()
}

// ReplaceDocument swaps doc and its chunks in one transaction: a reader
// sees the fully-old or fully-new chunk set, never a mix.
func (s *BoltStore) ReplaceDocument(user string, doc domain.Document, chunks []domain.Chunk) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		ub, err := userBucketCreate(tx, user)
		if err != nil {
			return err
		}

		if err := deleteDocLocked(ub, doc.ID); err != nil {
			return err
		}

		meta := docMeta{
			Kind:        string(doc.Kind),
			Source:      doc.Source,
			ContentHash: doc.ContentHash,
			IngestedAt:  doc.IngestedAt.Unix(),
			ChunkCount:  len(chunks),
		}
		data, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		if err := ub.Bucket(bucketDocs).Put([]byte(doc.ID), data); err != nil {
			return err
		}

		chunkIDs := make([]string, 0, len(chunks))
		for _, c := range chunks {
			if err := putChunkLocked(ub, c); err != nil {
				return err
			}
			chunkIDs = append(chunkIDs, c.ID)
		}
		idsData, err := json.Marshal(chunkIDs)
		if err != nil {
			return err
		}
		return ub.Bucket(bucketDocChunks).Put([]byte(doc.ID), idsData)
	})
}

// GetDocument reads one document. Unknown ids yield domain.ErrNotFound.
func (s *BoltStore) GetDocument(user, docID string) (domain.Document, error) {
	var doc domain.Document
	err := s.db.View(func(tx *bbolt.Tx) error {
		ub := userBucket(tx, user)
		if ub == nil {
			return fmt.Errorf("%w: document %s", domain.ErrNotFound, docID)
		}
		data := ub.Bucket(bucketDocs).Get([]byte(docID))
		if data == nil {
			return fmt.Errorf("%w: document %s", domain.ErrNotFound, docID)
		}
		d, err := decodeDoc(user, docID, data)
		if err != nil {
			return err
		}
		doc = d
		return nil
	})
	return doc, err
}

// ListDocuments lists a user's documents. An unknown user yields an empty
// list: an empty user space is an expected state, not an error.
func (s *BoltStore) ListDocuments(user string) ([]domain.Document, error) {
	var docs []domain.Document
	err := s.db.View(func(tx *bbolt.Tx) error {
		ub := userBucket(tx, user)
		if ub == nil {
			return nil
		}
		return ub.Bucket(bucketDocs).ForEach(func(k, v []byte) error {
			d, err := decodeDoc(user, string(k), v)
			if err != nil {
				return err
			}
			docs = append(docs, d)
			return nil
		})
	})
	return docs, err
}

// DeleteDocument removes the document, its chunks and their postings.
func (s *BoltStore) DeleteDocument(user, docID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		ub := userBucket(tx, user)
		if ub == nil || ub.Bucket(bucketDocs).Get([]byte(docID)) == nil {
			return fmt.Errorf("%w: document %s", domain.ErrNotFound, docID)
		}
		if err := deleteDocLocked(ub, docID); err != nil {
			return err
		}
		return ub.Bucket(bucketDocs).Delete([]byte(docID))
	})
}

// GetChunk reads one chunk with its text.
func (s *BoltStore) GetChunk(user, chunkID string) (domain.Chunk, error) {
	var chunk domain.Chunk
	err := s.db.View(func(tx *bbolt.Tx) error {
		ub := userBucket(tx, user)
		if ub == nil {
			return fmt.Errorf("%w: chunk %s", domain.ErrNotFound, chunkID)
		}
		c, err := readChunk(ub, chunkID)
		if err != nil {
			return err
		}
		chunk = c
		return nil
	})
	return chunk, err
}

// GetChunksByDoc reads a document's chunks in ordinal order.
func (s *BoltStore) GetChunksByDoc(user, docID string) ([]domain.Chunk, error) {
	var chunks []domain.Chunk
	err := s.db.View(func(tx *bbolt.Tx) error {
		ub := userBucket(tx, user)
		if ub == nil {
			return nil
		}
		data := ub.Bucket(bucketDocChunks).Get([]byte(docID))
		if data == nil {
			return nil
		}
		var ids []string
		if err := json.Unmarshal(data, &ids); err != nil {
			return err
		}
		for _, id := range ids {
			c, err := readChunk(ub, id)
			if err != nil {
				continue
			}
			chunks = append(chunks, c)
		}
		return nil
	})
	return chunks, err
}

// GetPostings returns the postings list of term within user's space.
func (s *BoltStore) GetPostings(user, term string) ([]domain.Posting, error) {
	var postings []domain.Posting
	err := s.db.View(func(tx *bbolt.Tx) error {
		ub := userBucket(tx, user)
		if ub == nil {
			return nil
		}
		prefix := append([]byte(term), postingSep)
		c := ub.Bucket(bucketPostings).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			tf, _ := binary.Uvarint(v)
			postings = append(postings, domain.Posting{
				ChunkID: string(k[len(prefix):]),
				TF:      int(tf),
			})
		}
		return nil
	})
	return postings, err
}

// GetStats derives corpus statistics for BM25 scoring.
func (s *BoltStore) GetStats(user string) (domain.Stats, error) {
	var stats domain.Stats
	err := s.db.View(func(tx *bbolt.Tx) error {
		ub := userBucket(tx, user)
		if ub == nil {
			return nil
		}
		totalLen := 0
		if err := ub.Bucket(bucketChunks).ForEach(func(_, v []byte) error {
			var meta chunkMeta
			if err := json.Unmarshal(v, &meta); err != nil {
				return nil
			}
			stats.TotalChunks++
			totalLen += len(meta.Tokens)
			return nil
		}); err != nil {
			return err
		}
		if err := ub.Bucket(bucketDocs).ForEach(func(_, _ []byte) error {
			stats.TotalDocs++
			return nil
		}); err != nil {
			return err
		}
		if stats.TotalChunks > 0 {
			stats.AvgChunkLen = float64(totalLen) / float64(stats.TotalChunks)
		}
		return nil
	})
	return stats, err
}

// ForEachVector streams every stored chunk embedding in the user's space.
func (s *BoltStore) ForEachVector(user string, fn func(ref domain.ChunkRef, vector []float32) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		ub := userBucket(tx, user)
		if ub == nil {
			return nil
		}
		cb := ub.Bucket(bucketChunks)
		return ub.Bucket(bucketVectors).ForEach(func(k, v []byte) error {
			data := cb.Get(k)
			if data == nil {
				return nil
			}
			var meta chunkMeta
			if err := json.Unmarshal(data, &meta); err != nil {
				return err
			}
			return fn(domain.ChunkRef{DocID: meta.DocID, ChunkID: string(k)}, decodeVector(v))
		})
	})
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(data []byte) []float32 {
	v := make([]float32, len(data)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return v
}

func decodeDoc(user, docID string, data []byte) (domain.Document, error) {
	var meta docMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return domain.Document{}, err
	}
	return domain.Document{
		ID:          docID,
		UserID:      user,
		Kind:        domain.SourceKind(meta.Kind),
		Source:      meta.Source,
		ContentHash: meta.ContentHash,
		IngestedAt:  time.Unix(meta.IngestedAt, 0),
		ChunkCount:  meta.ChunkCount,
	}, nil
}

func readChunk(ub *bbolt.Bucket, chunkID string) (domain.Chunk, error) {
	data := ub.Bucket(bucketChunks).Get([]byte(chunkID))
	if data == nil {
		return domain.Chunk{}, fmt.Errorf("%w: chunk %s", domain.ErrNotFound, chunkID)
	}
	var meta chunkMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return domain.Chunk{}, err
	}
	text := ub.Bucket(bucketBlobs).Get([]byte(chunkID))
	return domain.Chunk{
		ID:      chunkID,
		DocID:   meta.DocID,
		Ordinal: meta.Ordinal,
		Start:   meta.Start,
		End:     meta.End,
		Text:    string(text),
		Tokens:  meta.Tokens,
	}, nil
}

func putChunkLocked(ub *bbolt.Bucket, c domain.Chunk) error {
	meta := chunkMeta{
		DocID:   c.DocID,
		Ordinal: c.Ordinal,
		Start:   c.Start,
		End:     c.End,
		Tokens:  c.Tokens,
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	if err := ub.Bucket(bucketChunks).Put([]byte(c.ID), data); err != nil {
		return err
	}
	if err := ub.Bucket(bucketBlobs).Put([]byte(c.ID), []byte(c.Text)); err != nil {
		return err
	}
	if len(c.Vector) > 0 {
		if err := ub.Bucket(bucketVectors).Put([]byte(c.ID), encodeVector(c.Vector)); err != nil {
			return err
		}
	}

	pb := ub.Bucket(bucketPostings)
	tf := make(map[string]int)
	for _, tok := range c.Tokens {
		tf[tok]++
	}
	for term, count := range tf {
		key := append(append([]byte(term), postingSep), []byte(c.ID)...)
		val := make([]byte, binary.MaxVarintLen64)
		n := binary.PutUvarint(val, uint64(count))
		if err := pb.Put(key, val[:n]); err != nil {
			return err
		}
	}
	return nil
}

// deleteDocLocked removes docID's chunks, blobs and postings. The doc
// record itself is left to the caller, which either deletes or overwrites
// it.
func deleteDocLocked(ub *bbolt.Bucket, docID string) error {
	data := ub.Bucket(bucketDocChunks).Get([]byte(docID))
	if data == nil {
		return nil
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}

	cb := ub.Bucket(bucketChunks)
	bb := ub.Bucket(bucketBlobs)
	pb := ub.Bucket(bucketPostings)
	for _, id := range ids {
		if data := cb.Get([]byte(id)); data != nil {
			var meta chunkMeta
			if err := json.Unmarshal(data, &meta); err == nil {
				seen := make(map[string]struct{}, len(meta.Tokens))
				for _, tok := range meta.Tokens {
					if _, ok := seen[tok]; ok {
						continue
					}
					seen[tok] = struct{}{}
					key := append(append([]byte(tok), postingSep), []byte(id)...)
					if err := pb.Delete(key); err != nil {
						return err
					}
				}
			}
		}
		if err := cb.Delete([]byte(id)); err != nil {
			return err
		}
		if err := bb.Delete([]byte(id)); err != nil {
			return err
		}
		if err := ub.Bucket(bucketVectors).Delete([]byte(id)); err != nil {
			return err
		}
	}
	return ub.Bucket(bucketDocChunks).Delete([]byte(docID))
}

func userBucket(tx *bbolt.Tx, user string) *bbolt.Bucket {
	return tx.Bucket(bucketUsers).Bucket([]byte(user))
}

func userBucketCreate(tx *bbolt.Tx, user string) (*bbolt.Bucket, error) {
	ub, err := tx.Bucket(bucketUsers).CreateBucketIfNotExists([]byte(user))
	if err != nil {
		return nil, err
	}
	for _, b := range [][]byte{bucketDocs, bucketChunks, bucketBlobs, bucketDocChunks, bucketPostings, bucketVectors} {
		if _, err := ub.CreateBucketIfNotExists(b); err != nil {
			return nil, err
		}
	}
	return ub, nil
}
