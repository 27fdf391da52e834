package usecase

import (
	"kbase/internal/domain"
	"kbase/internal/port"
)

// RebuildIndex reloads a user's stored chunk embeddings into the vector
// index, grouped per document so each document lands as one atomic
// replace. Meant for startup, before the index serves any search.
func RebuildIndex(store port.MetadataStore, index port.VectorIndex, user string) error {
	kinds := make(map[string]domain.SourceKind)
	docs, err := store.ListDocuments(user)
	if err != nil {
		return err
	}
	for _, d := range docs {
		kinds[d.ID] = d.Kind
	}

	byDoc := make(map[string][]port.IndexEntry)
	err = store.ForEachVector(user, func(ref domain.ChunkRef, vector []float32) error {
		byDoc[ref.DocID] = append(byDoc[ref.DocID], port.IndexEntry{Ref: ref, Vector: vector})
		return nil
	})
	if err != nil {
		return err
	}

	for docID, entries := range byDoc {
		kind, ok := kinds[docID]
		if !ok {
			continue
		}
		if err := index.ReplaceDocument(user, docID, kind, entries); err != nil {
			return err
		}
	}
	return nil
}
