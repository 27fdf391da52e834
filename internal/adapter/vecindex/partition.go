package vecindex

import (
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"kbase/internal/adapter/quant"
	"kbase/internal/domain"
	"kbase/internal/port"
)

// row is one index entry. Rows are immutable once published under the
// write lock; a delete tombstones the slot and recycles it later, so an
// in-flight search never observes a torn vector.
type row struct {
	ref  domain.ChunkRef
	kind domain.SourceKind
	code quant.Code
	seq  uint64
	cent int // assigned IVF list, -1 when unassigned
	live bool
}

// partition holds one user space's entries.
type partition struct {
	mu sync.RWMutex

	rows    []row
	free    []uint32
	byRef   map[domain.ChunkRef]uint32
	docRows map[string]*roaring.Bitmap

	seq        uint64
	liveCount  int
	sinceTrain int
	trainAt    int

	ivf *ivfState
}

func newPartition(trainAt int) *partition {
	return &partition{
		byRef:   make(map[domain.ChunkRef]uint32),
		docRows: make(map[string]*roaring.Bitmap),
		trainAt: trainAt,
	}
}

func (p *partition) insertLocked(q quant.Quantizer, ref domain.ChunkRef, kind domain.SourceKind, code quant.Code) {
	if id, ok := p.byRef[ref]; ok {
		p.removeRowLocked(id)
	}

	var id uint32
	if n := len(p.free); n > 0 {
		id = p.free[n-1]
		p.free = p.free[:n-1]
	} else {
		id = uint32(len(p.rows))
		p.rows = append(p.rows, row{})
	}

	p.seq++
	cent := -1
	if p.ivf != nil {
		cent = p.ivf.nearestVec(q.Decode(code))
	}
	p.rows[id] = row{
		ref:  ref,
		kind: kind,
		code: code,
		seq:  p.seq,
		cent: cent,
		live: true,
	}
	p.byRef[ref] = id

	bm := p.docRows[ref.DocID]
	if bm == nil {
		bm = roaring.New()
		p.docRows[ref.DocID] = bm
	}
	bm.Add(id)

	p.liveCount++
	p.sinceTrain++
}

func (p *partition) deleteLocked(ref domain.ChunkRef) {
	if id, ok := p.byRef[ref]; ok {
		p.removeRowLocked(id)
	}
}

func (p *partition) deleteDocLocked(docID string) {
	bm := p.docRows[docID]
	if bm == nil {
		return
	}
	// Clone: removeRowLocked mutates the bitmap being iterated.
	for _, id := range bm.ToArray() {
		p.removeRowLocked(id)
	}
}

func (p *partition) removeRowLocked(id uint32) {
	r := &p.rows[id]
	if !r.live {
		return
	}
	delete(p.byRef, r.ref)
	if bm := p.docRows[r.ref.DocID]; bm != nil {
		bm.Remove(id)
		if bm.IsEmpty() {
			delete(p.docRows, r.ref.DocID)
		}
	}
	r.live = false
	r.code = quant.Code{}
	p.free = append(p.free, id)
	p.liveCount--
}

func (p *partition) searchLocked(q quant.Quantizer, query []float32, qcode quant.Code, k int, f domain.Filters, probe int) []port.IndexHit {
	if p.liveCount == 0 {
		return nil
	}

	// Filter pushdown: restrict candidate rows before scoring.
	var allowed *roaring.Bitmap
	if len(f.DocIDs) > 0 {
		allowed = roaring.New()
		for _, docID := range f.DocIDs {
			if bm := p.docRows[docID]; bm != nil {
				allowed.Or(bm)
			}
		}
		if allowed.IsEmpty() {
			return nil
		}
	}

	probed := p.ivf.probeSet(query, probe)

	type scored struct {
		id    uint32
		score float32
	}
	candidates := make([]scored, 0, k*4)

	score := func(id uint32) {
		r := &p.rows[id]
		if !r.live {
			return
		}
		if f.Kind != "" && r.kind != f.Kind {
			return
		}
		if probed != nil && r.cent >= 0 {
			if _, ok := probed[r.cent]; !ok {
				return
			}
		}
		candidates = append(candidates, scored{id: id, score: q.Score(qcode, r.code)})
	}

	if allowed != nil {
		it := allowed.Iterator()
		for it.HasNext() {
			score(it.Next())
		}
	} else {
		for id := range p.rows {
			score(uint32(id))
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		// Equal scores: most recently inserted wins.
		return p.rows[candidates[i].id].seq > p.rows[candidates[j].id].seq
	})

	if len(candidates) > k {
		candidates = candidates[:k]
	}

	hits := make([]port.IndexHit, len(candidates))
	for i, c := range candidates {
		hits[i] = port.IndexHit{
			Ref:   p.rows[c.id].ref,
			Score: float64(c.score),
		}
	}
	return hits
}
