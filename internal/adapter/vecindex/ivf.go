package vecindex

import (
	"math"
	"sort"

	"kbase/internal/adapter/quant"
)

const (
	minLists        = 4
	maxLists        = 256
	kmeansIter      = 4
	retrainGrowthPc = 50 // retrain after the partition grows by this percent
)

// ivfState is the coarse clustering of a partition: a flat set of centroid
// vectors. Rows carry their assigned list; a search probes only the lists
// nearest the query.
type ivfState struct {
	centroids [][]float32
}

// nearestVec returns the centroid index closest to v by dot product
// (vectors are unit length, so dot order equals cosine order).
func (s *ivfState) nearestVec(v []float32) int {
	best, bestDot := 0, float32(math.Inf(-1))
	for i, c := range s.centroids {
		if d := dot(v, c); d > bestDot {
			best, bestDot = i, d
		}
	}
	return best
}

// probeSet returns the set of list indices to inspect for query, or nil
// when every row should be scanned (untrained partition or exhaustive
// probe effort).
func (s *ivfState) probeSet(query []float32, probe int) map[int]struct{} {
	if s == nil || probe >= len(s.centroids) {
		return nil
	}

	type cd struct {
		idx int
		d   float32
	}
	ds := make([]cd, len(s.centroids))
	for i, c := range s.centroids {
		ds[i] = cd{idx: i, d: dot(query, c)}
	}
	sort.Slice(ds, func(i, j int) bool { return ds[i].d > ds[j].d })

	set := make(map[int]struct{}, probe)
	for _, c := range ds[:probe] {
		set[c.idx] = struct{}{}
	}
	return set
}

// maybeTrainLocked rebuilds the coarse clustering when the partition has
// grown enough since the last build. Caller holds the write lock.
func (p *partition) maybeTrainLocked(q quant.Quantizer) {
	if p.liveCount < p.trainAt {
		return
	}
	if p.ivf != nil && p.sinceTrain*100 < p.liveCount*retrainGrowthPc {
		return
	}

	vecs := make([][]float32, 0, p.liveCount)
	ids := make([]uint32, 0, p.liveCount)
	for id := range p.rows {
		if p.rows[id].live {
			vecs = append(vecs, q.Decode(p.rows[id].code))
			ids = append(ids, uint32(id))
		}
	}

	nlist := int(math.Sqrt(float64(len(vecs))))
	if nlist < minLists {
		nlist = minLists
	}
	if nlist > maxLists {
		nlist = maxLists
	}

	state := &ivfState{centroids: kmeans(vecs, nlist)}
	for i, id := range ids {
		p.rows[id].cent = state.nearestVec(vecs[i])
	}
	p.ivf = state
	p.sinceTrain = 0
}

// kmeans runs a few Lloyd iterations. Initial centroids are evenly spaced
// samples, which is deterministic and good enough for coarse lists.
func kmeans(vecs [][]float32, k int) [][]float32 {
	dim := len(vecs[0])
	centroids := make([][]float32, k)
	step := len(vecs) / k
	if step < 1 {
		step = 1
	}
	for i := 0; i < k; i++ {
		src := vecs[(i*step)%len(vecs)]
		c := make([]float32, dim)
		copy(c, src)
		centroids[i] = c
	}

	assign := make([]int, len(vecs))
	for iter := 0; iter < kmeansIter; iter++ {
		for i, v := range vecs {
			best, bestDot := 0, float32(math.Inf(-1))
			for ci, c := range centroids {
				if d := dot(v, c); d > bestDot {
					best, bestDot = ci, d
				}
			}
			assign[i] = best
		}

		sums := make([][]float32, k)
		counts := make([]int, k)
		for i := range sums {
			sums[i] = make([]float32, dim)
		}
		for i, v := range vecs {
			c := assign[i]
			counts[c]++
			for j, x := range v {
				sums[c][j] += x
			}
		}
		for ci := range centroids {
			if counts[ci] == 0 {
				continue // keep the old centroid for an empty list
			}
			inv := 1 / float32(counts[ci])
			for j := range sums[ci] {
				sums[ci][j] *= inv
			}
			quant.NormalizeL2(sums[ci])
			centroids[ci] = sums[ci]
		}
	}

	return centroids
}

func dot(a, b []float32) float32 {
	var d float32
	for i := range a {
		d += a[i] * b[i]
	}
	return d
}
