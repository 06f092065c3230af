package search

import "sort"

// RRFConst is the fixed rank constant in the reciprocal rank fusion
// formula 1/(k + rank + 1).
const RRFConst = 60

// Fuse merges dense and sparse rankings with reciprocal rank fusion. A
// result at 0-based rank r contributes weight/(RRFConst+r+1), dense results
// weighted by alpha and sparse by 1-alpha; a chunk in both lists sums both
// contributions. The fused score replaces the per-source scores. alpha=1 is
// pure dense, alpha=0 pure sparse.
func Fuse(dense, sparse []Result, alpha float64, topK int) []Result {
	type fused struct {
		result Result
		score  float64
		seen   int // arrival order, keeps merge deterministic on ties
	}

	byChunk := make(map[string]*fused, len(dense)+len(sparse))
	arrival := 0

	for rank, r := range dense {
		byChunk[r.ChunkID] = &fused{
			result: r,
			score:  alpha / float64(RRFConst+rank+1),
			seen:   arrival,
		}
		arrival++
	}
	for rank, r := range sparse {
		contribution := (1 - alpha) / float64(RRFConst+rank+1)
		if f, ok := byChunk[r.ChunkID]; ok {
			f.score += contribution
			continue
		}
		byChunk[r.ChunkID] = &fused{
			result: r,
			score:  contribution,
			seen:   arrival,
		}
		arrival++
	}

	merged := make([]*fused, 0, len(byChunk))
	for _, f := range byChunk {
		merged = append(merged, f)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].score != merged[j].score {
			return merged[i].score > merged[j].score
		}
		return merged[i].seen < merged[j].seen
	})

	if len(merged) > topK {
		merged = merged[:topK]
	}
	results := make([]Result, len(merged))
	for i, f := range merged {
		r := f.result
		r.Score = f.score
		results[i] = r
	}
	return results
}
