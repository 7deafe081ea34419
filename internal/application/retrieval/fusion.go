package retrieval

import (
	"sort"

	"novel-rag-api/internal/domain/entity"
)

// fuseRRF 用 Reciprocal Rank Fusion 合并两路检索结果。
// 每个切片的融合分为 sum(1/(k+rank+1))，rank 从 0 计；
// 同时命中两路的切片因此天然高于只命中一路的。
// 排序按融合分降序，分数相同时按 chunk_id 升序保证稳定。
func fuseRRF(vectorHits, lexicalHits []entity.SearchResult, k int) []entity.SearchResult {
	type fused struct {
		result entity.SearchResult
		score  float64
	}
	byID := make(map[string]*fused, len(vectorHits)+len(lexicalHits))

	accumulate := func(hits []entity.SearchResult) {
		for rank, hit := range hits {
			f, ok := byID[hit.ChunkID]
			if !ok {
				f = &fused{result: hit}
				byID[hit.ChunkID] = f
			}
			f.score += 1.0 / float64(k+rank+1)
		}
	}
	accumulate(vectorHits)
	accumulate(lexicalHits)

	out := make([]entity.SearchResult, 0, len(byID))
	for _, f := range byID {
		r := f.result
		r.Score = f.score
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	return out
}
