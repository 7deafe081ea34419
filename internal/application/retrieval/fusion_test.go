package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"novel-rag-api/internal/domain/entity"
)

func hit(id string, score float64) entity.SearchResult {
	return entity.SearchResult{ChunkID: id, Score: score, Content: "content-" + id}
}

func TestFuseRRFBothListsOutrankSingleList(t *testing.T) {
	vector := []entity.SearchResult{hit("a", 0.9), hit("b", 0.8), hit("c", 0.7)}
	lexical := []entity.SearchResult{hit("b", 5.0), hit("d", 4.0)}

	fused := fuseRRF(vector, lexical, 60)

	require.Len(t, fused, 4)
	// b 同时命中两路，必须排第一
	assert.Equal(t, "b", fused[0].ChunkID)
	expected := 1.0/62.0 + 1.0/61.0
	assert.InDelta(t, expected, fused[0].Score, 1e-12)
}

func TestFuseRRFScoreIgnoresRawScores(t *testing.T) {
	// 融合分只看名次，原始分数量纲不同也不影响
	vector := []entity.SearchResult{hit("a", 0.0001)}
	lexical := []entity.SearchResult{hit("z", 9999)}

	fused := fuseRRF(vector, lexical, 60)

	require.Len(t, fused, 2)
	assert.InDelta(t, fused[0].Score, fused[1].Score, 1e-12)
	// 同分按 chunk_id 升序
	assert.Equal(t, "a", fused[0].ChunkID)
	assert.Equal(t, "z", fused[1].ChunkID)
}

func TestFuseRRFEmptyLists(t *testing.T) {
	assert.Empty(t, fuseRRF(nil, nil, 60))

	lexicalOnly := fuseRRF(nil, []entity.SearchResult{hit("a", 1), hit("b", 0.5)}, 60)
	require.Len(t, lexicalOnly, 2)
	assert.Equal(t, "a", lexicalOnly[0].ChunkID)
}

func TestFuseRRFRankMonotonic(t *testing.T) {
	vector := []entity.SearchResult{hit("a", 3), hit("b", 2), hit("c", 1)}

	fused := fuseRRF(vector, nil, 60)

	require.Len(t, fused, 3)
	for i := 1; i < len(fused); i++ {
		assert.Greater(t, fused[i-1].Score, fused[i].Score)
	}
}
