package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"novel-rag-api/internal/config"
	"novel-rag-api/internal/domain/entity"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := &config.SQLiteConfig{
		Path:        filepath.Join(t.TempDir(), "index.db"),
		BusyTimeout: time.Second,
	}
	store, err := NewStore(cfg)
	require.NoError(t, err)
	return store
}

func sceneChunk(id string, chapter, sceneIndex int, content string, embedding []float32) *entity.Chunk {
	return &entity.Chunk{
		ChunkID:       id,
		Chapter:       chapter,
		SceneIndex:    sceneIndex,
		Content:       content,
		Embedding:     embedding,
		ChunkType:     entity.ChunkTypeScene,
		ParentChunkID: entity.SummaryChunkID(chapter),
	}
}

func TestUpsertChunkAndVectorSearch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertChunk(ctx, sceneChunk("ch0001_s0", 1, 0, "萧炎在青山镇修炼", []float32{1, 0, 0})))
	require.NoError(t, store.UpsertChunk(ctx, sceneChunk("ch0001_s1", 1, 1, "药老现身传授炼药术", []float32{0, 1, 0})))
	require.NoError(t, store.UpsertChunk(ctx, sceneChunk("ch0002_s0", 2, 0, "纳兰嫣然上门退婚", []float32{0.9, 0.1, 0})))

	hits, err := store.VectorSearch(ctx, []float32{1, 0, 0}, 2, "")

	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "ch0001_s0", hits[0].ChunkID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.Equal(t, "ch0002_s0", hits[1].ChunkID)
	assert.Equal(t, entity.SourceVector, hits[0].Source)
	assert.Equal(t, "ch0001_summary", hits[0].ParentChunkID)
}

func TestUpsertChunkReplacesExisting(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertChunk(ctx, sceneChunk("ch0001_s0", 1, 0, "旧版本内容关于斗气", []float32{1, 0})))
	require.NoError(t, store.UpsertChunk(ctx, sceneChunk("ch0001_s0", 1, 0, "新版本内容关于异火", []float32{0, 1})))

	count, err := store.VectorCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// 旧词项的倒排随覆盖一起清除
	oldHits, err := store.BM25Search(ctx, "斗气", 10, "")
	require.NoError(t, err)
	assert.Empty(t, oldHits)

	newHits, err := store.BM25Search(ctx, "异火", 10, "")
	require.NoError(t, err)
	require.Len(t, newHits, 1)
	assert.Equal(t, "新版本内容关于异火", newHits[0].Content)
}

func TestVectorSearchSkipsDegradedAndMalformedRows(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertChunk(ctx, sceneChunk("ch0001_s0", 1, 0, "正常切片", []float32{1, 0})))
	// 降级切片：无向量
	require.NoError(t, store.UpsertChunk(ctx, sceneChunk("ch0001_s1", 1, 1, "嵌入失败的切片", nil)))
	// 直接写入损坏的向量 blob 模拟坏行
	require.NoError(t, store.UpsertChunk(ctx, sceneChunk("ch0001_s2", 1, 2, "损坏切片", []float32{1, 1})))
	require.NoError(t, store.withDB(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			"UPDATE vectors SET embedding = ? WHERE chunk_id = ?", []byte{1, 2, 3}, "ch0001_s2")
		return err
	}))

	hits, err := store.VectorSearch(ctx, []float32{1, 0}, 10, "")

	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "ch0001_s0", hits[0].ChunkID)

	// 降级切片仍可被关键词检索命中
	lexical, err := store.BM25Search(ctx, "嵌入失败", 10, "")
	require.NoError(t, err)
	require.Len(t, lexical, 1)
	assert.Equal(t, "ch0001_s1", lexical[0].ChunkID)
}

func TestVectorSearchZeroVectorScoresZero(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertChunk(ctx, sceneChunk("ch0001_s0", 1, 0, "零向量切片", []float32{0, 0})))

	hits, err := store.VectorSearch(ctx, []float32{1, 0}, 10, "")

	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Zero(t, hits[0].Score)
}

func TestVectorSearchSubset(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertChunk(ctx, sceneChunk("ch0001_s0", 1, 0, "甲", []float32{1, 0})))
	require.NoError(t, store.UpsertChunk(ctx, sceneChunk("ch0001_s1", 1, 1, "乙", []float32{0.9, 0.1})))
	require.NoError(t, store.UpsertChunk(ctx, sceneChunk("ch0002_s0", 2, 0, "丙", []float32{0.8, 0.2})))

	hits, err := store.VectorSearchSubset(ctx, []float32{1, 0}, []string{"ch0001_s1", "ch0002_s0"}, 10, "")

	require.NoError(t, err)
	require.Len(t, hits, 2)
	// 子集外的最优切片不出现
	for _, h := range hits {
		assert.NotEqual(t, "ch0001_s0", h.ChunkID)
	}
	assert.Equal(t, "ch0001_s1", hits[0].ChunkID)
}

func TestVectorSearchChunkTypeFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertChunk(ctx, sceneChunk("ch0001_s0", 1, 0, "场景", []float32{1, 0})))
	require.NoError(t, store.UpsertChunk(ctx, &entity.Chunk{
		ChunkID:   "ch0001_summary",
		Chapter:   1,
		Content:   "摘要",
		Embedding: []float32{1, 0},
		ChunkType: entity.ChunkTypeSummary,
	}))

	hits, err := store.VectorSearch(ctx, []float32{1, 0}, 10, entity.ChunkTypeSummary)

	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "ch0001_summary", hits[0].ChunkID)
}

func TestRecentChunkIDsOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertChunk(ctx, sceneChunk("ch0001_s0", 1, 0, "一", nil)))
	require.NoError(t, store.UpsertChunk(ctx, sceneChunk("ch0002_s0", 2, 0, "二", nil)))
	require.NoError(t, store.UpsertChunk(ctx, sceneChunk("ch0002_s1", 2, 1, "三", nil)))

	ids, err := store.RecentChunkIDs(ctx, 2)

	require.NoError(t, err)
	assert.Equal(t, []string{"ch0002_s1", "ch0002_s0"}, ids)
}

func TestBM25SearchRanksTermPresence(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertChunk(ctx, sceneChunk("ch0001_s0", 1, 0, "萧炎在青山镇苦修斗气", nil)))
	require.NoError(t, store.UpsertChunk(ctx, sceneChunk("ch0001_s1", 1, 1, "药老现身指点萧炎炼药", nil)))
	require.NoError(t, store.UpsertChunk(ctx, sceneChunk("ch0002_s0", 2, 0, "加玛帝国的拍卖会", nil)))

	hits, err := store.BM25Search(ctx, "萧炎 药老", 10, "")

	require.NoError(t, err)
	require.Len(t, hits, 2)
	// 同时包含两个查询词的切片排第一
	assert.Equal(t, "ch0001_s1", hits[0].ChunkID)
	assert.Equal(t, entity.SourceBM25, hits[0].Source)
	for _, h := range hits {
		assert.Greater(t, h.Score, 0.0)
	}
}

func TestBM25SearchNoMatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertChunk(ctx, sceneChunk("ch0001_s0", 1, 0, "青山镇的清晨", nil)))

	hits, err := store.BM25Search(ctx, "魂殿", 10, "")
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = store.BM25Search(ctx, "。。。", 10, "")
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestFetchChunksDegradedMetadata(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertChunk(ctx, sceneChunk("ch0001_s0", 1, 0, "降级切片", nil)))

	chunks, err := store.FetchChunks(ctx, []string{"ch0001_s0", "missing"})

	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "降级切片", chunks[0].Content)
	assert.Nil(t, chunks[0].Embedding)
	assert.Equal(t, "ch0001_summary", chunks[0].ParentChunkID)
}

func TestStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertChunk(ctx, sceneChunk("ch0003_s0", 3, 0, "萧炎", []float32{1})))
	require.NoError(t, store.UpsertChunk(ctx, sceneChunk("ch0007_s0", 7, 0, "药老", nil)))

	stats, err := store.Stats(ctx)

	require.NoError(t, err)
	assert.Equal(t, 2, stats.Vectors)
	assert.Equal(t, 7, stats.MaxChapter)
	assert.Equal(t, 4, stats.Terms)
}

func TestHealthCheck(t *testing.T) {
	store := newTestStore(t)
	assert.NoError(t, store.HealthCheck(context.Background()))
}
