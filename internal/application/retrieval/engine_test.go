package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"novel-rag-api/internal/domain/entity"
	"novel-rag-api/internal/infrastructure/rerank"
)

// stubStore 脚本化的存储桩
type stubStore struct {
	vectorCount int
	vectorHits  []entity.SearchResult
	lexicalHits []entity.SearchResult
	chunks      map[string]*entity.Chunk
	upserted    []*entity.Chunk

	subsetIDs   []string
	bm25TopK    int
	recentIDs   []string
	recentLimit int
}

func (s *stubStore) UpsertChunk(_ context.Context, chunk *entity.Chunk) error {
	s.upserted = append(s.upserted, chunk)
	return nil
}

func (s *stubStore) VectorCount(context.Context) (int, error) { return s.vectorCount, nil }

func (s *stubStore) RecentChunkIDs(_ context.Context, limit int) ([]string, error) {
	s.recentLimit = limit
	return s.recentIDs, nil
}

func (s *stubStore) VectorSearch(_ context.Context, _ []float32, topK int, _ entity.ChunkType) ([]entity.SearchResult, error) {
	return capHits(s.vectorHits, topK), nil
}

func (s *stubStore) VectorSearchSubset(_ context.Context, _ []float32, ids []string, topK int, _ entity.ChunkType) ([]entity.SearchResult, error) {
	s.subsetIDs = ids
	return capHits(s.vectorHits, topK), nil
}

func (s *stubStore) BM25Search(_ context.Context, _ string, topK int, _ entity.ChunkType) ([]entity.SearchResult, error) {
	s.bm25TopK = topK
	return capHits(s.lexicalHits, topK), nil
}

func (s *stubStore) FetchChunks(_ context.Context, ids []string) ([]*entity.Chunk, error) {
	var out []*entity.Chunk
	for _, id := range ids {
		if c, ok := s.chunks[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func capHits(hits []entity.SearchResult, topK int) []entity.SearchResult {
	if topK > 0 && len(hits) > topK {
		return hits[:topK]
	}
	return hits
}

// stubEmbedder 可控失败的嵌入桩
type stubEmbedder struct {
	fail    bool
	failAll bool // Embed 整体报错而非逐条 nil
	dim     int
	calls   int
}

func (e *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.failAll {
		return nil, errors.New("embedding endpoint down")
	}
	out := make([][]float32, len(texts))
	if e.fail {
		return out, nil
	}
	for i := range texts {
		vec := make([]float32, e.dim)
		vec[0] = 1
		out[i] = vec
	}
	return out, nil
}

func (e *stubEmbedder) Model() string { return "stub-embed" }

// stubReranker 回放固定结果或报错
type stubReranker struct {
	ranked []rerank.RankedDocument
	err    error
	calls  int
	docs   []string
}

func (r *stubReranker) Rerank(_ context.Context, _ string, documents []string, _ int) ([]rerank.RankedDocument, error) {
	r.calls++
	r.docs = documents
	return r.ranked, r.err
}

func testOptions() Options {
	return Options{
		VectorTopK:                30,
		BM25TopK:                  20,
		RerankTopN:                10,
		RRFK:                      60,
		FullScanMaxVectors:        500,
		PrefilterBM25Candidates:   200,
		PrefilterRecentCandidates: 200,
	}
}

func TestHybridSearchRerankReordersAndTruncates(t *testing.T) {
	store := &stubStore{
		vectorCount: 10,
		vectorHits:  []entity.SearchResult{hit("s1", 0.9), hit("s2", 0.8)},
		lexicalHits: []entity.SearchResult{hit("s3", 3.0), hit("s1", 2.0)},
	}
	reranker := &stubReranker{ranked: []rerank.RankedDocument{
		{Index: 1, RelevanceScore: 0.99},
		{Index: 0, RelevanceScore: 0.42},
	}}
	e := NewEngine(store, &stubEmbedder{dim: 4}, reranker, nil, testOptions())

	out, err := e.HybridSearch(context.Background(), HybridInput{Query: "萧炎 异火", RerankTopN: 2})

	require.NoError(t, err)
	assert.Empty(t, out.DegradedReason)
	require.Len(t, out.Results, 2)
	// 重排分数覆盖融合分，来源改为 hybrid
	assert.InDelta(t, 0.99, out.Results[0].Score, 1e-9)
	assert.Equal(t, entity.SourceHybrid, out.Results[0].Source)
	assert.Greater(t, out.Results[0].Score, out.Results[1].Score)
	// 重排候选是融合序前 2*top_n 条
	assert.LessOrEqual(t, len(reranker.docs), 4)
}

func TestHybridSearchEmptyCorpus(t *testing.T) {
	store := &stubStore{vectorCount: 0}
	reranker := &stubReranker{}
	e := NewEngine(store, &stubEmbedder{dim: 4}, reranker, nil, testOptions())

	out, err := e.HybridSearch(context.Background(), HybridInput{Query: "不存在的内容"})

	require.NoError(t, err)
	assert.Empty(t, out.Results)
	// 无候选时不应调用重排服务
	assert.Zero(t, reranker.calls)
}

func TestHybridSearchRerankFailureFallsBackToFusionOrder(t *testing.T) {
	store := &stubStore{
		vectorCount: 10,
		vectorHits:  []entity.SearchResult{hit("a", 0.9)},
		lexicalHits: []entity.SearchResult{hit("a", 2.0), hit("b", 1.0)},
	}
	reranker := &stubReranker{err: errors.New("rerank timeout")}
	e := NewEngine(store, &stubEmbedder{dim: 4}, reranker, nil, testOptions())

	out, err := e.HybridSearch(context.Background(), HybridInput{Query: "药老"})

	require.NoError(t, err)
	assert.Equal(t, ReasonRerankUnavailable, out.DegradedReason)
	require.Len(t, out.Results, 2)
	// 融合序：a 命中两路排第一
	assert.Equal(t, "a", out.Results[0].ChunkID)
}

func TestHybridSearchEmbeddingFailureDegradesToLexical(t *testing.T) {
	store := &stubStore{
		vectorCount: 10,
		vectorHits:  []entity.SearchResult{hit("never", 1.0)},
		lexicalHits: []entity.SearchResult{hit("kw1", 2.0), hit("kw2", 1.0)},
	}
	reranker := &stubReranker{ranked: []rerank.RankedDocument{
		{Index: 0, RelevanceScore: 0.8},
		{Index: 1, RelevanceScore: 0.6},
	}}
	e := NewEngine(store, &stubEmbedder{fail: true, dim: 4}, reranker, nil, testOptions())

	out, err := e.HybridSearch(context.Background(), HybridInput{Query: "斗气大陆"})

	require.NoError(t, err)
	assert.Equal(t, ReasonEmbeddingUnavailable, out.DegradedReason)
	require.Len(t, out.Results, 2)
	// 向量路不可用时结果只来自关键词路
	assert.Equal(t, "kw1", out.Results[0].ChunkID)
	// 降级不跳过重排
	assert.Equal(t, 1, reranker.calls)
}

func TestHybridSearchPrefilterAboveThreshold(t *testing.T) {
	store := &stubStore{
		vectorCount: 501,
		vectorHits:  []entity.SearchResult{hit("v1", 0.9)},
		lexicalHits: []entity.SearchResult{hit("v1", 2.0), hit("v2", 1.0)},
		recentIDs:   []string{"v2", "v9"},
	}
	reranker := &stubReranker{err: errors.New("offline")}
	e := NewEngine(store, &stubEmbedder{dim: 4}, reranker, nil, testOptions())

	out, err := e.HybridSearch(context.Background(), HybridInput{Query: "魔兽山脉"})

	require.NoError(t, err)
	require.NotEmpty(t, out.Results)
	// 候选并集 = BM25 候选 + 最近切片，保序去重
	assert.Equal(t, []string{"v1", "v2", "v9"}, store.subsetIDs)
	// BM25 候选预算不低于下限 200
	assert.GreaterOrEqual(t, store.bm25TopK, 200)
	assert.GreaterOrEqual(t, store.recentLimit, 150)
}

func TestVectorSearchEmbeddingFailureReturnsEmpty(t *testing.T) {
	store := &stubStore{vectorHits: []entity.SearchResult{hit("x", 1.0)}}
	e := NewEngine(store, &stubEmbedder{failAll: true}, &stubReranker{}, nil, testOptions())

	hits, err := e.VectorSearch(context.Background(), "任意查询", 5, "")

	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestBM25SearchUsesDefaultTopK(t *testing.T) {
	store := &stubStore{lexicalHits: []entity.SearchResult{hit("a", 1.0)}}
	e := NewEngine(store, &stubEmbedder{dim: 4}, &stubReranker{}, nil, testOptions())

	hits, err := e.BM25Search(context.Background(), "纳兰嫣然", 0, "")

	require.NoError(t, err)
	assert.Len(t, hits, 1)
	assert.Equal(t, 20, store.bm25TopK)
}
