package retrieval

import (
	"context"

	"golang.org/x/sync/errgroup"

	"novel-rag-api/internal/domain/entity"
	"novel-rag-api/pkg/logger"
)

// searchLists 两路候选列表，供 RRF 融合
type searchLists struct {
	vector  []entity.SearchResult
	lexical []entity.SearchResult
	// degradedReason 非空表示向量路不可用，仅剩关键词路
	degradedReason string
}

// queryPlan 候选收集策略。小语料全表扫描，大语料先预筛选再在子集内算余弦。
type queryPlan interface {
	gather(ctx context.Context, e *Engine, in HybridInput) (*searchLists, error)
}

// planFor 按当前向量规模选择策略
func (e *Engine) planFor(vectorCount int) queryPlan {
	if vectorCount <= e.opts.FullScanMaxVectors {
		return fullScanPlan{}
	}
	return prefilterPlan{}
}

// fullScanPlan 小语料策略：向量全表扫描与 BM25 并发执行
type fullScanPlan struct{}

func (fullScanPlan) gather(ctx context.Context, e *Engine, in HybridInput) (*searchLists, error) {
	lists := &searchLists{}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		queryVec, err := e.embedQuery(gctx, in.Query)
		if err != nil {
			logger.Warn(gctx, "query embedding unavailable, degrading to lexical-only", "error", err)
			lists.degradedReason = ReasonEmbeddingUnavailable
			return nil
		}
		hits, err := e.store.VectorSearch(gctx, queryVec, in.VectorTopK, in.ChunkType)
		if err != nil {
			return err
		}
		lists.vector = hits
		return nil
	})
	g.Go(func() error {
		hits, err := e.store.BM25Search(gctx, in.Query, in.BM25TopK, in.ChunkType)
		if err != nil {
			return err
		}
		lists.lexical = hits
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return lists, nil
}

// prefilterPlan 大语料策略：并发取 BM25 候选、最近切片与查询向量，
// 再仅对候选并集做余弦打分，避免全表解码向量。
type prefilterPlan struct{}

func (prefilterPlan) gather(ctx context.Context, e *Engine, in HybridInput) (*searchLists, error) {
	bm25Budget := maxInt(e.opts.PrefilterBM25Candidates, in.BM25TopK, in.VectorTopK*5, in.RerankTopN*10)
	recentBudget := maxInt(e.opts.PrefilterRecentCandidates, in.VectorTopK*5, in.RerankTopN*10)

	var (
		bm25Cands []entity.SearchResult
		recentIDs []string
		queryVec  []float32
		embedErr  error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := e.store.BM25Search(gctx, in.Query, bm25Budget, in.ChunkType)
		if err != nil {
			return err
		}
		bm25Cands = hits
		return nil
	})
	g.Go(func() error {
		ids, err := e.store.RecentChunkIDs(gctx, recentBudget)
		if err != nil {
			return err
		}
		recentIDs = ids
		return nil
	})
	g.Go(func() error {
		queryVec, embedErr = e.embedQuery(gctx, in.Query)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	lists := &searchLists{lexical: truncate(bm25Cands, in.BM25TopK)}
	if embedErr != nil {
		logger.Warn(ctx, "query embedding unavailable, degrading to lexical-only", "error", embedErr)
		lists.degradedReason = ReasonEmbeddingUnavailable
		return lists, nil
	}

	candidateIDs := unionIDs(bm25Cands, recentIDs)
	if len(candidateIDs) == 0 {
		return lists, nil
	}
	hits, err := e.store.VectorSearchSubset(ctx, queryVec, candidateIDs, in.VectorTopK, in.ChunkType)
	if err != nil {
		return nil, err
	}
	lists.vector = hits
	return lists, nil
}

// unionIDs 合并 BM25 候选与最近切片 ID，保序去重（BM25 在前）
func unionIDs(bm25Cands []entity.SearchResult, recentIDs []string) []string {
	seen := make(map[string]struct{}, len(bm25Cands)+len(recentIDs))
	out := make([]string, 0, len(bm25Cands)+len(recentIDs))
	for _, hit := range bm25Cands {
		if _, ok := seen[hit.ChunkID]; ok {
			continue
		}
		seen[hit.ChunkID] = struct{}{}
		out = append(out, hit.ChunkID)
	}
	for _, id := range recentIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func truncate(hits []entity.SearchResult, n int) []entity.SearchResult {
	if n >= 0 && len(hits) > n {
		return hits[:n]
	}
	return hits
}

func maxInt(vals ...int) int {
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
