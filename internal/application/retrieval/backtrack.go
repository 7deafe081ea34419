package retrieval

import (
	"context"
	"time"

	"novel-rag-api/internal/domain/entity"
	"novel-rag-api/pkg/logger"
	"novel-rag-api/pkg/tracer"
)

// SearchWithBacktrack 混合检索后回溯父摘要：
// 命中场景切片时把其所属章节摘要插到首个子命中之前，为调用方补全章节级语境。
// 每个父摘要至多出现一次，已在命中列表里的不重复插入。
func (e *Engine) SearchWithBacktrack(ctx context.Context, query string, topK int) (*HybridOutput, error) {
	ctx, span := tracer.Start(ctx, "retrieval.SearchWithBacktrack")
	defer span.End()
	start := time.Now()

	out, err := e.hybridSearch(ctx, span, HybridInput{Query: query, RerankTopN: topK}, ModeBacktrack)
	if err != nil {
		return nil, err
	}

	if len(out.Results) > 0 {
		parents, err := e.fetchParents(ctx, out.Results)
		if err != nil {
			// 回溯是尽力而为的补充，取不到父摘要不影响主结果
			logger.Warn(ctx, "parent backtrack skipped", "error", err)
		} else {
			out.Results = weaveParents(out.Results, parents)
		}
	}

	e.logQuery(ctx, queryRecord{
		Query: query, Mode: ModeBacktrack, Results: out.Results,
		Latency: time.Since(start), DegradedReason: out.DegradedReason,
	})
	return out, nil
}

// fetchParents 批量取回命中结果引用的父摘要切片
func (e *Engine) fetchParents(ctx context.Context, hits []entity.SearchResult) (map[string]*entity.Chunk, error) {
	var ids []string
	seen := make(map[string]struct{})
	for _, hit := range hits {
		if hit.ParentChunkID == "" {
			continue
		}
		if _, ok := seen[hit.ParentChunkID]; ok {
			continue
		}
		seen[hit.ParentChunkID] = struct{}{}
		ids = append(ids, hit.ParentChunkID)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	chunks, err := e.store.FetchChunks(ctx, ids)
	if err != nil {
		return nil, err
	}
	parents := make(map[string]*entity.Chunk, len(chunks))
	for _, c := range chunks {
		parents[c.ChunkID] = c
	}
	return parents, nil
}

// weaveParents 把父摘要按首个子命中的位置织入结果序列。
// 父摘要继承首个子命中的分数；父摘要本身也是命中时保持只出现一次。
func weaveParents(hits []entity.SearchResult, parents map[string]*entity.Chunk) []entity.SearchResult {
	if len(parents) == 0 {
		return hits
	}
	emitted := make(map[string]bool, len(hits)+len(parents))
	out := make([]entity.SearchResult, 0, len(hits)+len(parents))
	for _, hit := range hits {
		if emitted[hit.ChunkID] {
			continue
		}
		if hit.ParentChunkID != "" && !emitted[hit.ParentChunkID] {
			if p, ok := parents[hit.ParentChunkID]; ok {
				out = append(out, entity.SearchResult{
					ChunkID:    p.ChunkID,
					Chapter:    p.Chapter,
					SceneIndex: p.SceneIndex,
					Content:    p.Content,
					Score:      hit.Score,
					Source:     entity.SourceParent,
					ChunkType:  p.ChunkType,
					SourceFile: p.SourceFile,
				})
				emitted[p.ChunkID] = true
			}
		}
		out = append(out, hit)
		emitted[hit.ChunkID] = true
	}
	return out
}
