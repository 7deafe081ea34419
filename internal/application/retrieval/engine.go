// Package retrieval 实现混合检索引擎：向量召回、BM25 召回、RRF 融合与交叉编码重排。
// 嵌入或重排服务不可用时引擎降级而非报错，保证检索始终可用。
package retrieval

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"novel-rag-api/internal/domain/entity"
	"novel-rag-api/pkg/errors"
	"novel-rag-api/pkg/logger"
	"novel-rag-api/pkg/metrics"
	"novel-rag-api/pkg/tracer"
)

// Engine 检索引擎，聚合存储、嵌入、重排三个协作方
type Engine struct {
	store    ChunkStore
	embedder Embedder
	reranker Reranker
	cache    EmbeddingCache
	opts     Options
}

// NewEngine 创建检索引擎。cache 可为 nil。
func NewEngine(store ChunkStore, embedder Embedder, reranker Reranker, cache EmbeddingCache, opts Options) *Engine {
	return &Engine{
		store:    store,
		embedder: embedder,
		reranker: reranker,
		cache:    cache,
		opts:     opts,
	}
}

// embedQuery 获取查询向量，启用缓存时走读穿缓存。
// 嵌入服务不可用或返回空向量时返回错误，由调用方决定降级。
func (e *Engine) embedQuery(ctx context.Context, query string) ([]float32, error) {
	load := func() ([]float32, error) {
		vecs, err := e.embedder.Embed(ctx, []string{query})
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeEmbeddingFailed, "query embedding failed")
		}
		if len(vecs) != 1 || vecs[0] == nil {
			return nil, errors.ErrEmbeddingFailed
		}
		return vecs[0], nil
	}
	if e.cache != nil {
		return e.cache.GetOrLoad(ctx, e.embedder.Model(), query, load)
	}
	return load()
}

// VectorSearch 纯向量检索。嵌入失败时返回空结果并记降级，不报错。
func (e *Engine) VectorSearch(ctx context.Context, query string, topK int, chunkType entity.ChunkType) ([]entity.SearchResult, error) {
	ctx, span := tracer.Start(ctx, "retrieval.VectorSearch",
		trace.WithAttributes(attribute.Int("top_k", topK)))
	defer span.End()
	start := time.Now()

	if topK <= 0 {
		topK = e.opts.VectorTopK
	}
	queryVec, err := e.embedQuery(ctx, query)
	if err != nil {
		logger.Warn(ctx, "vector search degraded to empty results", "error", err)
		e.logQuery(ctx, queryRecord{
			Query: query, Mode: ModeVector,
			Latency: time.Since(start), DegradedReason: ReasonEmbeddingUnavailable,
		})
		return []entity.SearchResult{}, nil
	}

	hits, err := e.store.VectorSearch(ctx, queryVec, topK, chunkType)
	if err != nil {
		metrics.QueryTotal.WithLabelValues(ModeVector, "error").Inc()
		return nil, errors.Wrap(err, errors.CodeRetrievalFailed, "vector search failed")
	}
	e.logQuery(ctx, queryRecord{
		Query: query, Mode: ModeVector, Results: hits, Latency: time.Since(start),
	})
	return hits, nil
}

// BM25Search 纯关键词检索
func (e *Engine) BM25Search(ctx context.Context, query string, topK int, chunkType entity.ChunkType) ([]entity.SearchResult, error) {
	ctx, span := tracer.Start(ctx, "retrieval.BM25Search",
		trace.WithAttributes(attribute.Int("top_k", topK)))
	defer span.End()
	start := time.Now()

	if topK <= 0 {
		topK = e.opts.BM25TopK
	}
	hits, err := e.store.BM25Search(ctx, query, topK, chunkType)
	if err != nil {
		metrics.QueryTotal.WithLabelValues(ModeBM25, "error").Inc()
		return nil, errors.Wrap(err, errors.CodeRetrievalFailed, "bm25 search failed")
	}
	e.logQuery(ctx, queryRecord{
		Query: query, Mode: ModeBM25, Results: hits, Latency: time.Since(start),
	})
	return hits, nil
}

// HybridSearch 混合检索主流程：
// 按语料规模选择候选收集策略，两路结果 RRF 融合，再交叉编码重排。
// 嵌入失败退化为纯关键词，重排失败退化为融合序，均不报错。
func (e *Engine) HybridSearch(ctx context.Context, in HybridInput) (*HybridOutput, error) {
	ctx, span := tracer.Start(ctx, "retrieval.HybridSearch")
	defer span.End()
	start := time.Now()

	out, err := e.hybridSearch(ctx, span, in, ModeHybrid)
	if err != nil {
		return nil, err
	}
	e.logQuery(ctx, queryRecord{
		Query: in.Query, Mode: ModeHybrid, Results: out.Results,
		Latency: time.Since(start), DegradedReason: out.DegradedReason,
	})
	return out, nil
}

// hybridSearch 融合 + 重排的公共内核，观测记录由调用方按各自模式写入
func (e *Engine) hybridSearch(ctx context.Context, span trace.Span, in HybridInput, mode string) (*HybridOutput, error) {
	in = e.normalize(in)

	vectorCount, err := e.store.VectorCount(ctx)
	if err != nil {
		metrics.QueryTotal.WithLabelValues(mode, "error").Inc()
		return nil, errors.Wrap(err, errors.CodeStorageError, "vector count failed")
	}
	span.SetAttributes(attribute.Int("vector_count", vectorCount))

	lists, err := e.planFor(vectorCount).gather(ctx, e, in)
	if err != nil {
		metrics.QueryTotal.WithLabelValues(mode, "error").Inc()
		return nil, errors.Wrap(err, errors.CodeRetrievalFailed, "candidate gathering failed")
	}

	fused := fuseRRF(lists.vector, lists.lexical, e.opts.RRFK)
	candidates := truncate(fused, 2*in.RerankTopN)

	out := &HybridOutput{DegradedReason: lists.degradedReason}
	if len(candidates) == 0 {
		out.Results = []entity.SearchResult{}
		return out, nil
	}

	out.Results = e.rerankCandidates(ctx, in, candidates, out)
	return out, nil
}

// rerankCandidates 对融合候选做交叉编码重排。
// 调用失败或结果为空时按融合序截断返回，并在 out 上记录降级原因。
func (e *Engine) rerankCandidates(ctx context.Context, in HybridInput, candidates []entity.SearchResult, out *HybridOutput) []entity.SearchResult {
	documents := make([]string, len(candidates))
	for i, c := range candidates {
		documents[i] = c.Content
	}

	ranked, err := e.reranker.Rerank(ctx, in.Query, documents, in.RerankTopN)
	if err != nil || len(ranked) == 0 {
		if err != nil {
			logger.Warn(ctx, "rerank unavailable, falling back to fusion order", "error", err)
		}
		if out.DegradedReason == "" {
			out.DegradedReason = ReasonRerankUnavailable
		}
		return truncate(candidates, in.RerankTopN)
	}

	final := make([]entity.SearchResult, 0, in.RerankTopN)
	for _, r := range ranked {
		if r.Index < 0 || r.Index >= len(candidates) {
			continue
		}
		hit := candidates[r.Index]
		hit.Score = r.RelevanceScore
		hit.Source = entity.SourceHybrid
		final = append(final, hit)
		if len(final) == in.RerankTopN {
			break
		}
	}
	return final
}

// normalize 用默认参数补全请求里的零值字段
func (e *Engine) normalize(in HybridInput) HybridInput {
	if in.VectorTopK <= 0 {
		in.VectorTopK = e.opts.VectorTopK
	}
	if in.BM25TopK <= 0 {
		in.BM25TopK = e.opts.BM25TopK
	}
	if in.RerankTopN <= 0 {
		in.RerankTopN = e.opts.RerankTopN
	}
	return in
}
