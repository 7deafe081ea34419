package retrieval

import (
	"novel-rag-api/internal/config"
	"novel-rag-api/internal/domain/entity"
)

// 检索模式
const (
	ModeVector    = "vector"
	ModeBM25      = "bm25"
	ModeHybrid    = "hybrid"
	ModeBacktrack = "backtrack"
)

// 降级原因
const (
	ReasonEmbeddingUnavailable = "embedding_unavailable"
	ReasonRerankUnavailable    = "rerank_unavailable"
)

// Options 检索引擎运行参数，零值字段由 config 默认值兜底
type Options struct {
	VectorTopK int
	BM25TopK   int
	RerankTopN int
	RRFK       int

	FullScanMaxVectors        int
	PrefilterBM25Candidates   int
	PrefilterRecentCandidates int
}

// OptionsFromConfig 从配置构建检索参数
func OptionsFromConfig(cfg *config.RetrievalConfig) Options {
	return Options{
		VectorTopK:                cfg.VectorTopK,
		BM25TopK:                  cfg.BM25TopK,
		RerankTopN:                cfg.RerankTopN,
		RRFK:                      cfg.RRFK,
		FullScanMaxVectors:        cfg.FullScanMaxVectors,
		PrefilterBM25Candidates:   cfg.PrefilterBM25Candidates,
		PrefilterRecentCandidates: cfg.PrefilterRecentCandidates,
	}
}

// HybridInput 混合检索请求。TopK 类字段为 0 时取 Options 默认值。
type HybridInput struct {
	Query      string
	VectorTopK int
	BM25TopK   int
	RerankTopN int
	ChunkType  entity.ChunkType
}

// HybridOutput 混合检索结果。DegradedReason 非空表示本次查询发生降级。
type HybridOutput struct {
	Results        []entity.SearchResult
	DegradedReason string
}

// ChunkInput 待入库的切片。ChunkID 为空时按章节/场景推导确定性 ID。
type ChunkInput struct {
	ChunkID       string
	Chapter       int
	SceneIndex    int
	Summary       bool
	Content       string
	ParentChunkID string
	SourceFile    string
}

// IngestResult 入库结果。Stored 计成功嵌入的切片，Skipped 计只进关键词索引的降级切片。
type IngestResult struct {
	Stored  int
	Skipped int
}
