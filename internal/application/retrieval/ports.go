package retrieval

import (
	"context"

	"novel-rag-api/internal/domain/entity"
	"novel-rag-api/internal/infrastructure/rerank"
)

// ChunkStore 切片存储端口：向量与关键词索引的持久化读写
type ChunkStore interface {
	// UpsertChunk 写入或覆盖一个切片（向量行 + 关键词倒排）
	UpsertChunk(ctx context.Context, chunk *entity.Chunk) error
	// VectorCount 返回向量表总行数（含降级的 NULL embedding 行）
	VectorCount(ctx context.Context) (int, error)
	// RecentChunkIDs 按章节、场景倒序返回最近的切片 ID
	RecentChunkIDs(ctx context.Context, limit int) ([]string, error)
	// VectorSearch 全量余弦扫描
	VectorSearch(ctx context.Context, queryVec []float32, topK int, chunkType entity.ChunkType) ([]entity.SearchResult, error)
	// VectorSearchSubset 仅在候选 ID 子集内做余弦扫描
	VectorSearchSubset(ctx context.Context, queryVec []float32, ids []string, topK int, chunkType entity.ChunkType) ([]entity.SearchResult, error)
	// BM25Search 关键词检索
	BM25Search(ctx context.Context, query string, topK int, chunkType entity.ChunkType) ([]entity.SearchResult, error)
	// FetchChunks 批量取回切片元数据
	FetchChunks(ctx context.Context, ids []string) ([]*entity.Chunk, error)
}

// Embedder 文本嵌入端口。返回切片与输入等长，失败批次以 nil 占位。
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// Reranker 交叉编码重排端口
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string, topN int) ([]rerank.RankedDocument, error)
}

// EmbeddingCache 查询向量缓存端口（可为 nil，表示不启用缓存）
type EmbeddingCache interface {
	GetOrLoad(ctx context.Context, model, query string, loader func() ([]float32, error)) ([]float32, error)
}
