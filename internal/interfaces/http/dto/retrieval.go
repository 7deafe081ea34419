// Package dto 提供 HTTP 层数据传输对象
package dto

import "novel-rag-api/internal/domain/entity"

// SearchRequest 检索请求
type SearchRequest struct {
	Query string `json:"query" binding:"required,max=5000"`
	// Mode 检索模式：vector / bm25 / hybrid，默认 hybrid
	Mode       string `json:"mode,omitempty" binding:"omitempty,oneof=vector bm25 hybrid"`
	VectorTopK int    `json:"vector_top_k,omitempty" binding:"omitempty,min=1,max=200"`
	BM25TopK   int    `json:"bm25_top_k,omitempty" binding:"omitempty,min=1,max=200"`
	TopK       int    `json:"top_k,omitempty" binding:"omitempty,min=1,max=100"`
	// ChunkType 只检索指定类型：scene / summary，空表示不限
	ChunkType string `json:"chunk_type,omitempty" binding:"omitempty,oneof=scene summary"`
	// Backtrack 混合检索命中场景时回溯父摘要
	Backtrack bool `json:"backtrack,omitempty"`
}

// SearchHit 单条检索命中
type SearchHit struct {
	ChunkID       string  `json:"chunk_id"`
	Chapter       int     `json:"chapter"`
	SceneIndex    int     `json:"scene_index"`
	Content       string  `json:"content"`
	Score         float64 `json:"score"`
	Source        string  `json:"source"`
	ChunkType     string  `json:"chunk_type,omitempty"`
	ParentChunkID string  `json:"parent_chunk_id,omitempty"`
	SourceFile    string  `json:"source_file,omitempty"`
}

// SearchMeta 检索元数据
type SearchMeta struct {
	Mode       string `json:"mode"`
	DurationMs int64  `json:"duration_ms"`
}

// SearchResponse 检索响应
type SearchResponse struct {
	Hits []*SearchHit `json:"hits"`
	// Degraded 本次查询是否发生降级（嵌入或重排不可用）
	Degraded       bool        `json:"degraded"`
	DegradedReason string      `json:"degraded_reason,omitempty"`
	Meta           *SearchMeta `json:"meta,omitempty"`
}

// NewSearchHit 由检索结果构建命中 DTO
func NewSearchHit(r entity.SearchResult) *SearchHit {
	return &SearchHit{
		ChunkID:       r.ChunkID,
		Chapter:       r.Chapter,
		SceneIndex:    r.SceneIndex,
		Content:       r.Content,
		Score:         r.Score,
		Source:        r.Source,
		ChunkType:     string(r.ChunkType),
		ParentChunkID: r.ParentChunkID,
		SourceFile:    r.SourceFile,
	}
}

// NewSearchHits 批量构建命中 DTO，nil 结果返回空切片而非 null
func NewSearchHits(results []entity.SearchResult) []*SearchHit {
	hits := make([]*SearchHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, NewSearchHit(r))
	}
	return hits
}

// IngestChunk 待入库切片
type IngestChunk struct {
	ChunkID       string `json:"chunk_id,omitempty"`
	Chapter       int    `json:"chapter" binding:"min=0"`
	SceneIndex    int    `json:"scene_index,omitempty" binding:"omitempty,min=0"`
	Summary       bool   `json:"summary,omitempty"`
	Content       string `json:"content" binding:"required,max=100000"`
	ParentChunkID string `json:"parent_chunk_id,omitempty"`
	SourceFile    string `json:"source_file,omitempty"`
}

// IngestRequest 批量入库请求
type IngestRequest struct {
	Chunks []IngestChunk `json:"chunks" binding:"required,min=1,max=1000,dive"`
}

// IngestResponse 入库响应
type IngestResponse struct {
	// StoredCount 成功嵌入并入库的切片数
	StoredCount int `json:"stored_count"`
	// SkippedCount 嵌入失败、只进关键词索引的切片数
	SkippedCount int `json:"skipped_count"`
}

// StatsResponse 索引统计响应
type StatsResponse struct {
	Vectors    int `json:"vectors"`
	Terms      int `json:"terms"`
	MaxChapter int `json:"max_chapter"`
}
