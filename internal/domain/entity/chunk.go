// Package entity 定义检索域的核心实体
package entity

import "fmt"

// ChunkType 切片类型
type ChunkType string

const (
	// ChunkTypeScene 场景正文切片
	ChunkTypeScene ChunkType = "scene"
	// ChunkTypeSummary 章节摘要切片
	ChunkTypeSummary ChunkType = "summary"
)

// 检索结果来源
const (
	SourceVector = "vector"
	SourceBM25   = "bm25"
	SourceHybrid = "hybrid"
	SourceParent = "parent"
)

// Chunk 是索引的最小文本单元：一个场景片段或一条章节摘要。
// Embedding 为 nil 表示嵌入失败，该切片只进关键词索引（降级态）。
type Chunk struct {
	ChunkID       string
	Chapter       int
	SceneIndex    int
	Content       string
	Embedding     []float32
	ParentChunkID string
	ChunkType     ChunkType
	SourceFile    string
}

// SceneChunkID 生成场景切片的确定性 ID
func SceneChunkID(chapter, sceneIndex int) string {
	return fmt.Sprintf("ch%04d_s%d", chapter, sceneIndex)
}

// SummaryChunkID 生成章节摘要切片的确定性 ID
func SummaryChunkID(chapter int) string {
	return fmt.Sprintf("ch%04d_summary", chapter)
}

// SearchResult 单条检索结果（请求内临时对象）
type SearchResult struct {
	ChunkID       string
	Chapter       int
	SceneIndex    int
	Content       string
	Score         float64
	Source        string
	ParentChunkID string
	ChunkType     ChunkType
	SourceFile    string
}
