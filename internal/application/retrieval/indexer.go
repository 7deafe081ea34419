package retrieval

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"novel-rag-api/internal/domain/entity"
	"novel-rag-api/pkg/errors"
	"novel-rag-api/pkg/logger"
	"novel-rag-api/pkg/metrics"
	"novel-rag-api/pkg/tracer"
)

// StoreChunks 批量入库切片。全部文本先批量嵌入，失败条目以 nil 向量落库，
// 仍可被关键词检索命中。Stored 计成功嵌入的条数，Skipped 计降级条数。
func (e *Engine) StoreChunks(ctx context.Context, inputs []ChunkInput) (*IngestResult, error) {
	ctx, span := tracer.Start(ctx, "retrieval.StoreChunks",
		trace.WithAttributes(attribute.Int("chunk_count", len(inputs))))
	defer span.End()

	result := &IngestResult{}
	if len(inputs) == 0 {
		return result, nil
	}

	texts := make([]string, len(inputs))
	for i, in := range inputs {
		texts[i] = in.Content
	}
	vectors, err := e.embedder.Embed(ctx, texts)
	if err != nil {
		// 嵌入整体失败也继续落库，全部切片走关键词索引
		logger.Warn(ctx, "batch embedding unavailable, indexing lexical-only", "error", err)
		vectors = make([][]float32, len(inputs))
	}

	for i, in := range inputs {
		chunk := buildChunk(in)
		chunk.Embedding = vectors[i]
		if err := e.store.UpsertChunk(ctx, chunk); err != nil {
			return nil, errors.Wrap(err, errors.CodeIndexingFailed, "chunk upsert failed").
				WithDetail(chunk.ChunkID)
		}
		if chunk.Embedding != nil {
			result.Stored++
			metrics.ChunksIndexedTotal.WithLabelValues("stored").Inc()
		} else {
			result.Skipped++
			metrics.ChunksIndexedTotal.WithLabelValues("lexical_only").Inc()
		}
	}

	logger.Info(ctx, "chunks indexed",
		"stored", result.Stored, "skipped", result.Skipped)
	return result, nil
}

// buildChunk 由入库请求构建实体，ChunkID 缺省时按章节/场景推导
func buildChunk(in ChunkInput) *entity.Chunk {
	chunk := &entity.Chunk{
		ChunkID:       in.ChunkID,
		Chapter:       in.Chapter,
		SceneIndex:    in.SceneIndex,
		Content:       in.Content,
		ParentChunkID: in.ParentChunkID,
		ChunkType:     entity.ChunkTypeScene,
		SourceFile:    in.SourceFile,
	}
	if in.Summary {
		chunk.ChunkType = entity.ChunkTypeSummary
		chunk.SceneIndex = 0
		chunk.ParentChunkID = ""
		if chunk.ChunkID == "" {
			chunk.ChunkID = entity.SummaryChunkID(in.Chapter)
		}
		return chunk
	}
	if chunk.ChunkID == "" {
		chunk.ChunkID = entity.SceneChunkID(in.Chapter, in.SceneIndex)
	}
	return chunk
}
