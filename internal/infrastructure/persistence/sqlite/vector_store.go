package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"novel-rag-api/internal/domain/entity"
	"novel-rag-api/pkg/logger"
	"novel-rag-api/pkg/metrics"
)

// SQLite 单条语句的参数上限默认为 999，IN 查询按批切分
const idBatchSize = 500

// UpsertChunk 写入或替换一个切片的全部派生状态：向量行、倒排 posting、文档统计。
// 三者在同一事务内先删后插，保证同一 chunk_id 不会出现半更新状态。
// Embedding 为 nil 时向量行仍然落库（embedding 列为 NULL），供 BM25 命中后回查元数据。
func (s *Store) UpsertChunk(ctx context.Context, chunk *entity.Chunk) error {
	if chunk == nil || chunk.ChunkID == "" {
		return fmt.Errorf("chunk_id is required")
	}

	ctx, span := tracer.Start(ctx, "sqlite.UpsertChunk",
		trace.WithAttributes(attribute.String("chunk_id", chunk.ChunkID)))
	defer span.End()
	start := time.Now()
	defer func() { metrics.StoreOpDuration.WithLabelValues("upsert_chunk").Observe(time.Since(start).Seconds()) }()

	var blob []byte
	if len(chunk.Embedding) > 0 {
		blob = EncodeEmbedding(chunk.Embedding)
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO vectors (chunk_id, chapter, scene_index, content, embedding, parent_chunk_id, chunk_type, source_file)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(chunk_id) DO UPDATE SET
				chapter = excluded.chapter,
				scene_index = excluded.scene_index,
				content = excluded.content,
				embedding = excluded.embedding,
				parent_chunk_id = excluded.parent_chunk_id,
				chunk_type = excluded.chunk_type,
				source_file = excluded.source_file`,
			chunk.ChunkID, chunk.Chapter, chunk.SceneIndex, chunk.Content,
			blob, nullableString(chunk.ParentChunkID), string(chunk.ChunkType), chunk.SourceFile,
		); err != nil {
			return err
		}
		return updateLexicalIndex(ctx, tx, chunk.ChunkID, chunk.Content)
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to upsert chunk %s: %w", chunk.ChunkID, err)
	}
	return nil
}

// VectorCount 返回向量表总行数（含降级的 NULL embedding 行）
func (s *Store) VectorCount(ctx context.Context) (int, error) {
	var count int
	err := s.withDB(ctx, func(db *sql.DB) error {
		return db.QueryRowContext(ctx, "SELECT COUNT(*) FROM vectors").Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count vectors: %w", err)
	}
	return count, nil
}

// RecentChunkIDs 返回最近的切片 ID（按章节、场景序号倒序），作为大语料预筛选的新近性兜底
func (s *Store) RecentChunkIDs(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}

	var ids []string
	err := s.withDB(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx,
			"SELECT chunk_id FROM vectors ORDER BY chapter DESC, scene_index DESC LIMIT ?", limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch recent chunk ids: %w", err)
	}
	return ids, nil
}

// VectorSearch 全表余弦相似度扫描
func (s *Store) VectorSearch(ctx context.Context, queryVec []float32, topK int, chunkType entity.ChunkType) ([]entity.SearchResult, error) {
	ctx, span := tracer.Start(ctx, "sqlite.VectorSearch",
		trace.WithAttributes(attribute.Int("top_k", topK)))
	defer span.End()
	start := time.Now()
	defer func() { metrics.StoreOpDuration.WithLabelValues("vector_search").Observe(time.Since(start).Seconds()) }()

	query := "SELECT chunk_id, chapter, scene_index, content, embedding, parent_chunk_id, chunk_type, source_file FROM vectors"
	args := []any{}
	if chunkType != "" {
		query += " WHERE chunk_type = ?"
		args = append(args, string(chunkType))
	}

	results, err := s.scanAndScore(ctx, queryVec, query, args)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return topKResults(results, topK), nil
}

// VectorSearchSubset 只在给定候选 ID 子集上计算余弦相似度，
// 将单次查询成本限制在 O(候选数) 而非 O(全库)
func (s *Store) VectorSearchSubset(ctx context.Context, queryVec []float32, ids []string, topK int, chunkType entity.ChunkType) ([]entity.SearchResult, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	ctx, span := tracer.Start(ctx, "sqlite.VectorSearchSubset",
		trace.WithAttributes(attribute.Int("candidates", len(ids)), attribute.Int("top_k", topK)))
	defer span.End()
	start := time.Now()
	defer func() { metrics.StoreOpDuration.WithLabelValues("vector_search_subset").Observe(time.Since(start).Seconds()) }()

	var all []entity.SearchResult
	for _, batch := range batchIDs(ids) {
		query := "SELECT chunk_id, chapter, scene_index, content, embedding, parent_chunk_id, chunk_type, source_file FROM vectors WHERE chunk_id IN (" + placeholders(len(batch)) + ")"
		args := make([]any, 0, len(batch)+1)
		for _, id := range batch {
			args = append(args, id)
		}
		if chunkType != "" {
			query += " AND chunk_type = ?"
			args = append(args, string(chunkType))
		}

		results, err := s.scanAndScore(ctx, queryVec, query, args)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		all = append(all, results...)
	}
	return topKResults(all, topK), nil
}

// FetchChunks 按 ID 批量取回切片（不含向量），用于父级摘要回溯
func (s *Store) FetchChunks(ctx context.Context, ids []string) ([]*entity.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	ctx, span := tracer.Start(ctx, "sqlite.FetchChunks",
		trace.WithAttributes(attribute.Int("ids", len(ids))))
	defer span.End()

	var chunks []*entity.Chunk
	err := s.withDB(ctx, func(db *sql.DB) error {
		for _, batch := range batchIDs(ids) {
			query := "SELECT chunk_id, chapter, scene_index, content, parent_chunk_id, chunk_type, source_file FROM vectors WHERE chunk_id IN (" + placeholders(len(batch)) + ")"
			args := make([]any, len(batch))
			for i, id := range batch {
				args[i] = id
			}
			rows, err := db.QueryContext(ctx, query, args...)
			if err != nil {
				return err
			}
			for rows.Next() {
				var c entity.Chunk
				var parentID, chunkType, sourceFile sql.NullString
				if err := rows.Scan(&c.ChunkID, &c.Chapter, &c.SceneIndex, &c.Content, &parentID, &chunkType, &sourceFile); err != nil {
					rows.Close()
					return err
				}
				c.ParentChunkID = parentID.String
				c.ChunkType = entity.ChunkType(chunkType.String)
				c.SourceFile = sourceFile.String
				chunks = append(chunks, &c)
			}
			if err := rows.Err(); err != nil {
				rows.Close()
				return err
			}
			rows.Close()
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to fetch chunks: %w", err)
	}
	return chunks, nil
}

// scanAndScore 执行行扫描并逐行计算余弦相似度。
// NULL、损坏或维度不符的向量直接跳过，坏行不会中断整个查询。
func (s *Store) scanAndScore(ctx context.Context, queryVec []float32, query string, args []any) ([]entity.SearchResult, error) {
	var results []entity.SearchResult
	err := s.withDB(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var r entity.SearchResult
			var blob []byte
			var parentID, chunkType, sourceFile sql.NullString
			if err := rows.Scan(&r.ChunkID, &r.Chapter, &r.SceneIndex, &r.Content, &blob, &parentID, &chunkType, &sourceFile); err != nil {
				return err
			}
			if len(blob) == 0 {
				// 嵌入失败的降级切片，只参与关键词检索
				continue
			}
			vec, err := DecodeEmbedding(blob)
			if err != nil || len(vec) != len(queryVec) {
				metrics.MalformedVectorsTotal.Inc()
				logger.Warn(ctx, "skipping malformed stored vector",
					"chunk_id", r.ChunkID, "blob_bytes", len(blob))
				continue
			}
			r.Score = CosineSimilarity(queryVec, vec)
			r.Source = entity.SourceVector
			r.ParentChunkID = parentID.String
			r.ChunkType = entity.ChunkType(chunkType.String)
			r.SourceFile = sourceFile.String
			results = append(results, r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("vector scan failed: %w", err)
	}
	return results, nil
}

// topKResults 按分数降序排序并截断；同分时按 chunk_id 升序，保证结果可复现
func topKResults(results []entity.SearchResult, topK int) []entity.SearchResult {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results
}

func batchIDs(ids []string) [][]string {
	var batches [][]string
	for start := 0; start < len(ids); start += idBatchSize {
		end := start + idBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		batches = append(batches, ids[start:end])
	}
	return batches
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	buf := make([]byte, 0, n*2-1)
	for i := 0; i < n; i++ {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, '?')
	}
	return string(buf)
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
