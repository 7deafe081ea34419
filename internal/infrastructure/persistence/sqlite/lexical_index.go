package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"novel-rag-api/internal/domain/entity"
	"novel-rag-api/pkg/metrics"
)

// updateLexicalIndex 重建一个切片的倒排索引：先删旧 posting 和文档统计，再写新值。
// 必须与向量行写入处于同一事务。
func updateLexicalIndex(ctx context.Context, tx *sql.Tx, chunkID, content string) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM bm25_postings WHERE chunk_id = ?", chunkID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM doc_stats WHERE chunk_id = ?", chunkID); err != nil {
		return err
	}

	tf, docLength := termFrequencies(Tokenize(content))
	if docLength == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO bm25_postings (term, chunk_id, tf) VALUES (?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for term, freq := range tf {
		if _, err := stmt.ExecContext(ctx, term, chunkID, freq); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, "INSERT INTO doc_stats (chunk_id, doc_length) VALUES (?, ?)", chunkID, docLength)
	return err
}

// BM25Search 关键词检索。对查询中的每个去重词项取 posting，
// 按 idf·tf·(k1+1)/(tf+k1·(1-b+b·dl/avgdl)) 累加文档得分。
func (s *Store) BM25Search(ctx context.Context, query string, topK int, chunkType entity.ChunkType) ([]entity.SearchResult, error) {
	ctx, span := tracer.Start(ctx, "sqlite.BM25Search",
		trace.WithAttributes(attribute.Int("top_k", topK)))
	defer span.End()
	start := time.Now()
	defer func() { metrics.StoreOpDuration.WithLabelValues("bm25_search").Observe(time.Since(start).Seconds()) }()

	terms := Tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}
	seen := make(map[string]bool, len(terms))

	scores := make(map[string]float64)
	err := s.withDB(ctx, func(db *sql.DB) error {
		var totalDocs int
		var avgDocLength sql.NullFloat64
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*), AVG(doc_length) FROM doc_stats").Scan(&totalDocs, &avgDocLength); err != nil {
			return err
		}
		if totalDocs == 0 {
			return nil
		}
		avgLen := avgDocLength.Float64
		if avgLen <= 0 {
			avgLen = 1
		}

		for _, term := range terms {
			if seen[term] {
				continue
			}
			seen[term] = true

			rows, err := db.QueryContext(ctx, `
				SELECT p.chunk_id, p.tf, d.doc_length
				FROM bm25_postings p
				JOIN doc_stats d ON p.chunk_id = d.chunk_id
				WHERE p.term = ?`, term)
			if err != nil {
				return err
			}

			type posting struct {
				chunkID   string
				tf        float64
				docLength int
			}
			var postings []posting
			for rows.Next() {
				var p posting
				if err := rows.Scan(&p.chunkID, &p.tf, &p.docLength); err != nil {
					rows.Close()
					return err
				}
				postings = append(postings, p)
			}
			if err := rows.Err(); err != nil {
				rows.Close()
				return err
			}
			rows.Close()

			df := len(postings)
			if df == 0 {
				continue
			}
			idf := math.Log((float64(totalDocs)-float64(df)+0.5)/(float64(df)+0.5) + 1)

			for _, p := range postings {
				norm := p.tf + s.k1*(1-s.b+s.b*float64(p.docLength)/avgLen)
				scores[p.chunkID] += idf * p.tf * (s.k1 + 1) / norm
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("bm25 search failed: %w", err)
	}
	if len(scores) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	chunks, err := s.FetchChunks(ctx, ids)
	if err != nil {
		return nil, err
	}

	results := make([]entity.SearchResult, 0, len(chunks))
	for _, c := range chunks {
		if chunkType != "" && c.ChunkType != chunkType {
			continue
		}
		results = append(results, entity.SearchResult{
			ChunkID:       c.ChunkID,
			Chapter:       c.Chapter,
			SceneIndex:    c.SceneIndex,
			Content:       c.Content,
			Score:         scores[c.ChunkID],
			Source:        entity.SourceBM25,
			ParentChunkID: c.ParentChunkID,
			ChunkType:     c.ChunkType,
			SourceFile:    c.SourceFile,
		})
	}
	return topKResults(results, topK), nil
}
