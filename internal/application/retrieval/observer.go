package retrieval

import (
	"context"
	"fmt"
	"os"
	"time"

	"novel-rag-api/internal/domain/entity"
	"novel-rag-api/pkg/logger"
	"novel-rag-api/pkg/metrics"
)

// queryRecord 单次查询的观测记录
type queryRecord struct {
	Query          string
	Mode           string
	Results        []entity.SearchResult
	Latency        time.Duration
	DegradedReason string
}

// logQuery 记录查询日志与指标。观测失败绝不影响检索结果，
// 任何 panic 都被吞掉并写一行 stderr。
func (e *Engine) logQuery(ctx context.Context, rec queryRecord) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "query observability failed: %v\n", r)
		}
	}()

	status := "ok"
	if rec.DegradedReason != "" {
		status = "degraded"
	}
	metrics.QueryTotal.WithLabelValues(rec.Mode, status).Inc()
	metrics.QueryDuration.WithLabelValues(rec.Mode).Observe(rec.Latency.Seconds())
	if rec.DegradedReason != "" {
		metrics.DegradedTotal.WithLabelValues(rec.DegradedReason).Inc()
	}

	args := []any{
		"mode", rec.Mode,
		"query_len", len([]rune(rec.Query)),
		"result_count", len(rec.Results),
		"latency_ms", rec.Latency.Milliseconds(),
	}
	if counts := chunkTypeCounts(rec.Results); len(counts) > 0 {
		args = append(args, "type_counts", counts)
	}
	if rec.DegradedReason != "" {
		args = append(args, "degraded_reason", rec.DegradedReason)
	}
	logger.Info(ctx, "retrieval query", args...)
}

// chunkTypeCounts 统计结果中各切片类型的数量
func chunkTypeCounts(results []entity.SearchResult) map[string]int {
	if len(results) == 0 {
		return nil
	}
	counts := make(map[string]int)
	for _, r := range results {
		counts[string(r.ChunkType)]++
	}
	return counts
}
