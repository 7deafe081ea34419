package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"novel-rag-api/internal/application/retrieval"
	"novel-rag-api/internal/domain/entity"
	"novel-rag-api/internal/interfaces/http/dto"
)

// RetrievalService 检索处理器依赖的应用层能力
type RetrievalService interface {
	VectorSearch(ctx context.Context, query string, topK int, chunkType entity.ChunkType) ([]entity.SearchResult, error)
	BM25Search(ctx context.Context, query string, topK int, chunkType entity.ChunkType) ([]entity.SearchResult, error)
	HybridSearch(ctx context.Context, in retrieval.HybridInput) (*retrieval.HybridOutput, error)
	SearchWithBacktrack(ctx context.Context, query string, topK int) (*retrieval.HybridOutput, error)
	StoreChunks(ctx context.Context, inputs []retrieval.ChunkInput) (*retrieval.IngestResult, error)
}

// RetrievalHandler 检索处理器
type RetrievalHandler struct {
	svc RetrievalService
}

// NewRetrievalHandler 创建检索处理器
func NewRetrievalHandler(svc RetrievalService) *RetrievalHandler {
	return &RetrievalHandler{svc: svc}
}

// Search 检索切片
// @Summary 检索切片
// @Description 按 vector/bm25/hybrid 模式检索小说切片
// @Tags Retrieval
// @Accept json
// @Produce json
// @Param body body dto.SearchRequest true "检索请求"
// @Success 200 {object} dto.Response[dto.SearchResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /v1/retrieval/search [post]
func (h *RetrievalHandler) Search(c *gin.Context) {
	var req dto.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid search request: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	chunkType := entity.ChunkType(req.ChunkType)
	start := time.Now()

	mode := req.Mode
	if mode == "" {
		mode = retrieval.ModeHybrid
	}

	resp := &dto.SearchResponse{}
	switch mode {
	case retrieval.ModeVector:
		hits, err := h.svc.VectorSearch(ctx, req.Query, req.TopK, chunkType)
		if err != nil {
			respondError(c, err)
			return
		}
		resp.Hits = dto.NewSearchHits(hits)

	case retrieval.ModeBM25:
		hits, err := h.svc.BM25Search(ctx, req.Query, req.TopK, chunkType)
		if err != nil {
			respondError(c, err)
			return
		}
		resp.Hits = dto.NewSearchHits(hits)

	default:
		var (
			out *retrieval.HybridOutput
			err error
		)
		if req.Backtrack {
			out, err = h.svc.SearchWithBacktrack(ctx, req.Query, req.TopK)
		} else {
			out, err = h.svc.HybridSearch(ctx, retrieval.HybridInput{
				Query:      req.Query,
				VectorTopK: req.VectorTopK,
				BM25TopK:   req.BM25TopK,
				RerankTopN: req.TopK,
				ChunkType:  chunkType,
			})
		}
		if err != nil {
			respondError(c, err)
			return
		}
		resp.Hits = dto.NewSearchHits(out.Results)
		resp.Degraded = out.DegradedReason != ""
		resp.DegradedReason = out.DegradedReason
	}

	resp.Meta = &dto.SearchMeta{
		Mode:       mode,
		DurationMs: time.Since(start).Milliseconds(),
	}
	dto.Success(c, resp)
}

// Ingest 批量入库切片
// @Summary 批量入库切片
// @Description 嵌入并索引一批场景/摘要切片，嵌入失败的切片降级为纯关键词索引
// @Tags Retrieval
// @Accept json
// @Produce json
// @Param body body dto.IngestRequest true "入库请求"
// @Success 200 {object} dto.Response[dto.IngestResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /v1/retrieval/chunks [post]
func (h *RetrievalHandler) Ingest(c *gin.Context) {
	var req dto.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid ingest request: "+err.Error())
		return
	}

	inputs := make([]retrieval.ChunkInput, len(req.Chunks))
	for i, ch := range req.Chunks {
		inputs[i] = retrieval.ChunkInput{
			ChunkID:       ch.ChunkID,
			Chapter:       ch.Chapter,
			SceneIndex:    ch.SceneIndex,
			Summary:       ch.Summary,
			Content:       ch.Content,
			ParentChunkID: ch.ParentChunkID,
			SourceFile:    ch.SourceFile,
		}
	}

	result, err := h.svc.StoreChunks(c.Request.Context(), inputs)
	if err != nil {
		respondError(c, err)
		return
	}
	dto.Success(c, &dto.IngestResponse{
		StoredCount:  result.Stored,
		SkippedCount: result.Skipped,
	})
}
