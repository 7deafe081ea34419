package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"novel-rag-api/internal/application/retrieval"
	"novel-rag-api/internal/domain/entity"
	"novel-rag-api/internal/interfaces/http/dto"
	"novel-rag-api/pkg/errors"
)

type stubService struct {
	hybridIn     *retrieval.HybridInput
	hybridOut    *retrieval.HybridOutput
	backtrackK   int
	vectorHits   []entity.SearchResult
	lexicalHits  []entity.SearchResult
	ingestInputs []retrieval.ChunkInput
	ingestResult *retrieval.IngestResult
	err          error
}

func (s *stubService) VectorSearch(_ context.Context, _ string, _ int, _ entity.ChunkType) ([]entity.SearchResult, error) {
	return s.vectorHits, s.err
}

func (s *stubService) BM25Search(_ context.Context, _ string, _ int, _ entity.ChunkType) ([]entity.SearchResult, error) {
	return s.lexicalHits, s.err
}

func (s *stubService) HybridSearch(_ context.Context, in retrieval.HybridInput) (*retrieval.HybridOutput, error) {
	s.hybridIn = &in
	return s.hybridOut, s.err
}

func (s *stubService) SearchWithBacktrack(_ context.Context, _ string, topK int) (*retrieval.HybridOutput, error) {
	s.backtrackK = topK
	return s.hybridOut, s.err
}

func (s *stubService) StoreChunks(_ context.Context, inputs []retrieval.ChunkInput) (*retrieval.IngestResult, error) {
	s.ingestInputs = inputs
	return s.ingestResult, s.err
}

func setupRouter(svc RetrievalService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewRetrievalHandler(svc)
	r.POST("/v1/retrieval/search", h.Search)
	r.POST("/v1/retrieval/chunks", h.Ingest)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSearchHybridDefault(t *testing.T) {
	svc := &stubService{hybridOut: &retrieval.HybridOutput{
		Results: []entity.SearchResult{
			{ChunkID: "ch0001_s0", Content: "萧炎", Score: 0.9, Source: entity.SourceHybrid, ChunkType: entity.ChunkTypeScene},
		},
	}}
	r := setupRouter(svc)

	w := doJSON(t, r, "/v1/retrieval/search", gin.H{"query": "萧炎", "top_k": 5})

	require.Equal(t, http.StatusOK, w.Code)
	var resp dto.Response[dto.SearchResponse]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data.Hits, 1)
	assert.Equal(t, "ch0001_s0", resp.Data.Hits[0].ChunkID)
	assert.False(t, resp.Data.Degraded)
	assert.Equal(t, "hybrid", resp.Data.Meta.Mode)

	require.NotNil(t, svc.hybridIn)
	assert.Equal(t, 5, svc.hybridIn.RerankTopN)
}

func TestSearchDegradedFlagPropagates(t *testing.T) {
	svc := &stubService{hybridOut: &retrieval.HybridOutput{
		Results:        []entity.SearchResult{},
		DegradedReason: retrieval.ReasonEmbeddingUnavailable,
	}}
	r := setupRouter(svc)

	w := doJSON(t, r, "/v1/retrieval/search", gin.H{"query": "任意"})

	require.Equal(t, http.StatusOK, w.Code)
	var resp dto.Response[dto.SearchResponse]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Data.Degraded)
	assert.Equal(t, retrieval.ReasonEmbeddingUnavailable, resp.Data.DegradedReason)
	assert.NotNil(t, resp.Data.Hits)
}

func TestSearchBacktrackMode(t *testing.T) {
	svc := &stubService{hybridOut: &retrieval.HybridOutput{Results: []entity.SearchResult{}}}
	r := setupRouter(svc)

	w := doJSON(t, r, "/v1/retrieval/search", gin.H{"query": "萧炎", "backtrack": true, "top_k": 3})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, svc.backtrackK)
}

func TestSearchVectorMode(t *testing.T) {
	svc := &stubService{vectorHits: []entity.SearchResult{
		{ChunkID: "a", Score: 0.7, Source: entity.SourceVector},
	}}
	r := setupRouter(svc)

	w := doJSON(t, r, "/v1/retrieval/search", gin.H{"query": "青山镇", "mode": "vector"})

	require.Equal(t, http.StatusOK, w.Code)
	var resp dto.Response[dto.SearchResponse]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data.Hits, 1)
	assert.Equal(t, "vector", resp.Data.Meta.Mode)
}

func TestSearchValidation(t *testing.T) {
	r := setupRouter(&stubService{})

	// 缺少 query
	w := doJSON(t, r, "/v1/retrieval/search", gin.H{"mode": "hybrid"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// 非法 mode
	w = doJSON(t, r, "/v1/retrieval/search", gin.H{"query": "x", "mode": "semantic"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearchAppErrorMapsStatus(t *testing.T) {
	svc := &stubService{err: errors.New(errors.CodeStorageError, "storage access failed")}
	r := setupRouter(svc)

	w := doJSON(t, r, "/v1/retrieval/search", gin.H{"query": "萧炎"})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var resp dto.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "storage access failed", resp.Message)
}

func TestIngest(t *testing.T) {
	svc := &stubService{ingestResult: &retrieval.IngestResult{Stored: 2, Skipped: 1}}
	r := setupRouter(svc)

	w := doJSON(t, r, "/v1/retrieval/chunks", gin.H{
		"chunks": []gin.H{
			{"chapter": 1, "scene_index": 0, "content": "场景一", "parent_chunk_id": "ch0001_summary"},
			{"chapter": 1, "scene_index": 1, "content": "场景二"},
			{"chapter": 1, "summary": true, "content": "第一章摘要"},
		},
	})

	require.Equal(t, http.StatusOK, w.Code)
	var resp dto.Response[dto.IngestResponse]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Data.StoredCount)
	assert.Equal(t, 1, resp.Data.SkippedCount)

	require.Len(t, svc.ingestInputs, 3)
	assert.True(t, svc.ingestInputs[2].Summary)
	assert.Equal(t, "ch0001_summary", svc.ingestInputs[0].ParentChunkID)
}

func TestIngestValidation(t *testing.T) {
	r := setupRouter(&stubService{})

	// 空 chunks
	w := doJSON(t, r, "/v1/retrieval/chunks", gin.H{"chunks": []gin.H{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// 缺 content
	w = doJSON(t, r, "/v1/retrieval/chunks", gin.H{"chunks": []gin.H{{"chapter": 1}}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
