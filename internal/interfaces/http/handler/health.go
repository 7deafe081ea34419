package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"novel-rag-api/internal/infrastructure/persistence/redis"
	"novel-rag-api/internal/infrastructure/persistence/sqlite"
	"novel-rag-api/internal/interfaces/http/dto"
)

// HealthHandler 健康检查处理器
type HealthHandler struct {
	store *sqlite.Store
	redis *redis.Client
}

// NewHealthHandler 创建健康检查处理器。redisClient 可为 nil（缓存未启用）。
func NewHealthHandler(store *sqlite.Store, redisClient *redis.Client) *HealthHandler {
	return &HealthHandler{
		store: store,
		redis: redisClient,
	}
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

type readinessCheck struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
}

type readinessResponse struct {
	Status string                     `json:"status"`
	Checks map[string]*readinessCheck `json:"checks,omitempty"`
}

// Health 健康检查接口
// @Summary 健康检查
// @Tags System
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// Ready 就绪检查接口
// @Summary 就绪检查
// @Description 检查索引库与缓存是否可用
// @Tags System
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /ready [get]
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]*readinessCheck{
		"sqlite": {Status: "unknown"},
		"redis":  {Status: "disabled"},
	}
	ready := true

	// SQLite 索引库（必需）
	if h == nil || h.store == nil {
		checks["sqlite"].Status = "missing"
		checks["sqlite"].Error = "sqlite store not configured"
		ready = false
	} else {
		start := time.Now()
		err := h.store.HealthCheck(ctx)
		checks["sqlite"].LatencyMs = time.Since(start).Milliseconds()
		if err != nil {
			checks["sqlite"].Status = "error"
			checks["sqlite"].Error = err.Error()
			ready = false
		} else {
			checks["sqlite"].Status = "ok"
		}
	}

	// Redis 缓存（可选，不影响就绪态）
	if h != nil && h.redis != nil {
		checks["redis"] = &readinessCheck{Status: "unknown"}
		start := time.Now()
		err := h.redis.HealthCheck(ctx)
		checks["redis"].LatencyMs = time.Since(start).Milliseconds()
		if err != nil {
			checks["redis"].Status = "degraded"
			checks["redis"].Error = err.Error()
		} else {
			checks["redis"].Status = "ok"
		}
	}

	resp := readinessResponse{Status: "ok", Checks: checks}
	if !ready {
		resp.Status = "not_ready"
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Live 存活检查接口
// @Summary 存活检查
// @Tags System
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /live [get]
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// StatsHandler 索引统计处理器
type StatsHandler struct {
	store *sqlite.Store
}

// NewStatsHandler 创建索引统计处理器
func NewStatsHandler(store *sqlite.Store) *StatsHandler {
	return &StatsHandler{store: store}
}

// Stats 索引统计接口
// @Summary 索引统计
// @Description 返回向量数、词项数与最大章节号
// @Tags Retrieval
// @Produce json
// @Success 200 {object} dto.Response[dto.StatsResponse]
// @Router /v1/retrieval/stats [get]
func (h *StatsHandler) Stats(c *gin.Context) {
	stats, err := h.store.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	dto.Success(c, &dto.StatsResponse{
		Vectors:    stats.Vectors,
		Terms:      stats.Terms,
		MaxChapter: stats.MaxChapter,
	})
}
