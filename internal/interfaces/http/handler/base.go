// Package handler 提供 HTTP 请求处理器
package handler

import (
	"github.com/gin-gonic/gin"

	"novel-rag-api/internal/interfaces/http/dto"
	"novel-rag-api/pkg/errors"
	"novel-rag-api/pkg/logger"
)

// respondError 统一错误出口：AppError 按错误码映射状态码，其余一律 500
func respondError(c *gin.Context, err error) {
	if appErr, ok := err.(*errors.AppError); ok {
		logger.Warn(c.Request.Context(), "request failed",
			"code", appErr.Code, "error", appErr.Error())
		dto.AppError(c, appErr)
		return
	}
	logger.Error(c.Request.Context(), "request failed", err)
	dto.InternalError(c, "internal server error")
}
