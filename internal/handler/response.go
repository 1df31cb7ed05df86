// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"docchat-go/internal/middleware"
	"docchat-go/internal/pipeline"
	"docchat-go/pkg/apperr"
	"docchat-go/pkg/log"

	"github.com/gin-gonic/gin"
)

const genericFailure = "something went wrong"

// statusOf 把错误类别映射为 HTTP 状态码和对外消息。后端错误细节只写日志。
func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, apperr.ErrChatNotFound):
		return http.StatusNotFound, "chat not found"
	case errors.Is(err, apperr.ErrDocumentNotReady), errors.Is(err, pipeline.ErrIngestInProgress):
		return http.StatusConflict, "document is still being processed"
	case errors.Is(err, apperr.ErrInvalidInput):
		return http.StatusBadRequest, "invalid request"
	default:
		return http.StatusInternalServerError, genericFailure
	}
}

func respondError(c *gin.Context, err error) {
	status, message := statusOf(err)
	if status == http.StatusInternalServerError {
		log.Errorw("request failed", "requestID", middleware.RequestID(c), "path", c.Request.URL.Path, "kind", apperr.Kind(err), "error", err)
	}
	c.JSON(status, gin.H{"code": status, "message": message, "data": nil})
}

func respondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": data})
}

func userID(c *gin.Context) uint {
	return c.GetUint(middleware.ContextUserID)
}
