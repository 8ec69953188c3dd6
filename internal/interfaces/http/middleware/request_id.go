package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/shelfwatch/backend/internal/infrastructure/log"
)

// RequestIDHeader 请求 ID 头
const RequestIDHeader = "X-Request-ID"

const requestIDKey = "request_id"

// RequestID 为每个请求生成唯一 ID，并写入日志上下文
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Header(RequestIDHeader, requestID)
		c.Set(requestIDKey, requestID)
		c.Request = c.Request.WithContext(log.WithRequestID(c.Request.Context(), requestID))

		c.Next()
	}
}

// GetRequestID 从 gin 上下文获取请求 ID
func GetRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}
