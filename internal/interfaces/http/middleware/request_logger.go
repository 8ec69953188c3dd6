package middleware

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shelfwatch/backend/internal/infrastructure/log"
	"github.com/shelfwatch/backend/internal/interfaces/http/response"
)

// RequestLogger 记录请求及响应状态
func RequestLogger() gin.HandlerFunc {
	logger := log.NewModuleLogger("http", "access")
	return func(c *gin.Context) {
		start := time.Now()
		query := c.Request.URL.RawQuery

		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"status", status,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if query != "" {
			attrs = append(attrs, "query", query)
		}

		l := log.FromContext(c.Request.Context(), logger)
		switch {
		case status >= 500:
			l.Error("Request completed", attrs...)
		case status >= 400:
			l.Warn("Request completed", attrs...)
		default:
			l.Debug("Request completed", attrs...)
		}
	}
}

// Recovery 捕获处理器 panic 并返回统一错误响应
func Recovery() gin.HandlerFunc {
	logger := log.NewModuleLogger("http", "recovery")
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.FromContext(c.Request.Context(), logger).Error("Panic recovered",
					"error", err,
					"method", c.Request.Method,
					"path", c.Request.URL.Path,
					"stack", string(debug.Stack()),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, response.ErrorResponse{
					Code:    http.StatusInternalServerError,
					Message: "internal server error",
					Detail:  GetRequestID(c),
				})
			}
		}()

		c.Next()
	}
}
