package handler

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/shelfwatch/backend/internal/infrastructure/websocket"
	"github.com/shelfwatch/backend/internal/interfaces/http/response"
)

// StreamHandler 状态推送处理器
type StreamHandler struct {
	server *websocket.Server
}

// NewStreamHandler 创建状态推送处理器
func NewStreamHandler(server *websocket.Server) *StreamHandler {
	return &StreamHandler{server: server}
}

// Stream 升级为 WebSocket 并推送记录和洞察状态变化
// @Summary 状态推送
// @Tags 系统
// @Param topic query string false "records|insights，留空订阅全部"
// @Router /ws [get]
func (h *StreamHandler) Stream(c *gin.Context) {
	topic := c.Query("topic")
	switch topic {
	case websocket.TopicAll, websocket.TopicRecords, websocket.TopicInsights:
	default:
		response.BadRequest(c, fmt.Errorf("unknown topic %q", topic))
		return
	}
	h.server.Serve(c.Writer, c.Request, topic)
}
