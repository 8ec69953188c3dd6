package websocket

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shelfwatch/backend/internal/infrastructure/log"
)

const (
	// pingInterval 心跳间隔
	pingInterval = 30 * time.Second
	// pongWait 超过该时间未收到任何消息则断开
	pongWait = 70 * time.Second
	// writeWait 单次写超时
	writeWait = 10 * time.Second
)

// Server 把 HTTP 请求升级为订阅 Hub 的 WebSocket 连接
type Server struct {
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewServer 创建 WebSocket 服务端
func NewServer(hub *Hub) *Server {
	return &Server{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // 看板只读，允许所有来源
			},
		},
		logger: log.NewModuleLogger("websocket", "server"),
	}
}

// Serve 处理一个 WebSocket 连接，阻塞到连接关闭
func (s *Server) Serve(w http.ResponseWriter, r *http.Request, topic string) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("failed to upgrade connection", "error", err)
		return
	}

	conn := NewConnection(topic)
	if !s.hub.Register(conn) {
		_ = ws.Close()
		return
	}
	s.logger.Debug("dashboard client connected", "topic", topic, "remote", r.RemoteAddr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.readPump(ws)
	}()
	s.writePump(ws, conn, done)

	s.hub.Unregister(conn)
	_ = ws.Close()
	s.logger.Debug("dashboard client disconnected", "topic", topic)
}

// readPump 丢弃客户端消息，只用于检测断开和续期超时
func (s *Server) readPump(ws *websocket.Conn) {
	ws.SetReadLimit(4096)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn("connection read error", "error", err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	}
}

// writePump 发送 Hub 消息和心跳
func (s *Server) writePump(ws *websocket.Conn, conn *Connection, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case message, ok := <-conn.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, message); err != nil {
				s.logger.Warn("failed to write message", "error", err)
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
