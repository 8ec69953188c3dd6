package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shelfwatch/backend/internal/infrastructure/config"
	"github.com/shelfwatch/backend/internal/infrastructure/log"
	"github.com/shelfwatch/backend/internal/interfaces/http/handler"
	"github.com/shelfwatch/backend/internal/interfaces/http/middleware"
)

// HTTPServer 看板 HTTP 服务器
type HTTPServer struct {
	router   *gin.Engine
	httpPort string
	server   *http.Server
	logger   *slog.Logger
}

// NewServer 创建 HTTP 服务器
func NewServer(
	pipelineHandler *handler.PipelineHandler,
	healthHandler *handler.HealthHandler,
	streamHandler *handler.StreamHandler,
	cfg *config.ServerConfig,
) *HTTPServer {
	router := gin.New()
	router.Use(middleware.RequestID(), middleware.Recovery(), middleware.RequestLogger(), middleware.EnsureUTF8Query())

	logger := log.NewModuleLogger("http", "server")

	// 注册路由（只读）
	api := router.Group("/api/v1")
	{
		api.GET("/files", pipelineHandler.ListFiles)
		api.GET("/files/records", pipelineHandler.ListFileRecords)
		api.GET("/records/:id", pipelineHandler.GetRecord)

		api.GET("/insights", pipelineHandler.ListInsights)
		api.GET("/insights/:id", pipelineHandler.GetInsight)

		api.GET("/rows/:key", pipelineHandler.GetRow)

		api.GET("/ws", streamHandler.Stream)
		api.GET("/health", healthHandler.Health)
	}

	// 健康检查，单例锁探测使用
	router.GET("/health", healthHandler.Health)

	return &HTTPServer{
		router:   router,
		httpPort: cfg.HTTPPort,
		server: &http.Server{
			Addr:              cfg.HTTPPort,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Handler 返回路由，供测试使用
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

// Start 启动服务器，阻塞直到关闭
// ln 不为空时复用单例锁持有的监听
func (s *HTTPServer) Start(ln net.Listener) error {
	s.logger.Info("HTTP server starting",
		"port", s.httpPort,
	)

	var err error
	if ln != nil {
		err = s.server.Serve(ln)
	} else {
		err = s.server.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown 优雅关闭
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Stop 停止服务器
func (s *HTTPServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}
