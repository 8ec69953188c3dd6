package wire

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	appPipeline "github.com/shelfwatch/backend/internal/application/pipeline"
	applog "github.com/shelfwatch/backend/internal/infrastructure/log"
	"github.com/shelfwatch/backend/internal/infrastructure/watcher"
	"github.com/shelfwatch/backend/internal/infrastructure/websocket"
	"github.com/shelfwatch/backend/internal/interfaces"
)

// App 应用主结构，组合所有服务
type App struct {
	HTTPServer  *interfaces.HTTPServer
	runtime     *Runtime
	wsHub       *websocket.Hub
	notifier    *appPipeline.StatusNotifier
	reconciler  *appPipeline.Reconciler
	fileWatcher *watcher.FileWatcher
	logger      *slog.Logger

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	serveErr chan error
}

// NewApp 创建应用实例
func NewApp(
	httpServer *interfaces.HTTPServer,
	runtime *Runtime,
	wsHub *websocket.Hub,
	notifier *appPipeline.StatusNotifier,
	reconciler *appPipeline.Reconciler,
	fileWatcher *watcher.FileWatcher,
) *App {
	return &App{
		HTTPServer:  httpServer,
		runtime:     runtime,
		wsHub:       wsHub,
		notifier:    notifier,
		reconciler:  reconciler,
		fileWatcher: fileWatcher,
		logger:      applog.NewModuleLogger("app", "main"),
		serveErr:    make(chan error, 1),
	}
}

// Start 启动所有服务
// ln 为单例锁持有的监听，HTTP 服务器直接复用
func (a *App) Start(ln net.Listener) error {
	a.logger.Info("Starting shelfwatch orchestrator")

	if err := a.runtime.Start(); err != nil {
		return err
	}

	// 启动 WebSocket Hub 并订阅状态事件
	a.wsHub.Start()
	a.notifier.Start()

	// 启动文件监听，目录不可读时为启动期致命错误
	if err := a.fileWatcher.Start(); err != nil {
		return fmt.Errorf("start file watcher: %w", err)
	}
	a.logger.Info("File watcher started successfully")

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.runtime.Coordinator.Consume(ctx, a.fileWatcher.Events())
	}()

	if err := a.reconciler.Start(); err != nil {
		return err
	}

	// 启动 HTTP 服务器（goroutine）
	go func() {
		if err := a.HTTPServer.Start(ln); err != nil {
			a.logger.Error("HTTP server stopped with error",
				"error", err,
			)
			a.serveErr <- err
		}
	}()

	a.logger.Info("Shelfwatch orchestrator started successfully")
	return nil
}

// ServeErr HTTP 服务器异常退出时收到错误
func (a *App) ServeErr() <-chan error {
	return a.serveErr
}

// Stop 停止所有服务
func (a *App) Stop() error {
	a.logger.Info("Stopping shelfwatch orchestrator")

	if err := a.HTTPServer.Stop(); err != nil {
		a.logger.Error("Failed to stop HTTP server",
			"error", err,
		)
	}

	a.reconciler.Stop()

	// 先停止事件来源，再停止处理
	a.fileWatcher.Stop()
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()

	a.runtime.Stop()
	a.notifier.Stop()
	a.wsHub.Stop()

	a.logger.Info("Shelfwatch orchestrator stopped")
	return nil
}
