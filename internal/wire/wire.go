//go:build wireinject
// +build wireinject

package wire

import (
	"github.com/google/wire"

	"github.com/shelfwatch/backend/internal/application"
	appPipeline "github.com/shelfwatch/backend/internal/application/pipeline"
	"github.com/shelfwatch/backend/internal/domain/pipeline"
	"github.com/shelfwatch/backend/internal/infrastructure"
	"github.com/shelfwatch/backend/internal/infrastructure/config"
	"github.com/shelfwatch/backend/internal/infrastructure/storage"
	"github.com/shelfwatch/backend/internal/infrastructure/watcher"
	"github.com/shelfwatch/backend/internal/infrastructure/websocket"
	"github.com/shelfwatch/backend/internal/interfaces"
	"github.com/shelfwatch/backend/internal/interfaces/http/handler"
)

// InitializeApp 初始化 run 模式：监听 + 流水线 + 看板
func InitializeApp(cfg *config.Config) (*App, func(), error) {
	wire.Build(
		// 按层组合 ProviderSet
		infrastructure.ProviderSet, // 基础设施层
		watcher.ProviderSet,        // 文件监听
		application.ProviderSet,    // 应用层
		interfaces.ProviderSet,     // 接口层
		// 接口绑定：application / interfaces 需要的能力 -> infrastructure 实现
		wire.Bind(new(appPipeline.Rescanner), new(*watcher.FileWatcher)),
		wire.Bind(new(appPipeline.Broadcaster), new(*websocket.Hub)),
		wire.Bind(new(handler.ScanClock), new(*watcher.FileWatcher)),
		wire.Bind(new(handler.ActivityCounter), new(*appPipeline.Coordinator)),
		NewRuntime,
		NewApp, // 组合所有服务的应用结构
	)
	return nil, nil, nil
}

// InitializeRuntime 初始化不含监听和看板的流水线（ingest / submit）
func InitializeRuntime(cfg *config.Config) (*Runtime, func(), error) {
	wire.Build(
		infrastructure.ProviderSet,
		watcher.ProvideEventBus,
		appPipeline.ProvideCoordinatorConfig,
		appPipeline.ProvideDispatcherConfig,
		appPipeline.ProvideCoordinator,
		appPipeline.ProvideDispatcher,
		wire.Bind(new(appPipeline.Notifier), new(*appPipeline.Dispatcher)),
		NewRuntime,
	)
	return nil, nil, nil
}

// InitializeFileRepository 只打开存储（status）
func InitializeFileRepository(cfg *config.Config) (pipeline.SourceFileRepository, func(), error) {
	wire.Build(
		config.NewStoreConfig,
		storage.ProvideDialect,
		storage.ProvideDB,
		storage.NewSourceFileRepository,
	)
	return nil, nil, nil
}
