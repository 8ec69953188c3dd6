package watcher

import (
	"github.com/google/wire"

	"github.com/shelfwatch/backend/internal/domain/events"
	"github.com/shelfwatch/backend/internal/infrastructure/config"
)

// ProviderSet 文件监听 ProviderSet
var ProviderSet = wire.NewSet(
	ProvideEventBus,
	ProvideScanMetadata,
	ProvideFileWatcher,
)

// ProvideEventBus 提供事件总线实例
func ProvideEventBus() events.EventBus {
	return NewEventBus()
}

// ProvideScanMetadata 提供扫描元数据
func ProvideScanMetadata() *ScanMetadata {
	return NewScanMetadata(config.GetScanMetadataPath())
}

// ProvideFileWatcher 提供文件监听器实例
// 返回的 cleanup 关闭 fsnotify 句柄，未启动时也可调用
func ProvideFileWatcher(cfg *config.WatchConfig, metadata *ScanMetadata) (*FileWatcher, func(), error) {
	wc := DefaultWatchConfig(cfg.Dir)
	wc.Extensions = cfg.Extensions
	wc.SettleWindow = cfg.SettleWindow()
	wc.Recursive = cfg.Recursive
	wc.MaxReadRetries = cfg.MaxReadRetries

	fw, err := NewFileWatcher(wc, metadata)
	if err != nil {
		return nil, nil, err
	}
	return fw, fw.Stop, nil
}
