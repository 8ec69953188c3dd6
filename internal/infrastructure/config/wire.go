package config

import "github.com/google/wire"

// ProviderSet 配置 ProviderSet
var ProviderSet = wire.NewSet(
	NewWatchConfig,
	NewStoreConfig,
	NewPipelineConfig,
	NewDatasetConfig,
	NewInsightConfig,
	NewArchiveConfig,
	NewServerConfig,
)
