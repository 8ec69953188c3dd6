package infrastructure

import (
	"github.com/google/wire"

	"github.com/shelfwatch/backend/internal/infrastructure/analytics"
	"github.com/shelfwatch/backend/internal/infrastructure/archive"
	"github.com/shelfwatch/backend/internal/infrastructure/config"
	"github.com/shelfwatch/backend/internal/infrastructure/llm"
	"github.com/shelfwatch/backend/internal/infrastructure/parser"
	"github.com/shelfwatch/backend/internal/infrastructure/storage"
	"github.com/shelfwatch/backend/internal/infrastructure/websocket"
)

// ProviderSet Infrastructure 层总 ProviderSet
// 文件监听（watcher.ProviderSet）只在 run 模式引入
var ProviderSet = wire.NewSet(
	config.ProviderSet,
	storage.ProviderSet,
	parser.ProviderSet,
	analytics.ProviderSet,
	llm.ProviderSet,
	archive.ProviderSet,
	websocket.ProviderSet,
)
