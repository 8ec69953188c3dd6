package storage

import "github.com/google/wire"

// ProviderSet Storage 基础设施层 ProviderSet
var ProviderSet = wire.NewSet(
	ProvideDialect,          // SQL 方言
	ProvideDB,               // 提供数据库连接
	NewSourceFileRepository, // 数据文件仓储
	NewRecordRepository,     // 摄取记录仓储
	NewInsightJobRepository, // 洞察任务仓储（持久化队列）
	NewRowStore,             // 数据行存储
)
