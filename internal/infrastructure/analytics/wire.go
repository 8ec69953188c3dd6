package analytics

import "github.com/google/wire"

// ProviderSet 分析基础设施 ProviderSet
var ProviderSet = wire.NewSet(
	ProvideGenerator,
)
