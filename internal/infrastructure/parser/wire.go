package parser

import (
	"github.com/google/wire"

	"github.com/shelfwatch/backend/internal/domain/dataset"
)

// ProviderSet 解析器 ProviderSet
var ProviderSet = wire.NewSet(
	ProvideRegistry,
	wire.Bind(new(dataset.Parser), new(*Registry)),
)
