package llm

import (
	"github.com/google/wire"

	"github.com/shelfwatch/backend/internal/domain/insight"
	"github.com/shelfwatch/backend/internal/infrastructure/analytics"
	"github.com/shelfwatch/backend/internal/infrastructure/config"
)

// ProviderSet LLM 基础设施 ProviderSet
var ProviderSet = wire.NewSet(
	ProvideGenerator,
)

// ProvideGenerator 选择洞察生成器：启用 LLM 时在指标包上追加叙述
func ProvideGenerator(cfg *config.InsightConfig, base *analytics.Generator) insight.Generator {
	if !cfg.LLM.Enabled {
		return base
	}
	client := NewClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model)
	return NewNarrativeGenerator(base, client, cfg.LLM.Language)
}
