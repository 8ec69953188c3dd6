package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/shelfwatch/backend/internal/domain/insight"
	"github.com/shelfwatch/backend/internal/infrastructure/log"
)

// Chatter 对话能力
type Chatter interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// NarrativeGenerator 在指标包之上追加 LLM 撰写的叙述
// 叙述是可选的：LLM 失败时记录警告并返回原始结果
type NarrativeGenerator struct {
	base     insight.Generator
	chat     Chatter
	language string
	logger   *slog.Logger
}

// 确保实现接口
var _ insight.Generator = (*NarrativeGenerator)(nil)

// NewNarrativeGenerator 创建叙述生成器
func NewNarrativeGenerator(base insight.Generator, chat Chatter, language string) *NarrativeGenerator {
	if language == "" {
		language = "en"
	}
	return &NarrativeGenerator{
		base:     base,
		chat:     chat,
		language: language,
		logger:   log.NewModuleLogger("llm", "narrative"),
	}
}

// Generate 先计算指标包，再请求叙述
func (g *NarrativeGenerator) Generate(ctx context.Context, view insight.RowsView) (*insight.Result, error) {
	res, err := g.base.Generate(ctx, view)
	if err != nil {
		return nil, err
	}

	narrative, err := g.chat.Chat(ctx, g.buildMessages(res))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		g.logger.Warn("Narrative generation failed, keeping metrics only",
			"path", view.SourcePath(),
			"error", err,
		)
		return res, nil
	}

	payload, err := withNarrative(res.Payload, narrative)
	if err != nil {
		g.logger.Warn("Failed to attach narrative", "path", view.SourcePath(), "error", err)
		return res, nil
	}
	return &insight.Result{Summary: res.Summary, Payload: payload}, nil
}

// buildMessages 构建叙述 Prompt
func (g *NarrativeGenerator) buildMessages(res *insight.Result) []Message {
	system := "You are a retail analyst. Write a concise narrative (3-5 sentences) for a merchandising dashboard " +
		"based strictly on the metrics provided. Do not invent numbers."
	if g.language == "zh" || g.language == "zh-CN" {
		system = "你是一名零售分析师。请严格依据给出的指标，为商品运营看板写一段 3-5 句的简短叙述，不要编造数字。"
	}
	return []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: fmt.Sprintf("Summary:\n%s\n\nMetrics JSON:\n%s", res.Summary, string(res.Payload))},
	}
}

// withNarrative 把叙述写入 JSON 载荷的 narrative 字段
func withNarrative(payload json.RawMessage, narrative string) (json.RawMessage, error) {
	doc := map[string]json.RawMessage{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &doc); err != nil {
			return nil, err
		}
	}
	text, err := json.Marshal(narrative)
	if err != nil {
		return nil, err
	}
	doc["narrative"] = text
	return json.Marshal(doc)
}
